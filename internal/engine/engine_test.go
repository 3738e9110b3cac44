package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/war-room/internal/game"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/persistence"
	"github.com/talgya/war-room/internal/registry"
)

const frontScenario = `
code: FRONT
name: Test Front
max_players: 3
nations: [alpha, BETA, China]
rules:
  - {faction: CHINA, kind: OIL_EXEMPT}
territories:
  - {code: A1, name: Alpha One, active: {oil: 2, iron: 1, osr: 0}, embattled: {oil: 1}}
  - {code: A2, name: Alpha Two, active: {oil: 3, iron: 3, osr: 3}, embattled: {oil: 0, iron: 1, osr: 1}}
  - {code: B1, name: Beta Base, active: {oil: 1, iron: 1, osr: 1}, embattled: {}}
  - {code: C1, name: Chungking, active: {oil: 2, iron: 1, osr: 0}, embattled: {}}
  - {code: C2, name: Canton, active: {oil: 5, iron: 5, osr: 5}, embattled: {oil: 0, iron: 1, osr: 1}}
starting_control:
  - {territory: A1, nation: ALPHA}
  - {territory: A2, nation: ALPHA, status: EMBATTLED}
  - {territory: B1, nation: BETA}
  - {territory: C1, nation: CHINA}
  - {territory: C2, nation: CHINA, status: EMBATTLED}
`

// recorder collects published changes.
type recorder struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (r *recorder) Publish(c notify.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	db, err := persistence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := registry.New()
	require.NoError(t, err)
	s, err := registry.Parse([]byte(frontScenario))
	require.NoError(t, err)
	reg.Register(s)

	e := New(db, reg)
	rec := &recorder{}
	e.Notifier = rec
	return e, rec
}

// startedSession creates and starts a FRONT session hosted by "host".
func startedSession(t *testing.T, e *Engine) *game.Session {
	t.Helper()
	ctx := context.Background()
	s, host, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)
	assert.True(t, host.IsHost)
	started, err := e.StartSession(ctx, s.ID, true)
	require.NoError(t, err)
	return started
}

func commit(t *testing.T, e *Engine, s *game.Session, turn game.Turn, nations ...string) {
	t.Helper()
	for _, n := range nations {
		_, err := e.CommitPhase(context.Background(), CommitRequest{
			SessionID: s.ID, Faction: n, Round: turn.Round, Phase: turn.Phase, PlayerID: "host",
		})
		require.NoError(t, err, n)
	}
}

func TestParseReadinessRule(t *testing.T) {
	r, err := ParseReadinessRule("")
	require.NoError(t, err)
	assert.Equal(t, AllRegistered, r)
	r, err = ParseReadinessRule("touched_only")
	require.NoError(t, err)
	assert.Equal(t, TouchedOnly, r)
	_, err = ParseReadinessRule("most")
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))
}

func TestCreateSessionRegistersNations(t *testing.T) {
	e, rec := newTestEngine(t)
	ctx := context.Background()

	s, _, err := e.CreateSession(ctx, CreateRequest{Name: "Friday", Scenario: "Test Front", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)
	assert.Equal(t, game.StatusLobby, s.Status)
	assert.Equal(t, "FRONT", s.Scenario)
	assert.Equal(t, 3, s.MaxPlayers)

	view, err := e.Lobby(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, view.Factions, 3)
	for _, f := range view.Factions {
		assert.True(t, f.Resources.IsZero(), f.Key)
	}
	assert.Equal(t, "ALPHA", view.Factions[0].Key)
	require.Len(t, view.Players, 1)
	assert.True(t, view.Players[0].IsHost)
	assert.Nil(t, view.PhaseStatus)
	assert.Equal(t, []notify.Kind{notify.KindSession}, rec.kinds())

	_, _, err = e.CreateSession(ctx, CreateRequest{Scenario: "front", HostName: "x"})
	assert.True(t, errors.Is(err, game.ErrNotFound))
	_, _, err = e.CreateSession(ctx, CreateRequest{Scenario: "FRONT"})
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))
}

func TestJoinSession(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)

	p, created, err := e.JoinSession(ctx, s.ID, "p2", "Ben")
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, p.IsHost)

	p, created, err = e.JoinSession(ctx, s.ID, "p2", "Benjamin")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Benjamin", p.DisplayName)

	_, _, err = e.JoinSession(ctx, s.ID, "p3", "Cleo")
	require.NoError(t, err)
	_, _, err = e.JoinSession(ctx, s.ID, "p4", "Dev")
	assert.True(t, errors.Is(err, game.ErrSessionFull))

	_, err = e.StartSession(ctx, s.ID, true)
	require.NoError(t, err)
	_, _, err = e.JoinSession(ctx, s.ID, "p5", "Eve")
	assert.True(t, errors.Is(err, game.ErrNotLobby))
	_, created, err = e.JoinSession(ctx, s.ID, "p3", "Cleo")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = e.JoinSession(ctx, "missing", "p1", "x")
	assert.True(t, errors.Is(err, game.ErrNotFound))
}

func TestAssignNationAndHost(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)
	_, _, err = e.JoinSession(ctx, s.ID, "p2", "Ben")
	require.NoError(t, err)

	ok, err := e.IsHost(ctx, s.ID, "host")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.IsHost(ctx, s.ID, "p2")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.IsHost(ctx, s.ID, "stranger")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(e.AssignNation(ctx, s.ID, "p2", "BETA", false), game.ErrNotHost))
	assert.True(t, errors.Is(e.AssignNation(ctx, s.ID, "p2", "ATLANTIS", true), game.ErrNotFound))
	require.NoError(t, e.AssignNation(ctx, s.ID, "p2", "beta", true))

	view, err := e.Lobby(ctx, s.ID)
	require.NoError(t, err)
	for _, p := range view.Players {
		if p.ID == "p2" {
			assert.Equal(t, []string{"BETA"}, p.Nations)
		}
	}

	// Handing BETA to the host leaves p2 with no current nation.
	require.NoError(t, e.AssignNation(ctx, s.ID, "host", "BETA", true))
	players := lobbyPlayers(t, e, s.ID)
	assert.Empty(t, players["p2"].Nations)
	assert.Nil(t, players["p2"].CurrentNation)
	require.NotNil(t, players["host"].CurrentNation)
	assert.Equal(t, "BETA", *players["host"].CurrentNation)

	// With another nation left, the previous controller falls back to it.
	require.NoError(t, e.AssignNation(ctx, s.ID, "p2", "CHINA", true))
	require.NoError(t, e.AssignNation(ctx, s.ID, "p2", "ALPHA", true))
	require.NoError(t, e.SetCurrentNation(ctx, s.ID, "p2", "CHINA"))
	require.NoError(t, e.AssignNation(ctx, s.ID, "host", "CHINA", true))
	players = lobbyPlayers(t, e, s.ID)
	assert.Equal(t, []string{"ALPHA"}, players["p2"].Nations)
	require.NotNil(t, players["p2"].CurrentNation)
	assert.Equal(t, "ALPHA", *players["p2"].CurrentNation)
	assert.Equal(t, "BETA", *players["host"].CurrentNation)
}

func lobbyPlayers(t *testing.T, e *Engine, sessionID string) map[string]game.Player {
	t.Helper()
	view, err := e.Lobby(context.Background(), sessionID)
	require.NoError(t, err)
	out := make(map[string]game.Player, len(view.Players))
	for _, p := range view.Players {
		out[p.ID] = p
	}
	return out
}

func TestSetCurrentNation(t *testing.T) {
	e, rec := newTestEngine(t)
	ctx := context.Background()
	s, _, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)
	_, _, err = e.JoinSession(ctx, s.ID, "p2", "Ben")
	require.NoError(t, err)
	require.NoError(t, e.AssignNation(ctx, s.ID, "p2", "ALPHA", true))
	require.NoError(t, e.AssignNation(ctx, s.ID, "p2", "BETA", true))
	assert.Equal(t, "ALPHA", *lobbyPlayers(t, e, s.ID)["p2"].CurrentNation)

	before := rec.count()
	require.NoError(t, e.SetCurrentNation(ctx, s.ID, "p2", " beta "))
	assert.Equal(t, "BETA", *lobbyPlayers(t, e, s.ID)["p2"].CurrentNation)
	assert.Equal(t, before+1, rec.count())

	err = e.SetCurrentNation(ctx, s.ID, "p2", "CHINA")
	assert.True(t, errors.Is(err, game.ErrNotController))
	err = e.SetCurrentNation(ctx, s.ID, "p2", "ATLANTIS")
	assert.True(t, errors.Is(err, game.ErrNotFound))
	err = e.SetCurrentNation(ctx, s.ID, "stranger", "ALPHA")
	assert.True(t, errors.Is(err, game.ErrNotFound))
	err = e.SetCurrentNation(ctx, s.ID, "", "ALPHA")
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))
	assert.Equal(t, "BETA", *lobbyPlayers(t, e, s.ID)["p2"].CurrentNation)
}

func TestSetMaxPlayers(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)
	_, _, err = e.JoinSession(ctx, s.ID, "p2", "Ben")
	require.NoError(t, err)

	_, err = e.SetMaxPlayers(ctx, s.ID, 4, false)
	assert.True(t, errors.Is(err, game.ErrNotHost))
	_, err = e.SetMaxPlayers(ctx, s.ID, 1, true)
	assert.True(t, errors.Is(err, game.ErrInvalidArgument), "below seated players")
	_, err = e.SetMaxPlayers(ctx, s.ID, 0, true)
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))

	updated, err := e.SetMaxPlayers(ctx, s.ID, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MaxPlayers)
	_, _, err = e.JoinSession(ctx, s.ID, "p3", "Cleo")
	assert.True(t, errors.Is(err, game.ErrSessionFull))

	updated, err = e.SetMaxPlayers(ctx, s.ID, 4, true)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.MaxPlayers)
	_, _, err = e.JoinSession(ctx, s.ID, "p3", "Cleo")
	require.NoError(t, err)

	_, err = e.StartSession(ctx, s.ID, true)
	require.NoError(t, err)
	_, err = e.SetMaxPlayers(ctx, s.ID, 5, true)
	assert.True(t, errors.Is(err, game.ErrNotLobby))
	_, err = e.SetMaxPlayers(ctx, "missing", 5, true)
	assert.True(t, errors.Is(err, game.ErrNotFound))
}

func TestSessionLogLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s := startedSession(t, e)
	require.NoError(t, e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		for i := 0; i < 600; i++ {
			if err := tx.AppendLog(ctx, game.LogEntry{SessionID: s.ID, Round: 1, EventType: game.EventSessionStarted}); err != nil {
				return err
			}
		}
		return nil
	}))

	for limit, want := range map[int]int{0: 100, -3: 100, 20: 20, 500: 500, 501: 500, 10000: 500} {
		entries, err := e.SessionLog(ctx, s.ID, limit)
		require.NoError(t, err)
		assert.Len(t, entries, want, "limit %d", limit)
	}
}

func TestStartSession(t *testing.T) {
	e, rec := newTestEngine(t)
	ctx := context.Background()
	s, _, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)

	_, err = e.StartSession(ctx, s.ID, false)
	assert.True(t, errors.Is(err, game.ErrNotHost))

	started, err := e.StartSession(ctx, s.ID, true)
	require.NoError(t, err)
	assert.Equal(t, game.StatusActive, started.Status)
	assert.Equal(t, game.Turn{Round: 1, Phase: game.PhaseEconomy}, started.Turn())
	assert.NotNil(t, started.StartedAt)
	assert.Contains(t, rec.kinds(), notify.KindSession)

	_, err = e.StartSession(ctx, s.ID, true)
	assert.True(t, errors.Is(err, game.ErrNotLobby))

	entries, err := e.SessionLog(ctx, s.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, game.EventSessionStarted, entries[0].EventType)
	assert.JSONEq(t, `{"scenario":"FRONT","territories":5}`, entries[0].Payload)
}

func TestPhaseStatusDefaultsToDraft(t *testing.T) {
	e, _ := newTestEngine(t)
	s := startedSession(t, e)

	status, err := e.GetPhaseStatus(context.Background(), s.ID, 1, game.PhaseEconomy)
	require.NoError(t, err)
	assert.Equal(t, map[string]game.PhaseStatus{
		"ALPHA": game.Draft,
		"BETA":  game.Draft,
		"CHINA": game.Draft,
	}, status)

	_, err = e.GetPhaseStatus(context.Background(), s.ID, 1, game.Phase("LUNCH"))
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))
	_, err = e.GetPhaseStatus(context.Background(), "missing", 1, game.PhaseEconomy)
	assert.True(t, errors.Is(err, game.ErrNotFound))
}

func TestCommitAndUncommit(t *testing.T) {
	e, rec := newTestEngine(t)
	ctx := context.Background()
	s := startedSession(t, e)
	req := CommitRequest{SessionID: s.ID, Faction: "british_commonwealth", Round: 1, Phase: game.PhaseEconomy, PlayerID: "host"}

	_, err := e.CommitPhase(ctx, req)
	assert.True(t, errors.Is(err, game.ErrNotFound), "nation not in scenario")

	req.Faction = "  china "
	res, err := e.CommitPhase(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, game.Committed, res.Status)
	assert.Equal(t, "CHINA", res.Faction)
	assert.False(t, res.Unchanged)
	require.NotNil(t, res.CommittedBy)
	assert.Equal(t, "host", *res.CommittedBy)
	assert.NotNil(t, res.CommittedAt)

	before := rec.count()
	res, err = e.CommitPhase(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Unchanged)
	assert.Equal(t, game.Committed, res.Status)
	assert.Equal(t, before, rec.count(), "no-op commits publish nothing")

	res, err = e.UncommitPhase(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, game.Draft, res.Status)
	assert.False(t, res.Unchanged)
	assert.Nil(t, res.CommittedAt)
	assert.Nil(t, res.CommittedBy)

	res, err = e.UncommitPhase(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Unchanged)

	status, err := e.GetPhaseStatus(ctx, s.ID, 1, game.PhaseEconomy)
	require.NoError(t, err)
	assert.Equal(t, game.Draft, status["CHINA"])
}

func TestCommitChecksPlayer(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)
	_, _, err = e.JoinSession(ctx, s.ID, "p2", "Ben")
	require.NoError(t, err)
	_, _, err = e.JoinSession(ctx, s.ID, "p3", "Cleo")
	require.NoError(t, err)
	require.NoError(t, e.AssignNation(ctx, s.ID, "p2", "BETA", true))
	_, err = e.StartSession(ctx, s.ID, true)
	require.NoError(t, err)

	req := func(player, nation string) CommitRequest {
		return CommitRequest{SessionID: s.ID, Faction: nation, Round: 1, Phase: game.PhaseEconomy, PlayerID: player}
	}

	_, err = e.CommitPhase(ctx, req("stranger", "BETA"))
	assert.True(t, errors.Is(err, game.ErrNotFound))
	_, err = e.CommitPhase(ctx, req("p3", "BETA"))
	assert.True(t, errors.Is(err, game.ErrNotController))
	_, err = e.CommitPhase(ctx, req("p2", "ALPHA"))
	assert.True(t, errors.Is(err, game.ErrNotController))

	res, err := e.CommitPhase(ctx, req("p2", "BETA"))
	require.NoError(t, err)
	assert.Equal(t, "p2", *res.CommittedBy)
	_, err = e.UncommitPhase(ctx, req("p3", "BETA"))
	assert.True(t, errors.Is(err, game.ErrNotController))

	res, err = e.CommitPhase(ctx, req("host", "ALPHA"))
	require.NoError(t, err)
	assert.Equal(t, "host", *res.CommittedBy)

	res, err = e.CommitPhase(ctx, req("", "CHINA"))
	require.NoError(t, err)
	assert.Equal(t, game.Committed, res.Status)
	assert.Nil(t, res.CommittedBy)

	status, err := e.GetPhaseStatus(ctx, s.ID, 1, game.PhaseEconomy)
	require.NoError(t, err)
	assert.Equal(t, game.Committed, status["BETA"])
}

func TestCommitRejectsStaleTurn(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s := startedSession(t, e)

	_, err := e.CommitPhase(ctx, CommitRequest{SessionID: s.ID, Faction: "ALPHA", Round: 1, Phase: game.PhasePlanning})
	assert.True(t, errors.Is(err, game.ErrInvalidPhase))
	_, err = e.CommitPhase(ctx, CommitRequest{SessionID: s.ID, Faction: "ALPHA", Round: 2, Phase: game.PhaseEconomy})
	assert.True(t, errors.Is(err, game.ErrInvalidPhase))
	_, err = e.CommitPhase(ctx, CommitRequest{SessionID: s.ID, Faction: "ALPHA", Round: 1, Phase: "SIESTA"})
	assert.True(t, errors.Is(err, game.ErrInvalidPhase))

	commit(t, e, s, s.Turn(), "ALPHA", "BETA", "CHINA")
	_, err = e.AdvancePhase(ctx, s.ID, true)
	require.NoError(t, err)

	_, err = e.UncommitPhase(ctx, CommitRequest{SessionID: s.ID, Faction: "ALPHA", Round: 1, Phase: game.PhaseEconomy})
	assert.True(t, errors.Is(err, game.ErrInvalidPhase), "old phase is no longer current")
}

func TestCommitRejectsLockedRow(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s := startedSession(t, e)
	commit(t, e, s, s.Turn(), "ALPHA")

	_, err := e.DB.Conn().Exec(`UPDATE nation_phase_state SET status = 'LOCKED' WHERE session_id = ?`, s.ID)
	require.NoError(t, err)

	req := CommitRequest{SessionID: s.ID, Faction: "ALPHA", Round: 1, Phase: game.PhaseEconomy}
	_, err = e.UncommitPhase(ctx, req)
	assert.True(t, errors.Is(err, game.ErrAlreadyLocked))
	_, err = e.CommitPhase(ctx, req)
	assert.True(t, errors.Is(err, game.ErrAlreadyLocked))
}

func TestCommitRequiresActiveSession(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	s, _, err := e.CreateSession(ctx, CreateRequest{Scenario: "FRONT", HostID: "host", HostName: "Hana"})
	require.NoError(t, err)

	_, err = e.CommitPhase(ctx, CommitRequest{SessionID: s.ID, Faction: "ALPHA", Round: 1, Phase: game.PhaseEconomy})
	assert.True(t, errors.Is(err, game.ErrNotActive))
	_, err = e.CommitPhase(ctx, CommitRequest{SessionID: "missing", Faction: "ALPHA", Round: 1, Phase: game.PhaseEconomy})
	assert.True(t, errors.Is(err, game.ErrNotFound))
}
