package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/war-room/internal/api"
	"github.com/talgya/war-room/internal/engine"
	"github.com/talgya/war-room/internal/game"
	"github.com/talgya/war-room/internal/persistence"
	"github.com/talgya/war-room/internal/registry"
)

const duelScenario = `
code: DUEL
name: Duel
max_players: 2
nations: [RED, BLUE]
territories:
  - {code: R1, name: Red Hills, active: {oil: 3, iron: 2, osr: 1}, embattled: {oil: 1}}
  - {code: B1, name: Blue Bay, active: {oil: 1, iron: 1, osr: 1}, embattled: {}}
starting_control:
  - {territory: R1, nation: RED}
  - {territory: B1, nation: BLUE, status: EMBATTLED}
`

func newServer(t *testing.T) string {
	t.Helper()
	db, err := persistence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := registry.New()
	require.NoError(t, err)
	sc, err := registry.Parse([]byte(duelScenario))
	require.NoError(t, err)
	reg.Register(sc)

	s := &api.Server{Engine: engine.New(db, reg), Scenarios: reg, Version: "test"}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestClientSessionRoundTrip(t *testing.T) {
	base := newServer(t)
	ctx := context.Background()
	host := New(base+"/", "host")
	guest := New(base, "guest")

	st, err := host.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", st.Version)

	scenarios, err := host.Scenarios(ctx)
	require.NoError(t, err)
	var duel *ScenarioInfo
	for i := range scenarios {
		if scenarios[i].Code == "DUEL" {
			duel = &scenarios[i]
		}
	}
	require.NotNil(t, duel)
	assert.Equal(t, 2, duel.Territories)

	created, err := host.CreateSession(ctx, "", "DUEL", "Hana")
	require.NoError(t, err)
	id := created.Session.ID
	assert.Equal(t, "Duel", created.Session.Name)
	assert.Equal(t, "host", created.Player.ID)

	_, err = guest.SetMaxPlayers(ctx, id, 3)
	assert.True(t, errors.Is(err, game.ErrNotHost))
	_, err = host.SetMaxPlayers(ctx, id, 0)
	assert.True(t, errors.Is(err, game.ErrInvalidArgument))
	resized, err := host.SetMaxPlayers(ctx, id, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, resized.MaxPlayers)

	p, err := guest.Join(ctx, id, "Gus")
	require.NoError(t, err)
	assert.False(t, p.IsHost)
	require.NoError(t, host.AssignNation(ctx, id, "guest", "blue"))

	err = guest.SetCurrentNation(ctx, id, "RED")
	assert.True(t, errors.Is(err, game.ErrNotController))
	require.NoError(t, guest.SetCurrentNation(ctx, id, "blue"))

	_, err = guest.Start(ctx, id)
	assert.True(t, errors.Is(err, game.ErrNotHost))

	s, err := host.Start(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.StatusActive, s.Status)

	ps, err := guest.PhaseStatus(ctx, id, game.Turn{})
	require.NoError(t, err)
	assert.Equal(t, game.PhaseEconomy, ps.Phase)
	assert.Equal(t, game.Draft, ps.Nations["BLUE"])

	turn := game.Turn{Round: 1, Phase: game.PhaseEconomy}
	res, err := guest.Commit(ctx, id, "BLUE", turn)
	require.NoError(t, err)
	assert.Equal(t, game.Committed, res.Status)
	require.NotNil(t, res.CommittedBy)
	assert.Equal(t, "guest", *res.CommittedBy)

	_, err = host.Advance(ctx, id)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, []string{"RED"}, apiErr.Pending)
	assert.True(t, errors.Is(err, game.ErrNotAllCommitted))

	preview, err := host.PreviewIncome(ctx, id)
	require.NoError(t, err)
	assert.False(t, preview.AlreadyApplied)

	applied, err := host.ApplyIncome(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, applied.AlreadyApplied)
	balances := map[string]game.Resources{}
	for _, f := range applied.Balances {
		balances[f.Key] = f.Resources
	}
	assert.Equal(t, game.Resources{Oil: 3, Iron: 2, OSR: 1}, balances["RED"])
	assert.Equal(t, game.Resources{}, balances["BLUE"])

	again, err := host.ApplyIncome(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)

	_, err = host.Commit(ctx, id, "RED", turn)
	require.NoError(t, err)
	adv, err := host.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.PhasePlanning, adv.To.Phase)

	_, err = guest.Uncommit(ctx, id, "BLUE", turn)
	assert.True(t, errors.Is(err, game.ErrInvalidPhase))
	_, err = guest.Commit(ctx, id, "RED", game.Turn{Round: 1, Phase: game.PhasePlanning})
	assert.True(t, errors.Is(err, game.ErrNotController))

	past, err := guest.PhaseStatus(ctx, id, turn)
	require.NoError(t, err)
	assert.Equal(t, game.Locked, past.Nations["RED"])

	entries, err := host.Log(ctx, id, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	lobby, err := guest.Lobby(ctx, id)
	require.NoError(t, err)
	assert.Len(t, lobby.Players, 2)

	require.NoError(t, host.Finish(ctx, id))
}

func TestClientNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL, "p").Status(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "http_error", apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Nil(t, apiErr.Unwrap())
}
