package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/talgya/war-room/internal/game"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/persistence"
)

// CreateRequest describes a new session.
type CreateRequest struct {
	Name     string
	Scenario string // scenario code or exact name
	HostID   string // issued by the auth collaborator; generated if empty
	HostName string
}

// LobbyView is everything a lobby screen shows.
type LobbyView struct {
	Session     *game.Session               `json:"session"`
	Players     []game.Player               `json:"players"`
	Factions    []game.Faction              `json:"factions"`
	PhaseStatus map[string]game.PhaseStatus `json:"phase_status,omitempty"`
}

// CreateSession opens a lobby for a scenario. The caller becomes the host,
// and every scenario nation is registered with zero balances.
func (e *Engine) CreateSession(ctx context.Context, req CreateRequest) (*game.Session, *game.Player, error) {
	scenario, err := e.Scenarios.Lookup(req.Scenario)
	if err != nil {
		return nil, nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = scenario.Name
	}
	hostName := strings.TrimSpace(req.HostName)
	if hostName == "" {
		return nil, nil, fmt.Errorf("host display name is required: %w", game.ErrInvalidArgument)
	}
	hostID := req.HostID
	if hostID == "" {
		hostID = uuid.NewString()
	}

	now := timeNow()
	s := &game.Session{
		ID:         uuid.NewString(),
		Name:       name,
		Scenario:   scenario.Code,
		MaxPlayers: scenario.MaxPlayers,
		Status:     game.StatusLobby,
		Round:      1,
		Phase:      game.PhaseOrder[0],
		CreatedAt:  now,
	}
	host := &game.Player{
		ID:          hostID,
		SessionID:   s.ID,
		DisplayName: hostName,
		IsHost:      true,
		Nations:     []string{},
		JoinedAt:    now,
	}

	err = e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		if err := tx.InsertSession(ctx, s); err != nil {
			return err
		}
		for _, key := range scenario.Nations {
			f := &game.Faction{ID: uuid.NewString(), SessionID: s.ID, Key: key}
			if err := tx.InsertFaction(ctx, f); err != nil {
				return err
			}
		}
		if _, err := tx.UpsertPlayer(ctx, host); err != nil {
			return err
		}
		return tx.UpsertTerritories(ctx, scenario.Code, scenario.Territories)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("session created", "session", s.ID, "scenario", s.Scenario, "host", host.ID)
	e.publish(notify.Change{SessionID: s.ID, Kind: notify.KindSession})
	return s, host, nil
}

// JoinSession adds a player to a lobby. Joining again with the same id
// only refreshes the display name, even after the session started.
func (e *Engine) JoinSession(ctx context.Context, sessionID, playerID, displayName string) (*game.Player, bool, error) {
	displayName = strings.TrimSpace(displayName)
	if playerID == "" || displayName == "" {
		return nil, false, fmt.Errorf("player id and display name are required: %w", game.ErrInvalidArgument)
	}

	var (
		player  *game.Player
		created bool
	)
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}

		existing, err := tx.Player(ctx, sessionID, playerID)
		if err != nil && !isNotFound(err) {
			return err
		}
		if existing != nil {
			existing.DisplayName = displayName
			if _, err := tx.UpsertPlayer(ctx, existing); err != nil {
				return err
			}
			player, created = existing, false
			return nil
		}

		if s.Status != game.StatusLobby {
			return fmt.Errorf("join session %s: %w", sessionID, game.ErrNotLobby)
		}
		n, err := tx.CountPlayers(ctx, sessionID)
		if err != nil {
			return err
		}
		if n >= s.MaxPlayers {
			return fmt.Errorf("join session %s (%d/%d players): %w", sessionID, n, s.MaxPlayers, game.ErrSessionFull)
		}

		p := &game.Player{
			ID:          playerID,
			SessionID:   sessionID,
			DisplayName: displayName,
			JoinedAt:    timeNow(),
		}
		if _, err := tx.UpsertPlayer(ctx, p); err != nil {
			return err
		}
		player, created = p, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		slog.Info("player joined", "session", sessionID, "player", playerID)
		e.publish(notify.Change{SessionID: sessionID, Kind: notify.KindSession})
	}
	return player, created, nil
}

// AssignNation gives control of a nation to a player. Host only; allowed
// until the session finishes.
func (e *Engine) AssignNation(ctx context.Context, sessionID, playerID, factionKey string, isHost bool) error {
	if !isHost {
		return fmt.Errorf("assign nation: %w", game.ErrNotHost)
	}
	key := game.NormalizeKey(factionKey)

	var previous string
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.Status == game.StatusFinished {
			return fmt.Errorf("session %s: %w", sessionID, game.ErrAlreadyFinished)
		}
		if _, err := tx.Player(ctx, sessionID, playerID); err != nil {
			return err
		}
		if _, err := tx.Faction(ctx, sessionID, key); err != nil {
			return err
		}
		if previous, err = tx.NationController(ctx, sessionID, key); err != nil {
			return err
		}
		return tx.AssignNation(ctx, sessionID, playerID, key)
	})
	if err != nil {
		return err
	}

	if previous != "" && previous != playerID {
		slog.Info("nation reassigned", "session", sessionID, "nation", key, "from", previous, "to", playerID)
	} else {
		slog.Info("nation assigned", "session", sessionID, "player", playerID, "nation", key)
	}
	e.publish(notify.Change{SessionID: sessionID, Kind: notify.KindSession, Faction: key})
	return nil
}

// SetCurrentNation switches the nation a player is acting as. The player
// must control it.
func (e *Engine) SetCurrentNation(ctx context.Context, sessionID, playerID, factionKey string) error {
	if playerID == "" {
		return fmt.Errorf("player id is required: %w", game.ErrInvalidArgument)
	}
	key := game.NormalizeKey(factionKey)

	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.Status == game.StatusFinished {
			return fmt.Errorf("session %s: %w", sessionID, game.ErrAlreadyFinished)
		}
		if _, err := tx.Player(ctx, sessionID, playerID); err != nil {
			return err
		}
		if _, err := tx.Faction(ctx, sessionID, key); err != nil {
			return err
		}
		owner, err := tx.NationController(ctx, sessionID, key)
		if err != nil {
			return err
		}
		if owner != playerID {
			return fmt.Errorf("player %s selecting %s: %w", playerID, key, game.ErrNotController)
		}
		return tx.SetCurrentNation(ctx, sessionID, playerID, key)
	})
	if err != nil {
		return err
	}

	slog.Debug("current nation set", "session", sessionID, "player", playerID, "nation", key)
	e.publish(notify.Change{SessionID: sessionID, Kind: notify.KindSession, Faction: key})
	return nil
}

// SetMaxPlayers changes the seat limit of a lobby. Host only; the limit
// cannot drop below the players already seated.
func (e *Engine) SetMaxPlayers(ctx context.Context, sessionID string, n int, isHost bool) (*game.Session, error) {
	if !isHost {
		return nil, fmt.Errorf("set max players: %w", game.ErrNotHost)
	}
	if n < 1 {
		return nil, fmt.Errorf("max players must be positive, got %d: %w", n, game.ErrInvalidArgument)
	}

	var updated *game.Session
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.Status != game.StatusLobby {
			return fmt.Errorf("set max players of %s (%s): %w", sessionID, s.Status, game.ErrNotLobby)
		}
		seated, err := tx.CountPlayers(ctx, sessionID)
		if err != nil {
			return err
		}
		if n < seated {
			return fmt.Errorf("max players %d is below the %d seated: %w", n, seated, game.ErrInvalidArgument)
		}
		ok, err := tx.SetMaxPlayers(ctx, sessionID, n)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("set max players of %s: %w", sessionID, game.ErrNotLobby)
		}
		updated, err = tx.Session(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("max players changed", "session", sessionID, "max_players", n)
	e.publish(notify.Change{SessionID: sessionID, Kind: notify.KindSession})
	return updated, nil
}

// IsHost reports whether a player is the host of a session. Unknown
// players are not hosts.
func (e *Engine) IsHost(ctx context.Context, sessionID, playerID string) (bool, error) {
	if playerID == "" {
		return false, nil
	}
	var host bool
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.Session(ctx, sessionID); err != nil {
			return err
		}
		p, err := tx.Player(ctx, sessionID, playerID)
		if isNotFound(err) {
			host = false
			return nil
		}
		if err != nil {
			return err
		}
		host = p.IsHost
		return nil
	})
	return host, err
}

// Lobby returns the session with its players, nations and, while active,
// the commit status of the current phase.
func (e *Engine) Lobby(ctx context.Context, sessionID string) (*LobbyView, error) {
	var view *LobbyView
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		players, err := tx.Players(ctx, sessionID)
		if err != nil {
			return err
		}
		factions, err := tx.Factions(ctx, sessionID)
		if err != nil {
			return err
		}
		view = &LobbyView{Session: s, Players: players, Factions: factions}
		if s.Status == game.StatusActive {
			view.PhaseStatus, err = phaseStatus(ctx, tx, s.ID, factions, s.Turn())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// StartSession moves a lobby to round 1, ECONOMY and seeds territory
// control from the scenario.
func (e *Engine) StartSession(ctx context.Context, sessionID string, isHost bool) (*game.Session, error) {
	if !isHost {
		return nil, fmt.Errorf("start session: %w", game.ErrNotHost)
	}

	var started *game.Session
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.Status != game.StatusLobby {
			return fmt.Errorf("start session %s (%s): %w", sessionID, s.Status, game.ErrNotLobby)
		}
		scenario, err := e.Scenarios.Lookup(s.Scenario)
		if err != nil {
			return fmt.Errorf("start session %s: %w", sessionID, err)
		}

		ok, err := tx.StartSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("start session %s: %w", sessionID, game.ErrNotLobby)
		}
		for _, c := range scenario.Controls(sessionID) {
			if err := tx.SetControl(ctx, c); err != nil {
				return err
			}
		}
		payload, err := json.Marshal(map[string]any{"scenario": scenario.Code, "territories": len(scenario.StartingControl)})
		if err != nil {
			return fmt.Errorf("encode start payload: %w", err)
		}
		if err := tx.AppendLog(ctx, game.LogEntry{
			SessionID: sessionID,
			Round:     1,
			EventType: game.EventSessionStarted,
			Payload:   string(payload),
		}); err != nil {
			return err
		}
		started, err = tx.Session(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("session started", logAttrs(sessionID, started.Turn())...)
	e.publish(notify.Change{SessionID: sessionID, Kind: notify.KindSession, Round: started.Round, Phase: started.Phase})
	return started, nil
}

// FinishSession ends an active session. FINISHED is terminal.
func (e *Engine) FinishSession(ctx context.Context, sessionID string, isHost bool) error {
	if !isHost {
		return fmt.Errorf("finish session: %w", game.ErrNotHost)
	}

	var last game.Turn
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		switch s.Status {
		case game.StatusFinished:
			return fmt.Errorf("session %s: %w", sessionID, game.ErrAlreadyFinished)
		case game.StatusLobby:
			return fmt.Errorf("session %s has not started: %w", sessionID, game.ErrNotActive)
		}
		ok, err := tx.FinishSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("session %s: %w", sessionID, game.ErrNotActive)
		}
		last = s.Turn()
		return tx.AppendLog(ctx, game.LogEntry{
			SessionID: sessionID,
			Round:     s.Round,
			EventType: game.EventSessionFinished,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("session finished", logAttrs(sessionID, last)...)
	e.publish(notify.Change{SessionID: sessionID, Kind: notify.KindSession, Round: last.Round, Phase: last.Phase})
	return nil
}

const (
	defaultLogLimit = 100
	maxLogLimit     = 500
)

// SessionLog returns the newest game log entries of a session.
func (e *Engine) SessionLog(ctx context.Context, sessionID string, limit int) ([]game.LogEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultLogLimit
	case limit > maxLogLimit:
		limit = maxLogLimit
	}
	var entries []game.LogEntry
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.Session(ctx, sessionID); err != nil {
			return err
		}
		var err error
		entries, err = tx.Log(ctx, sessionID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
