package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/talgya/war-room/internal/game"
)

const sessionColumns = `id, name, scenario, max_players, status, round, phase, created_at, started_at`

// Session loads a session by id.
func (t *Tx) Session(ctx context.Context, id string) (*game.Session, error) {
	var s game.Session
	err := t.tx.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, game.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return &s, nil
}

// InsertSession creates a session row.
func (t *Tx) InsertSession(ctx context.Context, s *game.Session) error {
	_, err := t.tx.NamedExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:id, :name, :scenario, :max_players, :status, :round, :phase, :created_at, :started_at)`, s)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// StartSession moves a LOBBY session to ACTIVE at round 1, ECONOMY.
// It reports false if the session was no longer in the lobby.
func (t *Tx) StartSession(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE sessions
		SET status = ?, round = 1, phase = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		game.StatusActive, game.PhaseOrder[0], now(), id, game.StatusLobby)
	if err != nil {
		return false, fmt.Errorf("start session %s: %w", id, err)
	}
	return affectedOne(res)
}

// AdvanceSession compare-and-sets the session turn from one (round, phase)
// to the next. It reports false if the session had already moved.
func (t *Tx) AdvanceSession(ctx context.Context, id string, from, to game.Turn) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE sessions
		SET round = ?, phase = ?
		WHERE id = ? AND status = ? AND round = ? AND phase = ?`,
		to.Round, to.Phase, id, game.StatusActive, from.Round, from.Phase)
	if err != nil {
		return false, fmt.Errorf("advance session %s: %w", id, err)
	}
	return affectedOne(res)
}

// FinishSession marks an ACTIVE session FINISHED.
func (t *Tx) FinishSession(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
		game.StatusFinished, id, game.StatusActive)
	if err != nil {
		return false, fmt.Errorf("finish session %s: %w", id, err)
	}
	return affectedOne(res)
}

// Players returns a session's players with their assigned nations, in join order.
func (t *Tx) Players(ctx context.Context, sessionID string) ([]game.Player, error) {
	var players []game.Player
	err := t.tx.SelectContext(ctx, &players, `SELECT id, session_id, display_name, is_host, current_nation, joined_at
		FROM players WHERE session_id = ? ORDER BY joined_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}

	var rows []struct {
		PlayerID  string `db:"player_id"`
		NationKey string `db:"nation_key"`
	}
	err = t.tx.SelectContext(ctx, &rows, `SELECT player_id, nation_key FROM player_nations
		WHERE session_id = ? ORDER BY nation_key`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load player nations: %w", err)
	}
	byPlayer := make(map[string][]string, len(players))
	for _, r := range rows {
		byPlayer[r.PlayerID] = append(byPlayer[r.PlayerID], r.NationKey)
	}
	for i := range players {
		players[i].Nations = byPlayer[players[i].ID]
		if players[i].Nations == nil {
			players[i].Nations = []string{}
		}
	}
	return players, nil
}

// Player loads one player.
func (t *Tx) Player(ctx context.Context, sessionID, playerID string) (*game.Player, error) {
	var p game.Player
	err := t.tx.GetContext(ctx, &p, `SELECT id, session_id, display_name, is_host, current_nation, joined_at
		FROM players WHERE session_id = ? AND id = ?`, sessionID, playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", playerID, game.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", playerID, err)
	}
	return &p, nil
}

// UpsertPlayer inserts a player or refreshes the display name of an
// existing one. It reports whether a new row was created.
func (t *Tx) UpsertPlayer(ctx context.Context, p *game.Player) (bool, error) {
	res, err := t.tx.NamedExecContext(ctx, `INSERT INTO players (id, session_id, display_name, is_host, joined_at)
		VALUES (:id, :session_id, :display_name, :is_host, :joined_at)
		ON CONFLICT (session_id, id) DO NOTHING`, p)
	if err != nil {
		return false, fmt.Errorf("insert player %s: %w", p.ID, err)
	}
	created, err := affectedOne(res)
	if err != nil || created {
		return created, err
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE players SET display_name = ? WHERE session_id = ? AND id = ?`,
		p.DisplayName, p.SessionID, p.ID)
	if err != nil {
		return false, fmt.Errorf("update player %s: %w", p.ID, err)
	}
	return false, nil
}

// CountPlayers returns how many players joined a session.
func (t *Tx) CountPlayers(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM players WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}

// AssignNation gives control of a nation to a player, replacing any earlier
// controller, and makes it the player's current nation if they had none.
// A previous controller whose current nation was the moved one falls back to
// the lowest keyed nation they still hold, or to none.
func (t *Tx) AssignNation(ctx context.Context, sessionID, playerID, nationKey string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO player_nations (session_id, player_id, nation_key)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id, nation_key) DO UPDATE SET player_id = excluded.player_id`,
		sessionID, playerID, nationKey)
	if err != nil {
		return fmt.Errorf("assign %s to %s: %w", nationKey, playerID, err)
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE players SET current_nation = (
			SELECT MIN(pn.nation_key) FROM player_nations pn
			WHERE pn.session_id = players.session_id AND pn.player_id = players.id)
		WHERE session_id = ? AND id <> ? AND current_nation = ?`, sessionID, playerID, nationKey)
	if err != nil {
		return fmt.Errorf("release current nation %s: %w", nationKey, err)
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE players SET current_nation = ?
		WHERE session_id = ? AND id = ? AND current_nation IS NULL`, nationKey, sessionID, playerID)
	if err != nil {
		return fmt.Errorf("set current nation: %w", err)
	}
	return nil
}

// SetCurrentNation switches the nation a player is acting as. The caller
// checks that the player controls it.
func (t *Tx) SetCurrentNation(ctx context.Context, sessionID, playerID, nationKey string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE players SET current_nation = ?
		WHERE session_id = ? AND id = ?`, nationKey, sessionID, playerID)
	if err != nil {
		return fmt.Errorf("set current nation of %s: %w", playerID, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("player %s: %w", playerID, game.ErrNotFound)
	}
	return nil
}

// SetMaxPlayers changes the seat limit of a LOBBY session. It reports false
// if the session was no longer in the lobby.
func (t *Tx) SetMaxPlayers(ctx context.Context, sessionID string, n int) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE sessions SET max_players = ? WHERE id = ? AND status = ?`,
		n, sessionID, game.StatusLobby)
	if err != nil {
		return false, fmt.Errorf("set max players of %s: %w", sessionID, err)
	}
	return affectedOne(res)
}

// NationController returns the id of the player controlling a nation, or "".
func (t *Tx) NationController(ctx context.Context, sessionID, nationKey string) (string, error) {
	var id string
	err := t.tx.GetContext(ctx, &id, `SELECT player_id FROM player_nations
		WHERE session_id = ? AND nation_key = ?`, sessionID, nationKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load controller of %s: %w", nationKey, err)
	}
	return id, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
