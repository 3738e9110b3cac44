package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/talgya/war-room/internal/game"
)

const phaseStateColumns = `session_id, nation_key, round, phase, status, committed_at, committed_by, updated_at`

// PhaseState returns a nation's row for one turn. A missing row is returned
// as a DRAFT state with no commit metadata.
func (t *Tx) PhaseState(ctx context.Context, sessionID, nationKey string, turn game.Turn) (game.NationPhaseState, error) {
	var st game.NationPhaseState
	err := t.tx.GetContext(ctx, &st, `SELECT `+phaseStateColumns+` FROM nation_phase_state
		WHERE session_id = ? AND nation_key = ? AND round = ? AND phase = ?`,
		sessionID, nationKey, turn.Round, turn.Phase)
	if errors.Is(err, sql.ErrNoRows) {
		return game.NationPhaseState{
			SessionID:  sessionID,
			FactionKey: nationKey,
			Round:      turn.Round,
			Phase:      turn.Phase,
			Status:     game.Draft,
		}, nil
	}
	if err != nil {
		return st, fmt.Errorf("load phase state %s %s: %w", nationKey, turn, err)
	}
	return st, nil
}

// PhaseStates returns every existing row for one turn, ordered by nation.
func (t *Tx) PhaseStates(ctx context.Context, sessionID string, turn game.Turn) ([]game.NationPhaseState, error) {
	var states []game.NationPhaseState
	err := t.tx.SelectContext(ctx, &states, `SELECT `+phaseStateColumns+` FROM nation_phase_state
		WHERE session_id = ? AND round = ? AND phase = ? ORDER BY nation_key`,
		sessionID, turn.Round, turn.Phase)
	if err != nil {
		return nil, fmt.Errorf("load phase states %s: %w", turn, err)
	}
	return states, nil
}

// UpsertPhaseState writes a nation's row for one turn. A LOCKED row is never
// overwritten; the call then reports false.
func (t *Tx) UpsertPhaseState(ctx context.Context, st game.NationPhaseState) (bool, error) {
	st.UpdatedAt = now()
	res, err := t.tx.NamedExecContext(ctx, `INSERT INTO nation_phase_state (`+phaseStateColumns+`)
		VALUES (:session_id, :nation_key, :round, :phase, :status, :committed_at, :committed_by, :updated_at)
		ON CONFLICT (session_id, nation_key, round, phase) DO UPDATE SET
			status = excluded.status,
			committed_at = excluded.committed_at,
			committed_by = excluded.committed_by,
			updated_at = excluded.updated_at
		WHERE nation_phase_state.status <> 'LOCKED'`, st)
	if err != nil {
		return false, fmt.Errorf("upsert phase state %s: %w", st.FactionKey, err)
	}
	return affectedOne(res)
}

// LockTurn promotes every COMMITTED row of a turn to LOCKED and returns how
// many rows changed.
func (t *Tx) LockTurn(ctx context.Context, sessionID string, turn game.Turn) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE nation_phase_state
		SET status = ?, updated_at = ?
		WHERE session_id = ? AND round = ? AND phase = ? AND status = ?`,
		game.Locked, now(), sessionID, turn.Round, turn.Phase, game.Committed)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", turn, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", turn, err)
	}
	return n, nil
}

// CountUnlocked returns how many rows of a turn are not LOCKED.
func (t *Tx) CountUnlocked(ctx context.Context, sessionID string, turn game.Turn) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM nation_phase_state
		WHERE session_id = ? AND round = ? AND phase = ? AND status <> ?`,
		sessionID, turn.Round, turn.Phase, game.Locked)
	if err != nil {
		return 0, fmt.Errorf("count unlocked %s: %w", turn, err)
	}
	return n, nil
}
