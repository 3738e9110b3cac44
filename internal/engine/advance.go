package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/war-room/internal/game"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/persistence"
)

// AdvanceResult describes one phase transition.
type AdvanceResult struct {
	From   game.Turn `json:"from"`
	To     game.Turn `json:"to"`
	Locked int64     `json:"locked"`
	// LeftEconomy is set when the outgoing phase was ECONOMY, the window in
	// which the host applies income for the round.
	LeftEconomy bool `json:"left_economy"`
}

// AdvancePhase moves an active session to the next phase once every nation
// is ready. The outgoing phase's committed rows are locked in the same
// transaction that moves the session, so no reader sees the new phase with
// COMMITTED rows left behind.
func (e *Engine) AdvancePhase(ctx context.Context, sessionID string, isHost bool) (*AdvanceResult, error) {
	if !isHost {
		e.Metrics.AdvanceRejected(reason(game.ErrNotHost))
		return nil, fmt.Errorf("advance phase: %w", game.ErrNotHost)
	}

	var res *AdvanceResult
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := activeSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		from := s.Turn()

		pending, err := e.pending(ctx, tx, sessionID, from)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return &game.PendingError{Turn: from, Pending: pending}
		}

		locked, err := tx.LockTurn(ctx, sessionID, from)
		if err != nil {
			return err
		}
		left, err := tx.CountUnlocked(ctx, sessionID, from)
		if err != nil {
			return err
		}
		if left > 0 {
			return fmt.Errorf("advance %s: %d rows still unlocked after locking", from, left)
		}

		to := from.Next()
		ok, err := tx.AdvanceSession(ctx, sessionID, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("advance from %s: %w", from, game.ErrInvalidPhase)
		}

		payload, err := json.Marshal(map[string]any{"from": from, "to": to, "locked": locked})
		if err != nil {
			return fmt.Errorf("encode advance payload: %w", err)
		}
		if err := tx.AppendLog(ctx, game.LogEntry{
			SessionID: sessionID,
			Round:     from.Round,
			EventType: game.EventPhaseAdvanced,
			Payload:   string(payload),
		}); err != nil {
			return err
		}

		res = &AdvanceResult{
			From:        from,
			To:          to,
			Locked:      locked,
			LeftEconomy: from.Phase == game.PhaseEconomy,
		}
		return nil
	})
	if err != nil {
		e.Metrics.AdvanceRejected(reason(err))
		return nil, err
	}

	e.Metrics.PhaseAdvanced(string(res.From.Phase))
	slog.Info("phase advanced", "session", sessionID,
		"from", res.From.String(), "to", res.To.String(), "locked", res.Locked)
	e.publish(
		notify.Change{SessionID: sessionID, Kind: notify.KindPhaseState, Round: res.From.Round, Phase: res.From.Phase},
		notify.Change{SessionID: sessionID, Kind: notify.KindSession, Round: res.To.Round, Phase: res.To.Phase},
	)
	return res, nil
}

// pending returns the sorted keys of nations still in DRAFT for a turn
// under the engine's readiness rule.
func (e *Engine) pending(ctx context.Context, tx *persistence.Tx, sessionID string, turn game.Turn) ([]string, error) {
	var pending []string
	switch e.Readiness {
	case TouchedOnly:
		states, err := tx.PhaseStates(ctx, sessionID, turn)
		if err != nil {
			return nil, err
		}
		for _, st := range states {
			if !st.Status.Ready() {
				pending = append(pending, st.FactionKey)
			}
		}
	default:
		factions, err := tx.Factions(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		status, err := phaseStatus(ctx, tx, sessionID, factions, turn)
		if err != nil {
			return nil, err
		}
		for key, st := range status {
			if !st.Ready() {
				pending = append(pending, key)
			}
		}
	}
	sort.Strings(pending)
	return pending, nil
}
