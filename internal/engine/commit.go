package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/war-room/internal/game"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/persistence"
)

// CommitRequest identifies the nation row a player wants to change. Round
// and Phase are what the client believes is current. A non-empty PlayerID
// must belong to the session and either control the nation or be the host.
type CommitRequest struct {
	SessionID string
	Faction   string
	Round     int
	Phase     game.Phase
	PlayerID  string
}

func (r CommitRequest) turn() game.Turn {
	return game.Turn{Round: r.Round, Phase: r.Phase}
}

// CommitResult is the nation's row after a commit or uncommit.
type CommitResult struct {
	Faction     string           `json:"faction"`
	Turn        game.Turn        `json:"turn"`
	Status      game.PhaseStatus `json:"status"`
	Unchanged   bool             `json:"unchanged"`
	CommittedAt *time.Time       `json:"committed_at,omitempty"`
	CommittedBy *string          `json:"committed_by,omitempty"`
}

// CommitPhase marks a nation done with the current phase. Committing an
// already committed nation changes nothing.
func (e *Engine) CommitPhase(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	res, err := e.setPhaseStatus(ctx, req, game.Committed)
	if err != nil {
		return nil, err
	}
	e.Metrics.PhaseCommitted(string(req.Phase), res.Unchanged)
	return res, nil
}

// UncommitPhase reopens a nation's phase. Uncommitting a draft changes
// nothing.
func (e *Engine) UncommitPhase(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	res, err := e.setPhaseStatus(ctx, req, game.Draft)
	if err != nil {
		return nil, err
	}
	e.Metrics.PhaseUncommitted(string(req.Phase), res.Unchanged)
	return res, nil
}

func (e *Engine) setPhaseStatus(ctx context.Context, req CommitRequest, target game.PhaseStatus) (*CommitResult, error) {
	key := game.NormalizeKey(req.Faction)
	turn := req.turn()
	if !turn.Phase.Valid() {
		return nil, fmt.Errorf("phase %q: %w", turn.Phase, game.ErrInvalidPhase)
	}

	var res *CommitResult
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := activeSession(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		if !s.IsCurrent(turn) {
			return fmt.Errorf("%s requested, session is at %s: %w", turn, s.Turn(), game.ErrInvalidPhase)
		}
		if _, err := tx.Faction(ctx, s.ID, key); err != nil {
			return err
		}
		if err := checkCommitter(ctx, tx, s.ID, req.PlayerID, key); err != nil {
			return err
		}

		st, err := tx.PhaseState(ctx, s.ID, key, turn)
		if err != nil {
			return err
		}
		if st.Status == game.Locked {
			return fmt.Errorf("%s %s: %w", key, turn, game.ErrAlreadyLocked)
		}
		if st.Status == target {
			res = resultOf(st, true)
			return nil
		}
		if !st.Status.CanTransitionTo(target) {
			return fmt.Errorf("%s %s: %s to %s: %w", key, turn, st.Status, target, game.ErrInvalidArgument)
		}

		st.Status = target
		if target == game.Committed {
			at := timeNow()
			st.CommittedAt, st.CommittedBy = &at, nil
			if req.PlayerID != "" {
				by := req.PlayerID
				st.CommittedBy = &by
			}
		} else {
			st.CommittedAt, st.CommittedBy = nil, nil
		}
		ok, err := tx.UpsertPhaseState(ctx, st)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s: %w", key, turn, game.ErrAlreadyLocked)
		}
		res = resultOf(st, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.Unchanged {
		slog.Info("nation phase status changed", append(logAttrs(req.SessionID, turn),
			"nation", key, "status", res.Status, "player", req.PlayerID)...)
		e.publish(notify.Change{
			SessionID: req.SessionID,
			Kind:      notify.KindPhaseState,
			Round:     turn.Round,
			Phase:     turn.Phase,
			Faction:   key,
		})
	}
	return res, nil
}

// checkCommitter verifies that playerID may act for the nation. Anonymous
// callers are internal and skip the check.
func checkCommitter(ctx context.Context, tx *persistence.Tx, sessionID, playerID, key string) error {
	if playerID == "" {
		return nil
	}
	p, err := tx.Player(ctx, sessionID, playerID)
	if err != nil {
		return err
	}
	if p.IsHost {
		return nil
	}
	owner, err := tx.NationController(ctx, sessionID, key)
	if err != nil {
		return err
	}
	if owner != playerID {
		return fmt.Errorf("player %s acting for %s: %w", playerID, key, game.ErrNotController)
	}
	return nil
}

func resultOf(st game.NationPhaseState, unchanged bool) *CommitResult {
	return &CommitResult{
		Faction:     st.FactionKey,
		Turn:        game.Turn{Round: st.Round, Phase: st.Phase},
		Status:      st.Status,
		Unchanged:   unchanged,
		CommittedAt: st.CommittedAt,
		CommittedBy: st.CommittedBy,
	}
}

// GetPhaseStatus returns every registered nation's status for one
// (round, phase), keyed by normalized nation key. Nations without a row
// are DRAFT.
func (e *Engine) GetPhaseStatus(ctx context.Context, sessionID string, round int, phase game.Phase) (map[string]game.PhaseStatus, error) {
	if !phase.Valid() || round < 1 {
		return nil, fmt.Errorf("round %d phase %q: %w", round, phase, game.ErrInvalidArgument)
	}
	turn := game.Turn{Round: round, Phase: phase}

	var out map[string]game.PhaseStatus
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.Session(ctx, sessionID); err != nil {
			return err
		}
		factions, err := tx.Factions(ctx, sessionID)
		if err != nil {
			return err
		}
		out, err = phaseStatus(ctx, tx, sessionID, factions, turn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func phaseStatus(ctx context.Context, tx *persistence.Tx, sessionID string, factions []game.Faction, turn game.Turn) (map[string]game.PhaseStatus, error) {
	states, err := tx.PhaseStates(ctx, sessionID, turn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]game.PhaseStatus, len(factions))
	for _, f := range factions {
		out[f.Key] = game.Draft
	}
	for _, st := range states {
		out[game.NormalizeKey(st.FactionKey)] = st.Status
	}
	return out, nil
}
