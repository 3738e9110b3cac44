package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/talgya/war-room/internal/economy"
	"github.com/talgya/war-room/internal/game"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/persistence"
)

// IncomePreview is the income a session would collect now, with the
// balances it would produce.
type IncomePreview struct {
	Round          int            `json:"round"`
	AlreadyApplied bool           `json:"already_applied"`
	Report         economy.Report `json:"report"`
	Balances       []game.Faction `json:"balances"`
	Projected      []game.Faction `json:"projected"`
}

// IncomeResult is the outcome of ApplyIncome.
type IncomeResult struct {
	Round          int            `json:"round"`
	AlreadyApplied bool           `json:"already_applied"`
	Report         economy.Report `json:"report"`
	Balances       []game.Faction `json:"balances"`
}

// appliedPayload is what the ECONOMY_APPLIED log entry stores.
type appliedPayload struct {
	Round  int            `json:"round"`
	Report economy.Report `json:"report"`
}

// PreviewIncome computes the current round's income without changing
// anything.
func (e *Engine) PreviewIncome(ctx context.Context, sessionID string) (*IncomePreview, error) {
	var out *IncomePreview
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		factions, err := tx.Factions(ctx, sessionID)
		if err != nil {
			return err
		}
		report, err := e.computeIncome(ctx, tx, s, factions)
		if err != nil {
			return err
		}
		applied, err := tx.HasLogEntry(ctx, sessionID, s.Round, game.EventEconomyApplied)
		if err != nil {
			return err
		}
		out = &IncomePreview{
			Round:          s.Round,
			AlreadyApplied: applied,
			Report:         report,
			Balances:       factions,
			Projected:      report.Project(factions),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyIncome credits every nation's income for a round exactly once.
// A round that was already applied returns the stored report and changes
// nothing. Otherwise every balance is credited and the ECONOMY_APPLIED
// entry written in one transaction, or nothing is.
func (e *Engine) ApplyIncome(ctx context.Context, sessionID string, round int) (*IncomeResult, error) {
	if round < 1 {
		return nil, fmt.Errorf("apply income for round %d: %w", round, game.ErrInvalidArgument)
	}

	var res *IncomeResult
	err := e.DB.WithTx(ctx, func(tx *persistence.Tx) error {
		res = nil
		s, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}

		prior, err := tx.LogEntry(ctx, sessionID, round, game.EventEconomyApplied)
		if err != nil {
			return err
		}
		if prior != nil {
			var p appliedPayload
			if err := json.Unmarshal([]byte(prior.Payload), &p); err != nil {
				return fmt.Errorf("decode %s entry %d: %w", game.EventEconomyApplied, prior.ID, err)
			}
			balances, err := tx.Factions(ctx, sessionID)
			if err != nil {
				return err
			}
			res = &IncomeResult{Round: round, AlreadyApplied: true, Report: p.Report, Balances: balances}
			return nil
		}

		if s.Status != game.StatusActive {
			return fmt.Errorf("session is %s: %w", s.Status, game.ErrNotActive)
		}
		if round != s.Round {
			return fmt.Errorf("session is at round %d: %w", s.Round, game.ErrInvalidPhase)
		}

		factions, err := tx.Factions(ctx, sessionID)
		if err != nil {
			return err
		}
		report, err := e.computeIncome(ctx, tx, s, factions)
		if err != nil {
			return err
		}
		for _, b := range report.Breakdowns {
			if err := tx.CreditFaction(ctx, sessionID, b.FactionKey, b.Totals); err != nil {
				return err
			}
		}

		payload, err := json.Marshal(appliedPayload{Round: round, Report: report})
		if err != nil {
			return fmt.Errorf("encode income report: %w", err)
		}
		if err := tx.AppendLog(ctx, game.LogEntry{
			SessionID: sessionID,
			Round:     round,
			EventType: game.EventEconomyApplied,
			Payload:   string(payload),
		}); err != nil {
			return err
		}

		balances, err := tx.Factions(ctx, sessionID)
		if err != nil {
			return err
		}
		res = &IncomeResult{Round: round, Report: report, Balances: balances}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply income for session %s round %d: no balances were changed: %w", sessionID, round, err)
	}

	e.Metrics.IncomeApplied(res.AlreadyApplied)
	if res.AlreadyApplied {
		slog.Info("income already applied", "session", sessionID, "round", round)
		return res, nil
	}

	slog.Info("income applied", "session", sessionID, "round", round,
		"nations", len(res.Report.Breakdowns), "warnings", len(res.Report.Warnings))
	changes := make([]notify.Change, 0, len(res.Report.Breakdowns))
	for _, b := range res.Report.Breakdowns {
		changes = append(changes, notify.Change{
			SessionID: sessionID,
			Kind:      notify.KindFactionBalance,
			Round:     round,
			Faction:   b.FactionKey,
		})
	}
	e.publish(changes...)
	return res, nil
}

// computeIncome gathers control and territory data for a session and runs
// the income calculation with the scenario's override rules.
func (e *Engine) computeIncome(ctx context.Context, tx *persistence.Tx, s *game.Session, factions []game.Faction) (economy.Report, error) {
	scenario, err := e.Scenarios.Lookup(s.Scenario)
	if err != nil {
		return economy.Report{}, fmt.Errorf("scenario of session %s: %w", s.ID, err)
	}
	controls, err := tx.Controls(ctx, s.ID)
	if err != nil {
		return economy.Report{}, err
	}
	codes := make([]string, 0, len(controls))
	for _, c := range controls {
		codes = append(codes, c.TerritoryCode)
	}
	territories, err := tx.Territories(ctx, s.Scenario, codes)
	if err != nil {
		return economy.Report{}, err
	}
	return economy.ComputeIncome(economy.Input{
		Factions:    factions,
		Controls:    controls,
		Territories: territories,
		Rules:       scenario.Rules,
	}), nil
}
