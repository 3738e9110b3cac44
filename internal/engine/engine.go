// Package engine implements the session rules: lobby, the per-nation commit
// protocol, phase advancement and income application. Every operation
// re-reads the authoritative session inside a single store transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/talgya/war-room/internal/game"
	"github.com/talgya/war-room/internal/metrics"
	"github.com/talgya/war-room/internal/notify"
	"github.com/talgya/war-room/internal/persistence"
	"github.com/talgya/war-room/internal/registry"
)

// ReadinessRule decides which nations must have committed before a phase
// may advance.
type ReadinessRule string

const (
	// AllRegistered requires every nation of the session to be COMMITTED
	// or LOCKED. A nation with no row counts as DRAFT.
	AllRegistered ReadinessRule = "ALL_REGISTERED"
	// TouchedOnly only checks nations that have a row for the phase.
	TouchedOnly ReadinessRule = "TOUCHED_ONLY"
)

// ParseReadinessRule accepts either rule name, case-insensitively. Empty
// means AllRegistered.
func ParseReadinessRule(s string) (ReadinessRule, error) {
	switch r := ReadinessRule(strings.ToUpper(strings.TrimSpace(s))); r {
	case "":
		return AllRegistered, nil
	case AllRegistered, TouchedOnly:
		return r, nil
	}
	return "", fmt.Errorf("readiness rule %q: %w", s, game.ErrInvalidArgument)
}

// Engine runs session operations against the store.
type Engine struct {
	DB        *persistence.DB
	Scenarios *registry.Registry
	Notifier  notify.Notifier
	Metrics   metrics.Engine
	Readiness ReadinessRule
}

// New creates an engine with no notifications, no metrics and the
// AllRegistered readiness rule.
func New(db *persistence.DB, scenarios *registry.Registry) *Engine {
	return &Engine{
		DB:        db,
		Scenarios: scenarios,
		Notifier:  notify.Discard{},
		Metrics:   metrics.Noop{},
		Readiness: AllRegistered,
	}
}

// publish fans out changes after a transaction committed.
func (e *Engine) publish(changes ...notify.Change) {
	for _, c := range changes {
		e.Notifier.Publish(c)
	}
}

// activeSession loads a session and checks it is ACTIVE.
func activeSession(ctx context.Context, tx *persistence.Tx, sessionID string) (*game.Session, error) {
	s, err := tx.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != game.StatusActive {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, s.Status, game.ErrNotActive)
	}
	return s, nil
}

// reason turns a rejection into a short metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, game.ErrNotHost):
		return "not_host"
	case errors.Is(err, game.ErrNotFound):
		return "not_found"
	case errors.Is(err, game.ErrNotActive):
		return "not_active"
	case errors.Is(err, game.ErrNotAllCommitted):
		return "not_all_committed"
	case errors.Is(err, game.ErrInvalidPhase):
		return "invalid_phase"
	}
	return "error"
}

func logAttrs(sessionID string, t game.Turn) []any {
	return []any{"session", sessionID, "round", t.Round, "phase", t.Phase}
}

func isNotFound(err error) bool {
	return errors.Is(err, game.ErrNotFound)
}

func timeNow() time.Time {
	return time.Now().UTC()
}
