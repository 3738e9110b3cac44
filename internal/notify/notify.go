// Package notify fans out "something changed" signals for a session.
// Clients re-read authoritative state on receipt; no payload is
// guaranteed to be complete or ordered.
package notify

import (
	"time"

	"github.com/talgya/war-room/internal/game"
)

// Kind names the table a change touched.
type Kind string

const (
	KindSession        Kind = "session"
	KindPhaseState     Kind = "phase_state"
	KindFactionBalance Kind = "faction_balance"
)

// Change is one invalidation signal.
type Change struct {
	SessionID string     `json:"session_id"`
	Kind      Kind       `json:"kind"`
	Round     int        `json:"round,omitempty"`
	Phase     game.Phase `json:"phase,omitempty"`
	Faction   string     `json:"faction,omitempty"`
	At        time.Time  `json:"at"`
}

// Notifier receives changes after they are committed. Publish must not
// block the caller.
type Notifier interface {
	Publish(Change)
}

// Discard drops every change.
type Discard struct{}

func (Discard) Publish(Change) {}
