package game

import (
	"fmt"
	"strings"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusLobby    SessionStatus = "LOBBY"    // Waiting for players and nation assignment
	StatusActive   SessionStatus = "ACTIVE"   // Round/phase are meaningful
	StatusFinished SessionStatus = "FINISHED" // Terminal
)

// PhaseStatus is a nation's readiness for one (round, phase).
type PhaseStatus string

const (
	Draft     PhaseStatus = "DRAFT"
	Committed PhaseStatus = "COMMITTED"
	Locked    PhaseStatus = "LOCKED"
)

// ParsePhaseStatus converts a stored value into a PhaseStatus. An empty
// value is DRAFT: a missing row means the nation has not acted yet.
func ParsePhaseStatus(s string) (PhaseStatus, error) {
	switch PhaseStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case "", Draft:
		return Draft, nil
	case Committed:
		return Committed, nil
	case Locked:
		return Locked, nil
	}
	return "", fmt.Errorf("unknown phase status %q", s)
}

// Ready reports whether the status satisfies the advance check.
func (s PhaseStatus) Ready() bool {
	return s == Committed || s == Locked
}

// CanTransitionTo reports whether a row may move from s to target.
// DRAFT and COMMITTED toggle freely; only COMMITTED may be locked; LOCKED
// never changes.
func (s PhaseStatus) CanTransitionTo(target PhaseStatus) bool {
	switch s {
	case Draft:
		return target == Draft || target == Committed
	case Committed:
		return target == Draft || target == Committed || target == Locked
	}
	return false
}

func (s PhaseStatus) String() string {
	return string(s)
}
