package game

import (
	"time"
)

// Session is the shared game aggregate. Round and Phase only mean
// something while Status is ACTIVE.
type Session struct {
	ID         string        `json:"id" db:"id"`
	Name       string        `json:"name" db:"name"`
	Scenario   string        `json:"scenario" db:"scenario"`
	MaxPlayers int           `json:"max_players" db:"max_players"`
	Status     SessionStatus `json:"status" db:"status"`
	Round      int           `json:"round" db:"round"`
	Phase      Phase         `json:"phase" db:"phase"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty" db:"started_at"`
}

// Turn returns the session's current (round, phase).
func (s *Session) Turn() Turn {
	return Turn{Round: s.Round, Phase: s.Phase}
}

// IsCurrent reports whether t is the live turn of an active session.
func (s *Session) IsCurrent(t Turn) bool {
	return s.Status == StatusActive && s.Round == t.Round && s.Phase == t.Phase
}

// Player is a participant in a session. Identity is issued by the
// authentication collaborator; the backend only stores it.
type Player struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	IsHost        bool      `json:"is_host" db:"is_host"`
	CurrentNation *string   `json:"current_nation,omitempty" db:"current_nation"`
	Nations       []string  `json:"nations" db:"-"`
	JoinedAt      time.Time `json:"joined_at" db:"joined_at"`
}

// NationPhaseState is a nation's commit record for one (round, phase).
type NationPhaseState struct {
	SessionID   string      `json:"session_id" db:"session_id"`
	FactionKey  string      `json:"faction_key" db:"nation_key"`
	Round       int         `json:"round" db:"round"`
	Phase       Phase       `json:"phase" db:"phase"`
	Status      PhaseStatus `json:"status" db:"status"`
	CommittedAt *time.Time  `json:"committed_at,omitempty" db:"committed_at"`
	CommittedBy *string     `json:"committed_by,omitempty" db:"committed_by"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Event types written to the game log.
const (
	EventEconomyApplied  = "ECONOMY_APPLIED"
	EventSessionStarted  = "SESSION_STARTED"
	EventPhaseAdvanced   = "PHASE_ADVANCED"
	EventSessionFinished = "SESSION_FINISHED"
)

// LogEntry is one append-only game log record. ECONOMY_APPLIED entries are
// the idempotency guard for income.
type LogEntry struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Round     int       `json:"round" db:"round"`
	EventType string    `json:"event_type" db:"event_type"`
	Payload   string    `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
