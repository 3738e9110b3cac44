package game

import (
	"strings"
)

// NormalizeKey canonicalizes a nation key: trim, underscores become spaces,
// whitespace runs collapse to one space, uppercase. Every lookup by key goes
// through it.
func NormalizeKey(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Resources is an (oil, iron, osr) triple. It is used both for faction
// balances and territory yields.
type Resources struct {
	Oil  int64 `json:"oil" db:"oil" yaml:"oil"`
	Iron int64 `json:"iron" db:"iron" yaml:"iron"`
	OSR  int64 `json:"osr" db:"osr" yaml:"osr"`
}

// Add returns r + o.
func (r Resources) Add(o Resources) Resources {
	return Resources{Oil: r.Oil + o.Oil, Iron: r.Iron + o.Iron, OSR: r.OSR + o.OSR}
}

// IsZero reports whether every component is zero.
func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Negative reports whether any component is below zero.
func (r Resources) Negative() bool {
	return r.Oil < 0 || r.Iron < 0 || r.OSR < 0
}

// Faction is one nation instance inside a session.
type Faction struct {
	ID             string  `json:"id" db:"id"`
	SessionID      string  `json:"session_id" db:"session_id"`
	Key            string  `json:"key" db:"nation_key"`
	HomelandStatus *string `json:"homeland_status,omitempty" db:"homeland_status"`
	Resources
}

// Territory is static reference data: yields under ACTIVE and EMBATTLED control.
type Territory struct {
	Code      string    `json:"code" yaml:"code"`
	Name      string    `json:"name" yaml:"name"`
	Active    Resources `json:"active" yaml:"active"`
	Embattled Resources `json:"embattled" yaml:"embattled"`
}

// ControlStatus describes how firmly a faction holds a territory.
// Only EMBATTLED changes income; the set is open.
type ControlStatus string

const (
	ControlActive    ControlStatus = "ACTIVE"
	ControlEmbattled ControlStatus = "EMBATTLED"
)

// Embattled reports whether the status selects the embattled yield.
func (c ControlStatus) Embattled() bool {
	return ControlStatus(NormalizeKey(string(c))) == ControlEmbattled
}

// ControlAssignment records which faction controls a territory in a session.
type ControlAssignment struct {
	SessionID     string        `json:"session_id" db:"session_id"`
	TerritoryCode string        `json:"territory_code" db:"territory_code"`
	FactionKey    string        `json:"faction_key" db:"nation_key"`
	Status        ControlStatus `json:"status" db:"status"`
}
