// Package game holds the session, faction and phase-state types shared by
// every layer of the war room backend.
package game

import (
	"fmt"
	"strings"
)

// Phase is one step of the rulebook turn sequence.
type Phase string

const (
	PhaseEconomy     Phase = "ECONOMY"
	PhasePlanning    Phase = "PLANNING"
	PhaseMovement    Phase = "MOVEMENT"
	PhaseCombat      Phase = "COMBAT"
	PhaseRefitDeploy Phase = "REFIT_DEPLOY"
	PhaseMorale      Phase = "MORALE"
	PhaseProduction  Phase = "PRODUCTION"
)

// PhaseOrder is the fixed turn sequence. After the last entry the round
// increments and play wraps to the first.
var PhaseOrder = [...]Phase{
	PhaseEconomy,
	PhasePlanning,
	PhaseMovement,
	PhaseCombat,
	PhaseRefitDeploy,
	PhaseMorale,
	PhaseProduction,
}

var phaseTitles = map[Phase]string{
	PhaseEconomy:     "Direct National Economy",
	PhasePlanning:    "Strategic Planning",
	PhaseMovement:    "Movement Operations",
	PhaseCombat:      "Combat Operations",
	PhaseRefitDeploy: "Refit & Deploy",
	PhaseMorale:      "Morale",
	PhaseProduction:  "Production",
}

// ParsePhase converts a wire value into a Phase. Matching is case-insensitive.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := phaseTitles[p]; !ok {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Valid reports whether p is part of the turn sequence.
func (p Phase) Valid() bool {
	_, ok := phaseTitles[p]
	return ok
}

// Index returns the position of p in PhaseOrder, or -1.
func (p Phase) Index() int {
	for i, q := range PhaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Title returns the rulebook name of the phase.
func (p Phase) Title() string {
	return phaseTitles[p]
}

func (p Phase) String() string {
	return string(p)
}

// Next returns the round and phase that follow (round, p).
// PRODUCTION wraps to ECONOMY of the next round.
func (p Phase) Next(round int) (int, Phase) {
	i := p.Index()
	if i < 0 || i == len(PhaseOrder)-1 {
		return round + 1, PhaseOrder[0]
	}
	return round, PhaseOrder[i+1]
}

// Turn identifies one (round, phase) window.
type Turn struct {
	Round int   `json:"round" db:"round"`
	Phase Phase `json:"phase" db:"phase"`
}

// Next returns the turn that follows t.
func (t Turn) Next() Turn {
	r, p := t.Phase.Next(t.Round)
	return Turn{Round: r, Phase: p}
}

func (t Turn) String() string {
	return fmt.Sprintf("round %d %s", t.Round, t.Phase)
}
