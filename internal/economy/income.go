// Package economy computes per-nation resource income from territory control.
// Everything here is pure: callers load the inputs and persist the results.
package economy

import (
	"fmt"
	"sort"

	"github.com/talgya/war-room/internal/game"
)

// Line is the income contributed by one controlled territory.
type Line struct {
	TerritoryCode string             `json:"territory_code"`
	TerritoryName string             `json:"territory_name"`
	Status        game.ControlStatus `json:"status"`
	UsedEmbattled bool               `json:"used_embattled_side"`
	game.Resources
}

// Breakdown is one nation's income for the round.
type Breakdown struct {
	FactionID  string         `json:"faction_id"`
	FactionKey string         `json:"faction_key"`
	Lines      []Line         `json:"lines"`
	Totals     game.Resources `json:"totals"`
	Applied    []RuleKind     `json:"applied_rules,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// Report is the income of every nation in a session.
type Report struct {
	Breakdowns []Breakdown `json:"breakdowns"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Find returns the breakdown for a nation key, if any.
func (r *Report) Find(key string) (*Breakdown, bool) {
	key = game.NormalizeKey(key)
	for i := range r.Breakdowns {
		if r.Breakdowns[i].FactionKey == key {
			return &r.Breakdowns[i], true
		}
	}
	return nil, false
}

// Project returns the balance each faction would hold after income is
// added. The input slice is not modified.
func (r *Report) Project(factions []game.Faction) []game.Faction {
	out := make([]game.Faction, len(factions))
	for i, f := range factions {
		out[i] = f
		if b, ok := r.Find(f.Key); ok {
			out[i].Resources = f.Resources.Add(b.Totals)
		}
	}
	return out
}

// Input bundles everything ComputeIncome reads.
type Input struct {
	Factions    []game.Faction
	Controls    []game.ControlAssignment
	Territories map[string]game.Territory // by code
	Rules       []Rule
}

// ComputeIncome tallies each faction's income from the territories it
// controls. EMBATTLED control uses the embattled yield, any other status the
// active yield. Override rules run after aggregation. A controlled territory
// with no reference data is skipped with a warning instead of failing the
// whole report.
func ComputeIncome(in Input) Report {
	var report Report

	byKey := make(map[string][]game.ControlAssignment, len(in.Factions))
	known := make(map[string]bool, len(in.Factions))
	for _, f := range in.Factions {
		known[game.NormalizeKey(f.Key)] = true
	}
	for _, c := range in.Controls {
		key := game.NormalizeKey(c.FactionKey)
		if key == "" {
			continue
		}
		if !known[key] {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("territory %s controlled by unknown nation %q", c.TerritoryCode, c.FactionKey))
			continue
		}
		byKey[key] = append(byKey[key], c)
	}

	for _, f := range in.Factions {
		key := game.NormalizeKey(f.Key)
		b := tally(f.ID, key, byKey[key], in.Territories)
		applyRules(&b, in.Rules)
		report.Breakdowns = append(report.Breakdowns, b)
	}

	sort.Slice(report.Breakdowns, func(i, j int) bool {
		return report.Breakdowns[i].FactionKey < report.Breakdowns[j].FactionKey
	})
	return report
}

func tally(id, key string, controls []game.ControlAssignment, territories map[string]game.Territory) Breakdown {
	b := Breakdown{FactionID: id, FactionKey: key, Lines: []Line{}}

	for _, c := range controls {
		t, ok := territories[c.TerritoryCode]
		if !ok {
			b.Warnings = append(b.Warnings, fmt.Sprintf("territory %s has no yield data; skipped", c.TerritoryCode))
			continue
		}

		embattled := c.Status.Embattled()
		y := t.Active
		if embattled {
			y = t.Embattled
		}

		b.Lines = append(b.Lines, Line{
			TerritoryCode: t.Code,
			TerritoryName: t.Name,
			Status:        c.Status,
			UsedEmbattled: embattled,
			Resources:     y,
		})
		b.Totals = b.Totals.Add(y)
	}

	sort.SliceStable(b.Lines, func(i, j int) bool {
		if b.Lines[i].TerritoryName != b.Lines[j].TerritoryName {
			return b.Lines[i].TerritoryName < b.Lines[j].TerritoryName
		}
		return b.Lines[i].TerritoryCode < b.Lines[j].TerritoryCode
	})
	return b
}
