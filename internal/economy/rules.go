package economy

import (
	"fmt"
	"strings"

	"github.com/talgya/war-room/internal/game"
)

// RuleKind names an income override.
type RuleKind string

const (
	// OilExempt nations cannot gain oil: oil is zeroed in totals and lines.
	OilExempt RuleKind = "OIL_EXEMPT"
	// IronExempt and OSRExempt mirror OilExempt for the other tracks.
	IronExempt RuleKind = "IRON_EXEMPT"
	OSRExempt  RuleKind = "OSR_EXEMPT"
)

// Rule binds an override to a nation.
type Rule struct {
	Faction string   `json:"faction" yaml:"faction"`
	Kind    RuleKind `json:"kind" yaml:"kind"`
}

type override func(*game.Resources)

var overrides = map[RuleKind]override{
	OilExempt:  func(r *game.Resources) { r.Oil = 0 },
	IronExempt: func(r *game.Resources) { r.Iron = 0 },
	OSRExempt:  func(r *game.Resources) { r.OSR = 0 },
}

// ParseRuleKind validates a rule name from reference data.
func ParseRuleKind(s string) (RuleKind, error) {
	k := RuleKind(strings.ReplaceAll(game.NormalizeKey(s), " ", "_"))
	if _, ok := overrides[k]; !ok {
		return "", fmt.Errorf("unknown income rule %q", s)
	}
	return k, nil
}

// applyRules runs every rule that targets b's nation over its totals and
// line items.
func applyRules(b *Breakdown, rules []Rule) {
	for _, r := range rules {
		if game.NormalizeKey(r.Faction) != b.FactionKey {
			continue
		}
		fn, ok := overrides[r.Kind]
		if !ok {
			b.Warnings = append(b.Warnings, fmt.Sprintf("unknown income rule %q ignored", r.Kind))
			continue
		}
		fn(&b.Totals)
		for i := range b.Lines {
			fn(&b.Lines[i].Resources)
		}
		b.Applied = append(b.Applied, r.Kind)
	}
}
