// Package registry holds read-only reference data: scenarios, their nations,
// the territory catalog with yields, and pre-resolved starting control.
package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/war-room/internal/economy"
	"github.com/talgya/war-room/internal/game"
)

//go:embed schema/scenario.schema.json
var scenarioSchema string

// Control is one starting-control row: a territory held by a nation.
type Control struct {
	Territory string             `yaml:"territory" json:"territory"`
	Nation    string             `yaml:"nation" json:"nation"`
	Status    game.ControlStatus `yaml:"status,omitempty" json:"status,omitempty"`
}

// Scenario is one playable setup.
type Scenario struct {
	Code            string           `yaml:"code" json:"code"`
	Name            string           `yaml:"name" json:"name"`
	MaxPlayers      int              `yaml:"max_players" json:"max_players"`
	Nations         []string         `yaml:"nations" json:"nations"`
	Rules           []economy.Rule   `yaml:"rules,omitempty" json:"rules,omitempty"`
	Territories     []game.Territory `yaml:"territories" json:"territories"`
	StartingControl []Control        `yaml:"starting_control" json:"starting_control"`
}

// TerritoryIndex returns the catalog keyed by territory code.
func (s *Scenario) TerritoryIndex() map[string]game.Territory {
	idx := make(map[string]game.Territory, len(s.Territories))
	for _, t := range s.Territories {
		idx[t.Code] = t
	}
	return idx
}

// Controls expands starting control into session-scoped assignments.
func (s *Scenario) Controls(sessionID string) []game.ControlAssignment {
	out := make([]game.ControlAssignment, 0, len(s.StartingControl))
	for _, c := range s.StartingControl {
		status := c.Status
		if status == "" {
			status = game.ControlActive
		}
		out = append(out, game.ControlAssignment{
			SessionID:     sessionID,
			TerritoryCode: c.Territory,
			FactionKey:    game.NormalizeKey(c.Nation),
			Status:        status,
		})
	}
	return out
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("scenario.schema.json", strings.NewReader(scenarioSchema)); err != nil {
		panic(fmt.Sprintf("scenario schema: %v", err))
	}
	return c.MustCompile("scenario.schema.json")
}

// Parse decodes a YAML scenario, checks it against the scenario schema, then
// runs semantic checks. Every problem found is reported, not just the first.
func Parse(raw []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	var inst any
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.UseNumber()
	if err := dec.Decode(&inst); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := compiledSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("scenario schema: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

// normalize canonicalizes keys and validates references between sections.
func (s *Scenario) normalize() error {
	var errs *multierror.Error

	s.Code = strings.TrimSpace(s.Code)
	s.Name = strings.TrimSpace(s.Name)
	if s.MaxPlayers <= 0 {
		s.MaxPlayers = len(s.Nations)
	}

	nations := make(map[string]bool, len(s.Nations))
	for i, n := range s.Nations {
		key := game.NormalizeKey(n)
		if nations[key] {
			errs = multierror.Append(errs, fmt.Errorf("nation %q listed twice", key))
		}
		nations[key] = true
		s.Nations[i] = key
	}

	codes := make(map[string]bool, len(s.Territories))
	for i, t := range s.Territories {
		t.Code = strings.TrimSpace(t.Code)
		if codes[t.Code] {
			errs = multierror.Append(errs, fmt.Errorf("territory %s listed twice", t.Code))
		}
		codes[t.Code] = true
		if t.Name == "" {
			t.Name = t.Code
		}
		if t.Active.Negative() || t.Embattled.Negative() {
			errs = multierror.Append(errs, fmt.Errorf("territory %s has a negative yield", t.Code))
		}
		s.Territories[i] = t
	}

	held := make(map[string]bool, len(s.StartingControl))
	for i, c := range s.StartingControl {
		c.Territory = strings.TrimSpace(c.Territory)
		c.Nation = game.NormalizeKey(c.Nation)
		if !codes[c.Territory] {
			errs = multierror.Append(errs, fmt.Errorf("starting control references unknown territory %s", c.Territory))
		}
		if !nations[c.Nation] {
			errs = multierror.Append(errs, fmt.Errorf("starting control of %s references unknown nation %q", c.Territory, c.Nation))
		}
		if held[c.Territory] {
			errs = multierror.Append(errs, fmt.Errorf("territory %s has two starting controllers", c.Territory))
		}
		held[c.Territory] = true
		s.StartingControl[i] = c
	}

	for i, r := range s.Rules {
		kind, err := economy.ParseRuleKind(string(r.Kind))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		r.Kind = kind
		r.Faction = game.NormalizeKey(r.Faction)
		if !nations[r.Faction] {
			errs = multierror.Append(errs, fmt.Errorf("rule %s references unknown nation %q", kind, r.Faction))
		}
		s.Rules[i] = r
	}

	sort.SliceStable(s.Territories, func(i, j int) bool {
		return s.Territories[i].Code < s.Territories[j].Code
	})

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Code, err)
	}
	return nil
}
