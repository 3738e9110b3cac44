package economy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/war-room/internal/game"
)

func fixture(key string) Input {
	return Input{
		Factions: []game.Faction{{ID: "f1", Key: key}},
		Controls: []game.ControlAssignment{
			{TerritoryCode: "MAN", FactionKey: key, Status: game.ControlActive},
			{TerritoryCode: "SHX", FactionKey: key, Status: game.ControlEmbattled},
		},
		Territories: map[string]game.Territory{
			"MAN": {
				Code:      "MAN",
				Name:      "Manchuria",
				Active:    game.Resources{Oil: 2, Iron: 1, OSR: 0},
				Embattled: game.Resources{Oil: 1, Iron: 0, OSR: 0},
			},
			"SHX": {
				Code:      "SHX",
				Name:      "Shanxi",
				Active:    game.Resources{Oil: 5, Iron: 5, OSR: 5},
				Embattled: game.Resources{Oil: 0, Iron: 1, OSR: 1},
			},
		},
	}
}

func TestComputeIncomeActiveAndEmbattled(t *testing.T) {
	report := ComputeIncome(fixture("GERMANY"))
	require.Len(t, report.Breakdowns, 1)

	b := report.Breakdowns[0]
	assert.Equal(t, game.Resources{Oil: 2, Iron: 2, OSR: 1}, b.Totals)
	require.Len(t, b.Lines, 2)
	assert.Equal(t, "Manchuria", b.Lines[0].TerritoryName)
	assert.False(t, b.Lines[0].UsedEmbattled)
	assert.Equal(t, "Shanxi", b.Lines[1].TerritoryName)
	assert.True(t, b.Lines[1].UsedEmbattled)
	assert.Empty(t, b.Warnings)
}

func TestComputeIncomeOilExempt(t *testing.T) {
	in := fixture("CHINA")
	in.Rules = []Rule{{Faction: "china", Kind: OilExempt}}

	report := ComputeIncome(in)
	b, ok := report.Find("CHINA")
	require.True(t, ok)
	assert.Equal(t, game.Resources{Oil: 0, Iron: 2, OSR: 1}, b.Totals)
	for _, l := range b.Lines {
		assert.Zero(t, l.Oil, "line %s", l.TerritoryCode)
	}
	assert.Equal(t, []RuleKind{OilExempt}, b.Applied)
}

func TestComputeIncomeRuleOnlyHitsItsNation(t *testing.T) {
	in := fixture("GERMANY")
	in.Rules = []Rule{{Faction: "CHINA", Kind: OilExempt}}

	report := ComputeIncome(in)
	assert.Equal(t, int64(2), report.Breakdowns[0].Totals.Oil)
}

func TestComputeIncomeMissingTerritoryIsWarning(t *testing.T) {
	in := fixture("ITALY")
	in.Controls = append(in.Controls, game.ControlAssignment{TerritoryCode: "ATL", FactionKey: "ITALY", Status: game.ControlActive})

	report := ComputeIncome(in)
	b := report.Breakdowns[0]
	assert.Equal(t, game.Resources{Oil: 2, Iron: 2, OSR: 1}, b.Totals)
	require.Len(t, b.Warnings, 1)
	assert.Contains(t, b.Warnings[0], "ATL")
}

func TestComputeIncomeNormalizesKeys(t *testing.T) {
	in := fixture("BRITISH COMMONWEALTH")
	for i := range in.Controls {
		in.Controls[i].FactionKey = "british_commonwealth"
	}
	report := ComputeIncome(in)
	b, ok := report.Find("BRITISH_COMMONWEALTH")
	require.True(t, ok)
	assert.Len(t, b.Lines, 2)
}

func TestComputeIncomeUnknownController(t *testing.T) {
	in := fixture("ITALY")
	in.Controls = append(in.Controls, game.ControlAssignment{TerritoryCode: "MAN", FactionKey: "ATLANTIS"})

	report := ComputeIncome(in)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "ATLANTIS")
}

func TestComputeIncomeIsDeterministic(t *testing.T) {
	in := fixture("ITALY")
	in.Factions = append(in.Factions, game.Faction{ID: "f0", Key: "GERMANY"})
	a := ComputeIncome(in)
	b := ComputeIncome(in)
	assert.Equal(t, a, b)
	assert.Equal(t, "GERMANY", a.Breakdowns[0].FactionKey)
}

func TestProjectDoesNotMutate(t *testing.T) {
	in := fixture("ITALY")
	in.Factions[0].Resources = game.Resources{Oil: 10, Iron: 10, OSR: 10}
	report := ComputeIncome(in)

	projected := report.Project(in.Factions)
	assert.Equal(t, game.Resources{Oil: 12, Iron: 12, OSR: 11}, projected[0].Resources)
	assert.Equal(t, game.Resources{Oil: 10, Iron: 10, OSR: 10}, in.Factions[0].Resources)
}

func TestParseRuleKind(t *testing.T) {
	k, err := ParseRuleKind("oil exempt")
	require.NoError(t, err)
	assert.Equal(t, OilExempt, k)

	_, err = ParseRuleKind("DOUBLE_OIL")
	assert.Error(t, err)
}
