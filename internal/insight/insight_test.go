package insight_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/insight"
)

func snapshot(squad string, total, used float64) domain.CapacityRecord {
	return domain.CapacityRecord{SquadID: squad, Quarter: "Q3-2024", TotalCapacity: total, UsedCapacity: used}
}

func health(t *testing.T, slug string) catalog.Value {
	t.Helper()
	c, err := catalog.New(catalog.Definition{
		catalog.EpicHealth: {{Slug: "green", Label: "Verde"}, {Slug: "yellow"}, {Slug: "red"}},
	})
	require.NoError(t, err)
	v, err := c.Lookup(catalog.EpicHealth, slug)
	require.NoError(t, err)
	return v
}

func TestCapacityAlerts(t *testing.T) {
	cases := []struct {
		name string
		used float64
		kind insight.AlertKind
	}{
		{"overloaded", 111, insight.AlertOverloaded},
		{"slack", 69, insight.AlertSlack},
		{"healthy", 90, ""},
		{"at ceiling", 110, ""},
		{"at floor", 70, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alerts := insight.CapacityAlerts([]domain.CapacityRecord{snapshot("SQ-1", 100, tc.used)}, insight.DefaultThresholds())
			if tc.kind == "" {
				assert.Empty(t, alerts)
				return
			}
			require.Len(t, alerts, 1)
			assert.Equal(t, tc.kind, alerts[0].Kind)
		})
	}
}

func TestCapacityAlertMessages(t *testing.T) {
	alerts := insight.CapacityAlerts([]domain.CapacityRecord{
		snapshot("SQ-1", 100, 115),
		snapshot("SQ-2", 100, 90),
		snapshot("SQ-3", 40, 20),
	}, insight.DefaultThresholds())
	require.Len(t, alerts, 2)
	assert.Equal(t, "Squad SQ-1 acima de 110% (115.0%)", alerts[0].Message)
	assert.Equal(t, "Squad SQ-3 abaixo de 70% (50.0%)", alerts[1].Message)
	assert.Equal(t, "Q3-2024", alerts[0].Quarter)
}

func TestCapacityAlertsCustomThresholds(t *testing.T) {
	alerts := insight.CapacityAlerts([]domain.CapacityRecord{snapshot("SQ-1", 100, 97.5)}, insight.Thresholds{Overload: 95.5, Slack: 50})
	require.Len(t, alerts, 1)
	assert.Equal(t, "Squad SQ-1 acima de 95.5% (97.5%)", alerts[0].Message)
}

func TestEpicHintFirstRuleWins(t *testing.T) {
	idx := insight.IndexSnapshots([]domain.CapacityRecord{snapshot("SQ-1", 100, 50)})
	rules := insight.DefaultHintRules()
	green := health(t, "green")

	cases := []struct {
		name string
		epic domain.EpicRecord
		want insight.HintKind
	}{
		{"no squad even if green and stalled", domain.EpicRecord{ID: "e1", Quarter: "Q3-2024", Health: green}, insight.HintAssignSquad},
		{"unknown capacity", domain.EpicRecord{ID: "e2", SquadID: "SQ-2", Quarter: "Q3-2024", Health: green}, insight.HintUnknownCapacity},
		{"other quarter", domain.EpicRecord{ID: "e3", SquadID: "SQ-1", Quarter: "Q4-2024", Health: green}, insight.HintUnknownCapacity},
		{"hidden risk", domain.EpicRecord{ID: "e4", SquadID: "SQ-1", Quarter: "Q3-2024", Health: green, ProgressPercent: 10}, insight.HintHiddenRisk},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, ok := insight.EpicHint(tc.epic, idx, rules)
			require.True(t, ok)
			assert.Equal(t, tc.want, h.Kind)
			assert.Equal(t, tc.epic.ID, h.EpicID)
		})
	}
}

func TestEpicHintNone(t *testing.T) {
	idx := insight.IndexSnapshots([]domain.CapacityRecord{snapshot("SQ-1", 100, 50)})
	rules := insight.DefaultHintRules()

	_, ok := insight.EpicHint(domain.EpicRecord{SquadID: "SQ-1", Quarter: "Q3-2024", Health: health(t, "red"), ProgressPercent: 5}, idx, rules)
	assert.False(t, ok)
	_, ok = insight.EpicHint(domain.EpicRecord{SquadID: "SQ-1", Quarter: "Q3-2024", Health: health(t, "green"), ProgressPercent: 25}, idx, rules)
	assert.False(t, ok)

	hints := insight.EpicHints([]domain.EpicRecord{
		{ID: "a", SquadID: "SQ-1", Quarter: "Q3-2024", Health: health(t, "yellow")},
		{ID: "b"},
	}, idx, rules)
	require.Len(t, hints, 1)
	assert.Equal(t, "b", hints[0].EpicID)
}

func TestAvailableCapacity(t *testing.T) {
	snap := domain.CapacityRecord{
		SquadID: "SQ-1", Quarter: "Q3-2024", TotalCapacity: 100, BufferPercent: 10,
		Adjustments: map[string]any{insight.ContractorsAdjustment: 20.0},
	}
	sc := domain.ScenarioRecord{
		Quarter:            "Q3-2024",
		Adjustments:        []domain.SquadAdjustment{{SquadID: "SQ-1", DeltaPercent: -20}},
		IncludeContractors: true,
	}
	assert.Equal(t, 80.0, insight.AvailableCapacity(snap, sc))

	sc.ConsiderVacations = true
	assert.Equal(t, 72.0, insight.AvailableCapacity(snap, sc))

	sc.IncludeContractors = false
	assert.Equal(t, 52.0, insight.AvailableCapacity(snap, sc))

	sc.RiskBufferPercent = 10
	assert.Equal(t, 46.8, insight.AvailableCapacity(snap, sc))

	sc.Adjustments[0].DeltaPercent = -100
	assert.Equal(t, 0.0, insight.AvailableCapacity(snap, sc))
}

func TestSimulateInPriorityOrder(t *testing.T) {
	sc := domain.ScenarioRecord{Quarter: "Q3-2024", IncludeContractors: true}
	out := insight.Simulate(insight.SimulationInput{
		Scenario: sc,
		Snapshots: []domain.CapacityRecord{
			snapshot("SQ-1", 50, 0),
			snapshot("SQ-2", 0, 0),
			{SquadID: "SQ-3", Quarter: "Q4-2024", TotalCapacity: 100},
		},
		Epics: []insight.EpicDemand{
			{EpicID: "A", SquadID: "SQ-1", Effort: 30},
			{EpicID: "B", SquadID: "SQ-1", Effort: 25},
			{EpicID: "C", SquadID: "SQ-1", Effort: 20},
			{EpicID: "D"},
			{EpicID: "E", SquadID: "SQ-3", Effort: 1},
			{EpicID: "F", SquadID: "SQ-2"},
		},
	})
	assert.Equal(t, []string{"A", "C", "F"}, out.Result.Fitting)
	assert.Equal(t, []string{"B", "D", "E"}, out.Result.Overflowing)
	require.Len(t, out.Squads, 2)
	assert.Equal(t, insight.SquadCapacity{SquadID: "SQ-1", Available: 50, Allocated: 50}, out.Squads[0])

	comments := insight.ScenarioComments(out.Result, out.Squads)
	assert.Equal(t, []string{
		"3 épico(s) excedem a capacidade disponível; recomenda-se replanejar o trimestre.",
		"Squad SQ-2 sem capacidade registrada.",
		"Considere mover épicos Targeted para squads com folga.",
	}, comments)
}

func TestScenarioCommentsAllFit(t *testing.T) {
	comments := insight.ScenarioComments(domain.ScenarioResult{Fitting: []string{"A"}}, []insight.SquadCapacity{{SquadID: "SQ-1", Available: 10}})
	assert.Equal(t, []string{"Todos os épicos cabem na capacidade disponível."}, comments)
}

func TestDemandsSumFeatureEstimates(t *testing.T) {
	demands := insight.Demands(
		[]domain.EpicRecord{{ID: "e1", SquadID: "SQ-1"}, {ID: "e2"}},
		[]domain.FeatureRecord{{EpicID: "e1", Estimate: 3}, {EpicID: "e1", Estimate: 5}, {EpicID: "e9", Estimate: 8}},
	)
	assert.Equal(t, []insight.EpicDemand{
		{EpicID: "e1", SquadID: "SQ-1", Effort: 8},
		{EpicID: "e2"},
	}, demands)
}
