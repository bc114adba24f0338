package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
)

func newScenario(t *testing.T, reg *catalog.Registry) *domain.Scenario {
	t.Helper()
	draft, err := reg.Initial(tenant, catalog.ScenarioStatus)
	require.NoError(t, err)
	s, err := domain.NewScenario(domain.NewScenarioParams{
		ID: "sc-1", TenantID: tenant, Name: "Hiring freeze", Quarter: "Q3-2024",
		Status: draft, Now: fixedNow,
	})
	require.NoError(t, err)
	return s
}

func TestScenarioAdjustmentsBounds(t *testing.T) {
	s := newScenario(t, testCatalog(t))
	require.NoError(t, s.UpdateAdjustments([]domain.SquadAdjustment{
		{SquadID: "SQ-1", DeltaPercent: -100},
		{SquadID: "SQ-2", DeltaPercent: 25},
		{SquadID: "SQ-1", DeltaPercent: -20},
	}, fixedNow))
	assert.Equal(t, []domain.SquadAdjustment{
		{SquadID: "SQ-1", DeltaPercent: -20},
		{SquadID: "SQ-2", DeltaPercent: 25},
	}, s.Record().Adjustments)

	for _, delta := range []float64{100.01, -101, 250} {
		err := s.UpdateAdjustments([]domain.SquadAdjustment{
			{SquadID: "SQ-3", DeltaPercent: 10},
			{SquadID: "SQ-4", DeltaPercent: delta},
		}, fixedNow)
		assert.ErrorIs(t, err, domain.ErrAdjustmentOutOfRange)
	}
	assert.Len(t, s.Record().Adjustments, 2)
	assert.Equal(t, -20.0, s.Adjustment("SQ-1"))
	assert.Equal(t, 0.0, s.Adjustment("SQ-9"))
}

func TestScenarioParameters(t *testing.T) {
	s := newScenario(t, testCatalog(t))
	assert.True(t, s.Record().IncludeContractors)

	require.NoError(t, s.UpdateParameters(domain.ScenarioParameters{
		IncludeContractors: ptr(false), RiskBufferPercent: ptr(15.0),
	}, fixedNow))
	rec := s.Record()
	assert.False(t, rec.IncludeContractors)
	assert.False(t, rec.ConsiderVacations)
	assert.Equal(t, 15.0, rec.RiskBufferPercent)

	err := s.UpdateParameters(domain.ScenarioParameters{ConsiderVacations: ptr(true), RiskBufferPercent: ptr(120.0)}, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidBuffer)
	assert.False(t, s.Record().ConsiderVacations)
}

func TestScenarioTransitions(t *testing.T) {
	reg := testCatalog(t)
	s := newScenario(t, reg)

	err := s.Archive(reg, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, s.Publish(reg, fixedNow))
	assert.Equal(t, "published", s.Status().Slug())

	err = s.SetStatus(value(t, reg, catalog.ScenarioStatus, "draft"), fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, "published", s.Status().Slug())

	require.NoError(t, s.Archive(reg, fixedNow))
	assert.True(t, s.Status().IsClosed())
}

func TestArchivedScenarioIsTerminal(t *testing.T) {
	reg := testCatalog(t)
	s := newScenario(t, reg)
	require.NoError(t, s.Publish(reg, fixedNow))
	require.NoError(t, s.Archive(reg, fixedNow))

	assert.ErrorIs(t, s.UpdateAdjustments([]domain.SquadAdjustment{{SquadID: "SQ-1", DeltaPercent: 5}}, fixedNow), domain.ErrAlreadyTerminal)
	assert.ErrorIs(t, s.UpdateParameters(domain.ScenarioParameters{ConsiderVacations: ptr(true)}, fixedNow), domain.ErrAlreadyTerminal)
	assert.ErrorIs(t, s.RecordResult(domain.ScenarioResult{}, fixedNow), domain.ErrAlreadyTerminal)
}

func TestScenarioRecordResult(t *testing.T) {
	s := newScenario(t, testCatalog(t))
	require.NoError(t, s.RecordResult(domain.ScenarioResult{
		Fitting:     []string{"ep-1"},
		Overflowing: []string{"ep-2"},
		Comments:    []string{"1 épico excede a capacidade."},
	}, fixedNow))
	rec := s.Record()
	require.NotNil(t, rec.Result)
	assert.Equal(t, []string{"ep-1"}, rec.Result.Fitting)
	assert.Equal(t, []string{"ep-2"}, rec.Result.Overflowing)

	rec.Result.Fitting[0] = "mutated"
	assert.Equal(t, "ep-1", s.Record().Result.Fitting[0])
}
