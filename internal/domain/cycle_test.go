package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
)

func newCycle(t *testing.T, reg *catalog.Registry) *domain.PlanningCycle {
	t.Helper()
	initial, err := reg.Initial(tenant, catalog.PlanningCycleStatus)
	require.NoError(t, err)
	c, err := domain.NewPlanningCycle(domain.NewPlanningCycleParams{
		ID: "cy-1", TenantID: tenant, Quarter: "Q3-2024", Status: initial, Now: fixedNow,
	})
	require.NoError(t, err)
	return c
}

func TestPlanningCycleStartsAtPhaseOne(t *testing.T) {
	c := newCycle(t, testCatalog(t))
	rec := c.Record()
	assert.Equal(t, 1, rec.Phase)
	assert.Equal(t, "not_started", rec.Status.Slug())
	assert.Nil(t, rec.StartedAt)
	assert.Nil(t, rec.FinishedAt)
}

func TestPlanningCycleStartedAtIsSetOnce(t *testing.T) {
	reg := testCatalog(t)
	c := newCycle(t, reg)
	inProgress := value(t, reg, catalog.PlanningCycleStatus, "in_progress")
	closed := value(t, reg, catalog.PlanningCycleStatus, "closed")

	require.NoError(t, c.UpdateStatus(inProgress, nil, fixedNow))
	first := *c.Record().StartedAt
	assert.Nil(t, c.Record().FinishedAt)

	later := fixedNow.Add(48 * time.Hour)
	require.NoError(t, c.UpdateStatus(inProgress, ptr(2), later))
	assert.Equal(t, first, *c.Record().StartedAt)
	assert.Equal(t, 2, c.Record().Phase)

	require.NoError(t, c.UpdateStatus(closed, nil, later))
	rec := c.Record()
	assert.Equal(t, first, *rec.StartedAt)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, "2024-07-03T12:00:00Z", *rec.FinishedAt)
	assert.Equal(t, 2, rec.Phase)
	assert.True(t, c.IsClosed())

	// Reopening keeps StartedAt and clears FinishedAt.
	require.NoError(t, c.UpdateStatus(inProgress, nil, later))
	assert.False(t, c.IsClosed())
	assert.Equal(t, first, *c.Record().StartedAt)
	assert.Nil(t, c.Record().FinishedAt)
}

func TestPlanningCycleInitialStatusDoesNotStart(t *testing.T) {
	reg := testCatalog(t)
	c := newCycle(t, reg)
	require.NoError(t, c.UpdateStatus(value(t, reg, catalog.PlanningCycleStatus, "not_started"), ptr(3), fixedNow))
	assert.Nil(t, c.Record().StartedAt)
	assert.Equal(t, 3, c.Record().Phase)
}

func TestPlanningCycleRejectsBadPhase(t *testing.T) {
	reg := testCatalog(t)
	c := newCycle(t, reg)
	err := c.UpdateStatus(value(t, reg, catalog.PlanningCycleStatus, "in_progress"), ptr(0), fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)
	assert.Equal(t, "not_started", c.Record().Status.Slug())
	assert.Nil(t, c.Record().StartedAt)
}

func TestPlanningCycleChecklist(t *testing.T) {
	c := newCycle(t, testCatalog(t))
	require.NoError(t, c.UpdateChecklist([]domain.ChecklistItem{
		{Key: "okrs", Label: "OKRs revisados", Done: true, Owner: "pm"},
		{Key: "capacity", Label: "Capacidade coletada"},
	}, fixedNow))
	done, total := c.ChecklistProgress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 2, total)

	err := c.UpdateChecklist([]domain.ChecklistItem{{Key: "a", Label: "A"}, {Key: "a", Label: "B"}}, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	err = c.UpdateChecklist([]domain.ChecklistItem{{Key: "a"}}, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, total = c.ChecklistProgress()
	assert.Equal(t, 2, total)
}

func TestPlanningCycleParticipants(t *testing.T) {
	c := newCycle(t, testCatalog(t))
	require.NoError(t, c.RecordParticipants(4, 6, fixedNow))
	assert.ErrorIs(t, c.RecordParticipants(7, 6, fixedNow), domain.ErrInvalidParticipants)
	assert.ErrorIs(t, c.RecordParticipants(-1, 6, fixedNow), domain.ErrInvalidParticipants)
	rec := c.Record()
	assert.Equal(t, 4, rec.ConfirmedParticipants)
	assert.Equal(t, 6, rec.TotalParticipants)
}

func TestPlanningCycleSetters(t *testing.T) {
	c := newCycle(t, testCatalog(t))
	c.UpdateAgenda(" https://wiki/agenda ", fixedNow)
	c.UpdatePreparationData(map[string]any{"okrs": []any{"grow"}}, fixedNow)
	rec := c.Record()
	assert.Equal(t, "https://wiki/agenda", rec.AgendaURL)
	assert.Equal(t, []any{"grow"}, rec.PreparationData["okrs"])
}
