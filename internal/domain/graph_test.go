package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
)

func TestEpicLifecycle(t *testing.T) {
	reg := testCatalog(t)
	e, err := domain.NewEpic(domain.NewEpicParams{
		ID: "ep-1", TenantID: tenant, Title: "Checkout v2", Quarter: "Q3-2024",
		Status: value(t, reg, catalog.EpicStatus, "backlog"),
		Health: value(t, reg, catalog.EpicHealth, "GREEN"),
		Now:    fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "green", e.Record().Health.Slug())

	require.NoError(t, e.UpdateStatus(value(t, reg, catalog.EpicStatus, "done"), fixedNow))
	require.NoError(t, e.UpdateStatus(value(t, reg, catalog.EpicStatus, "backlog"), fixedNow))
	assert.ErrorIs(t, e.UpdateHealth(value(t, reg, catalog.EpicStatus, "done"), fixedNow), domain.ErrInvalidInput)

	e.UpdateProgress(130, fixedNow)
	assert.Equal(t, 130.0, e.Record().ProgressPercent)

	e.AssignSquad("SQ-1", fixedNow)
	assert.Equal(t, "SQ-1", e.Record().SquadID)
	e.AssignSquad("", fixedNow)
	assert.Empty(t, e.Record().SquadID)

	assert.ErrorIs(t, e.UpdateDetails(ptr(" "), ptr("desc"), fixedNow), domain.ErrInvalidInput)
	assert.Empty(t, e.Record().Description)
}

func TestNewEpicRejectsBadQuarter(t *testing.T) {
	reg := testCatalog(t)
	_, err := domain.NewEpic(domain.NewEpicParams{
		ID: "ep-1", TenantID: tenant, Title: "X", Quarter: "Q9-2024",
		Status: value(t, reg, catalog.EpicStatus, "backlog"),
		Health: value(t, reg, catalog.EpicHealth, "green"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuarter)
}

func newFeature(t *testing.T, reg *catalog.Registry, id string, deps ...string) *domain.Feature {
	t.Helper()
	f, err := domain.NewFeature(domain.NewFeatureParams{
		ID: id, TenantID: tenant, EpicID: "ep-1", Title: "Feature " + id, Estimate: 5,
		Status: value(t, reg, catalog.FeatureStatus, "draft"), DependsOn: deps, Now: fixedNow,
	})
	require.NoError(t, err)
	return f
}

func TestFeatureDependenciesAreDeduplicated(t *testing.T) {
	reg := testCatalog(t)
	f := newFeature(t, reg, "F-1", "F-3", "F-2", "F-3", " ")
	assert.Equal(t, []string{"F-3", "F-2"}, f.Record().DependsOn)

	assert.ErrorIs(t, f.SetDependencies([]string{"F-2", "F-1"}, fixedNow), domain.ErrSelfDependency)
	assert.Equal(t, []string{"F-3", "F-2"}, f.Record().DependsOn)

	require.NoError(t, f.SetDependencies(nil, fixedNow))
	assert.Equal(t, []string{}, f.Record().DependsOn)
}

func TestFeatureRequiresEpic(t *testing.T) {
	reg := testCatalog(t)
	_, err := domain.NewFeature(domain.NewFeatureParams{
		ID: "F-1", TenantID: tenant, Title: "orphan",
		Status: value(t, reg, catalog.FeatureStatus, "draft"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFeatureUpdateDetailsKeepsStatus(t *testing.T) {
	reg := testCatalog(t)
	f := newFeature(t, reg, "F-1")
	require.NoError(t, f.UpdateStatus(value(t, reg, catalog.FeatureStatus, "done"), fixedNow))

	require.NoError(t, f.UpdateDetails(domain.FeatureDetails{Estimate: ptr(8.0), RiskNotes: ptr("vendor API")}, fixedNow))
	rec := f.Record()
	assert.Equal(t, 8.0, rec.Estimate)
	assert.Equal(t, "vendor API", rec.RiskNotes)
	assert.Equal(t, "done", rec.Status.Slug())

	assert.ErrorIs(t, f.UpdateDetails(domain.FeatureDetails{Estimate: ptr(-1.0), Title: ptr("new")}, fixedNow), domain.ErrInvalidEstimate)
	assert.Equal(t, "Feature F-1", f.Record().Title)
}

func TestFeatureMarkReviewed(t *testing.T) {
	reg := testCatalog(t)
	f := newFeature(t, reg, "F-1")
	assert.ErrorIs(t, f.MarkReviewed("", fixedNow), domain.ErrInvalidInput)
	require.NoError(t, f.MarkReviewed("pm-1", fixedNow))
	rec := f.Record()
	assert.Equal(t, "pm-1", rec.ReviewerID)
	require.NotNil(t, rec.ReviewedAt)
	assert.Equal(t, "2024-07-01T12:00:00Z", *rec.ReviewedAt)
}

func TestDependencySelfLoopAlwaysFails(t *testing.T) {
	reg := testCatalog(t)
	for _, typ := range []string{"hard", "soft", "resource"} {
		for _, risk := range []string{"high", "medium", "low"} {
			_, err := domain.NewDependency(domain.NewDependencyParams{
				ID: "d-1", TenantID: tenant, BlockedFeatureID: "F-1", BlockingFeatureID: "F-1",
				Type: value(t, reg, catalog.DependencyType, typ),
				Risk: value(t, reg, catalog.DependencyRisk, risk),
			})
			assert.ErrorIs(t, err, domain.ErrSelfDependency, "%s/%s", typ, risk)
		}
	}
}

func TestDependencyMutators(t *testing.T) {
	reg := testCatalog(t)
	d, err := domain.NewDependency(domain.NewDependencyParams{
		ID: "d-1", TenantID: tenant, BlockedFeatureID: "F-1", BlockingFeatureID: "F-2",
		Type: value(t, reg, catalog.DependencyType, "HARD"),
		Risk: value(t, reg, catalog.DependencyRisk, "HIGH"),
		Now:  fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "hard", d.Record().Type.Slug())

	require.NoError(t, d.UpdateRisk(value(t, reg, catalog.DependencyRisk, "low"), fixedNow))
	require.NoError(t, d.UpdateType(value(t, reg, catalog.DependencyType, "soft"), fixedNow))
	assert.ErrorIs(t, d.UpdateRisk(value(t, reg, catalog.DependencyType, "soft"), fixedNow), domain.ErrInvalidInput)

	require.NoError(t, d.AddNote("first", fixedNow))
	require.NoError(t, d.AddNote("second", fixedNow))
	assert.Equal(t, "first\nsecond", d.Record().Note)
	assert.ErrorIs(t, d.AddNote("  ", fixedNow), domain.ErrInvalidInput)
}

func TestDependencyGraphCycles(t *testing.T) {
	g := domain.NewDependencyGraph()
	g.Add("A", "B")
	g.Add("B", "C")

	path, ok := g.WouldCycle("C", "A")
	require.True(t, ok)
	assert.Equal(t, []string{"C", "A", "B", "C"}, path)

	_, ok = g.WouldCycle("A", "C")
	assert.False(t, ok)

	err := g.ValidateEdge("C", "A", true)
	assert.ErrorIs(t, err, domain.ErrDependencyCycle)
	assert.Contains(t, err.Error(), "C -> A -> B -> C")

	assert.NoError(t, g.ValidateEdge("C", "A", false))
	assert.ErrorIs(t, g.ValidateEdge("A", "A", false), domain.ErrSelfDependency)
}

func TestBuildDependencyGraphMergesFeatureLists(t *testing.T) {
	reg := testCatalog(t)
	f2 := newFeature(t, reg, "F-2", "F-3")
	g := domain.BuildDependencyGraph(
		[]domain.DependencyRecord{{BlockedFeatureID: "F-1", BlockingFeatureID: "F-2"}},
		[]domain.FeatureRecord{f2.Record()},
	)
	assert.Equal(t, []string{"F-2"}, g.BlockedBy("F-1"))
	_, ok := g.WouldCycle("F-3", "F-1")
	assert.True(t, ok)
}
