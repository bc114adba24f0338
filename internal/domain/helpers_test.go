package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quarterplan/internal/domain/catalog"
)

const tenant = "acme"

var fixedNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Registry {
	t.Helper()
	c, err := catalog.New(catalog.Definition{
		catalog.SquadStatus: {
			{Slug: "active", Label: "Ativa", Initial: true},
			{Slug: "inactive", Label: "Inativa", Closed: true},
		},
		catalog.EpicStatus: {
			{Slug: "backlog", Initial: true},
			{Slug: "in_progress"},
			{Slug: "done", Closed: true},
		},
		catalog.EpicHealth: {
			{Slug: "green", Label: "Verde", Legacy: "GREEN"},
			{Slug: "yellow"},
			{Slug: "red"},
		},
		catalog.FeatureStatus: {
			{Slug: "draft", Initial: true},
			{Slug: "done", Closed: true},
		},
		catalog.PlanningCycleStatus: {
			{Slug: "not_started", Initial: true},
			{Slug: "in_progress"},
			{Slug: "closed", Closed: true},
		},
		catalog.ScenarioStatus: {
			{Slug: "draft", Initial: true, Transitions: []string{"published"}},
			{Slug: "published", Transitions: []string{"archived"}},
			{Slug: "archived", Closed: true},
		},
		catalog.DependencyType: {{Slug: "hard", Legacy: "HARD"}, {Slug: "soft"}, {Slug: "resource"}},
		catalog.DependencyRisk: {{Slug: "high", Legacy: "HIGH"}, {Slug: "medium"}, {Slug: "low"}},
		catalog.CommitmentTier: {
			{Slug: "committed", Label: "Committed"},
			{Slug: "targeted", Label: "Targeted"},
			{Slug: "aspirational", Label: "Aspirational"},
		},
	})
	require.NoError(t, err)
	return catalog.NewRegistry(c)
}

func value(t *testing.T, r *catalog.Registry, category catalog.Category, slug string) catalog.Value {
	t.Helper()
	v, err := r.Lookup(tenant, category, slug)
	require.NoError(t, err)
	return v
}

func ptr[T any](v T) *T { return &v }
