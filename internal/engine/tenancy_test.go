package engine_test

import (
	"errors"
	"testing"

	"quarterplan/internal/domain"
	"quarterplan/internal/engine"
	"quarterplan/internal/engine/auth"
	"quarterplan/internal/repo"
)

// seedPlan creates one aggregate of each kind in tenantID with fixed ids.
func seedPlan(t *testing.T, env testEnv, tenantID, actor, label string, estimate float64) {
	t.Helper()
	e, ctx := env.Engine, env.Ctx
	if _, err := e.CreateSquad(ctx, engine.SquadCreateOptions{ID: "SQ-1", TenantID: tenantID, Name: label + " team", Slug: label + "-team", ActorID: actor}); err != nil {
		t.Fatalf("%s squad: %v", tenantID, err)
	}
	if _, err := e.CreateEpic(ctx, engine.EpicCreateOptions{ID: "E-1", TenantID: tenantID, SquadID: "SQ-1", ProductID: "P-1", Title: label + " epic", Quarter: "Q3-2024", ActorID: actor}); err != nil {
		t.Fatalf("%s epic: %v", tenantID, err)
	}
	for _, id := range []string{"F-1", "F-2"} {
		title := label + " " + id
		if _, created, err := e.UpsertFeature(ctx, engine.FeatureUpsertOptions{
			ID: id, TenantID: tenantID, EpicID: "E-1",
			Details: domain.FeatureDetails{Title: &title, Estimate: &estimate},
			ActorID: actor,
		}); err != nil || !created {
			t.Fatalf("%s feature %s: created=%v err=%v", tenantID, id, created, err)
		}
	}
	if _, err := e.CreateDependency(ctx, engine.DependencyCreateOptions{ID: "D-1", TenantID: tenantID, BlockedFeatureID: "F-2", BlockingFeatureID: "F-1", Note: label, ActorID: actor}); err != nil {
		t.Fatalf("%s dependency: %v", tenantID, err)
	}
	if _, err := e.CreatePlanningCycle(ctx, engine.CycleCreateOptions{ID: "CY-1", TenantID: tenantID, ProductID: "P-1", Quarter: "Q3-2024", ActorID: actor}); err != nil {
		t.Fatalf("%s cycle: %v", tenantID, err)
	}
	if _, err := e.CreateScenario(ctx, engine.ScenarioCreateOptions{ID: "SC-1", TenantID: tenantID, Name: label + " scenario", PlanningCycleID: "CY-1", Quarter: "Q3-2024", ActorID: actor}); err != nil {
		t.Fatalf("%s scenario: %v", tenantID, err)
	}
}

func assertPlan(t *testing.T, env testEnv, tenantID, label string, estimate float64) {
	t.Helper()
	e, ctx := env.Engine, env.Ctx
	sq, err := e.GetSquad(ctx, tenantID, "SQ-1")
	if err != nil || sq.TenantID != tenantID || sq.Name != label+" team" {
		t.Fatalf("%s squad = %+v, %v", tenantID, sq, err)
	}
	ep, err := e.GetEpic(ctx, tenantID, "E-1")
	if err != nil || ep.TenantID != tenantID || ep.Title != label+" epic" {
		t.Fatalf("%s epic = %+v, %v", tenantID, ep, err)
	}
	f, err := e.GetFeature(ctx, tenantID, "F-1")
	if err != nil || f.TenantID != tenantID || f.Title != label+" F-1" || f.Estimate != estimate || f.EpicID != "E-1" {
		t.Fatalf("%s feature = %+v, %v", tenantID, f, err)
	}
	d, err := e.GetDependency(ctx, tenantID, "D-1")
	if err != nil || d.TenantID != tenantID || d.Note != label {
		t.Fatalf("%s dependency = %+v, %v", tenantID, d, err)
	}
	cy, err := e.GetPlanningCycle(ctx, tenantID, "CY-1")
	if err != nil || cy.TenantID != tenantID {
		t.Fatalf("%s cycle = %+v, %v", tenantID, cy, err)
	}
	sc, err := e.GetScenario(ctx, tenantID, "SC-1")
	if err != nil || sc.TenantID != tenantID || sc.Name != label+" scenario" {
		t.Fatalf("%s scenario = %+v, %v", tenantID, sc, err)
	}
	features, err := e.ListFeatures(ctx, repo.FeatureFilters{TenantID: tenantID})
	if err != nil || len(features) != 2 {
		t.Fatalf("%s features = %d, %v", tenantID, len(features), err)
	}
}

func TestSameIDsInTwoTenantsStayIndependent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitTenant(env.Ctx, engine.TenantInitOptions{ID: "beta", OwnerID: "bob", ActorID: "bob"}); err != nil {
		t.Fatalf("init beta: %v", err)
	}
	seedPlan(t, env, tenant, "alice", "acme", 5)
	seedPlan(t, env, "beta", "bob", "beta", 99)

	assertPlan(t, env, tenant, "acme", 5)
	assertPlan(t, env, "beta", "beta", 99)

	// A second write in beta touches only beta's row.
	title := "beta rewrite"
	if _, created, err := env.Engine.UpsertFeature(env.Ctx, engine.FeatureUpsertOptions{
		ID: "F-1", TenantID: "beta", Details: domain.FeatureDetails{Title: &title}, ActorID: "bob",
	}); err != nil || created {
		t.Fatalf("beta update: created=%v err=%v", created, err)
	}
	assertPlan(t, env, tenant, "acme", 5)

	// Reusing an id inside the same tenant still conflicts.
	if _, err := env.Engine.CreateSquad(env.Ctx, engine.SquadCreateOptions{ID: "SQ-1", TenantID: "beta", Name: "Other", Slug: "other", ActorID: "bob"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFeatureCannotReferenceAnotherTenantsEpic(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitTenant(env.Ctx, engine.TenantInitOptions{ID: "beta", OwnerID: "bob", ActorID: "bob"}); err != nil {
		t.Fatalf("init beta: %v", err)
	}
	env.squad(t, "SQ-1")
	env.epic(t, "E-1", "SQ-1")
	title := "cross"
	_, _, err := env.Engine.UpsertFeature(env.Ctx, engine.FeatureUpsertOptions{
		ID: "F-9", TenantID: "beta", EpicID: "E-1", Details: domain.FeatureDetails{Title: &title}, ActorID: "bob",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeysAreScopedToTheirTenant(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	key, plain, err := e.CreateAPIKey(ctx, tenant, "alice", " ci ")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if key.TenantID != tenant || key.Name != "ci" || plain == "" {
		t.Fatalf("unexpected key %+v", key)
	}
	stored, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil || stored.ID != key.ID || stored.TenantID != tenant {
		t.Fatalf("lookup = %+v, %v", stored, err)
	}
	if _, _, err := e.CreateAPIKey(ctx, "missing", "alice", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown tenant, got %v", err)
	}

	if err := e.RevokeAPIKey(ctx, tenant, key.ID, "mallory"); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if err := e.RevokeAPIKey(ctx, tenant, key.ID, "alice"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	keys, err := e.ListAPIKeys(ctx, tenant, "alice")
	if err != nil || len(keys) != 0 {
		t.Fatalf("keys after revoke = %v, %v", keys, err)
	}
	if err := e.RevokeAPIKey(ctx, tenant, key.ID, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second revoke, got %v", err)
	}
}

func TestDeleteTenantCascades(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitTenant(env.Ctx, engine.TenantInitOptions{ID: "beta", OwnerID: "bob", ActorID: "bob"}); err != nil {
		t.Fatalf("init beta: %v", err)
	}
	seedPlan(t, env, tenant, "alice", "acme", 5)
	seedPlan(t, env, "beta", "bob", "beta", 99)
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, "beta", "bob", "ci"); err != nil {
		t.Fatalf("create key: %v", err)
	}

	if err := env.Engine.DeleteTenant(env.Ctx, "beta", "bob"); err != nil {
		t.Fatalf("delete tenant: %v", err)
	}
	if _, err := env.Engine.GetTenant(env.Ctx, "beta"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected tenant gone, got %v", err)
	}
	if _, err := env.Engine.GetFeature(env.Ctx, "beta", "F-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected feature gone, got %v", err)
	}
	if keys, err := env.Engine.ListAPIKeys(env.Ctx, "beta", ""); err != nil || len(keys) != 0 {
		t.Fatalf("keys after delete = %v, %v", keys, err)
	}
	assertPlan(t, env, tenant, "acme", 5)

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{TenantID: "beta", Type: "tenant.delete"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("tenant.delete events = %v, %v", evts, err)
	}
	if err := env.Engine.DeleteTenant(env.Ctx, "beta", "bob"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListFiltersNormalizeQuarter(t *testing.T) {
	env := newTestEnv(t)
	seedPlan(t, env, tenant, "alice", "acme", 5)
	if _, err := env.Engine.SaveCommitment(env.Ctx, engine.CommitmentSaveOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024", Committed: []string{"E-1"}, ActorID: "alice"}); err != nil {
		t.Fatalf("save commitment: %v", err)
	}
	for _, q := range []string{"q3-2024", " Q3-2024 "} {
		scenarios, err := env.Engine.ListScenarios(env.Ctx, tenant, q, "")
		if err != nil || len(scenarios) != 1 {
			t.Fatalf("scenarios for %q = %d, %v", q, len(scenarios), err)
		}
		commitments, err := env.Engine.ListCommitments(env.Ctx, tenant, q)
		if err != nil || len(commitments) != 1 {
			t.Fatalf("commitments for %q = %d, %v", q, len(commitments), err)
		}
		features, err := env.Engine.ListFeatures(env.Ctx, repo.FeatureFilters{TenantID: tenant, Quarter: q})
		if err != nil || len(features) != 2 {
			t.Fatalf("features for %q = %d, %v", q, len(features), err)
		}
	}
	if _, err := env.Engine.ListScenarios(env.Ctx, tenant, "2024-Q3", ""); !errors.Is(err, domain.ErrInvalidQuarter) {
		t.Fatalf("expected ErrInvalidQuarter, got %v", err)
	}
}
