package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quarterplan/internal/config"
	"quarterplan/internal/db"
	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/engine"
	"quarterplan/internal/migrate"
	"quarterplan/internal/repo"
)

const tenant = "acme"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, config.Default(tenant))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitTenant(ctx, engine.TenantInitOptions{ID: tenant, Name: "Acme", OwnerID: "alice", ActorID: "alice"}); err != nil {
		t.Fatalf("init tenant: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) squad(t *testing.T, id string) {
	t.Helper()
	if _, err := env.Engine.CreateSquad(env.Ctx, engine.SquadCreateOptions{ID: id, TenantID: tenant, Name: id, Slug: id, ActorID: "alice"}); err != nil {
		t.Fatalf("create squad %s: %v", id, err)
	}
}

func (env testEnv) epic(t *testing.T, id, squadID string) {
	t.Helper()
	if _, err := env.Engine.CreateEpic(env.Ctx, engine.EpicCreateOptions{ID: id, TenantID: tenant, SquadID: squadID, ProductID: "P-1", Title: id, Quarter: "Q3-2024", ActorID: "alice"}); err != nil {
		t.Fatalf("create epic %s: %v", id, err)
	}
}

func (env testEnv) feature(t *testing.T, id, epicID string, estimate float64) {
	t.Helper()
	title := id
	if _, _, err := env.Engine.UpsertFeature(env.Ctx, engine.FeatureUpsertOptions{
		ID: id, TenantID: tenant, EpicID: epicID,
		Details: domain.FeatureDetails{Title: &title, Estimate: &estimate},
		ActorID: "alice",
	}); err != nil {
		t.Fatalf("upsert feature %s: %v", id, err)
	}
}

func TestOverloadedSquadRaisesAlert(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	if _, err := env.Engine.ReportCapacity(env.Ctx, engine.CapacityReportOptions{TenantID: tenant, SquadID: "SQ-1", Quarter: "Q3-2024", Total: 100, Used: 115, ActorID: "alice"}); err != nil {
		t.Fatalf("report capacity: %v", err)
	}
	alerts, err := env.Engine.CapacityAlerts(env.Ctx, tenant, "Q3-2024")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %+v", alerts)
	}
	if alerts[0].Message != "Squad SQ-1 acima de 110% (115.0%)" {
		t.Fatalf("unexpected message %q", alerts[0].Message)
	}
}

func TestCapacityReportUpsertsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	for _, used := range []float64{40, 80} {
		if _, err := env.Engine.ReportCapacity(env.Ctx, engine.CapacityReportOptions{TenantID: tenant, SquadID: "SQ-1", Quarter: "Q3-2024", Total: 100, Used: used}); err != nil {
			t.Fatalf("report %v: %v", used, err)
		}
	}
	snaps, err := env.Engine.ListCapacity(env.Ctx, tenant, "Q3-2024")
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].UsedCapacity != 80 {
		t.Fatalf("expected a single updated snapshot, got %+v", snaps)
	}
	if _, err := env.Engine.ReportCapacity(env.Ctx, engine.CapacityReportOptions{TenantID: tenant, SquadID: "SQ-1", Quarter: "Q3-2024", Total: -1}); !errors.Is(err, domain.ErrInvalidCapacity) {
		t.Fatalf("expected invalid capacity, got %v", err)
	}
}

func TestDependencyRules(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	env.epic(t, "E-1", "SQ-1")
	env.feature(t, "F-1", "E-1", 3)
	env.feature(t, "F-2", "E-1", 5)

	_, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{TenantID: tenant, BlockedFeatureID: "F-1", BlockingFeatureID: "F-1"})
	if !errors.Is(err, domain.ErrSelfDependency) {
		t.Fatalf("expected self dependency error, got %v", err)
	}
	dep, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{TenantID: tenant, BlockedFeatureID: "F-1", BlockingFeatureID: "F-2", Type: "hard", Risk: "high", ActorID: "alice"})
	if err != nil {
		t.Fatalf("create dependency: %v", err)
	}
	if dep.Type.Slug() != "hard" || dep.Risk.Slug() != "high" {
		t.Fatalf("unexpected dependency %+v", dep)
	}
	deps, err := env.Engine.ListDependenciesByFeature(env.Ctx, tenant, "F-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].ID != dep.ID {
		t.Fatalf("expected dependency listed for F-1, got %+v", deps)
	}
	_, err = env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{TenantID: tenant, BlockedFeatureID: "F-1", BlockingFeatureID: "F-404"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	env.epic(t, "E-1", "SQ-1")
	for _, id := range []string{"A", "B", "C"} {
		env.feature(t, id, "E-1", 1)
	}
	for _, edge := range [][2]string{{"A", "B"}, {"B", "C"}} {
		if _, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{TenantID: tenant, BlockedFeatureID: edge[0], BlockingFeatureID: edge[1]}); err != nil {
			t.Fatalf("edge %v: %v", edge, err)
		}
	}
	_, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{TenantID: tenant, BlockedFeatureID: "C", BlockingFeatureID: "A"})
	if !errors.Is(err, domain.ErrDependencyCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestEpicProgressBounds(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	env.epic(t, "E-1", "SQ-1")
	if _, err := env.Engine.UpdateEpicProgress(env.Ctx, tenant, "E-1", 120, "alice"); !errors.Is(err, domain.ErrInvalidProgress) {
		t.Fatalf("expected invalid progress, got %v", err)
	}
	ep, err := env.Engine.UpdateEpicProgress(env.Ctx, tenant, "E-1", 45, "alice")
	if err != nil || ep.ProgressPercent != 45 {
		t.Fatalf("progress: %+v %v", ep, err)
	}
	if _, err := env.Engine.UpdateEpicStatus(env.Ctx, tenant, "E-1", "nonsense", "alice"); !errors.Is(err, catalog.ErrUnknownValue) {
		t.Fatalf("expected unknown value, got %v", err)
	}
}

func TestSingleActiveCyclePerQuarter(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreatePlanningCycle(env.Ctx, engine.CycleCreateOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024", ActorID: "alice"})
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	_, err = env.Engine.CreatePlanningCycle(env.Ctx, engine.CycleCreateOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := env.Engine.UpdateCycleStatus(env.Ctx, tenant, first.ID, "closed", nil, "alice"); err != nil {
		t.Fatalf("close cycle: %v", err)
	}
	if _, err := env.Engine.CreatePlanningCycle(env.Ctx, engine.CycleCreateOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024"}); err != nil {
		t.Fatalf("new cycle after close: %v", err)
	}
	if _, err := env.Engine.RecordCycleParticipants(env.Ctx, tenant, first.ID, 5, 3, "alice"); !errors.Is(err, domain.ErrInvalidParticipants) {
		t.Fatalf("expected invalid participants, got %v", err)
	}
}

func TestCommitmentTiersAreExclusive(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	env.epic(t, "E-1", "SQ-1")
	env.epic(t, "E-2", "SQ-1")
	_, err := env.Engine.SaveCommitment(env.Ctx, engine.CommitmentSaveOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024", Committed: []string{"E-1"}, Targeted: []string{"E-1"}})
	if !errors.Is(err, domain.ErrTierConflict) {
		t.Fatalf("expected tier conflict, got %v", err)
	}
	view, err := env.Engine.SaveCommitment(env.Ctx, engine.CommitmentSaveOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024", Committed: []string{"E-1"}, Aspirational: []string{"E-2"}})
	if err != nil {
		t.Fatalf("save commitment: %v", err)
	}
	if _, err := env.Engine.SaveCommitment(env.Ctx, engine.CommitmentSaveOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024", Committed: []string{"E-2"}}); err != nil {
		t.Fatalf("resave commitment: %v", err)
	}
	list, err := env.Engine.ListCommitments(env.Ctx, tenant, "Q3-2024")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != view.ID {
		t.Fatalf("expected one commitment per product and quarter, got %+v", list)
	}
}

func TestScenarioSimulationHonoursTiers(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	env.epic(t, "E-1", "SQ-1")
	env.epic(t, "E-2", "SQ-1")
	env.feature(t, "F-1", "E-1", 60)
	env.feature(t, "F-2", "E-2", 60)
	if _, err := env.Engine.ReportCapacity(env.Ctx, engine.CapacityReportOptions{TenantID: tenant, SquadID: "SQ-1", Quarter: "Q3-2024", Total: 100, Used: 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveCommitment(env.Ctx, engine.CommitmentSaveOptions{TenantID: tenant, ProductID: "P-1", Quarter: "Q3-2024", Committed: []string{"E-2"}, Targeted: []string{"E-1"}}); err != nil {
		t.Fatal(err)
	}
	sc, err := env.Engine.CreateScenario(env.Ctx, engine.ScenarioCreateOptions{TenantID: tenant, Name: "Base", Quarter: "Q3-2024", ActorID: "alice"})
	if err != nil {
		t.Fatalf("create scenario: %v", err)
	}
	if sc.Status.Slug() != "draft" {
		t.Fatalf("expected draft, got %s", sc.Status.Slug())
	}
	rec, sim, err := env.Engine.SimulateScenario(env.Ctx, tenant, sc.ID, "alice")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(sim.Result.Fitting) != 1 || sim.Result.Fitting[0] != "E-2" {
		t.Fatalf("committed epic should fit first, got %+v", sim.Result)
	}
	if len(sim.Result.Overflowing) != 1 || sim.Result.Overflowing[0] != "E-1" {
		t.Fatalf("targeted epic should overflow, got %+v", sim.Result)
	}
	if rec.Result == nil || len(rec.Result.Comments) == 0 {
		t.Fatalf("expected stored result with comments, got %+v", rec.Result)
	}

	grow := []domain.SquadAdjustment{{SquadID: "SQ-1", DeltaPercent: 20}}
	if _, err := env.Engine.UpdateScenarioAdjustments(env.Ctx, tenant, sc.ID, grow, "alice"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	_, sim, err = env.Engine.SimulateScenario(env.Ctx, tenant, sc.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(sim.Result.Overflowing) != 0 {
		t.Fatalf("expected everything to fit with +20%%, got %+v", sim.Result)
	}

	if _, err := env.Engine.PublishScenario(env.Ctx, tenant, sc.ID, "alice"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := env.Engine.ArchiveScenario(env.Ctx, tenant, sc.ID, "alice"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := env.Engine.UpdateScenarioAdjustments(env.Ctx, tenant, sc.ID, nil, "alice"); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected archived scenario to be frozen, got %v", err)
	}
}

func TestPlanningReport(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	env.epic(t, "E-1", "SQ-1")
	if _, err := env.Engine.ReportCapacity(env.Ctx, engine.CapacityReportOptions{TenantID: tenant, SquadID: "SQ-1", Quarter: "Q3-2024", Total: 100, Used: 115}); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.PlanningReport(env.Ctx, tenant, "q3-2024")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Quarter != "Q3-2024" || len(report.Capacity) != 1 || len(report.Alerts) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := env.Engine.PlanningReport(env.Ctx, tenant, "2024-Q3"); !errors.Is(err, domain.ErrInvalidQuarter) {
		t.Fatalf("expected invalid quarter, got %v", err)
	}
}

func TestEventsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.squad(t, "SQ-1")
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{TenantID: tenant, EntityKind: "squad"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "squad.create" || evts[0].ActorID != "alice" {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestRoleGrantsPermissions(t *testing.T) {
	env := newTestEnv(t)
	ok, err := env.Engine.Auth.ActorHasPermission(env.Ctx, nil, tenant, "bob", "squad.write")
	if err != nil || ok {
		t.Fatalf("bob should have no access yet: %v %v", ok, err)
	}
	if err := env.Engine.GrantRole(env.Ctx, tenant, "bob", "planner", "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	roles, perms, err := env.Engine.ActorAccess(env.Ctx, tenant, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0] != "planner" || len(perms) == 0 {
		t.Fatalf("unexpected access %v %v", roles, perms)
	}
	if err := env.Engine.GrantRole(env.Ctx, tenant, "bob", "ghost", "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown role, got %v", err)
	}
}
