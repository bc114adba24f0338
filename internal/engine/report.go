package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"quarterplan/internal/domain"
	"quarterplan/internal/insight"
	"quarterplan/internal/repo"
	"quarterplan/internal/telemetry"
)

// PlanningReport is the quarter overview served to planners.
type PlanningReport struct {
	TenantID     string                       `json:"tenant_id"`
	Quarter      string                       `json:"quarter"`
	Capacity     []domain.CapacityRecord      `json:"capacity"`
	Alerts       []insight.Alert              `json:"alerts"`
	Hints        []insight.Hint               `json:"hints"`
	Commitments  []domain.CommitmentView      `json:"commitments"`
	Cycles       []domain.PlanningCycleRecord `json:"cycles"`
	Dependencies []domain.DependencyRecord    `json:"dependencies"`
}

// EpicHints returns planning hints for the quarter's epics.
func (e Engine) EpicHints(ctx context.Context, tenantID, quarter string) ([]insight.Hint, error) {
	cfg, err := e.TenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	epics, err := e.ListEpics(ctx, repo.EpicFilters{TenantID: tenantID, Quarter: quarter})
	if err != nil {
		return nil, err
	}
	snaps, err := e.ListCapacity(ctx, tenantID, quarter)
	if err != nil {
		return nil, err
	}
	return insight.EpicHints(epics, insight.IndexSnapshots(snaps), cfg.HintRules()), nil
}

// PlanningReport loads the quarter's read models concurrently.
func (e Engine) PlanningReport(ctx context.Context, tenantID, quarter string) (PlanningReport, error) {
	q, err := domain.ParseQuarter(quarter)
	if err != nil {
		return PlanningReport{}, err
	}
	if err := e.requireTenant(ctx, tenantID); err != nil {
		return PlanningReport{}, err
	}
	ctx, span := telemetry.Tracer("quarterplan/engine").Start(ctx, "engine.PlanningReport")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("quarter", q))

	cfg, err := e.TenantConfig(ctx, tenantID)
	if err != nil {
		return PlanningReport{}, err
	}
	report := PlanningReport{TenantID: tenantID, Quarter: q}
	var epics []domain.EpicRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.Capacity, err = e.ListCapacity(gctx, tenantID, q)
		return err
	})
	g.Go(func() error {
		var err error
		epics, err = e.ListEpics(gctx, repo.EpicFilters{TenantID: tenantID, Quarter: q})
		return err
	})
	g.Go(func() error {
		var err error
		report.Commitments, err = e.ListCommitments(gctx, tenantID, q)
		return err
	})
	g.Go(func() error {
		var err error
		report.Cycles, err = e.ListPlanningCycles(gctx, tenantID, q, "")
		return err
	})
	g.Go(func() error {
		var err error
		report.Dependencies, err = e.ListDependencies(gctx, repo.DependencyFilters{TenantID: tenantID, Quarter: q})
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return PlanningReport{}, err
	}
	report.Alerts = insight.CapacityAlerts(report.Capacity, cfg.Thresholds())
	if report.Alerts == nil {
		report.Alerts = []insight.Alert{}
	}
	report.Hints = insight.EpicHints(epics, insight.IndexSnapshots(report.Capacity), cfg.HintRules())
	span.SetAttributes(attribute.Int("report.alerts", len(report.Alerts)), attribute.Int("report.hints", len(report.Hints)))
	return report, nil
}
