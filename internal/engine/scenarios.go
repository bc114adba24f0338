package engine

import (
	"context"
	"database/sql"
	"fmt"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/events"
	"quarterplan/internal/insight"
	"quarterplan/internal/repo"
)

// ScenarioCreateOptions create a draft what-if scenario. Quarter defaults to
// the linked planning cycle's quarter.
type ScenarioCreateOptions struct {
	ID              string
	TenantID        string
	Name            string
	PlanningCycleID string
	Quarter         string
	Adjustments     []domain.SquadAdjustment
	Parameters      domain.ScenarioParameters
	ActorID         string
}

func (e Engine) CreateScenario(ctx context.Context, opts ScenarioCreateOptions) (domain.ScenarioRecord, error) {
	if err := e.requireTenant(ctx, opts.TenantID); err != nil {
		return domain.ScenarioRecord{}, err
	}
	quarter := opts.Quarter
	if opts.PlanningCycleID != "" {
		cycle, err := e.Repo.GetPlanningCycle(ctx, nil, opts.TenantID, opts.PlanningCycleID)
		if err != nil {
			return domain.ScenarioRecord{}, err
		}
		if quarter == "" {
			quarter = cycle.Record().Quarter
		}
	}
	status, err := e.Catalog.Initial(opts.TenantID, catalog.ScenarioStatus)
	if err != nil {
		return domain.ScenarioRecord{}, err
	}
	s, err := domain.NewScenario(domain.NewScenarioParams{
		ID:              newID(opts.ID),
		TenantID:        opts.TenantID,
		Name:            opts.Name,
		PlanningCycleID: opts.PlanningCycleID,
		Quarter:         quarter,
		Status:          status,
		Adjustments:     opts.Adjustments,
		Parameters:      opts.Parameters,
		Now:             e.now(),
	})
	if err != nil {
		return domain.ScenarioRecord{}, err
	}
	rec := s.Record()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetScenario(ctx, tx, rec.TenantID, rec.ID); err == nil {
			return fmt.Errorf("%w: scenario %s already exists", domain.ErrConflict, rec.ID)
		}
		if err := e.Repo.SaveScenario(ctx, tx, s); err != nil {
			return err
		}
		return e.emit(ctx, tx, "scenario.create", rec.TenantID, events.KindScenario, rec.ID, opts.ActorID,
			events.EventPayload{"name": rec.Name, "quarter": rec.Quarter})
	})
	if err != nil {
		return domain.ScenarioRecord{}, err
	}
	return rec, nil
}

func (e Engine) GetScenario(ctx context.Context, tenantID, id string) (domain.ScenarioRecord, error) {
	s, err := e.Repo.GetScenario(ctx, nil, tenantID, id)
	if err != nil {
		return domain.ScenarioRecord{}, err
	}
	return s.Record(), nil
}

func (e Engine) ListScenarios(ctx context.Context, tenantID, quarter, cycleID string) ([]domain.ScenarioRecord, error) {
	quarter, err := filterQuarter(quarter)
	if err != nil {
		return nil, err
	}
	scenarios, err := e.Repo.ListScenarios(ctx, tenantID, quarter, cycleID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ScenarioRecord, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.Record())
	}
	return out, nil
}

func (e Engine) mutateScenario(ctx context.Context, tenantID, id, actorID, evtType string, payload events.EventPayload, fn func(*domain.Scenario) error) (domain.ScenarioRecord, error) {
	var rec domain.ScenarioRecord
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetScenario(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		if err := e.Repo.SaveScenario(ctx, tx, s); err != nil {
			return err
		}
		rec = s.Record()
		if payload == nil {
			payload = events.EventPayload{}
		}
		payload["status"] = rec.Status.Slug()
		return e.emit(ctx, tx, evtType, tenantID, events.KindScenario, id, actorID, payload)
	})
	return rec, err
}

func (e Engine) UpdateScenarioAdjustments(ctx context.Context, tenantID, id string, deltas []domain.SquadAdjustment, actorID string) (domain.ScenarioRecord, error) {
	return e.mutateScenario(ctx, tenantID, id, actorID, "scenario.adjust", events.EventPayload{"adjustments": len(deltas)}, func(s *domain.Scenario) error {
		return s.UpdateAdjustments(deltas, e.now())
	})
}

func (e Engine) UpdateScenarioParameters(ctx context.Context, tenantID, id string, p domain.ScenarioParameters, actorID string) (domain.ScenarioRecord, error) {
	return e.mutateScenario(ctx, tenantID, id, actorID, "scenario.parameters", nil, func(s *domain.Scenario) error {
		return s.UpdateParameters(p, e.now())
	})
}

func (e Engine) SetScenarioStatus(ctx context.Context, tenantID, id, status, actorID string) (domain.ScenarioRecord, error) {
	v, err := e.lookup(tenantID, catalog.ScenarioStatus, status)
	if err != nil {
		return domain.ScenarioRecord{}, err
	}
	return e.mutateScenario(ctx, tenantID, id, actorID, "scenario.status", nil, func(s *domain.Scenario) error {
		return s.SetStatus(v, e.now())
	})
}

func (e Engine) PublishScenario(ctx context.Context, tenantID, id, actorID string) (domain.ScenarioRecord, error) {
	return e.mutateScenario(ctx, tenantID, id, actorID, "scenario.publish", nil, func(s *domain.Scenario) error {
		return s.Publish(e.Catalog, e.now())
	})
}

func (e Engine) ArchiveScenario(ctx context.Context, tenantID, id, actorID string) (domain.ScenarioRecord, error) {
	return e.mutateScenario(ctx, tenantID, id, actorID, "scenario.archive", nil, func(s *domain.Scenario) error {
		return s.Archive(e.Catalog, e.now())
	})
}

// SimulateScenario runs the scenario against the quarter's capacity and
// epics, records the outcome on the scenario and returns the per-squad
// allocation. Epics are taken committed first, then targeted, then
// aspirational, then the rest in creation order.
func (e Engine) SimulateScenario(ctx context.Context, tenantID, id, actorID string) (domain.ScenarioRecord, insight.SimulationResult, error) {
	s, err := e.Repo.GetScenario(ctx, nil, tenantID, id)
	if err != nil {
		return domain.ScenarioRecord{}, insight.SimulationResult{}, err
	}
	quarter := s.Record().Quarter
	snaps, err := e.ListCapacity(ctx, tenantID, quarter)
	if err != nil {
		return domain.ScenarioRecord{}, insight.SimulationResult{}, err
	}
	epics, err := e.ListEpics(ctx, repo.EpicFilters{TenantID: tenantID, Quarter: quarter})
	if err != nil {
		return domain.ScenarioRecord{}, insight.SimulationResult{}, err
	}
	features, err := e.ListFeatures(ctx, repo.FeatureFilters{TenantID: tenantID, Quarter: quarter})
	if err != nil {
		return domain.ScenarioRecord{}, insight.SimulationResult{}, err
	}
	commitments, err := e.Repo.ListCommitments(ctx, tenantID, quarter)
	if err != nil {
		return domain.ScenarioRecord{}, insight.SimulationResult{}, err
	}
	sim := insight.Simulate(insight.SimulationInput{
		Scenario:  s.Record(),
		Snapshots: snaps,
		Epics:     insight.Demands(prioritize(epics, commitments), features),
	})
	sim.Result.Comments = insight.ScenarioComments(sim.Result, sim.Squads)

	rec, err := e.mutateScenario(ctx, tenantID, id, actorID, "scenario.simulate", events.EventPayload{
		"fitting":     len(sim.Result.Fitting),
		"overflowing": len(sim.Result.Overflowing),
	}, func(s *domain.Scenario) error {
		return s.RecordResult(sim.Result, e.now())
	})
	if err != nil {
		return domain.ScenarioRecord{}, insight.SimulationResult{}, err
	}
	return rec, sim, nil
}

func prioritize(epics []domain.EpicRecord, commitments []*domain.Commitment) []domain.EpicRecord {
	byID := make(map[string]domain.EpicRecord, len(epics))
	for _, ep := range epics {
		byID[ep.ID] = ep
	}
	out := make([]domain.EpicRecord, 0, len(epics))
	taken := make(map[string]bool, len(epics))
	take := func(id string) {
		if ep, ok := byID[id]; ok && !taken[id] {
			taken[id] = true
			out = append(out, ep)
		}
	}
	recs := make([]domain.CommitmentRecord, 0, len(commitments))
	for _, c := range commitments {
		recs = append(recs, c.Record())
	}
	for _, r := range recs {
		for _, id := range r.Committed {
			take(id)
		}
	}
	for _, r := range recs {
		for _, id := range r.Targeted {
			take(id)
		}
	}
	for _, r := range recs {
		for _, id := range r.Aspirational {
			take(id)
		}
	}
	for _, ep := range epics {
		take(ep.ID)
	}
	return out
}
