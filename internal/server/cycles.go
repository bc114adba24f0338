package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"quarterplan/internal/domain"
	"quarterplan/internal/engine"
)

func registerCycles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-cycle",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/cycles",
		Summary:       "Open a planning cycle",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string             `path:"tenant_id"`
		Body     CreateCycleRequest `json:"body"`
	}) (*output[CycleResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "cycle.write")
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.CreatePlanningCycle(ctx, engine.CycleCreateOptions{
			ID:        deref(input.Body.ID),
			TenantID:  input.TenantID,
			ProductID: input.Body.ProductID,
			Quarter:   input.Body.Quarter,
			Checklist: input.Body.Checklist,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(cycleResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cycles",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/cycles",
		Summary:     "List planning cycles",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		Quarter   string `query:"quarter"`
		ProductID string `query:"product_id"`
	}) (*output[[]CycleResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := optionalQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListPlanningCycles(ctx, input.TenantID, quarter, input.ProductID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, cycleResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cycle",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/cycles/{cycle_id}",
		Summary:     "Get planning cycle",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		CycleID  string `path:"cycle_id"`
	}) (*output[CycleResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		c, err := e.GetPlanningCycle(ctx, input.TenantID, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(cycleResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-cycle",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/cycles/{cycle_id}",
		Summary:     "Move a cycle or update its checklist, agenda, participants or preparation data",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string             `path:"tenant_id"`
		CycleID  string             `path:"cycle_id"`
		Body     UpdateCycleRequest `json:"body"`
	}) (*output[CycleResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "cycle.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		t, id := input.TenantID, input.CycleID
		c, err := e.GetPlanningCycle(ctx, t, id)
		if err != nil {
			return nil, handleError(err)
		}
		steps := []func() (domain.PlanningCycleRecord, error){}
		if b.Status != nil {
			steps = append(steps, func() (domain.PlanningCycleRecord, error) {
				return e.UpdateCycleStatus(ctx, t, id, *b.Status, b.Phase, actorID)
			})
		} else if b.Phase != nil {
			status := c.Status.Slug()
			steps = append(steps, func() (domain.PlanningCycleRecord, error) {
				return e.UpdateCycleStatus(ctx, t, id, status, b.Phase, actorID)
			})
		}
		if b.Checklist != nil {
			steps = append(steps, func() (domain.PlanningCycleRecord, error) {
				return e.UpdateCycleChecklist(ctx, t, id, b.Checklist, actorID)
			})
		}
		if b.AgendaURL != nil {
			steps = append(steps, func() (domain.PlanningCycleRecord, error) {
				return e.UpdateCycleAgenda(ctx, t, id, *b.AgendaURL, actorID)
			})
		}
		if b.ConfirmedParticipants != nil || b.TotalParticipants != nil {
			confirmed, total := c.ConfirmedParticipants, c.TotalParticipants
			if b.ConfirmedParticipants != nil {
				confirmed = *b.ConfirmedParticipants
			}
			if b.TotalParticipants != nil {
				total = *b.TotalParticipants
			}
			steps = append(steps, func() (domain.PlanningCycleRecord, error) {
				return e.RecordCycleParticipants(ctx, t, id, confirmed, total, actorID)
			})
		}
		if b.PreparationData != nil {
			steps = append(steps, func() (domain.PlanningCycleRecord, error) {
				return e.UpdateCyclePreparation(ctx, t, id, b.PreparationData, actorID)
			})
		}
		for _, step := range steps {
			if c, err = step(); err != nil {
				return nil, handleError(err)
			}
		}
		return respond(cycleResponse(c)), nil
	})
}

func registerScenarios(api huma.API, e engine.Engine) {
	type scenarioPath struct {
		TenantID   string `path:"tenant_id"`
		ScenarioID string `path:"scenario_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-scenario",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/scenarios",
		Summary:       "Create what-if scenario",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string                `path:"tenant_id"`
		Body     CreateScenarioRequest `json:"body"`
	}) (*output[ScenarioResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "scenario.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		s, err := e.CreateScenario(ctx, engine.ScenarioCreateOptions{
			ID:              deref(b.ID),
			TenantID:        input.TenantID,
			Name:            b.Name,
			PlanningCycleID: b.PlanningCycleID,
			Quarter:         b.Quarter,
			Adjustments:     b.Adjustments,
			Parameters:      b.params(),
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(scenarioResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scenarios",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/scenarios",
		Summary:     "List scenarios",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Quarter  string `query:"quarter"`
		CycleID  string `query:"planning_cycle_id"`
	}) (*output[[]ScenarioResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := optionalQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListScenarios(ctx, input.TenantID, quarter, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, scenarioResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scenario",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/scenarios/{scenario_id}",
		Summary:     "Get scenario",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *scenarioPath) (*output[ScenarioResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		s, err := e.GetScenario(ctx, input.TenantID, input.ScenarioID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(scenarioResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-scenario",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/scenarios/{scenario_id}",
		Summary:     "Replace adjustments, patch parameters or move status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID   string                `path:"tenant_id"`
		ScenarioID string                `path:"scenario_id"`
		Body       UpdateScenarioRequest `json:"body"`
	}) (*output[ScenarioResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "scenario.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		t, id := input.TenantID, input.ScenarioID
		s, err := e.GetScenario(ctx, t, id)
		if err != nil {
			return nil, handleError(err)
		}
		if b.Adjustments != nil {
			if s, err = e.UpdateScenarioAdjustments(ctx, t, id, b.Adjustments, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		p := b.params()
		if p.IncludeContractors != nil || p.ConsiderVacations != nil || p.RiskBufferPercent != nil {
			if s, err = e.UpdateScenarioParameters(ctx, t, id, p, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		if b.Status != nil {
			if s, err = e.SetScenarioStatus(ctx, t, id, *b.Status, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		return respond(scenarioResponse(s)), nil
	})

	for _, action := range []struct {
		name, summary string
		run           func(context.Context, string, string, string) (domain.ScenarioRecord, error)
	}{
		{"publish", "Publish scenario", e.PublishScenario},
		{"archive", "Archive scenario", e.ArchiveScenario},
	} {
		huma.Register(api, huma.Operation{
			OperationID: action.name + "-scenario",
			Method:      http.MethodPost,
			Path:        "/tenants/{tenant_id}/scenarios/{scenario_id}/" + action.name,
			Summary:     action.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *scenarioPath) (*output[ScenarioResponse], error) {
			actorID, err := requirePermission(ctx, e, input.TenantID, "scenario.write")
			if err != nil {
				return nil, handleError(err)
			}
			s, err := action.run(ctx, input.TenantID, input.ScenarioID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return respond(scenarioResponse(s)), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "simulate-scenario",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/scenarios/{scenario_id}/simulate",
		Summary:     "Run the scenario against the quarter and store the result",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *scenarioPath) (*output[SimulationResponse], error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "scenario.write")
		if err != nil {
			return nil, handleError(err)
		}
		s, sim, err := e.SimulateScenario(ctx, input.TenantID, input.ScenarioID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(SimulationResponse{Scenario: scenarioResponse(s), Squads: nonNilSlice(sim.Squads)}), nil
	})
}

func registerCommitments(api huma.API, e engine.Engine) {
	type commitmentPath struct {
		TenantID  string `path:"tenant_id"`
		ProductID string `path:"product_id"`
		Quarter   string `path:"quarter"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "save-commitment",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/commitments/{product_id}/{quarter}",
		Summary:     "Save the tiered commitment for a product and quarter",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID  string                `path:"tenant_id"`
		ProductID string                `path:"product_id"`
		Quarter   string                `path:"quarter"`
		Body      SaveCommitmentRequest `json:"body"`
	}) (*output[CommitmentResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "commitment.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		c, err := e.SaveCommitment(ctx, engine.CommitmentSaveOptions{
			TenantID:        input.TenantID,
			ProductID:       input.ProductID,
			Quarter:         input.Quarter,
			PlanningCycleID: b.PlanningCycleID,
			Committed:       b.Committed,
			Targeted:        b.Targeted,
			Aspirational:    b.Aspirational,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(commitmentResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-commitment",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/commitments/{product_id}/{quarter}",
		Summary:     "Get commitment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *commitmentPath) (*output[CommitmentResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := requireQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.GetCommitment(ctx, input.TenantID, input.ProductID, quarter)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(commitmentResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-commitments",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/commitments",
		Summary:     "List commitments",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Quarter  string `query:"quarter"`
	}) (*output[[]CommitmentResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := optionalQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListCommitments(ctx, input.TenantID, quarter)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, commitmentResponse)), nil
	})
}
