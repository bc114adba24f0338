package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"quarterplan/internal/domain"
	"quarterplan/internal/engine"
	"quarterplan/internal/repo"
)

func registerEpics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-epic",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/epics",
		Summary:       "Create epic",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string            `path:"tenant_id"`
		Body     CreateEpicRequest `json:"body"`
	}) (*output[EpicResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "epic.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		ep, err := e.CreateEpic(ctx, engine.EpicCreateOptions{
			ID:          deref(b.ID),
			TenantID:    input.TenantID,
			SquadID:     b.SquadID,
			ProductID:   b.ProductID,
			Title:       b.Title,
			Description: b.Description,
			Status:      b.Status,
			Health:      b.Health,
			Quarter:     b.Quarter,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(epicResponse(ep)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-epics",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/epics",
		Summary:     "List epics",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		Quarter   string `query:"quarter"`
		SquadID   string `query:"squad_id"`
		ProductID string `query:"product_id"`
		Status    string `query:"status"`
	}) (*output[[]EpicResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := optionalQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListEpics(ctx, repo.EpicFilters{
			TenantID:  input.TenantID,
			Quarter:   quarter,
			SquadID:   input.SquadID,
			ProductID: input.ProductID,
			Status:    input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, epicResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-epic",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/epics/{epic_id}",
		Summary:     "Get epic",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		EpicID   string `path:"epic_id"`
	}) (*output[EpicResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		ep, err := e.GetEpic(ctx, input.TenantID, input.EpicID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(epicResponse(ep)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-epic",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/epics/{epic_id}",
		Summary:     "Update epic details, status, health, progress or squad",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string            `path:"tenant_id"`
		EpicID   string            `path:"epic_id"`
		Body     UpdateEpicRequest `json:"body"`
	}) (*output[EpicResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "epic.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		ep, err := e.GetEpic(ctx, input.TenantID, input.EpicID)
		if err != nil {
			return nil, handleError(err)
		}
		steps := []func() (domain.EpicRecord, error){}
		if b.Title != nil || b.Description != nil {
			steps = append(steps, func() (domain.EpicRecord, error) {
				return e.UpdateEpicDetails(ctx, input.TenantID, input.EpicID, b.Title, b.Description, actorID)
			})
		}
		if b.Status != nil {
			steps = append(steps, func() (domain.EpicRecord, error) {
				return e.UpdateEpicStatus(ctx, input.TenantID, input.EpicID, *b.Status, actorID)
			})
		}
		if b.Health != nil {
			steps = append(steps, func() (domain.EpicRecord, error) {
				return e.UpdateEpicHealth(ctx, input.TenantID, input.EpicID, *b.Health, actorID)
			})
		}
		if b.ProgressPercent != nil {
			steps = append(steps, func() (domain.EpicRecord, error) {
				return e.UpdateEpicProgress(ctx, input.TenantID, input.EpicID, *b.ProgressPercent, actorID)
			})
		}
		if b.SquadID != nil {
			steps = append(steps, func() (domain.EpicRecord, error) {
				return e.AssignEpicSquad(ctx, input.TenantID, input.EpicID, *b.SquadID, actorID)
			})
		}
		for _, step := range steps {
			if ep, err = step(); err != nil {
				return nil, handleError(err)
			}
		}
		return respond(epicResponse(ep)), nil
	})
}

func registerFeatures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-feature",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/features/{feature_id}",
		Summary:     "Create or update feature",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID  string               `path:"tenant_id"`
		FeatureID string               `path:"feature_id"`
		Body      UpsertFeatureRequest `json:"body"`
	}) (*struct {
		Status int
		Body   FeatureResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "feature.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		f, created, err := e.UpsertFeature(ctx, engine.FeatureUpsertOptions{
			ID:       input.FeatureID,
			TenantID: input.TenantID,
			EpicID:   b.EpicID,
			Details: domain.FeatureDetails{
				Title:              b.Title,
				Description:        b.Description,
				Estimate:           b.Estimate,
				RiskNotes:          b.RiskNotes,
				AcceptanceCriteria: b.AcceptanceCriteria,
			},
			SquadID:   b.SquadID,
			Status:    b.Status,
			DependsOn: b.DependsOn,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   FeatureResponse `json:"body"`
		}{Status: status, Body: featureResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-features",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/features",
		Summary:     "List features",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		EpicID   string `query:"epic_id"`
		SquadID  string `query:"squad_id"`
		Quarter  string `query:"quarter"`
	}) (*output[[]FeatureResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := optionalQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListFeatures(ctx, repo.FeatureFilters{TenantID: input.TenantID, EpicID: input.EpicID, SquadID: input.SquadID, Quarter: quarter})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, featureResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-feature",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/features/{feature_id}",
		Summary:     "Get feature",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		FeatureID string `path:"feature_id"`
	}) (*output[FeatureResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		f, err := e.GetFeature(ctx, input.TenantID, input.FeatureID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(featureResponse(f)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-feature",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/features/{feature_id}/review",
		Summary:     "Mark feature reviewed by the caller",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		FeatureID string `path:"feature_id"`
	}) (*output[FeatureResponse], error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "feature.write")
		if err != nil {
			return nil, handleError(err)
		}
		f, err := e.MarkFeatureReviewed(ctx, input.TenantID, input.FeatureID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(featureResponse(f)), nil
	})
}

func registerDependencies(api huma.API, e engine.Engine) {
	type dependencyPath struct {
		TenantID     string `path:"tenant_id"`
		DependencyID string `path:"dependency_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-dependency",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/dependencies",
		Summary:       "Declare that one feature blocks another",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string                  `path:"tenant_id"`
		Body     CreateDependencyRequest `json:"body"`
	}) (*output[DependencyResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "dependency.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		d, err := e.CreateDependency(ctx, engine.DependencyCreateOptions{
			ID:                deref(b.ID),
			TenantID:          input.TenantID,
			BlockedFeatureID:  b.BlockedFeatureID,
			BlockingFeatureID: b.BlockingFeatureID,
			Type:              b.Type,
			Risk:              b.Risk,
			Note:              b.Note,
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(dependencyResponse(d)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/dependencies",
		Summary:     "List dependencies",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		FeatureID string `query:"feature_id" doc:"Blocked feature"`
		EpicID    string `query:"epic_id"`
		Quarter   string `query:"quarter"`
	}) (*output[[]DependencyResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := optionalQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListDependencies(ctx, repo.DependencyFilters{TenantID: input.TenantID, FeatureID: input.FeatureID, EpicID: input.EpicID, Quarter: quarter})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, dependencyResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dependency",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/dependencies/{dependency_id}",
		Summary:     "Get dependency",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *dependencyPath) (*output[DependencyResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.GetDependency(ctx, input.TenantID, input.DependencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(dependencyResponse(d)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-dependency",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/dependencies/{dependency_id}",
		Summary:     "Update dependency type, risk or note",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID     string                  `path:"tenant_id"`
		DependencyID string                  `path:"dependency_id"`
		Body         UpdateDependencyRequest `json:"body"`
	}) (*output[DependencyResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "dependency.write")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.UpdateDependency(ctx, engine.DependencyUpdateOptions{
			TenantID: input.TenantID,
			ID:       input.DependencyID,
			Type:     input.Body.Type,
			Risk:     input.Body.Risk,
			Note:     input.Body.Note,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(dependencyResponse(d)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-dependency",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}/dependencies/{dependency_id}",
		Summary:       "Delete dependency",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *dependencyPath) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "dependency.write")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteDependency(ctx, input.TenantID, input.DependencyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
