package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"quarterplan/internal/config"
	"quarterplan/internal/domain"
	"quarterplan/internal/engine"
	"quarterplan/internal/repo"
)

type output[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *output[T] { return &output[T]{Body: v} }

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type tenantPath struct {
	TenantID string `path:"tenant_id"`
}

func registerTenants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/tenants",
		Summary:       "Create tenant; the caller becomes owner",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTenantRequest `json:"body"`
	}) (*output[TenantResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.Body.OwnerID
		if owner == "" {
			owner = actorID
		}
		t, err := e.InitTenant(ctx, engine.TenantInitOptions{ID: input.Body.ID, Name: input.Body.Name, OwnerID: owner, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(tenantResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List tenants readable by the caller",
	}, func(ctx context.Context, _ *struct{}) (*output[[]TenantResponse], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTenants(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := []TenantResponse{}
		for _, t := range items {
			if _, err := requirePermission(ctx, e, t.ID, "tenant.read"); err != nil {
				continue
			}
			out = append(out, tenantResponse(t))
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}",
		Summary:     "Get tenant",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tenantPath) (*output[TenantResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		t, err := e.GetTenant(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(tenantResponse(t)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-tenant",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}",
		Summary:       "Delete tenant and everything it owns",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tenantPath) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "tenant.delete")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTenant(ctx, input.TenantID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant-config",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/config",
		Summary:     "Get tenant config",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *tenantPath) (*output[*config.Config], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.TenantConfig(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(cfg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-tenant-config",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/config",
		Summary:     "Replace tenant config",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string         `path:"tenant_id"`
		Body     *config.Config `json:"body"`
	}) (*struct{}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "tenant.config.write")
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "config required", nil)
		}
		if err := input.Body.Validate(); err != nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
		}
		if err := e.ImportTenantConfig(ctx, input.TenantID, input.Body, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSquads(api huma.API, e engine.Engine) {
	type squadPath struct {
		TenantID string `path:"tenant_id"`
		SquadID  string `path:"squad_id" doc:"Squad id or slug"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-squad",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/squads",
		Summary:       "Create squad",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string             `path:"tenant_id"`
		Body     CreateSquadRequest `json:"body"`
	}) (*output[SquadResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "squad.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		s, err := e.CreateSquad(ctx, engine.SquadCreateOptions{
			ID:              deref(b.ID),
			TenantID:        input.TenantID,
			ProductID:       b.ProductID,
			Name:            b.Name,
			Slug:            b.Slug,
			Description:     b.Description,
			Color:           b.Color,
			Timezone:        b.Timezone,
			DefaultCapacity: b.DefaultCapacity,
			Status:          b.Status,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(squadResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-squads",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/squads",
		Summary:     "List squads",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID  string `path:"tenant_id"`
		ProductID string `query:"product_id"`
		Status    string `query:"status"`
	}) (*output[[]SquadResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListSquads(ctx, repo.SquadFilters{TenantID: input.TenantID, ProductID: input.ProductID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, squadResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-squad",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/squads/{squad_id}",
		Summary:     "Get squad by id or slug",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *squadPath) (*output[SquadResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		s, err := e.GetSquad(ctx, input.TenantID, input.SquadID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(squadResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-squad",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/squads/{squad_id}",
		Summary:     "Update squad",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string             `path:"tenant_id"`
		SquadID  string             `path:"squad_id"`
		Body     UpdateSquadRequest `json:"body"`
	}) (*output[SquadResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "squad.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		s, err := e.UpdateSquad(ctx, input.TenantID, input.SquadID, domain.SquadPatch{
			Name:            b.Name,
			Description:     b.Description,
			Timezone:        b.Timezone,
			Color:           b.Color,
			DefaultCapacity: b.DefaultCapacity,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if b.Status != nil {
			if s, err = e.ChangeSquadStatus(ctx, input.TenantID, input.SquadID, *b.Status, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		return respond(squadResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-squad",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}/squads/{squad_id}",
		Summary:       "Delete squad and its capacity snapshots",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *squadPath) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "squad.write")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteSquad(ctx, input.TenantID, input.SquadID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCapacity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-capacity",
		Method:      http.MethodPut,
		Path:        "/tenants/{tenant_id}/capacity",
		Summary:     "Report squad capacity for a quarter (upsert)",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string                `path:"tenant_id"`
		Body     ReportCapacityRequest `json:"body"`
	}) (*output[CapacityResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "capacity.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		c, err := e.ReportCapacity(ctx, engine.CapacityReportOptions{
			TenantID:      input.TenantID,
			SquadID:       b.SquadID,
			Quarter:       b.Quarter,
			Total:         b.Total,
			Used:          b.Used,
			BufferPercent: b.BufferPercent,
			Adjustments:   b.Adjustments,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(capacityResponse(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-capacity",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/capacity",
		Summary:     "List capacity snapshots",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Quarter  string `query:"quarter" example:"Q3-2024"`
	}) (*output[[]CapacityResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := optionalQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListCapacity(ctx, input.TenantID, quarter)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSlice(items, capacityResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "adjust-capacity",
		Method:      http.MethodPatch,
		Path:        "/tenants/{tenant_id}/squads/{squad_id}/capacity/{quarter}",
		Summary:     "Update a snapshot's buffer or merge adjustments",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		SquadID  string `path:"squad_id"`
		Quarter  string `path:"quarter"`
		Body     struct {
			BufferPercent *float64       `json:"buffer_percent,omitempty"`
			Adjustments   map[string]any `json:"adjustments,omitempty"`
		} `json:"body"`
	}) (*output[CapacityResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requirePermission(ctx, e, input.TenantID, "capacity.write")
		if err != nil {
			return nil, handleError(err)
		}
		var c domain.CapacityRecord
		if input.Body.BufferPercent != nil {
			if c, err = e.UpdateCapacityBuffer(ctx, input.TenantID, input.SquadID, input.Quarter, *input.Body.BufferPercent, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		if len(input.Body.Adjustments) > 0 {
			if c, err = e.ApplyCapacityAdjustments(ctx, input.TenantID, input.SquadID, input.Quarter, input.Body.Adjustments, actorID); err != nil {
				return nil, handleError(err)
			}
		}
		if c.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "buffer_percent or adjustments required", nil)
		}
		return respond(capacityResponse(c)), nil
	})
}

func optionalQuarter(q string) (string, error) {
	if q == "" {
		return "", nil
	}
	return domain.ParseQuarter(q)
}

func requireQuarter(q string) (string, error) {
	if q == "" {
		return "", errors.Join(domain.ErrInvalidQuarter, errors.New("quarter is required"))
	}
	return domain.ParseQuarter(q)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
