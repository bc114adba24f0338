package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"quarterplan/internal/engine"
	"quarterplan/internal/insight"
	"quarterplan/internal/repo"
)

type quarterQuery struct {
	TenantID string `path:"tenant_id"`
	Quarter  string `query:"quarter" required:"true" example:"Q3-2024"`
}

func registerInsights(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "capacity-alerts",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/alerts",
		Summary:     "Capacity alerts for a quarter",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *quarterQuery) (*output[[]insight.Alert], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := requireQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		alerts, err := e.CapacityAlerts(ctx, input.TenantID, quarter)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(alerts)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "epic-hints",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/hints",
		Summary:     "Planning hints for a quarter's epics",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *quarterQuery) (*output[[]insight.Hint], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		quarter, err := requireQuarter(input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		hints, err := e.EpicHints(ctx, input.TenantID, quarter)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(hints)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "planning-report",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/report",
		Summary:     "Quarter planning report",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *quarterQuery) (*output[ReportResponse], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "tenant.read"); err != nil {
			return nil, handleError(err)
		}
		report, err := e.PlanningReport(ctx, input.TenantID, input.Quarter)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(reportResponse(report)), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID   string `path:"tenant_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"tenant,squad,capacity,epic,feature,dependency,planning_cycle,scenario,commitment,rbac"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		if _, err := requirePermission(ctx, e, input.TenantID, "events.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilter{
			TenantID:   input.TenantID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return respond(resp), nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/me/permissions",
		Summary:     "Current actor roles and permissions on a tenant",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *tenantPath) (*output[WhoAmIResponse], error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles, perms, err := e.ActorAccess(ctx, input.TenantID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if len(principal.Permissions) > 0 {
			perms = append(perms, principal.Permissions...)
		}
		return respond(WhoAmIResponse{
			ActorID:     principal.ActorID,
			TenantID:    input.TenantID,
			Roles:       nonNilSlice(append(roles, principal.Roles...)),
			Permissions: nonNilSlice(perms),
		}), nil
	})

	for _, action := range []struct {
		name string
		run  func(context.Context, string, string, string, string) error
	}{
		{"grant", e.GrantRole},
		{"revoke", e.RevokeRole},
	} {
		huma.Register(api, huma.Operation{
			OperationID:   action.name + "-role",
			Method:        http.MethodPost,
			Path:          "/tenants/{tenant_id}/rbac/roles/" + action.name,
			Summary:       action.name + " role",
			DefaultStatus: http.StatusNoContent,
			Errors:        writeErrors,
		}, func(ctx context.Context, input *struct {
			TenantID string            `path:"tenant_id"`
			Body     RoleChangeRequest `json:"body"`
		}) (*struct{}, error) {
			if err := requireBody(ctx); err != nil {
				return nil, err
			}
			actorID, err := requirePermission(ctx, e, input.TenantID, "rbac.manage")
			if err != nil {
				return nil, handleError(err)
			}
			if err := action.run(ctx, input.TenantID, input.Body.ActorID, input.Body.RoleID, actorID); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/tenants/{tenant_id}/me/api-keys",
		Summary:       "Issue an API key for the caller, valid on this tenant only; the key is shown once",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TenantID string              `path:"tenant_id"`
		Body     CreateAPIKeyRequest `json:"body"`
	}) (*output[APIKeyResponse], error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "tenant.read")
		if err != nil {
			return nil, handleError(err)
		}
		key, plain, err := e.CreateAPIKey(ctx, input.TenantID, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = plain
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/me/api-keys",
		Summary:     "List the caller's API keys on this tenant",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*output[[]APIKeyResponse], error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "tenant.read")
		if err != nil {
			return nil, handleError(err)
		}
		keys, err := e.ListAPIKeys(ctx, input.TenantID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/tenants/{tenant_id}/me/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		KeyID    string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, err := requirePermission(ctx, e, input.TenantID, "tenant.read")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeAPIKey(ctx, input.TenantID, input.KeyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
