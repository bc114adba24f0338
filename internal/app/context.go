package app

import (
	"context"
	"errors"
	"fmt"

	"quarterplan/internal/config"
	"quarterplan/internal/engine"
	"quarterplan/internal/repo"
)

// ErrTenantRequired is returned when no tenant was given and the workspace
// does not hold exactly one.
var ErrTenantRequired = errors.New("tenant not specified; use --tenant")

// ResolveTenantAndConfig picks the active tenant and returns its config.
// It prefers the override, then the only tenant in the workspace. A missing
// tenant is initialized on the fly with actorID as owner.
func ResolveTenantAndConfig(ctx context.Context, eng engine.Engine, tenantOverride, actorID string) (string, *config.Config, error) {
	tenantID := tenantOverride
	if tenantID == "" {
		tenants, err := eng.ListTenants(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(tenants) != 1 {
			return "", nil, ErrTenantRequired
		}
		tenantID = tenants[0].ID
	}
	if _, err := eng.GetTenant(ctx, tenantID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if actorID == "" {
			actorID = "local-user"
		}
		if _, err := eng.InitTenant(ctx, engine.TenantInitOptions{ID: tenantID, OwnerID: actorID, ActorID: actorID}); err != nil {
			return "", nil, fmt.Errorf("init tenant %s: %w", tenantID, err)
		}
	}
	cfg, err := eng.TenantConfig(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	cfg.Tenant.ID = tenantID
	return tenantID, cfg, nil
}
