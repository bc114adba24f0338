package app

import (
	"context"
	"errors"
	"testing"

	"quarterplan/internal/config"
	"quarterplan/internal/db"
	"quarterplan/internal/engine"
	"quarterplan/internal/migrate"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, config.Default("default"))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng
}

func TestResolveTenantAndConfig(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	if _, _, err := ResolveTenantAndConfig(ctx, eng, "", "alice"); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected tenant required, got %v", err)
	}
	id, cfg, err := ResolveTenantAndConfig(ctx, eng, "acme", "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "acme" || cfg.Tenant.ID != "acme" {
		t.Fatalf("unexpected tenant %s %+v", id, cfg.Tenant)
	}
	id, _, err = ResolveTenantAndConfig(ctx, eng, "", "")
	if err != nil || id != "acme" {
		t.Fatalf("single tenant fallback: %s %v", id, err)
	}
	roles, _, err := eng.ActorAccess(ctx, "acme", "alice")
	if err != nil || len(roles) != 1 || roles[0] != "owner" {
		t.Fatalf("owner not granted: %v %v", roles, err)
	}
}
