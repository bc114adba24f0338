package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quarterplan/internal/config"
	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/engine/auth"
	"quarterplan/internal/events"
	"quarterplan/internal/logging"
	"quarterplan/internal/repo"
)

// Engine runs every planning operation: load aggregates, apply the domain
// change, persist it and append an event, all in one transaction.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Catalog *catalog.Registry
	Auth    auth.Service
	Logger  *slog.Logger
	Now     func() time.Time
}

// New wires an engine around db. cfg supplies the fallback catalog used by
// tenants that have no stored config.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return Engine{}, err
	}
	reg := catalog.NewRegistry(cat)
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db, Catalog: reg},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Catalog: reg,
		Auth:    auth.Service{DB: db},
		Logger:  logging.Discard(),
		Now:     time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger { return logging.OrDefault(e.Logger) }

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, tenantID, kind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	if actorID == "" {
		actorID = "system"
	}
	_, err := w.Append(ctx, tx, evtType, tenantID, kind, entityID, actorID, payload)
	return err
}

func newID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// filterQuarter normalizes an optional quarter filter; empty means any.
func filterQuarter(q string) (string, error) {
	if strings.TrimSpace(q) == "" {
		return "", nil
	}
	return domain.ParseQuarter(q)
}

func (e Engine) lookup(tenantID string, category catalog.Category, key string) (catalog.Value, error) {
	return e.Catalog.Lookup(tenantID, category, key)
}

// valueOrInitial resolves key, or the category's initial entry when key is empty.
func (e Engine) valueOrInitial(tenantID string, category catalog.Category, key string) (catalog.Value, error) {
	if strings.TrimSpace(key) == "" {
		return e.Catalog.Initial(tenantID, category)
	}
	return e.Catalog.Lookup(tenantID, category, key)
}

// TenantConfig returns the tenant's stored config, or the engine default.
func (e Engine) TenantConfig(ctx context.Context, tenantID string) (*config.Config, error) {
	cfg, err := e.Repo.GetTenantConfig(ctx, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Config, nil
	}
	return cfg, err
}

// LoadTenantCatalogs installs every stored tenant config's catalog.
func (e Engine) LoadTenantCatalogs(ctx context.Context) error {
	cfgs, err := e.Repo.TenantConfigs(ctx)
	if err != nil {
		return err
	}
	for tenantID, cfg := range cfgs {
		cat, err := cfg.BuildCatalog()
		if err != nil {
			return fmt.Errorf("tenant %s catalog: %w", tenantID, err)
		}
		e.Catalog.Set(tenantID, cat)
	}
	return nil
}

func (e Engine) requireTenant(ctx context.Context, tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant is required", domain.ErrInvalidInput)
	}
	_, err := e.Repo.GetTenant(ctx, tenantID)
	return err
}

type TenantInitOptions struct {
	ID   string
	Name string
	// Config defaults to config.Default(ID).
	Config  *config.Config
	OwnerID string
	ActorID string
}

// InitTenant creates a tenant with its config and RBAC roles. OwnerID, when
// set, is granted the owner role.
func (e Engine) InitTenant(ctx context.Context, opts TenantInitOptions) (domain.Tenant, error) {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		return domain.Tenant{}, fmt.Errorf("%w: tenant id is required", domain.ErrInvalidInput)
	}
	if _, err := e.Repo.GetTenant(ctx, id); err == nil {
		return domain.Tenant{}, fmt.Errorf("%w: tenant %s already exists", domain.ErrConflict, id)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Tenant{}, err
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(id)
	}
	cfg.Tenant.ID = id
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return domain.Tenant{}, err
	}
	name := opts.Name
	if name == "" {
		name = cfg.Tenant.Name
	}
	if name == "" {
		name = id
	}
	t := domain.Tenant{ID: id, Name: name, CreatedAt: e.now().UTC().Format(time.RFC3339)}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTenant(ctx, tx, t); err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		if err := e.Repo.UpsertTenantConfig(ctx, tx, id, cfg); err != nil {
			return fmt.Errorf("insert tenant config: %w", err)
		}
		if err := e.Repo.SyncRoles(ctx, tx, id, cfg.RBAC.Roles); err != nil {
			return fmt.Errorf("sync roles: %w", err)
		}
		if opts.OwnerID != "" {
			if err := e.Auth.EnsureActor(ctx, tx, opts.OwnerID); err != nil {
				return err
			}
			if err := e.Repo.AssignRole(ctx, tx, id, opts.OwnerID, "owner"); err != nil {
				return err
			}
		}
		return e.emit(ctx, tx, "tenant.init", id, events.KindTenant, id, opts.ActorID, events.EventPayload{"name": name, "owner": opts.OwnerID})
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	e.Catalog.Set(id, cat)
	e.log().Info("tenant initialized", "tenant", id)
	return t, nil
}

func (e Engine) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	return e.Repo.GetTenant(ctx, id)
}

func (e Engine) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	return e.Repo.ListTenants(ctx)
}

// ImportTenantConfig validates cfg, stores it, resyncs roles and swaps the
// tenant's catalog.
func (e Engine) ImportTenantConfig(ctx context.Context, tenantID string, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return errors.New("config nil")
	}
	if err := e.requireTenant(ctx, tenantID); err != nil {
		return err
	}
	cfg.Tenant.ID = tenantID
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertTenantConfig(ctx, tx, tenantID, cfg); err != nil {
			return err
		}
		if err := e.Repo.SyncRoles(ctx, tx, tenantID, cfg.RBAC.Roles); err != nil {
			return err
		}
		return e.emit(ctx, tx, "tenant.config.import", tenantID, events.KindTenant, tenantID, actorID, nil)
	})
	if err != nil {
		return err
	}
	e.Catalog.Set(tenantID, cat)
	return nil
}

// GrantRole gives actorID a role declared in the tenant config.
func (e Engine) GrantRole(ctx context.Context, tenantID, actorID, roleID, by string) error {
	if actorID == "" || roleID == "" {
		return fmt.Errorf("%w: actor and role are required", domain.ErrInvalidInput)
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.RoleExists(ctx, tx, tenantID, roleID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("role %s: %w", roleID, domain.ErrNotFound)
		}
		if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, tenantID, actorID, roleID); err != nil {
			return err
		}
		return e.emit(ctx, tx, "rbac.grant", tenantID, events.KindRBAC, actorID, by, events.EventPayload{"role": roleID})
	})
}

func (e Engine) RevokeRole(ctx context.Context, tenantID, actorID, roleID, by string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.RevokeRole(ctx, tx, tenantID, actorID, roleID); err != nil {
			return err
		}
		return e.emit(ctx, tx, "rbac.revoke", tenantID, events.KindRBAC, actorID, by, events.EventPayload{"role": roleID})
	})
}

// ActorAccess lists the actor's roles and effective permissions on a tenant.
func (e Engine) ActorAccess(ctx context.Context, tenantID, actorID string) (roles, perms []string, err error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()
	if roles, err = e.Repo.ActorRoles(ctx, tx, tenantID, actorID); err != nil {
		return nil, nil, err
	}
	if perms, err = e.Auth.ActorPermissions(ctx, tx, tenantID, actorID); err != nil {
		return nil, nil, err
	}
	return roles, perms, nil
}

// CreateAPIKey issues a key that authenticates actorID within tenantID
// only. The plain key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, tenantID, actorID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}
	if err := e.requireTenant(ctx, tenantID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "qp_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.emit(ctx, tx, "apikey.create", tenantID, events.KindRBAC, key.ID, actorID, events.EventPayload{"name": key.Name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, tenantID, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, tenantID, actorID)
}

// RevokeAPIKey deletes a key. Holders may revoke their own keys; anyone
// else needs rbac.manage on the tenant.
func (e Engine) RevokeAPIKey(ctx context.Context, tenantID, keyID, by string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		key, err := e.Repo.GetAPIKey(ctx, tx, tenantID, keyID)
		if err != nil {
			return err
		}
		if key.ActorID != by {
			ok, err := e.Auth.ActorHasPermission(ctx, tx, tenantID, by, "rbac.manage")
			if err != nil {
				return err
			}
			if !ok {
				return auth.ForbiddenError{Permission: "rbac.manage", TenantID: tenantID}
			}
		}
		if err := e.Repo.DeleteAPIKey(ctx, tx, tenantID, keyID); err != nil {
			return err
		}
		return e.emit(ctx, tx, "apikey.revoke", tenantID, events.KindRBAC, keyID, by, events.EventPayload{"actor_id": key.ActorID})
	})
}

// DeleteTenant removes the tenant and, by cascade, everything it owns. The
// event log keeps its rows and gains a tenant.delete entry.
func (e Engine) DeleteTenant(ctx context.Context, tenantID, actorID string) error {
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTenant(ctx, tx, tenantID); err != nil {
			return err
		}
		return e.emit(ctx, tx, "tenant.delete", tenantID, events.KindTenant, tenantID, actorID, nil)
	})
	if err != nil {
		return err
	}
	e.Catalog.Set(tenantID, nil)
	e.log().Info("tenant deleted", "tenant", tenantID)
	return nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
