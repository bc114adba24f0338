package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/events"
	"quarterplan/internal/repo"
)

// DependencyCreateOptions declare that BlockedFeatureID waits on
// BlockingFeatureID. Empty Type and Risk take the catalog's initial values.
type DependencyCreateOptions struct {
	ID                string
	TenantID          string
	BlockedFeatureID  string
	BlockingFeatureID string
	Type              string
	Risk              string
	Note              string
	ActorID           string
}

// CreateDependency validates both features and, when the tenant's planning
// policy asks for it, rejects edges that close a cycle.
func (e Engine) CreateDependency(ctx context.Context, opts DependencyCreateOptions) (domain.DependencyRecord, error) {
	if err := e.requireTenant(ctx, opts.TenantID); err != nil {
		return domain.DependencyRecord{}, err
	}
	typ, err := e.valueOrInitial(opts.TenantID, catalog.DependencyType, opts.Type)
	if err != nil {
		return domain.DependencyRecord{}, err
	}
	risk, err := e.valueOrInitial(opts.TenantID, catalog.DependencyRisk, opts.Risk)
	if err != nil {
		return domain.DependencyRecord{}, err
	}
	d, err := domain.NewDependency(domain.NewDependencyParams{
		ID:                newID(opts.ID),
		TenantID:          opts.TenantID,
		BlockedFeatureID:  opts.BlockedFeatureID,
		BlockingFeatureID: opts.BlockingFeatureID,
		Type:              typ,
		Risk:              risk,
		Note:              opts.Note,
		Now:               e.now(),
	})
	if err != nil {
		return domain.DependencyRecord{}, err
	}
	cfg, err := e.TenantConfig(ctx, opts.TenantID)
	if err != nil {
		return domain.DependencyRecord{}, err
	}
	rec := d.Record()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetDependency(ctx, tx, rec.TenantID, rec.ID); err == nil {
			return fmt.Errorf("%w: dependency %s already exists", domain.ErrConflict, rec.ID)
		}
		for _, id := range []string{rec.BlockedFeatureID, rec.BlockingFeatureID} {
			if _, err := e.Repo.GetFeature(ctx, tx, rec.TenantID, id); err != nil {
				return err
			}
		}
		g, err := e.dependencyGraph(ctx, tx, rec.TenantID, "")
		if err != nil {
			return err
		}
		if err := g.ValidateEdge(rec.BlockedFeatureID, rec.BlockingFeatureID, cfg.RejectsDependencyCycles()); err != nil {
			return err
		}
		if err := e.Repo.SaveDependency(ctx, tx, d); err != nil {
			return err
		}
		return e.emit(ctx, tx, "dependency.create", rec.TenantID, events.KindDependency, rec.ID, opts.ActorID, events.EventPayload{
			"blocked_feature_id":  rec.BlockedFeatureID,
			"blocking_feature_id": rec.BlockingFeatureID,
			"type":                rec.Type.Slug(),
			"risk":                rec.Risk.Slug(),
		})
	})
	if err != nil {
		return domain.DependencyRecord{}, err
	}
	return rec, nil
}

// dependencyGraph loads the tenant's explicit and declared edges. The
// declared list of skipDeclared is left out so it can be replaced.
func (e Engine) dependencyGraph(ctx context.Context, tx *sql.Tx, tenantID, skipDeclared string) (*domain.DependencyGraph, error) {
	deps, err := e.Repo.ListDependencies(ctx, tx, repo.DependencyFilters{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	recs := make([]domain.DependencyRecord, 0, len(deps))
	for _, d := range deps {
		recs = append(recs, d.Record())
	}
	edges, err := e.Repo.FeatureEdges(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if skipDeclared != "" {
		kept := edges[:0]
		for _, f := range edges {
			if f.ID != skipDeclared {
				kept = append(kept, f)
			}
		}
		edges = kept
	}
	return domain.BuildDependencyGraph(recs, edges), nil
}

func (e Engine) GetDependency(ctx context.Context, tenantID, id string) (domain.DependencyRecord, error) {
	d, err := e.Repo.GetDependency(ctx, nil, tenantID, id)
	if err != nil {
		return domain.DependencyRecord{}, err
	}
	return d.Record(), nil
}

// ListDependenciesByFeature lists dependencies where featureID is blocked.
func (e Engine) ListDependenciesByFeature(ctx context.Context, tenantID, featureID string) ([]domain.DependencyRecord, error) {
	return e.ListDependencies(ctx, repo.DependencyFilters{TenantID: tenantID, FeatureID: featureID})
}

func (e Engine) ListDependencies(ctx context.Context, f repo.DependencyFilters) ([]domain.DependencyRecord, error) {
	if f.Quarter != "" {
		q, err := domain.ParseQuarter(f.Quarter)
		if err != nil {
			return nil, err
		}
		f.Quarter = q
	}
	deps, err := e.Repo.ListDependencies(ctx, nil, f)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DependencyRecord, 0, len(deps))
	for _, d := range deps {
		out = append(out, d.Record())
	}
	return out, nil
}

// DependencyUpdateOptions change a dependency's type or risk and append a
// note line; empty fields are left alone.
type DependencyUpdateOptions struct {
	TenantID string
	ID       string
	Type     string
	Risk     string
	Note     string
	ActorID  string
}

func (e Engine) UpdateDependency(ctx context.Context, opts DependencyUpdateOptions) (domain.DependencyRecord, error) {
	var typ, risk catalog.Value
	var err error
	if opts.Type != "" {
		if typ, err = e.lookup(opts.TenantID, catalog.DependencyType, opts.Type); err != nil {
			return domain.DependencyRecord{}, err
		}
	}
	if opts.Risk != "" {
		if risk, err = e.lookup(opts.TenantID, catalog.DependencyRisk, opts.Risk); err != nil {
			return domain.DependencyRecord{}, err
		}
	}
	now := e.now()
	var rec domain.DependencyRecord
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		d, err := e.Repo.GetDependency(ctx, tx, opts.TenantID, opts.ID)
		if err != nil {
			return err
		}
		payload := events.EventPayload{}
		if !typ.IsZero() {
			if err := d.UpdateType(typ, now); err != nil {
				return err
			}
			payload["type"] = typ.Slug()
		}
		if !risk.IsZero() {
			if err := d.UpdateRisk(risk, now); err != nil {
				return err
			}
			payload["risk"] = risk.Slug()
		}
		if strings.TrimSpace(opts.Note) != "" {
			if err := d.AddNote(opts.Note, now); err != nil {
				return err
			}
			payload["note"] = strings.TrimSpace(opts.Note)
		}
		if err := e.Repo.SaveDependency(ctx, tx, d); err != nil {
			return err
		}
		rec = d.Record()
		return e.emit(ctx, tx, "dependency.update", opts.TenantID, events.KindDependency, opts.ID, opts.ActorID, payload)
	})
	return rec, err
}

func (e Engine) DeleteDependency(ctx context.Context, tenantID, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteDependency(ctx, tx, tenantID, id); err != nil {
			return err
		}
		return e.emit(ctx, tx, "dependency.delete", tenantID, events.KindDependency, id, actorID, nil)
	})
}
