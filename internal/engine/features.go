package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/events"
	"quarterplan/internal/repo"
)

// FeatureUpsertOptions create a feature, or patch it when ID names an
// existing one. Nil SquadID and DependsOn leave those fields untouched on
// update; an empty Status keeps the current status.
type FeatureUpsertOptions struct {
	ID        string
	TenantID  string
	EpicID    string
	Details   domain.FeatureDetails
	SquadID   *string
	Status    string
	DependsOn []string
	ActorID   string
}

// UpsertFeature returns the saved record and whether it was created.
func (e Engine) UpsertFeature(ctx context.Context, opts FeatureUpsertOptions) (domain.FeatureRecord, bool, error) {
	if err := e.requireTenant(ctx, opts.TenantID); err != nil {
		return domain.FeatureRecord{}, false, err
	}
	var status catalog.Value
	if opts.Status != "" {
		v, err := e.lookup(opts.TenantID, catalog.FeatureStatus, opts.Status)
		if err != nil {
			return domain.FeatureRecord{}, false, err
		}
		status = v
	}
	cfg, err := e.TenantConfig(ctx, opts.TenantID)
	if err != nil {
		return domain.FeatureRecord{}, false, err
	}
	now := e.now()
	var (
		rec     domain.FeatureRecord
		created bool
	)
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		var f *domain.Feature
		if opts.ID != "" {
			existing, err := e.Repo.GetFeature(ctx, tx, opts.TenantID, opts.ID)
			switch {
			case err == nil:
				f = existing
			case !errors.Is(err, repo.ErrNotFound):
				return err
			}
		}
		if f == nil {
			if _, err := e.Repo.GetEpic(ctx, tx, opts.TenantID, opts.EpicID); err != nil {
				return err
			}
			if status.IsZero() {
				v, err := e.Catalog.Initial(opts.TenantID, catalog.FeatureStatus)
				if err != nil {
					return err
				}
				status = v
			}
			d := opts.Details
			p := domain.NewFeatureParams{
				ID:                 newID(opts.ID),
				TenantID:           opts.TenantID,
				EpicID:             opts.EpicID,
				Title:              deref(d.Title),
				Description:        deref(d.Description),
				RiskNotes:          deref(d.RiskNotes),
				AcceptanceCriteria: deref(d.AcceptanceCriteria),
				Status:             status,
				Now:                now,
			}
			if d.Estimate != nil {
				p.Estimate = *d.Estimate
			}
			if opts.SquadID != nil {
				p.SquadID = *opts.SquadID
			}
			nf, err := domain.NewFeature(p)
			if err != nil {
				return err
			}
			f = nf
			created = true
		} else {
			if opts.EpicID != "" && opts.EpicID != f.Record().EpicID {
				return fmt.Errorf("%w: feature %s belongs to epic %s", domain.ErrInvalidInput, f.ID(), f.Record().EpicID)
			}
			if err := f.UpdateDetails(opts.Details, now); err != nil {
				return err
			}
			if !status.IsZero() {
				if err := f.UpdateStatus(status, now); err != nil {
					return err
				}
			}
			if opts.SquadID != nil {
				f.AssignSquad(*opts.SquadID, now)
			}
		}
		if opts.SquadID != nil && *opts.SquadID != "" {
			if _, err := e.Repo.GetSquad(ctx, tx, opts.TenantID, *opts.SquadID); err != nil {
				return err
			}
		}
		if opts.DependsOn != nil {
			if err := e.checkFeatureDependencies(ctx, tx, opts.TenantID, f.ID(), opts.DependsOn, cfg.RejectsDependencyCycles()); err != nil {
				return err
			}
			if err := f.SetDependencies(opts.DependsOn, now); err != nil {
				return err
			}
		}
		if err := e.Repo.SaveFeature(ctx, tx, f); err != nil {
			return err
		}
		rec = f.Record()
		evtType := "feature.update"
		if created {
			evtType = "feature.create"
		}
		return e.emit(ctx, tx, evtType, opts.TenantID, events.KindFeature, rec.ID, opts.ActorID,
			events.EventPayload{"epic_id": rec.EpicID, "title": rec.Title, "estimate": rec.Estimate})
	})
	if err != nil {
		return domain.FeatureRecord{}, false, err
	}
	return rec, created, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (e Engine) GetFeature(ctx context.Context, tenantID, id string) (domain.FeatureRecord, error) {
	f, err := e.Repo.GetFeature(ctx, nil, tenantID, id)
	if err != nil {
		return domain.FeatureRecord{}, err
	}
	return f.Record(), nil
}

func (e Engine) ListFeatures(ctx context.Context, f repo.FeatureFilters) ([]domain.FeatureRecord, error) {
	q, err := filterQuarter(f.Quarter)
	if err != nil {
		return nil, err
	}
	f.Quarter = q
	features, err := e.Repo.ListFeatures(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FeatureRecord, 0, len(features))
	for _, ft := range features {
		out = append(out, ft.Record())
	}
	return out, nil
}

func (e Engine) mutateFeature(ctx context.Context, tenantID, id, actorID, evtType string, payload events.EventPayload, fn func(*sql.Tx, *domain.Feature) error) (domain.FeatureRecord, error) {
	var rec domain.FeatureRecord
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		f, err := e.Repo.GetFeature(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(tx, f); err != nil {
			return err
		}
		if err := e.Repo.SaveFeature(ctx, tx, f); err != nil {
			return err
		}
		rec = f.Record()
		return e.emit(ctx, tx, evtType, tenantID, events.KindFeature, id, actorID, payload)
	})
	return rec, err
}

func (e Engine) UpdateFeatureStatus(ctx context.Context, tenantID, id, status, actorID string) (domain.FeatureRecord, error) {
	v, err := e.lookup(tenantID, catalog.FeatureStatus, status)
	if err != nil {
		return domain.FeatureRecord{}, err
	}
	return e.mutateFeature(ctx, tenantID, id, actorID, "feature.status", events.EventPayload{"status": v.Slug()}, func(_ *sql.Tx, f *domain.Feature) error {
		return f.UpdateStatus(v, e.now())
	})
}

func (e Engine) AssignFeatureSquad(ctx context.Context, tenantID, id, squadID, actorID string) (domain.FeatureRecord, error) {
	return e.mutateFeature(ctx, tenantID, id, actorID, "feature.assign", events.EventPayload{"squad_id": squadID}, func(tx *sql.Tx, f *domain.Feature) error {
		if squadID != "" {
			if _, err := e.Repo.GetSquad(ctx, tx, tenantID, squadID); err != nil {
				return err
			}
		}
		f.AssignSquad(squadID, e.now())
		return nil
	})
}

// SetFeatureDependencies replaces the feature's declared dependency list.
// Every id must name a feature of the tenant.
func (e Engine) SetFeatureDependencies(ctx context.Context, tenantID, id string, dependsOn []string, actorID string) (domain.FeatureRecord, error) {
	cfg, err := e.TenantConfig(ctx, tenantID)
	if err != nil {
		return domain.FeatureRecord{}, err
	}
	return e.mutateFeature(ctx, tenantID, id, actorID, "feature.dependencies", events.EventPayload{"depends_on": dependsOn}, func(tx *sql.Tx, f *domain.Feature) error {
		if err := e.checkFeatureDependencies(ctx, tx, tenantID, id, dependsOn, cfg.RejectsDependencyCycles()); err != nil {
			return err
		}
		return f.SetDependencies(dependsOn, e.now())
	})
}

func (e Engine) MarkFeatureReviewed(ctx context.Context, tenantID, id, reviewerID string) (domain.FeatureRecord, error) {
	return e.mutateFeature(ctx, tenantID, id, reviewerID, "feature.review", events.EventPayload{"reviewer_id": reviewerID}, func(_ *sql.Tx, f *domain.Feature) error {
		return f.MarkReviewed(reviewerID, e.now())
	})
}

// checkFeatureDependencies validates a replacement depends_on list for
// featureID against the tenant's current graph, ignoring the feature's own
// previous list.
func (e Engine) checkFeatureDependencies(ctx context.Context, tx *sql.Tx, tenantID, featureID string, dependsOn []string, rejectCycles bool) error {
	for _, dep := range dependsOn {
		if dep == featureID {
			return fmt.Errorf("%w: %s", domain.ErrSelfDependency, featureID)
		}
		if _, err := e.Repo.GetFeature(ctx, tx, tenantID, dep); err != nil {
			return err
		}
	}
	if !rejectCycles {
		return nil
	}
	g, err := e.dependencyGraph(ctx, tx, tenantID, featureID)
	if err != nil {
		return err
	}
	for _, dep := range dependsOn {
		if err := g.ValidateEdge(featureID, dep, true); err != nil {
			return err
		}
		g.Add(featureID, dep)
	}
	return nil
}
