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

// SquadCreateOptions are parameters for creating a squad. Status defaults
// to the catalog's initial squad status.
type SquadCreateOptions struct {
	ID              string
	TenantID        string
	ProductID       string
	Name            string
	Slug            string
	Description     string
	Color           string
	Timezone        string
	DefaultCapacity float64
	Status          string
	ActorID         string
}

func (e Engine) CreateSquad(ctx context.Context, opts SquadCreateOptions) (domain.SquadRecord, error) {
	if err := e.requireTenant(ctx, opts.TenantID); err != nil {
		return domain.SquadRecord{}, err
	}
	status, err := e.valueOrInitial(opts.TenantID, catalog.SquadStatus, opts.Status)
	if err != nil {
		return domain.SquadRecord{}, err
	}
	s, err := domain.NewSquad(domain.NewSquadParams{
		ID:              newID(opts.ID),
		TenantID:        opts.TenantID,
		ProductID:       opts.ProductID,
		Name:            opts.Name,
		Slug:            opts.Slug,
		Description:     opts.Description,
		Color:           opts.Color,
		Timezone:        opts.Timezone,
		DefaultCapacity: opts.DefaultCapacity,
		Status:          status,
		Now:             e.now(),
	})
	if err != nil {
		return domain.SquadRecord{}, err
	}
	rec := s.Record()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetSquadBySlug(ctx, tx, rec.TenantID, rec.Slug); err == nil {
			return fmt.Errorf("%w: squad slug %s already in use", domain.ErrConflict, rec.Slug)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if _, err := e.Repo.GetSquad(ctx, tx, rec.TenantID, rec.ID); err == nil {
			return fmt.Errorf("%w: squad %s already exists", domain.ErrConflict, rec.ID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.Repo.SaveSquad(ctx, tx, s); err != nil {
			return err
		}
		return e.emit(ctx, tx, "squad.create", rec.TenantID, events.KindSquad, rec.ID, opts.ActorID,
			events.EventPayload{"name": rec.Name, "slug": rec.Slug, "status": rec.Status.Slug()})
	})
	if err != nil {
		return domain.SquadRecord{}, err
	}
	e.log().Debug("squad created", "tenant", rec.TenantID, "squad", rec.ID)
	return rec, nil
}

// GetSquad resolves a squad by id, then by slug.
func (e Engine) GetSquad(ctx context.Context, tenantID, ref string) (domain.SquadRecord, error) {
	s, err := e.Repo.GetSquad(ctx, nil, tenantID, ref)
	if errors.Is(err, repo.ErrNotFound) {
		s, err = e.Repo.GetSquadBySlug(ctx, nil, tenantID, domain.Slugify(ref))
	}
	if err != nil {
		return domain.SquadRecord{}, err
	}
	return s.Record(), nil
}

func (e Engine) ListSquads(ctx context.Context, f repo.SquadFilters) ([]domain.SquadRecord, error) {
	squads, err := e.Repo.ListSquads(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SquadRecord, 0, len(squads))
	for _, s := range squads {
		out = append(out, s.Record())
	}
	return out, nil
}

func (e Engine) mutateSquad(ctx context.Context, tenantID, id, actorID, evtType string, payload events.EventPayload, fn func(*domain.Squad) error) (domain.SquadRecord, error) {
	var rec domain.SquadRecord
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetSquad(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		if err := e.Repo.SaveSquad(ctx, tx, s); err != nil {
			return err
		}
		rec = s.Record()
		return e.emit(ctx, tx, evtType, tenantID, events.KindSquad, id, actorID, payload)
	})
	return rec, err
}

func (e Engine) UpdateSquad(ctx context.Context, tenantID, id string, patch domain.SquadPatch, actorID string) (domain.SquadRecord, error) {
	payload := events.EventPayload{}
	if patch.Name != nil {
		payload["name"] = *patch.Name
	}
	if patch.DefaultCapacity != nil {
		payload["default_capacity"] = *patch.DefaultCapacity
	}
	return e.mutateSquad(ctx, tenantID, id, actorID, "squad.update", payload, func(s *domain.Squad) error {
		return s.Update(patch, e.now())
	})
}

func (e Engine) ChangeSquadStatus(ctx context.Context, tenantID, id, status, actorID string) (domain.SquadRecord, error) {
	v, err := e.lookup(tenantID, catalog.SquadStatus, status)
	if err != nil {
		return domain.SquadRecord{}, err
	}
	return e.mutateSquad(ctx, tenantID, id, actorID, "squad.status", events.EventPayload{"status": v.Slug()}, func(s *domain.Squad) error {
		return s.ChangeStatus(v, e.now())
	})
}

// DeleteSquad removes the squad and its capacity snapshots. Epics and
// features keep their squad reference.
func (e Engine) DeleteSquad(ctx context.Context, tenantID, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteSquad(ctx, tx, tenantID, id); err != nil {
			return err
		}
		return e.emit(ctx, tx, "squad.delete", tenantID, events.KindSquad, id, actorID, nil)
	})
}
