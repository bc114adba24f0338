package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/events"
	"quarterplan/internal/repo"
)

// EpicCreateOptions are parameters for creating an epic. Empty Status and
// Health take the catalog's initial values.
type EpicCreateOptions struct {
	ID          string
	TenantID    string
	SquadID     string
	ProductID   string
	Title       string
	Description string
	Status      string
	Health      string
	Quarter     string
	ActorID     string
}

func (e Engine) CreateEpic(ctx context.Context, opts EpicCreateOptions) (domain.EpicRecord, error) {
	if err := e.requireTenant(ctx, opts.TenantID); err != nil {
		return domain.EpicRecord{}, err
	}
	if opts.SquadID != "" {
		if _, err := e.Repo.GetSquad(ctx, nil, opts.TenantID, opts.SquadID); err != nil {
			return domain.EpicRecord{}, err
		}
	}
	status, err := e.valueOrInitial(opts.TenantID, catalog.EpicStatus, opts.Status)
	if err != nil {
		return domain.EpicRecord{}, err
	}
	health, err := e.valueOrInitial(opts.TenantID, catalog.EpicHealth, opts.Health)
	if err != nil {
		return domain.EpicRecord{}, err
	}
	ep, err := domain.NewEpic(domain.NewEpicParams{
		ID:          newID(opts.ID),
		TenantID:    opts.TenantID,
		SquadID:     opts.SquadID,
		ProductID:   opts.ProductID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      status,
		Health:      health,
		Quarter:     opts.Quarter,
		Now:         e.now(),
	})
	if err != nil {
		return domain.EpicRecord{}, err
	}
	rec := ep.Record()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetEpic(ctx, tx, rec.TenantID, rec.ID); err == nil {
			return fmt.Errorf("%w: epic %s already exists", domain.ErrConflict, rec.ID)
		}
		if err := e.Repo.SaveEpic(ctx, tx, ep); err != nil {
			return err
		}
		return e.emit(ctx, tx, "epic.create", rec.TenantID, events.KindEpic, rec.ID, opts.ActorID,
			events.EventPayload{"title": rec.Title, "quarter": rec.Quarter, "squad_id": rec.SquadID})
	})
	if err != nil {
		return domain.EpicRecord{}, err
	}
	return rec, nil
}

func (e Engine) GetEpic(ctx context.Context, tenantID, id string) (domain.EpicRecord, error) {
	ep, err := e.Repo.GetEpic(ctx, nil, tenantID, id)
	if err != nil {
		return domain.EpicRecord{}, err
	}
	return ep.Record(), nil
}

func (e Engine) ListEpics(ctx context.Context, f repo.EpicFilters) ([]domain.EpicRecord, error) {
	if f.Quarter != "" {
		q, err := domain.ParseQuarter(f.Quarter)
		if err != nil {
			return nil, err
		}
		f.Quarter = q
	}
	epics, err := e.Repo.ListEpics(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]domain.EpicRecord, 0, len(epics))
	for _, ep := range epics {
		out = append(out, ep.Record())
	}
	return out, nil
}

func (e Engine) mutateEpic(ctx context.Context, tenantID, id, actorID, evtType string, payload events.EventPayload, fn func(*domain.Epic) error) (domain.EpicRecord, error) {
	var rec domain.EpicRecord
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		ep, err := e.Repo.GetEpic(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(ep); err != nil {
			return err
		}
		if err := e.Repo.SaveEpic(ctx, tx, ep); err != nil {
			return err
		}
		rec = ep.Record()
		return e.emit(ctx, tx, evtType, tenantID, events.KindEpic, id, actorID, payload)
	})
	return rec, err
}

func (e Engine) UpdateEpicStatus(ctx context.Context, tenantID, id, status, actorID string) (domain.EpicRecord, error) {
	v, err := e.lookup(tenantID, catalog.EpicStatus, status)
	if err != nil {
		return domain.EpicRecord{}, err
	}
	return e.mutateEpic(ctx, tenantID, id, actorID, "epic.status", events.EventPayload{"status": v.Slug()}, func(ep *domain.Epic) error {
		return ep.UpdateStatus(v, e.now())
	})
}

func (e Engine) UpdateEpicHealth(ctx context.Context, tenantID, id, health, actorID string) (domain.EpicRecord, error) {
	v, err := e.lookup(tenantID, catalog.EpicHealth, health)
	if err != nil {
		return domain.EpicRecord{}, err
	}
	return e.mutateEpic(ctx, tenantID, id, actorID, "epic.health", events.EventPayload{"health": v.Slug()}, func(ep *domain.Epic) error {
		return ep.UpdateHealth(v, e.now())
	})
}

// UpdateEpicProgress accepts percentages in [0, 100].
func (e Engine) UpdateEpicProgress(ctx context.Context, tenantID, id string, percent float64, actorID string) (domain.EpicRecord, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return domain.EpicRecord{}, fmt.Errorf("%w: %.2f outside [0, 100]", domain.ErrInvalidProgress, percent)
	}
	return e.mutateEpic(ctx, tenantID, id, actorID, "epic.progress", events.EventPayload{"progress_percent": percent}, func(ep *domain.Epic) error {
		ep.UpdateProgress(percent, e.now())
		return nil
	})
}

// AssignEpicSquad sets the epic's squad; an empty squadID unassigns.
func (e Engine) AssignEpicSquad(ctx context.Context, tenantID, id, squadID, actorID string) (domain.EpicRecord, error) {
	if squadID != "" {
		if _, err := e.Repo.GetSquad(ctx, nil, tenantID, squadID); err != nil {
			return domain.EpicRecord{}, err
		}
	}
	return e.mutateEpic(ctx, tenantID, id, actorID, "epic.assign", events.EventPayload{"squad_id": squadID}, func(ep *domain.Epic) error {
		ep.AssignSquad(squadID, e.now())
		return nil
	})
}

func (e Engine) UpdateEpicDetails(ctx context.Context, tenantID, id string, title, description *string, actorID string) (domain.EpicRecord, error) {
	return e.mutateEpic(ctx, tenantID, id, actorID, "epic.update", nil, func(ep *domain.Epic) error {
		return ep.UpdateDetails(title, description, e.now())
	})
}
