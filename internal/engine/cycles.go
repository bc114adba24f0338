package engine

import (
	"context"
	"database/sql"
	"fmt"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/events"
)

type CycleCreateOptions struct {
	ID        string
	TenantID  string
	ProductID string
	Quarter   string
	Checklist []domain.ChecklistItem
	ActorID   string
}

// CreatePlanningCycle opens a cycle in the catalog's initial status. Only one
// non-closed cycle may exist per (tenant, quarter, product).
func (e Engine) CreatePlanningCycle(ctx context.Context, opts CycleCreateOptions) (domain.PlanningCycleRecord, error) {
	if err := e.requireTenant(ctx, opts.TenantID); err != nil {
		return domain.PlanningCycleRecord{}, err
	}
	status, err := e.Catalog.Initial(opts.TenantID, catalog.PlanningCycleStatus)
	if err != nil {
		return domain.PlanningCycleRecord{}, err
	}
	c, err := domain.NewPlanningCycle(domain.NewPlanningCycleParams{
		ID:        newID(opts.ID),
		TenantID:  opts.TenantID,
		ProductID: opts.ProductID,
		Quarter:   opts.Quarter,
		Status:    status,
		Checklist: opts.Checklist,
		Now:       e.now(),
	})
	if err != nil {
		return domain.PlanningCycleRecord{}, err
	}
	rec := c.Record()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.ensureNoActiveCycle(ctx, tx, rec.TenantID, rec.Quarter, rec.ProductID, ""); err != nil {
			return err
		}
		if _, err := e.Repo.GetPlanningCycle(ctx, tx, rec.TenantID, rec.ID); err == nil {
			return fmt.Errorf("%w: planning cycle %s already exists", domain.ErrConflict, rec.ID)
		}
		if err := e.Repo.SavePlanningCycle(ctx, tx, c); err != nil {
			return err
		}
		return e.emit(ctx, tx, "cycle.create", rec.TenantID, events.KindCycle, rec.ID, opts.ActorID,
			events.EventPayload{"quarter": rec.Quarter, "product_id": rec.ProductID})
	})
	if err != nil {
		return domain.PlanningCycleRecord{}, err
	}
	return rec, nil
}

func (e Engine) ensureNoActiveCycle(ctx context.Context, tx *sql.Tx, tenantID, quarter, productID, exceptID string) error {
	cycles, err := e.Repo.ListPlanningCycles(ctx, tx, tenantID, quarter, productID, true)
	if err != nil {
		return err
	}
	for _, c := range cycles {
		if c.ID() != exceptID && !c.IsClosed() {
			return fmt.Errorf("%w: planning cycle %s is still active for %s", domain.ErrConflict, c.ID(), quarter)
		}
	}
	return nil
}

func (e Engine) GetPlanningCycle(ctx context.Context, tenantID, id string) (domain.PlanningCycleRecord, error) {
	c, err := e.Repo.GetPlanningCycle(ctx, nil, tenantID, id)
	if err != nil {
		return domain.PlanningCycleRecord{}, err
	}
	return c.Record(), nil
}

func (e Engine) ListPlanningCycles(ctx context.Context, tenantID, quarter, productID string) ([]domain.PlanningCycleRecord, error) {
	if quarter != "" {
		q, err := domain.ParseQuarter(quarter)
		if err != nil {
			return nil, err
		}
		quarter = q
	}
	cycles, err := e.Repo.ListPlanningCycles(ctx, nil, tenantID, quarter, productID, false)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PlanningCycleRecord, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, c.Record())
	}
	return out, nil
}

func (e Engine) mutateCycle(ctx context.Context, tenantID, id, actorID, evtType string, payload events.EventPayload, fn func(*sql.Tx, *domain.PlanningCycle) error) (domain.PlanningCycleRecord, error) {
	var rec domain.PlanningCycleRecord
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetPlanningCycle(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(tx, c); err != nil {
			return err
		}
		if err := e.Repo.SavePlanningCycle(ctx, tx, c); err != nil {
			return err
		}
		rec = c.Record()
		return e.emit(ctx, tx, evtType, tenantID, events.KindCycle, id, actorID, payload)
	})
	return rec, err
}

// UpdateCycleStatus moves the cycle to status. Reopening a closed cycle is
// allowed unless another cycle is active for the same quarter and product.
func (e Engine) UpdateCycleStatus(ctx context.Context, tenantID, id, status string, phase *int, actorID string) (domain.PlanningCycleRecord, error) {
	v, err := e.lookup(tenantID, catalog.PlanningCycleStatus, status)
	if err != nil {
		return domain.PlanningCycleRecord{}, err
	}
	payload := events.EventPayload{"status": v.Slug()}
	if phase != nil {
		payload["phase"] = *phase
	}
	return e.mutateCycle(ctx, tenantID, id, actorID, "cycle.status", payload, func(tx *sql.Tx, c *domain.PlanningCycle) error {
		if c.IsClosed() && !v.IsClosed() {
			rec := c.Record()
			if err := e.ensureNoActiveCycle(ctx, tx, tenantID, rec.Quarter, rec.ProductID, rec.ID); err != nil {
				return err
			}
		}
		return c.UpdateStatus(v, phase, e.now())
	})
}

func (e Engine) UpdateCycleChecklist(ctx context.Context, tenantID, id string, items []domain.ChecklistItem, actorID string) (domain.PlanningCycleRecord, error) {
	return e.mutateCycle(ctx, tenantID, id, actorID, "cycle.checklist", events.EventPayload{"items": len(items)}, func(_ *sql.Tx, c *domain.PlanningCycle) error {
		return c.UpdateChecklist(items, e.now())
	})
}

func (e Engine) RecordCycleParticipants(ctx context.Context, tenantID, id string, confirmed, total int, actorID string) (domain.PlanningCycleRecord, error) {
	return e.mutateCycle(ctx, tenantID, id, actorID, "cycle.participants",
		events.EventPayload{"confirmed": confirmed, "total": total}, func(_ *sql.Tx, c *domain.PlanningCycle) error {
			return c.RecordParticipants(confirmed, total, e.now())
		})
}

func (e Engine) UpdateCycleAgenda(ctx context.Context, tenantID, id, url, actorID string) (domain.PlanningCycleRecord, error) {
	return e.mutateCycle(ctx, tenantID, id, actorID, "cycle.agenda", events.EventPayload{"agenda_url": url}, func(_ *sql.Tx, c *domain.PlanningCycle) error {
		c.UpdateAgenda(url, e.now())
		return nil
	})
}

func (e Engine) UpdateCyclePreparation(ctx context.Context, tenantID, id string, data map[string]any, actorID string) (domain.PlanningCycleRecord, error) {
	return e.mutateCycle(ctx, tenantID, id, actorID, "cycle.preparation", nil, func(_ *sql.Tx, c *domain.PlanningCycle) error {
		c.UpdatePreparationData(data, e.now())
		return nil
	})
}
