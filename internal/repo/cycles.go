package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
)

const cycleColumns = `id,tenant_id,COALESCE(product_id,''),quarter,status,phase,checklist_json,COALESCE(agenda_url,''),confirmed_participants,total_participants,preparation_json,started_at,finished_at,created_at,updated_at`

func (r Repo) scanCycle(row rowScanner) (*domain.PlanningCycle, error) {
	var rec domain.PlanningCycleRecord
	var status string
	var checklist, prep, started, finished sql.NullString
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.ProductID, &rec.Quarter, &status, &rec.Phase, &checklist, &rec.AgendaURL,
		&rec.ConfirmedParticipants, &rec.TotalParticipants, &prep, &started, &finished, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := r.value(rec.TenantID, catalog.PlanningCycleStatus, status)
	if err != nil {
		return nil, err
	}
	rec.Status = v
	if err := unmarshalJSON(checklist, &rec.Checklist); err != nil {
		return nil, fmt.Errorf("planning cycle %s checklist: %w", rec.ID, err)
	}
	if rec.Checklist == nil {
		rec.Checklist = []domain.ChecklistItem{}
	}
	if err := unmarshalJSON(prep, &rec.PreparationData); err != nil {
		return nil, fmt.Errorf("planning cycle %s preparation: %w", rec.ID, err)
	}
	rec.StartedAt = stringPtr(started)
	rec.FinishedAt = stringPtr(finished)
	return domain.RestorePlanningCycle(rec), nil
}

func (r Repo) SavePlanningCycle(ctx context.Context, tx *sql.Tx, c *domain.PlanningCycle) error {
	rec := c.Record()
	items := rec.Checklist
	if items == nil {
		items = []domain.ChecklistItem{}
	}
	checklist, err := marshalJSON(items)
	if err != nil {
		return err
	}
	var prep any
	if rec.PreparationData != nil {
		raw, err := marshalJSON(rec.PreparationData)
		if err != nil {
			return err
		}
		prep = raw
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO planning_cycles(id,tenant_id,product_id,quarter,status,phase,checklist_json,agenda_url,confirmed_participants,total_participants,preparation_json,started_at,finished_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,id) DO UPDATE SET status=excluded.status, phase=excluded.phase, checklist_json=excluded.checklist_json, agenda_url=excluded.agenda_url,
confirmed_participants=excluded.confirmed_participants, total_participants=excluded.total_participants, preparation_json=excluded.preparation_json,
started_at=excluded.started_at, finished_at=excluded.finished_at, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, nullable(rec.ProductID), rec.Quarter, rec.Status.Slug(), rec.Phase, checklist, nullable(rec.AgendaURL),
		rec.ConfirmedParticipants, rec.TotalParticipants, prep, nullableStringPtr(rec.StartedAt), nullableStringPtr(rec.FinishedAt),
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetPlanningCycle(ctx context.Context, tx *sql.Tx, tenantID, id string) (*domain.PlanningCycle, error) {
	c, err := r.scanCycle(r.q(tx).QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM planning_cycles WHERE tenant_id=? AND id=?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("planning cycle %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ListPlanningCycles lists a tenant's cycles, optionally for one quarter and
// product. An empty productID matches cycles without a product only when
// exactProduct is set.
func (r Repo) ListPlanningCycles(ctx context.Context, tx *sql.Tx, tenantID, quarter, productID string, exactProduct bool) ([]*domain.PlanningCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM planning_cycles WHERE tenant_id=?`
	args := []any{tenantID}
	if quarter != "" {
		query += ` AND quarter=?`
		args = append(args, quarter)
	}
	if exactProduct {
		query += ` AND COALESCE(product_id,'')=?`
		args = append(args, productID)
	} else if productID != "" {
		query += ` AND product_id=?`
		args = append(args, productID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.PlanningCycle
	for rows.Next() {
		c, err := r.scanCycle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
