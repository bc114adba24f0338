package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
)

const epicColumns = `id,tenant_id,COALESCE(squad_id,''),COALESCE(product_id,''),title,COALESCE(description,''),status,health,quarter,progress_percent,created_at,updated_at`

func (r Repo) scanEpic(row rowScanner) (*domain.Epic, error) {
	var rec domain.EpicRecord
	var status, health string
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.SquadID, &rec.ProductID, &rec.Title, &rec.Description,
		&status, &health, &rec.Quarter, &rec.ProgressPercent, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.Status, err = r.value(rec.TenantID, catalog.EpicStatus, status); err != nil {
		return nil, err
	}
	if rec.Health, err = r.value(rec.TenantID, catalog.EpicHealth, health); err != nil {
		return nil, err
	}
	return domain.RestoreEpic(rec), nil
}

func (r Repo) SaveEpic(ctx context.Context, tx *sql.Tx, e *domain.Epic) error {
	rec := e.Record()
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO epics(id,tenant_id,squad_id,product_id,title,description,status,health,quarter,progress_percent,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,id) DO UPDATE SET squad_id=excluded.squad_id, product_id=excluded.product_id, title=excluded.title, description=excluded.description,
status=excluded.status, health=excluded.health, quarter=excluded.quarter, progress_percent=excluded.progress_percent, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, nullable(rec.SquadID), nullable(rec.ProductID), rec.Title, nullable(rec.Description),
		rec.Status.Slug(), rec.Health.Slug(), rec.Quarter, rec.ProgressPercent, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetEpic(ctx context.Context, tx *sql.Tx, tenantID, id string) (*domain.Epic, error) {
	e, err := r.scanEpic(r.q(tx).QueryRowContext(ctx, `SELECT `+epicColumns+` FROM epics WHERE tenant_id=? AND id=?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("epic %s: %w", id, ErrNotFound)
	}
	return e, err
}

type EpicFilters struct {
	TenantID  string
	Quarter   string
	SquadID   string
	ProductID string
	Status    string
}

func (r Repo) ListEpics(ctx context.Context, f EpicFilters) ([]*domain.Epic, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.Quarter != "" {
		clauses = append(clauses, "quarter=?")
		args = append(args, f.Quarter)
	}
	if f.SquadID != "" {
		clauses = append(clauses, "squad_id=?")
		args = append(args, f.SquadID)
	}
	if f.ProductID != "" {
		clauses = append(clauses, "product_id=?")
		args = append(args, f.ProductID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+epicColumns+` FROM epics WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Epic
	for rows.Next() {
		e, err := r.scanEpic(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const featureColumns = `id,tenant_id,epic_id,title,COALESCE(description,''),COALESCE(squad_id,''),estimate,status,COALESCE(risk_notes,''),COALESCE(acceptance_criteria,''),depends_on_json,COALESCE(reviewer_id,''),reviewed_at,created_at,updated_at`

func (r Repo) scanFeature(row rowScanner) (*domain.Feature, error) {
	var rec domain.FeatureRecord
	var status string
	var dependsOn, reviewedAt sql.NullString
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.EpicID, &rec.Title, &rec.Description, &rec.SquadID, &rec.Estimate,
		&status, &rec.RiskNotes, &rec.AcceptanceCriteria, &dependsOn, &rec.ReviewerID, &reviewedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := r.value(rec.TenantID, catalog.FeatureStatus, status)
	if err != nil {
		return nil, err
	}
	rec.Status = v
	if err := unmarshalJSON(dependsOn, &rec.DependsOn); err != nil {
		return nil, fmt.Errorf("feature %s depends_on: %w", rec.ID, err)
	}
	if rec.DependsOn == nil {
		rec.DependsOn = []string{}
	}
	rec.ReviewedAt = stringPtr(reviewedAt)
	return domain.RestoreFeature(rec), nil
}

func (r Repo) SaveFeature(ctx context.Context, tx *sql.Tx, f *domain.Feature) error {
	rec := f.Record()
	deps := rec.DependsOn
	if deps == nil {
		deps = []string{}
	}
	dependsOn, err := marshalJSON(deps)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO features(id,tenant_id,epic_id,title,description,squad_id,estimate,status,risk_notes,acceptance_criteria,depends_on_json,reviewer_id,reviewed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,id) DO UPDATE SET epic_id=excluded.epic_id, title=excluded.title, description=excluded.description, squad_id=excluded.squad_id,
estimate=excluded.estimate, status=excluded.status, risk_notes=excluded.risk_notes, acceptance_criteria=excluded.acceptance_criteria,
depends_on_json=excluded.depends_on_json, reviewer_id=excluded.reviewer_id, reviewed_at=excluded.reviewed_at, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, rec.EpicID, rec.Title, nullable(rec.Description), nullable(rec.SquadID), rec.Estimate, rec.Status.Slug(),
		nullable(rec.RiskNotes), nullable(rec.AcceptanceCriteria), dependsOn, nullable(rec.ReviewerID), nullableStringPtr(rec.ReviewedAt),
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetFeature(ctx context.Context, tx *sql.Tx, tenantID, id string) (*domain.Feature, error) {
	f, err := r.scanFeature(r.q(tx).QueryRowContext(ctx, `SELECT `+featureColumns+` FROM features WHERE tenant_id=? AND id=?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	return f, err
}

type FeatureFilters struct {
	TenantID string
	EpicID   string
	SquadID  string
	// Quarter narrows to features whose epic is planned for the quarter.
	Quarter string
}

func (r Repo) ListFeatures(ctx context.Context, f FeatureFilters) ([]*domain.Feature, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.EpicID != "" {
		clauses = append(clauses, "epic_id=?")
		args = append(args, f.EpicID)
	}
	if f.SquadID != "" {
		clauses = append(clauses, "squad_id=?")
		args = append(args, f.SquadID)
	}
	if f.Quarter != "" {
		clauses = append(clauses, "epic_id IN (SELECT id FROM epics WHERE tenant_id=? AND quarter=?)")
		args = append(args, f.TenantID, f.Quarter)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+featureColumns+` FROM features WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Feature
	for rows.Next() {
		ft, err := r.scanFeature(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ft)
	}
	return res, rows.Err()
}
