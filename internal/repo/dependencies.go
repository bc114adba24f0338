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

const dependencyColumns = `id,tenant_id,blocked_feature_id,blocking_feature_id,type,risk,COALESCE(note,''),created_at,updated_at`

func (r Repo) scanDependency(row rowScanner) (*domain.Dependency, error) {
	var rec domain.DependencyRecord
	var typ, risk string
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.BlockedFeatureID, &rec.BlockingFeatureID, &typ, &risk, &rec.Note,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.Type, err = r.value(rec.TenantID, catalog.DependencyType, typ); err != nil {
		return nil, err
	}
	if rec.Risk, err = r.value(rec.TenantID, catalog.DependencyRisk, risk); err != nil {
		return nil, err
	}
	return domain.RestoreDependency(rec), nil
}

func (r Repo) SaveDependency(ctx context.Context, tx *sql.Tx, d *domain.Dependency) error {
	rec := d.Record()
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO dependencies(id,tenant_id,blocked_feature_id,blocking_feature_id,type,risk,note,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,id) DO UPDATE SET type=excluded.type, risk=excluded.risk, note=excluded.note, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, rec.BlockedFeatureID, rec.BlockingFeatureID, rec.Type.Slug(), rec.Risk.Slug(), nullable(rec.Note),
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetDependency(ctx context.Context, tx *sql.Tx, tenantID, id string) (*domain.Dependency, error) {
	d, err := r.scanDependency(r.q(tx).QueryRowContext(ctx, `SELECT `+dependencyColumns+` FROM dependencies WHERE tenant_id=? AND id=?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dependency %s: %w", id, ErrNotFound)
	}
	return d, err
}

// DependencyFilters narrows ListDependencies. FeatureID matches the blocked
// side only.
type DependencyFilters struct {
	TenantID  string
	FeatureID string
	EpicID    string
	Quarter   string
}

func (r Repo) ListDependencies(ctx context.Context, tx *sql.Tx, f DependencyFilters) ([]*domain.Dependency, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.FeatureID != "" {
		clauses = append(clauses, "blocked_feature_id=?")
		args = append(args, f.FeatureID)
	}
	if f.EpicID != "" {
		clauses = append(clauses, "blocked_feature_id IN (SELECT id FROM features WHERE tenant_id=? AND epic_id=?)")
		args = append(args, f.TenantID, f.EpicID)
	}
	if f.Quarter != "" {
		clauses = append(clauses, `blocked_feature_id IN (SELECT f.id FROM features f JOIN epics e ON e.tenant_id=f.tenant_id AND e.id=f.epic_id WHERE f.tenant_id=? AND e.quarter=?)`)
		args = append(args, f.TenantID, f.Quarter)
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+dependencyColumns+` FROM dependencies WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Dependency
	for rows.Next() {
		d, err := r.scanDependency(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// FeatureEdges returns every feature's declared depends_on list for the
// tenant, keyed by feature id.
func (r Repo) FeatureEdges(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.FeatureRecord, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,depends_on_json FROM features WHERE tenant_id=?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FeatureRecord
	for rows.Next() {
		var rec domain.FeatureRecord
		var raw sql.NullString
		if err := rows.Scan(&rec.ID, &raw); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(raw, &rec.DependsOn); err != nil {
			return nil, fmt.Errorf("feature %s depends_on: %w", rec.ID, err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDependency(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM dependencies WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dependency %s: %w", id, ErrNotFound)
	}
	return nil
}
