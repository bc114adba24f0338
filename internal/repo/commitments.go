package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quarterplan/internal/domain"
)

const commitmentColumns = `id,tenant_id,product_id,quarter,COALESCE(planning_cycle_id,''),committed_json,targeted_json,aspirational_json,created_at,updated_at`

func scanCommitment(row rowScanner) (*domain.Commitment, error) {
	var rec domain.CommitmentRecord
	var committed, targeted, aspirational sql.NullString
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.ProductID, &rec.Quarter, &rec.PlanningCycleID,
		&committed, &targeted, &aspirational, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	for _, b := range []struct {
		raw  sql.NullString
		dest *[]string
	}{{committed, &rec.Committed}, {targeted, &rec.Targeted}, {aspirational, &rec.Aspirational}} {
		if err := unmarshalJSON(b.raw, b.dest); err != nil {
			return nil, fmt.Errorf("commitment %s tiers: %w", rec.ID, err)
		}
		if *b.dest == nil {
			*b.dest = []string{}
		}
	}
	return domain.RestoreCommitment(rec), nil
}

// SaveCommitment upserts on (tenant, product, quarter).
func (r Repo) SaveCommitment(ctx context.Context, tx *sql.Tx, c *domain.Commitment) error {
	rec := c.Record()
	committed, err := marshalJSON(rec.Committed)
	if err != nil {
		return err
	}
	targeted, err := marshalJSON(rec.Targeted)
	if err != nil {
		return err
	}
	aspirational, err := marshalJSON(rec.Aspirational)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO commitments(id,tenant_id,product_id,quarter,planning_cycle_id,committed_json,targeted_json,aspirational_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,product_id,quarter) DO UPDATE SET planning_cycle_id=excluded.planning_cycle_id, committed_json=excluded.committed_json,
targeted_json=excluded.targeted_json, aspirational_json=excluded.aspirational_json, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, rec.ProductID, rec.Quarter, nullable(rec.PlanningCycleID), committed, targeted, aspirational,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetCommitment(ctx context.Context, tx *sql.Tx, tenantID, productID, quarter string) (*domain.Commitment, error) {
	c, err := scanCommitment(r.q(tx).QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE tenant_id=? AND product_id=? AND quarter=?`,
		tenantID, productID, quarter))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("commitment %s/%s: %w", productID, quarter, ErrNotFound)
	}
	return c, err
}

// ListCommitments returns every product's commitment for a quarter.
func (r Repo) ListCommitments(ctx context.Context, tenantID, quarter string) ([]*domain.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE tenant_id=?`
	args := []any{tenantID}
	if quarter != "" {
		query += ` AND quarter=?`
		args = append(args, quarter)
	}
	query += ` ORDER BY product_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
