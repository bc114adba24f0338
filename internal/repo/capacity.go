package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quarterplan/internal/domain"
)

const capacityColumns = `id,tenant_id,squad_id,quarter,total_capacity,used_capacity,buffer_percent,adjustments_json,created_at,updated_at`

func scanCapacity(row rowScanner) (*domain.CapacitySnapshot, error) {
	var rec domain.CapacityRecord
	var adjustments sql.NullString
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.SquadID, &rec.Quarter, &rec.TotalCapacity, &rec.UsedCapacity,
		&rec.BufferPercent, &adjustments, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(adjustments, &rec.Adjustments); err != nil {
		return nil, fmt.Errorf("capacity %s adjustments: %w", rec.ID, err)
	}
	return domain.RestoreCapacitySnapshot(rec), nil
}

// SaveCapacity upserts on (tenant, squad, quarter). The stored id of an
// existing row wins over the snapshot's.
func (r Repo) SaveCapacity(ctx context.Context, tx *sql.Tx, c *domain.CapacitySnapshot) error {
	rec := c.Record()
	var adjustments any
	if rec.Adjustments != nil {
		raw, err := marshalJSON(rec.Adjustments)
		if err != nil {
			return err
		}
		adjustments = raw
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO capacity_snapshots(id,tenant_id,squad_id,quarter,total_capacity,used_capacity,buffer_percent,adjustments_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,squad_id,quarter) DO UPDATE SET total_capacity=excluded.total_capacity, used_capacity=excluded.used_capacity,
buffer_percent=excluded.buffer_percent, adjustments_json=excluded.adjustments_json, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, rec.SquadID, rec.Quarter, rec.TotalCapacity, rec.UsedCapacity, rec.BufferPercent, adjustments, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetCapacity(ctx context.Context, tx *sql.Tx, tenantID, squadID, quarter string) (*domain.CapacitySnapshot, error) {
	c, err := scanCapacity(r.q(tx).QueryRowContext(ctx, `SELECT `+capacityColumns+` FROM capacity_snapshots WHERE tenant_id=? AND squad_id=? AND quarter=?`,
		tenantID, squadID, quarter))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capacity %s/%s: %w", squadID, quarter, ErrNotFound)
	}
	return c, err
}

// ListCapacity returns the tenant's snapshots, narrowed to one quarter when
// quarter is set, ordered by squad.
func (r Repo) ListCapacity(ctx context.Context, tenantID, quarter string) ([]*domain.CapacitySnapshot, error) {
	query := `SELECT ` + capacityColumns + ` FROM capacity_snapshots WHERE tenant_id=?`
	args := []any{tenantID}
	if quarter != "" {
		query += ` AND quarter=?`
		args = append(args, quarter)
	}
	query += ` ORDER BY quarter, squad_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.CapacitySnapshot
	for rows.Next() {
		c, err := scanCapacity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
