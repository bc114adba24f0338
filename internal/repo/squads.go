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

const squadColumns = `id,tenant_id,COALESCE(product_id,''),name,slug,COALESCE(description,''),status,default_capacity,COALESCE(color,''),COALESCE(timezone,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r Repo) scanSquad(row rowScanner) (*domain.Squad, error) {
	var rec domain.SquadRecord
	var status string
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.ProductID, &rec.Name, &rec.Slug, &rec.Description, &status,
		&rec.DefaultCapacity, &rec.Color, &rec.Timezone, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := r.value(rec.TenantID, catalog.SquadStatus, status)
	if err != nil {
		return nil, err
	}
	rec.Status = v
	return domain.RestoreSquad(rec), nil
}

// SaveSquad inserts or fully replaces a squad row.
func (r Repo) SaveSquad(ctx context.Context, tx *sql.Tx, s *domain.Squad) error {
	rec := s.Record()
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO squads(id,tenant_id,product_id,name,slug,description,status,default_capacity,color,timezone,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,id) DO UPDATE SET product_id=excluded.product_id, name=excluded.name, slug=excluded.slug, description=excluded.description,
status=excluded.status, default_capacity=excluded.default_capacity, color=excluded.color, timezone=excluded.timezone, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, nullable(rec.ProductID), rec.Name, rec.Slug, nullable(rec.Description), rec.Status.Slug(),
		rec.DefaultCapacity, nullable(rec.Color), nullable(rec.Timezone), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetSquad(ctx context.Context, tx *sql.Tx, tenantID, id string) (*domain.Squad, error) {
	s, err := r.scanSquad(r.q(tx).QueryRowContext(ctx, `SELECT `+squadColumns+` FROM squads WHERE tenant_id=? AND id=?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("squad %s: %w", id, ErrNotFound)
	}
	return s, err
}

// GetSquadBySlug resolves a squad by its tenant-unique slug.
func (r Repo) GetSquadBySlug(ctx context.Context, tx *sql.Tx, tenantID, slug string) (*domain.Squad, error) {
	s, err := r.scanSquad(r.q(tx).QueryRowContext(ctx, `SELECT `+squadColumns+` FROM squads WHERE tenant_id=? AND slug=?`, tenantID, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("squad %s: %w", slug, ErrNotFound)
	}
	return s, err
}

type SquadFilters struct {
	TenantID  string
	ProductID string
	Status    string
}

func (r Repo) ListSquads(ctx context.Context, f SquadFilters) ([]*domain.Squad, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.ProductID != "" {
		clauses = append(clauses, "product_id=?")
		args = append(args, f.ProductID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+squadColumns+` FROM squads WHERE `+strings.Join(clauses, " AND ")+` ORDER BY slug`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Squad
	for rows.Next() {
		s, err := r.scanSquad(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSquad(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM squads WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("squad %s: %w", id, ErrNotFound)
	}
	return nil
}
