package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	TenantID   string
}

func (e ForbiddenError) Error() string {
	if e.TenantID == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required on tenant %s", e.Permission, e.TenantID)
}

// Service provides RBAC helpers backed by SQL. Roles and their permissions
// are synced per tenant from the tenant config; grants live in actor_roles.
type Service struct {
	DB *sql.DB
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// q runs on tx when given, otherwise directly on the database.
func (s Service) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.DB
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, tenantID, actorID, perm string) (bool, error) {
	row := s.q(tx).QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.tenant_id=ar.tenant_id AND rp.role_id=ar.role_id
WHERE ar.tenant_id=? AND ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		tenantID, actorID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Require returns ForbiddenError unless the actor holds perm on the tenant.
func (s Service) Require(ctx context.Context, tenantID, actorID, perm string) error {
	ok, err := s.ActorHasPermission(ctx, nil, tenantID, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm, TenantID: tenantID}
	}
	return nil
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, tenantID, actorID string) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.tenant_id=ar.tenant_id AND rp.role_id=ar.role_id
WHERE ar.tenant_id=? AND ar.actor_id=?
ORDER BY rp.permission_id`, tenantID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
