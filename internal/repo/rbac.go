package repo

import (
	"context"
	"database/sql"
	"sort"

	"quarterplan/internal/config"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// SyncRoles replaces the tenant's role and permission rows with the roles
// declared in its config. Actor grants are kept.
func (r Repo) SyncRoles(ctx context.Context, tx *sql.Tx, tenantID string, roles map[string]config.RBACRole) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE tenant_id=?`, tenantID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE tenant_id=?`, tenantID); err != nil {
		return err
	}
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		role := roles[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO roles(tenant_id, id, description) VALUES (?,?,?)`, tenantID, id, nullable(role.Description)); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(tenant_id, role_id, permission_id) VALUES (?,?,?)`, tenantID, id, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, tenantID, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(tenant_id, actor_id, role_id) VALUES (?,?,?)`, tenantID, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, tenantID, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE tenant_id=? AND actor_id=? AND role_id=?`, tenantID, actorID, roleID)
	return err
}

// RoleExists reports whether the tenant's synced config declares roleID.
func (r Repo) RoleExists(ctx context.Context, tx *sql.Tx, tenantID, roleID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM roles WHERE tenant_id=? AND id=?`, tenantID, roleID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ActorRoles(ctx context.Context, tx *sql.Tx, tenantID, actorID string) ([]string, error) {
	return r.strings(ctx, tx, `SELECT role_id FROM actor_roles WHERE tenant_id=? AND actor_id=? ORDER BY role_id`, tenantID, actorID)
}

func (r Repo) RolePermissions(ctx context.Context, tx *sql.Tx, tenantID, roleID string) ([]string, error) {
	return r.strings(ctx, tx, `SELECT permission_id FROM role_permissions WHERE tenant_id=? AND role_id=? ORDER BY permission_id`, tenantID, roleID)
}

func (r Repo) strings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
