package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"quarterplan/internal/domain"
)

const apiKeyColumns = `id,tenant_id,actor_id,COALESCE(name,''),key_hash,created_at,last_used_at`

// HashAPIKey returns the SHA-256 hex digest stored in place of a key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func scanAPIKey(row rowScanner) (domain.APIKey, error) {
	var key domain.APIKey
	var lastUsed sql.NullString
	if err := row.Scan(&key.ID, &key.TenantID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsed); err != nil {
		return domain.APIKey{}, err
	}
	key.LastUsedAt = stringPtr(lastUsed)
	return key, nil
}

func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	switch {
	case key.ID == "", key.TenantID == "", key.ActorID == "":
		return fmt.Errorf("%w: api key needs id, tenant and actor", domain.ErrInvalidInput)
	case key.KeyHash == "":
		return fmt.Errorf("%w: api key hash required", domain.ErrInvalidInput)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO api_keys(id,tenant_id,actor_id,name,key_hash,created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.TenantID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash resolves a presented key. The caller decides whether the
// key's tenant matches the request.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	key, err := scanAPIKey(r.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, fmt.Errorf("api key: %w", ErrNotFound)
	}
	return key, err
}

func (r Repo) GetAPIKey(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.APIKey, error) {
	key, err := scanAPIKey(r.q(tx).QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id=? AND id=?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return key, err
}

// ListAPIKeys returns a tenant's keys, newest first; a non-empty actorID
// narrows to that actor.
func (r Repo) ListAPIKeys(ctx context.Context, tenantID, actorID string) ([]domain.APIKey, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{tenantID}
	if actorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, actorID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r Repo) TouchAPIKey(ctx context.Context, id, at string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, at, id)
	return err
}

func (r Repo) DeleteAPIKey(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM api_keys WHERE tenant_id=? AND id=?`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}
