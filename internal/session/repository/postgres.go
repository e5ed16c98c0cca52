package repository

import (
	"context"
	"time"

	"saas-admin/backend/internal/db"
	"saas-admin/backend/internal/session/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a refresh-token repository that uses the given pool or transaction.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists the record. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, revoked, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.TokenHash, t.Revoked, t.RevokedAt, t.CreatedAt)
	return err
}

// ListActiveByUser returns non-revoked records for the user. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.RefreshToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, token_hash, revoked, revoked_at, created_at
		FROM refresh_tokens WHERE user_id = $1 AND revoked = false ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RefreshToken
	for rows.Next() {
		var t domain.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Revoked, &t.RevokedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Revoke is a conditional update; zero affected rows means another caller already revoked it.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = $2 WHERE id = $1 AND revoked = false`,
		id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRevoked
	}
	return nil
}

// RevokeAllByUser revokes all active records for the user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = $2 WHERE user_id = $1 AND revoked = false`,
		userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
