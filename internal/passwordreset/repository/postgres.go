package repository

import (
	"context"
	"time"

	"saas-admin/backend/internal/db"
	"saas-admin/backend/internal/passwordreset/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a password-reset repository that uses the given pool or transaction.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists the record. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.PasswordReset) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO password_resets (id, user_id, selector, verifier_hash, expires_at, used, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.Selector, p.VerifierHash, p.ExpiresAt, p.Used, p.UsedAt, p.CreatedAt)
	return err
}

// GetBySelector returns the record for selector, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetBySelector(ctx context.Context, selector string) (*domain.PasswordReset, error) {
	var p domain.PasswordReset
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, selector, verifier_hash, expires_at, used, used_at, created_at
		FROM password_resets WHERE selector = $1`, selector).
		Scan(&p.ID, &p.UserID, &p.Selector, &p.VerifierHash, &p.ExpiresAt, &p.Used, &p.UsedAt, &p.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// MarkUsed is a conditional update; zero affected rows means the record was already consumed.
func (r *PostgresRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE password_resets SET used = true, used_at = $2 WHERE id = $1 AND used = false`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyUsed
	}
	return nil
}
