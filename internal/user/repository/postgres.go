package repository

import (
	"context"
	"time"

	"saas-admin/backend/internal/db"
	"saas-admin/backend/internal/user/domain"
)

const userColumns = `id, tenant_id, email, COALESCE(name, ''), password_hash, role,
	two_factor_enabled, COALESCE(two_factor_secret, ''), created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository that uses the given pool or transaction for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `INSERT INTO users
		(id, tenant_id, email, name, password_hash, role, two_factor_enabled, two_factor_secret, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		u.ID, u.TenantID, u.Email, u.Name, u.PasswordHash, string(u.Role),
		u.TwoFactorEnabled, u.TwoFactorSecret, u.CreatedAt, u.UpdatedAt)
	return err
}

// SetTwoFactorSecret overwrites the pending TOTP secret. Leaves two_factor_enabled untouched.
func (r *PostgresRepository) SetTwoFactorSecret(ctx context.Context, userID, secret string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET two_factor_secret = $2, updated_at = $3 WHERE id = $1`,
		userID, secret, time.Now().UTC())
	return err
}

// EnableTwoFactor sets two_factor_enabled.
func (r *PostgresRepository) EnableTwoFactor(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET two_factor_enabled = true, updated_at = $2 WHERE id = $1`,
		userID, time.Now().UTC())
	return err
}

// DisableTwoFactor clears two_factor_enabled and the secret.
func (r *PostgresRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET two_factor_enabled = false, two_factor_secret = NULL, updated_at = $2 WHERE id = $1`,
		userID, time.Now().UTC())
	return err
}

// UpdatePasswordHash replaces the stored password digest.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &role,
		&u.TwoFactorEnabled, &u.TwoFactorSecret, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

// PostgresTenantRepository persists tenants.
type PostgresTenantRepository struct {
	db db.DBTX
}

// NewPostgresTenantRepository returns a tenant repository backed by conn.
func NewPostgresTenantRepository(conn db.DBTX) *PostgresTenantRepository {
	return &PostgresTenantRepository{db: conn}
}

// GetByID returns the tenant for id, or nil if not found.
func (r *PostgresTenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.db.QueryRow(ctx, `SELECT id, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Create persists the tenant. Existing ids are left unchanged.
func (r *PostgresTenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Name, t.CreatedAt)
	return err
}
