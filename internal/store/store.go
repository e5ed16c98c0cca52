// Package store composes the user, refresh-token and password-reset repositories behind one
// transactional handle.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"saas-admin/backend/internal/db"
	resetrepo "saas-admin/backend/internal/passwordreset/repository"
	sessionrepo "saas-admin/backend/internal/session/repository"
	userrepo "saas-admin/backend/internal/user/repository"
)

// Store is the persistence contract consumed by the session lifecycle manager.
type Store interface {
	Users() userrepo.Repository
	RefreshTokens() sessionrepo.Repository
	PasswordResets() resetrepo.Repository
	// InTx runs fn against a Store whose writes commit together when fn returns nil and are
	// discarded otherwise. Nested calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

// Postgres is a Store backed by a pgx pool, or by a single transaction when returned from InTx.
type Postgres struct {
	pool *pgxpool.Pool
	conn db.DBTX
	tx   bool
}

// NewPostgres returns a Store backed by pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, conn: pool}
}

func (p *Postgres) Users() userrepo.Repository {
	return userrepo.NewPostgresRepository(p.conn)
}

func (p *Postgres) RefreshTokens() sessionrepo.Repository {
	return sessionrepo.NewPostgresRepository(p.conn)
}

// Tenants is used by seeding; tenant CRUD is otherwise out of this service.
func (p *Postgres) Tenants() userrepo.TenantRepository {
	return userrepo.NewPostgresTenantRepository(p.conn)
}

func (p *Postgres) PasswordResets() resetrepo.Repository {
	return resetrepo.NewPostgresRepository(p.conn)
}

// InTx begins a read-committed transaction. Conditional updates inside it serialize concurrent
// writers on the same row.
func (p *Postgres) InTx(ctx context.Context, fn func(Store) error) error {
	if p.tx {
		return fn(p)
	}
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&Postgres{pool: p.pool, conn: tx, tx: true})
	})
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
