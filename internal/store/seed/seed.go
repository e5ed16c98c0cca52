// Package seed inserts the development tenants and accounts. Existing emails are skipped.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"saas-admin/backend/internal/security"
	"saas-admin/backend/internal/store"
	"saas-admin/backend/internal/user/domain"
	userrepo "saas-admin/backend/internal/user/repository"
)

// Account is one development login.
type Account struct {
	Tenant   string
	Email    string
	Name     string
	Password string
	Role     domain.Role
}

// Accounts are the development logins created by Run.
var Accounts = []Account{
	{Tenant: "Platform", Email: "superadmin@example.com", Name: "Super Admin", Password: "ChangeMe123!", Role: domain.RoleSuperAdmin},
	{Tenant: "Acme", Email: "admin@acme.com", Name: "Acme Admin", Password: "Admin123!", Role: domain.RoleAdmin},
}

// Target is a Store that can also create tenants. Transactions opened through InTx must satisfy
// it as well.
type Target interface {
	store.Store
	Tenants() userrepo.TenantRepository
}

// Run creates Accounts in st, one transaction per account.
func Run(ctx context.Context, st Target, hasher *security.Hasher, logger *slog.Logger) error {
	tenants := map[string]string{}
	for _, a := range Accounts {
		existing, err := st.Users().GetByEmail(ctx, a.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			logger.Info("account exists, skipping", "email", a.Email)
			continue
		}
		digest, err := hasher.Hash(a.Password)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		err = st.InTx(ctx, func(tx store.Store) error {
			t, ok := tx.(Target)
			if !ok {
				return fmt.Errorf("seed: transaction store %T cannot create tenants", tx)
			}
			tenantID, ok := tenants[a.Tenant]
			if !ok {
				tenantID = uuid.New().String()
				if err := t.Tenants().Create(ctx, &domain.Tenant{ID: tenantID, Name: a.Tenant, CreatedAt: now}); err != nil {
					return fmt.Errorf("tenant %s: %w", a.Tenant, err)
				}
			}
			u := &domain.User{
				ID:           uuid.New().String(),
				TenantID:     tenantID,
				Email:        a.Email,
				Name:         a.Name,
				PasswordHash: digest,
				Role:         a.Role,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := t.Users().Create(ctx, u); err != nil {
				return fmt.Errorf("user %s: %w", a.Email, err)
			}
			tenants[a.Tenant] = tenantID
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info("seeded account", "email", a.Email, "role", a.Role)
	}
	return nil
}
