// Package rbac enforces role membership and tenant scoping on authenticated requests.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"saas-admin/backend/internal/policy/engine"
	"saas-admin/backend/internal/server/interceptors"
	"saas-admin/backend/internal/server/response"
	userdomain "saas-admin/backend/internal/user/domain"
)

var (
	// ErrUnauthorized means no verified identity is attached to the context.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the identity's role is not permitted.
	ErrForbidden = errors.New("forbidden")
)

// RequireRole ensures the caller is authenticated and the role policy allows one of roles.
// Returns the caller identity on success; ErrUnauthorized or ErrForbidden otherwise. Policy
// evaluation failures are returned wrapped and must be treated as server errors.
func RequireRole(ctx context.Context, evaluator engine.Evaluator, roles ...userdomain.Role) (interceptors.Identity, error) {
	id, ok := interceptors.GetIdentity(ctx)
	if !ok {
		return interceptors.Identity{}, ErrUnauthorized
	}
	allowed, err := evaluator.AllowRole(ctx, engine.RoleInput{Role: id.Role, AllowedRoles: roles, TenantID: id.TenantID})
	if err != nil {
		return interceptors.Identity{}, fmt.Errorf("rbac: %w", err)
	}
	if !allowed {
		return interceptors.Identity{}, ErrForbidden
	}
	return id, nil
}

// TenantOf returns the tenant of the authenticated caller. Tenant-scoped handlers must use this
// value and never a tenant id supplied by the client.
func TenantOf(ctx context.Context) (string, error) {
	tid, ok := interceptors.GetTenantID(ctx)
	if !ok {
		return "", ErrUnauthorized
	}
	return tid, nil
}

// Middleware returns HTTP middleware enforcing RequireRole: 401 without identity, 403 on deny,
// 500 when the policy cannot be evaluated.
func Middleware(evaluator engine.Evaluator, logger *slog.Logger, roles ...userdomain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := RequireRole(r.Context(), evaluator, roles...)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrUnauthorized):
				response.Unauthorized(w, r)
			case errors.Is(err, ErrForbidden):
				response.Forbidden(w, r)
			default:
				logger.ErrorContext(r.Context(), "role policy evaluation failed", "error", err)
				response.Internal(w, r)
			}
		})
	}
}
