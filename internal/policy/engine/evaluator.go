package engine

import (
	"context"

	userdomain "saas-admin/backend/internal/user/domain"
)

// RoleInput is the document a role policy is evaluated against.
type RoleInput struct {
	Role         userdomain.Role
	AllowedRoles []userdomain.Role
	TenantID     string
}

// Evaluator decides whether a role may access an operation restricted to a set of roles.
type Evaluator interface {
	AllowRole(ctx context.Context, in RoleInput) (bool, error)
}
