package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	userdomain "saas-admin/backend/internal/user/domain"
)

const policyQuery = "data.saas_admin.authz.allow"

// DefaultRolePolicy grants access when the caller's role is one of the allowed roles.
const DefaultRolePolicy = `package saas_admin.authz

default allow := false

allow if {
	some r in input.allowed_roles
	r == input.role
}
`

// OPAEvaluator evaluates role policies using OPA Rego. The query is prepared once and is safe for
// concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultRolePolicy when empty) and prepares the allow query.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRolePolicy
	}
	pq, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("authz.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare role policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// AllowRole evaluates the policy. An undefined result is a deny.
func (e *OPAEvaluator) AllowRole(ctx context.Context, in RoleInput) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return false, fmt.Errorf("eval role policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck verifies that the prepared query evaluates: a SUPER_ADMIN listed in allowed_roles
// must be allowed and an empty allow list must deny.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	ok, err := e.AllowRole(ctx, RoleInput{Role: userdomain.RoleSuperAdmin, AllowedRoles: []userdomain.Role{userdomain.RoleSuperAdmin}})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role policy denied a listed role")
	}
	ok, err = e.AllowRole(ctx, RoleInput{Role: userdomain.RoleSuperAdmin})
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("role policy allowed an empty role list")
	}
	return nil
}

func buildInput(in RoleInput) map[string]interface{} {
	allowed := make([]interface{}, len(in.AllowedRoles))
	for i, r := range in.AllowedRoles {
		allowed[i] = string(r)
	}
	return map[string]interface{}{
		"role":          string(in.Role),
		"allowed_roles": allowed,
		"tenant_id":     in.TenantID,
	}
}
