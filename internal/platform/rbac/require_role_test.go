package rbac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"saas-admin/backend/internal/policy/engine"
	"saas-admin/backend/internal/security"
	"saas-admin/backend/internal/server/interceptors"
	userdomain "saas-admin/backend/internal/user/domain"
)

var admins = []userdomain.Role{userdomain.RoleAdmin, userdomain.RoleSuperAdmin}

func newEvaluator(t *testing.T) *engine.OPAEvaluator {
	t.Helper()
	e, err := engine.NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

// failingEvaluator implements engine.Evaluator and always errors.
type failingEvaluator struct{}

func (failingEvaluator) AllowRole(context.Context, engine.RoleInput) (bool, error) {
	return false, errors.New("opa down")
}

func withRole(role userdomain.Role) context.Context {
	return interceptors.WithIdentity(context.Background(), interceptors.Identity{UserID: "user-1", TenantID: "tenant-1", Role: role})
}

func TestRequireRole_Allowed(t *testing.T) {
	id, err := RequireRole(withRole(userdomain.RoleAdmin), newEvaluator(t), admins...)
	if err != nil {
		t.Fatalf("RequireRole: %v", err)
	}
	if id.UserID != "user-1" || id.TenantID != "tenant-1" {
		t.Errorf("identity = %+v", id)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	for _, role := range []userdomain.Role{userdomain.RoleUser, userdomain.RoleManager} {
		if _, err := RequireRole(withRole(role), newEvaluator(t), admins...); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: want ErrForbidden, got %v", role, err)
		}
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	if _, err := RequireRole(context.Background(), newEvaluator(t), admins...); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestRequireRole_EvaluatorError(t *testing.T) {
	_, err := RequireRole(withRole(userdomain.RoleAdmin), failingEvaluator{}, admins...)
	if err == nil || errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("evaluator failure should surface as an internal error, got %v", err)
	}
}

func TestTenantOf(t *testing.T) {
	tid, err := TenantOf(withRole(userdomain.RoleUser))
	if err != nil || tid != "tenant-1" {
		t.Fatalf("TenantOf = %q, %v", tid, err)
	}
	if _, err := TenantOf(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("TenantOf without identity: want ErrUnauthorized, got %v", err)
	}
}

func TestMiddleware_StatusCodes(t *testing.T) {
	codec := security.NewTestTokenCodec()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	guarded := interceptors.Authenticate(codec)(Middleware(newEvaluator(t), logger, admins...)(ok))

	token := func(role string) string {
		tok, _, err := codec.SignAccess("user-1", "tenant-1", role)
		if err != nil {
			t.Fatalf("SignAccess: %v", err)
		}
		return "Bearer " + tok
	}
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"admin", token("ADMIN"), http.StatusOK},
		{"super admin", token("SUPER_ADMIN"), http.StatusOK},
		{"user", token("USER"), http.StatusForbidden},
		{"garbage", "Bearer garbage", http.StatusUnauthorized},
		{"none", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/users/x/revoke-sessions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestMiddleware_WithoutAuthenticate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Middleware(newEvaluator(t), logger, admins...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_EvaluatorError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Middleware(failingEvaluator{}, logger, admins...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(withRole(userdomain.RoleAdmin)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
