// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	healthhandler "saas-admin/backend/internal/health/handler"
	identityhandler "saas-admin/backend/internal/identity/handler"
	"saas-admin/backend/internal/platform/rbac"
	"saas-admin/backend/internal/policy/engine"
	"saas-admin/backend/internal/server/interceptors"
	userhandler "saas-admin/backend/internal/user/handler"
	userdomain "saas-admin/backend/internal/user/domain"
)

// Service is what the HTTP handlers need from the session lifecycle. Satisfied by
// *service.AuthService.
type Service interface {
	identityhandler.AuthService
	userhandler.UserService
}

// Deps holds the dependencies for NewRouter.
type Deps struct {
	Auth   Service
	Tokens interceptors.AccessVerifier
	Policy engine.Evaluator
	// Health serves GET /health. Nil skips the route.
	Health *healthhandler.Handler
	Cookie identityhandler.CookieConfig
	// ReturnResetToken echoes reset tokens in responses (development only).
	ReturnResetToken bool
	Timeout          time.Duration
	Logger           *slog.Logger
}

// NewRouter returns the chi router for the public API.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(interceptors.ClientIPMiddleware)
	r.Use(interceptors.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))

	authenticate := interceptors.Authenticate(d.Tokens)
	admin := rbac.Middleware(d.Policy, logger, userdomain.RoleAdmin, userdomain.RoleSuperAdmin)

	if d.Health != nil {
		r.Method(http.MethodGet, "/health", d.Health)
	}
	auth := identityhandler.NewAuthHandler(d.Auth, d.Cookie, d.ReturnResetToken, logger)
	r.Route("/auth", func(r chi.Router) { auth.Routes(r, authenticate) })
	userhandler.NewHandler(d.Auth, logger).Routes(r, authenticate, admin)
	return r
}
