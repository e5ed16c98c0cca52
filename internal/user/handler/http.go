// Package handler serves the user profile and account-level session revocation.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"saas-admin/backend/internal/identity/service"
	"saas-admin/backend/internal/platform/rbac"
	"saas-admin/backend/internal/server/interceptors"
	"saas-admin/backend/internal/server/response"
	"saas-admin/backend/internal/user/domain"
)

// UserService is the subset of service.AuthService used by this handler.
type UserService interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	RevokeUserSessions(ctx context.Context, tenantID, userID string) (int64, error)
}

// Handler serves /me and /users.
type Handler struct {
	svc UserService
	log *slog.Logger
}

// NewHandler returns a Handler.
func NewHandler(svc UserService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Routes mounts GET /me and POST /users/{id}/revoke-sessions. Both require authenticate; the
// revoke route additionally requires admin.
func (h *Handler) Routes(r chi.Router, authenticate, admin func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Get("/me", h.Me)
		r.With(admin).Post("/users/{id}/revoke-sessions", h.RevokeSessions)
	})
}

type profile struct {
	ID               string      `json:"id"`
	TenantID         string      `json:"tenantId"`
	Email            string      `json:"email"`
	Name             string      `json:"name"`
	Role             domain.Role `json:"role"`
	TwoFactorEnabled bool        `json:"twoFactorEnabled"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	u, err := h.svc.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.Unauthorized(w, r)
			return
		}
		h.log.ErrorContext(r.Context(), "load profile", "user_id", userID, "error", err)
		response.Internal(w, r)
		return
	}
	response.JSON(w, http.StatusOK, profile{
		ID:               u.ID,
		TenantID:         u.TenantID,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	})
}

type revokeResponse struct {
	Revoked int64 `json:"revoked"`
}

// RevokeSessions handles POST /users/{id}/revoke-sessions. Users outside the caller's tenant are
// reported as not found.
func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := rbac.TenantOf(r.Context())
	if err != nil {
		response.Unauthorized(w, r)
		return
	}
	n, err := h.svc.RevokeUserSessions(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "user not found")
			return
		}
		h.log.ErrorContext(r.Context(), "revoke sessions", "error", err)
		response.Internal(w, r)
		return
	}
	response.JSON(w, http.StatusOK, revokeResponse{Revoked: n})
}
