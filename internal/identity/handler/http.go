// Package handler exposes the credential and session lifecycle over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"saas-admin/backend/internal/identity/service"
	"saas-admin/backend/internal/server/interceptors"
	"saas-admin/backend/internal/server/response"
)

// CodeTOTPRequired tells clients to prompt for a TOTP code and retry the login.
const CodeTOTPRequired = "TOTP_REQUIRED"

// AuthService is the subset of service.AuthService used by the HTTP handlers.
type AuthService interface {
	Login(ctx context.Context, email, password, totpCode string) (*service.AuthResult, error)
	Refresh(ctx context.Context, envelope string) (*service.AuthResult, error)
	Logout(ctx context.Context, envelope string) error
	SetupTOTP(ctx context.Context, userID string) (*service.TOTPSetup, error)
	EnableTOTP(ctx context.Context, userID, code string) error
	DisableTOTP(ctx context.Context, userID string) error
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	CompletePasswordReset(ctx context.Context, token, newPassword string) error
}

// AuthHandler serves /auth.
type AuthHandler struct {
	svc              AuthService
	cookie           CookieConfig
	returnResetToken bool
	log              *slog.Logger
}

// NewAuthHandler returns an AuthHandler. returnResetToken echoes password-reset tokens in the
// response body for development setups without email delivery.
func NewAuthHandler(svc AuthService, cookie CookieConfig, returnResetToken bool, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{svc: svc, cookie: cookie, returnResetToken: returnResetToken, log: log}
}

// Routes mounts the auth endpoints on r. authenticate guards the Bearer-protected routes.
func (h *AuthHandler) Routes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/request-password-reset", h.RequestPasswordReset)
	r.Post("/reset-password", h.ResetPassword)
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/logout", h.Logout)
		r.Post("/2fa/setup", h.SetupTOTP)
		r.Post("/2fa/enable", h.EnableTOTP)
		r.Post("/2fa/disable", h.DisableTOTP)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password, req.TOTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookie.set(w, res.RefreshToken)
	response.JSON(w, http.StatusOK, tokenResponse{AccessToken: res.AccessToken, ExpiresAt: res.AccessExpiresAt})
}

// Refresh handles POST /auth/refresh. The refresh envelope is read from the cookie only.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Refresh(r.Context(), h.cookie.read(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			h.cookie.clear(w)
		}
		h.writeError(w, r, err)
		return
	}
	h.cookie.set(w, res.RefreshToken)
	response.JSON(w, http.StatusOK, tokenResponse{AccessToken: res.AccessToken, ExpiresAt: res.AccessExpiresAt})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), h.cookie.read(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cookie.clear(w)
	response.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
}

// RequestPasswordReset handles POST /auth/request-password-reset. The response does not reveal
// whether the email exists.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}
	token, err := h.svc.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body := passwordResetResponse{OK: true}
	if h.returnResetToken {
		body.Token = token
	}
	response.JSON(w, http.StatusOK, body)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}
	if err := h.svc.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, okResponse{OK: true})
}

type setupResponse struct {
	OTPAuthURL string `json:"otpauthUrl"`
	Base32     string `json:"base32"`
}

// SetupTOTP handles POST /auth/2fa/setup.
func (h *AuthHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	setup, err := h.svc.SetupTOTP(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, setupResponse{OTPAuthURL: setup.OTPAuthURL, Base32: setup.Secret})
}

type enableRequest struct {
	TOTP string `json:"totp"`
	// Code is an alias for TOTP.
	Code string `json:"code,omitempty"`
}

func (r enableRequest) code() string {
	if r.TOTP != "" {
		return r.TOTP
	}
	return r.Code
}

// EnableTOTP handles POST /auth/2fa/enable.
func (h *AuthHandler) EnableTOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	var req enableRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}
	if err := h.svc.EnableTOTP(r.Context(), userID, req.code()); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, okResponse{OK: true})
}

// DisableTOTP handles POST /auth/2fa/disable.
func (h *AuthHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := interceptors.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	if err := h.svc.DisableTOTP(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, okResponse{OK: true})
}

// writeError maps service errors to status codes. Unknown errors are logged and reported as 500.
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, h.log, err)
}

// WriteError maps lifecycle errors to HTTP responses with generic messages.
func WriteError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrTOTPRequired):
		response.Error(w, r, http.StatusUnauthorized, CodeTOTPRequired, "two-factor code required")
	case errors.Is(err, service.ErrInvalidRefreshToken):
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired refresh token")
	case errors.Is(err, service.ErrUserNotFound):
		response.Unauthorized(w, r)
	case errors.Is(err, service.ErrInvalidCode):
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid code")
	case errors.Is(err, service.ErrSetupRequired):
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "two-factor setup required")
	case errors.Is(err, service.ErrInvalidToken):
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid or expired token")
	case errors.Is(err, service.ErrWeakPassword):
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	default:
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.Internal(w, r)
	}
}
