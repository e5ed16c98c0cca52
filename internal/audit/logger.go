package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"saas-admin/backend/internal/audit/domain"
	auditrepo "saas-admin/backend/internal/audit/repository"
)

// SentinelTenantID is the tenant_id used for audit events that have no tenant (e.g. login_failure
// for an unknown email, logout with an undecodable cookie).
const SentinelTenantID = "_system"

// Actions recorded by the session lifecycle.
const (
	ActionLoginSuccess           = "login_success"
	ActionLoginFailure           = "login_failure"
	ActionTokenRefresh           = "token_refresh"
	ActionTokenRefreshFailure    = "token_refresh_failure"
	ActionLogout                 = "logout"
	ActionSessionsRevoked        = "sessions_revoked"
	ActionTOTPSetup              = "totp_setup"
	ActionTOTPEnabled            = "totp_enabled"
	ActionTOTPDisabled           = "totp_disabled"
	ActionPasswordResetRequested = "password_reset_requested"
	ActionPasswordResetCompleted = "password_reset_completed"
)

// Resources recorded by the session lifecycle.
const (
	ResourceAuthentication = "authentication"
	ResourceSession        = "session"
	ResourceUser           = "user"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource. Used by auth and session code paths.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, tenantID, userID, action, resource string, metadata map[string]string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         *slog.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// repo may be nil; then events only go to log. ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
// metadata must never contain secrets (passwords, tokens, TOTP codes).
func (l *Logger) LogEvent(ctx context.Context, tenantID, userID, action, resource string, metadata map[string]string) {
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if tenantID == "" {
		tenantID = SentinelTenantID
	}
	meta := ""
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err == nil {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  meta,
		CreatedAt: l.now().UTC(),
	}
	if l.repo == nil {
		l.log.InfoContext(ctx, "audit", "tenant_id", tenantID, "user_id", userID, "action", action, "resource", resource, "ip", ip)
		return
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WarnContext(ctx, "audit: failed to log event", "action", action, "resource", resource, "error", err)
	}
}

// Nop discards all events. Used in tests that do not assert on auditing.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, string, map[string]string) {}

// Multi fans an event out to every logger in order.
type Multi []AuditLogger

func (m Multi) LogEvent(ctx context.Context, tenantID, userID, action, resource string, metadata map[string]string) {
	for _, l := range m {
		l.LogEvent(ctx, tenantID, userID, action, resource, metadata)
	}
}
