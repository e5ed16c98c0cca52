package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"saas-admin/backend/internal/audit/domain"
)

// mockAuditRepo implements audit repository interface for tests.
type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByTenant(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.AuditLog, error) {
	return m.entries, nil
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	ipExtractor := func(ctx context.Context) string {
		return "192.168.1.1"
	}
	logger := NewLogger(repo, ipExtractor, nil)

	logger.LogEvent(context.Background(), "tenant-1", "user-1", ActionLoginSuccess, ResourceAuthentication, map[string]string{"method": "password"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.TenantID != "tenant-1" {
		t.Errorf("tenant_id = %q, want %q", entry.TenantID, "tenant-1")
	}
	if entry.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", entry.UserID, "user-1")
	}
	if entry.Action != ActionLoginSuccess || entry.Resource != ResourceAuthentication {
		t.Errorf("action/resource = %q/%q", entry.Action, entry.Resource)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q", entry.IP)
	}
	if entry.Metadata != `{"method":"password"}` {
		t.Errorf("metadata = %q", entry.Metadata)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Error("id and created_at must be set")
	}
}

func TestLogger_LogEvent_SentinelTenant(t *testing.T) {
	repo := &mockAuditRepo{}
	NewLogger(repo, nil, nil).LogEvent(context.Background(), "", "", ActionLoginFailure, ResourceAuthentication, nil)

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	if repo.entries[0].TenantID != SentinelTenantID {
		t.Errorf("tenant_id = %q, want %q", repo.entries[0].TenantID, SentinelTenantID)
	}
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want unknown", repo.entries[0].IP)
	}
	if repo.entries[0].Metadata != "" {
		t.Errorf("metadata = %q, want empty", repo.entries[0].Metadata)
	}
}

func TestLogger_LogEvent_RepoErrorIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	logger := NewLogger(repo, nil, slog.New(slog.NewTextHandler(&buf, nil)))

	logger.LogEvent(context.Background(), "tenant-1", "user-1", ActionLogout, ResourceSession, nil)

	if !strings.Contains(buf.String(), "db down") {
		t.Errorf("repo failure should be logged, got %q", buf.String())
	}
}

func TestLogger_LogEvent_NilRepo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(nil, nil, slog.New(slog.NewTextHandler(&buf, nil)))
	logger.LogEvent(context.Background(), "tenant-1", "user-1", ActionTOTPEnabled, ResourceUser, nil)
	if !strings.Contains(buf.String(), ActionTOTPEnabled) {
		t.Errorf("nil repo should fall back to the log, got %q", buf.String())
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &mockAuditRepo{}, &mockAuditRepo{}
	m := Multi{NewLogger(a, nil, nil), Nop{}, NewLogger(b, nil, nil)}

	m.LogEvent(context.Background(), "tenant-1", "user-1", ActionLogout, ResourceSession, nil)
	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Fatalf("entries = %d/%d, want 1/1", len(a.entries), len(b.entries))
	}
	if a.entries[0].Action != ActionLogout || b.entries[0].TenantID != "tenant-1" {
		t.Errorf("entries = %+v / %+v", a.entries[0], b.entries[0])
	}
}
