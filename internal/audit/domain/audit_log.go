package domain

import "time"

// AuditLog is one recorded authentication or session event. Events without a tenant carry the
// "_system" sentinel in TenantID.
type AuditLog struct {
	ID       string
	TenantID string
	UserID   string // empty for failures against unknown accounts
	Action   string
	Resource string
	IP       string
	// Metadata is a JSON object of string values. Never holds passwords, tokens or TOTP codes.
	Metadata  string
	CreatedAt time.Time
}
