package domain

import "time"

// PasswordReset is a split-token reset record: Selector is looked up directly, the verifier half
// is only stored as a digest. Used transitions false→true exactly once.
type PasswordReset struct {
	ID           string
	UserID       string
	Selector     string
	VerifierHash string
	ExpiresAt    time.Time
	Used         bool
	UsedAt       *time.Time
	CreatedAt    time.Time
}

// Usable reports whether the record is unused and not yet expired at now.
func (p *PasswordReset) Usable(now time.Time) bool {
	return !p.Used && now.Before(p.ExpiresAt)
}
