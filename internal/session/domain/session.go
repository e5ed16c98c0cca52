package domain

import "time"

// RefreshToken is one issued refresh-token envelope, stored only as a digest.
// Once Revoked is true the record is terminal.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string // Argon2id digest of the signed envelope; the plaintext is never stored
	Revoked   bool
	RevokedAt *time.Time // nil when not revoked
	CreatedAt time.Time
}

// Active reports whether the record can still be matched by a rotation.
func (t *RefreshToken) Active() bool {
	return !t.Revoked
}
