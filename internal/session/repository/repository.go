package repository

import (
	"context"
	"errors"
	"time"

	"saas-admin/backend/internal/session/domain"
)

// ErrAlreadyRevoked is returned by Revoke when the record was revoked (or removed) before the
// conditional update ran. Callers racing on the same record see exactly one success.
var ErrAlreadyRevoked = errors.New("refresh token already revoked")

// Repository defines persistence for refresh-token records.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// ListActiveByUser returns the non-revoked records for userID, oldest first.
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.RefreshToken, error)
	// Revoke marks id revoked only if it is still active; otherwise ErrAlreadyRevoked.
	Revoke(ctx context.Context, id string, at time.Time) error
	// RevokeAllByUser revokes every active record for userID and returns how many changed.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
}
