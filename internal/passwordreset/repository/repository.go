package repository

import (
	"context"
	"errors"
	"time"

	"saas-admin/backend/internal/passwordreset/domain"
)

// ErrAlreadyUsed is returned by MarkUsed when the record was consumed before the conditional update ran.
var ErrAlreadyUsed = errors.New("password reset already used")

// Repository defines persistence for password-reset records.
type Repository interface {
	Create(ctx context.Context, p *domain.PasswordReset) error
	// GetBySelector returns the record for selector, or nil if none exists.
	GetBySelector(ctx context.Context, selector string) (*domain.PasswordReset, error)
	// MarkUsed sets used only if the record is still unused; otherwise ErrAlreadyUsed.
	MarkUsed(ctx context.Context, id string, at time.Time) error
}
