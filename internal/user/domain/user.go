package domain

import (
	"errors"
	"time"
)

// Role is a user's role within its tenant.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleUser       Role = "USER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

// User is the core user entity.
type User struct {
	ID               string
	TenantID         string
	Email            string
	Name             string
	PasswordHash     string
	Role             Role
	TwoFactorEnabled bool
	TwoFactorSecret  string // base32; set by TOTP setup before enablement, empty when 2FA is off
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.TenantID == "" {
		return errors.New("tenant is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if !u.Role.Valid() {
		return errors.New("invalid role")
	}
	return nil
}

// Tenant groups users. Tenant CRUD lives outside this service; the record exists for seeding and FKs.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
