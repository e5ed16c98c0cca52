// Package memory is an in-process Store used by tests and by the server when no database is configured.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	resetdomain "saas-admin/backend/internal/passwordreset/domain"
	resetrepo "saas-admin/backend/internal/passwordreset/repository"
	sessiondomain "saas-admin/backend/internal/session/domain"
	sessionrepo "saas-admin/backend/internal/session/repository"
	"saas-admin/backend/internal/store"
	userdomain "saas-admin/backend/internal/user/domain"
	userrepo "saas-admin/backend/internal/user/repository"
)

type state struct {
	tenants map[string]userdomain.Tenant
	users   map[string]userdomain.User
	tokens  map[string]sessiondomain.RefreshToken
	order   []string // token ids in creation order
	resets  map[string]resetdomain.PasswordReset
}

func newState() *state {
	return &state{
		tenants: map[string]userdomain.Tenant{},
		users:   map[string]userdomain.User{},
		tokens:  map[string]sessiondomain.RefreshToken{},
		resets:  map[string]resetdomain.PasswordReset{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	c.order = append([]string(nil), s.order...)
	for k, v := range s.resets {
		c.resets[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory implementation of store.Store. InTx works on a copy of the
// data under the lock and swaps it in on success, so transactions are serialized and atomic.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Users() userrepo.Repository            { return users{s} }
func (s *Store) Tenants() userrepo.TenantRepository    { return tenants{s} }
func (s *Store) RefreshTokens() sessionrepo.Repository { return tokens{s} }
func (s *Store) PasswordResets() resetrepo.Repository  { return resets{s} }

// InTx runs fn on a snapshot and commits it only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Store{mu: s.mu, st: s.st.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

type users struct{ s *Store }

func (r users) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	defer r.s.lock()()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r users) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	defer r.s.lock()()
	for _, u := range r.s.st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (r users) Create(_ context.Context, u *userdomain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	defer r.s.lock()()
	r.s.st.users[u.ID] = *u
	return nil
}

func (r users) update(id string, fn func(*userdomain.User)) {
	defer r.s.lock()()
	u, ok := r.s.st.users[id]
	if !ok {
		return
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	r.s.st.users[id] = u
}

func (r users) SetTwoFactorSecret(_ context.Context, userID, secret string) error {
	r.update(userID, func(u *userdomain.User) { u.TwoFactorSecret = secret })
	return nil
}

func (r users) EnableTwoFactor(_ context.Context, userID string) error {
	r.update(userID, func(u *userdomain.User) { u.TwoFactorEnabled = true })
	return nil
}

func (r users) DisableTwoFactor(_ context.Context, userID string) error {
	r.update(userID, func(u *userdomain.User) {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
	})
	return nil
}

func (r users) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	r.update(userID, func(u *userdomain.User) { u.PasswordHash = hash })
	return nil
}

type tenants struct{ s *Store }

func (r tenants) GetByID(_ context.Context, id string) (*userdomain.Tenant, error) {
	defer r.s.lock()()
	t, ok := r.s.st.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r tenants) Create(_ context.Context, t *userdomain.Tenant) error {
	defer r.s.lock()()
	if _, ok := r.s.st.tenants[t.ID]; !ok {
		r.s.st.tenants[t.ID] = *t
	}
	return nil
}

type tokens struct{ s *Store }

func (r tokens) Create(_ context.Context, t *sessiondomain.RefreshToken) error {
	defer r.s.lock()()
	r.s.st.tokens[t.ID] = *t
	r.s.st.order = append(r.s.st.order, t.ID)
	return nil
}

func (r tokens) ListActiveByUser(_ context.Context, userID string) ([]*sessiondomain.RefreshToken, error) {
	defer r.s.lock()()
	var out []*sessiondomain.RefreshToken
	for _, id := range r.s.st.order {
		t := r.s.st.tokens[id]
		if t.UserID == userID && t.Active() {
			out = append(out, &t)
		}
	}
	return out, nil
}

func (r tokens) Revoke(_ context.Context, id string, at time.Time) error {
	defer r.s.lock()()
	t, ok := r.s.st.tokens[id]
	if !ok || t.Revoked {
		return sessionrepo.ErrAlreadyRevoked
	}
	t.Revoked = true
	t.RevokedAt = &at
	r.s.st.tokens[id] = t
	return nil
}

func (r tokens) RevokeAllByUser(_ context.Context, userID string, at time.Time) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, t := range r.s.st.tokens {
		if t.UserID == userID && t.Active() {
			t.Revoked = true
			t.RevokedAt = &at
			r.s.st.tokens[id] = t
			n++
		}
	}
	return n, nil
}

type resets struct{ s *Store }

func (r resets) Create(_ context.Context, p *resetdomain.PasswordReset) error {
	defer r.s.lock()()
	r.s.st.resets[p.ID] = *p
	return nil
}

func (r resets) GetBySelector(_ context.Context, selector string) (*resetdomain.PasswordReset, error) {
	defer r.s.lock()()
	for _, p := range r.s.st.resets {
		if p.Selector == selector {
			return &p, nil
		}
	}
	return nil, nil
}

func (r resets) MarkUsed(_ context.Context, id string, at time.Time) error {
	defer r.s.lock()()
	p, ok := r.s.st.resets[id]
	if !ok || p.Used {
		return resetrepo.ErrAlreadyUsed
	}
	p.Used = true
	p.UsedAt = &at
	r.s.st.resets[id] = p
	return nil
}

// RefreshTokenByID returns a copy of the record, for assertions in tests.
func (s *Store) RefreshTokenByID(id string) (sessiondomain.RefreshToken, bool) {
	defer s.lock()()
	t, ok := s.st.tokens[id]
	return t, ok
}

// AllRefreshTokens returns copies of every record in creation order, for assertions in tests.
func (s *Store) AllRefreshTokens(userID string) []sessiondomain.RefreshToken {
	defer s.lock()()
	var out []sessiondomain.RefreshToken
	for _, id := range s.st.order {
		if t := s.st.tokens[id]; t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// PasswordResetsByUser returns copies of the reset records for userID, for assertions in tests.
func (s *Store) PasswordResetsByUser(userID string) []resetdomain.PasswordReset {
	defer s.lock()()
	var out []resetdomain.PasswordReset
	for _, p := range s.st.resets {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}
