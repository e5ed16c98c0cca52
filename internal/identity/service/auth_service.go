package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"saas-admin/backend/internal/audit"
	"saas-admin/backend/internal/mfa"
	resetdomain "saas-admin/backend/internal/passwordreset/domain"
	resetrepo "saas-admin/backend/internal/passwordreset/repository"
	"saas-admin/backend/internal/security"
	"saas-admin/backend/internal/server/interceptors"
	sessiondomain "saas-admin/backend/internal/session/domain"
	sessionrepo "saas-admin/backend/internal/session/repository"
	"saas-admin/backend/internal/store"
	userdomain "saas-admin/backend/internal/user/domain"
)

// Sentinel errors for the auth service; handlers map them to HTTP status codes. Internal causes
// (missing row, hash mismatch, expiry) collapse into the same error.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrTOTPRequired        = errors.New("two-factor code required")
	ErrInvalidCode         = errors.New("invalid two-factor code")
	ErrSetupRequired       = errors.New("two-factor setup required")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrWeakPassword        = errors.New("password must be between 8 and 256 characters")
	ErrUserNotFound        = errors.New("user not found")
)

const (
	// ResetTTL is how long a password-reset token stays usable.
	ResetTTL = 30 * time.Minute

	deliveryTimeout = 15 * time.Second

	minPasswordLen = 8
	maxPasswordLen = 256
	selectorBytes  = 8
	verifierBytes  = 32
	dummyPassword  = "timing-equaliser-not-a-password"
	instrumentName = "saas-admin/backend/internal/identity/service"
)

// AuthResult holds the outcome of Login or Refresh.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
	TenantID         string
	Role             userdomain.Role
}

// TOTPSetup is returned by SetupTOTP for display as a QR code.
type TOTPSetup struct {
	OTPAuthURL string
	Secret     string
}

// ResetNotifier delivers password-reset tokens out of band (e.g. email).
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user *userdomain.User, token string) error
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithReplayGuard rejects TOTP codes that were already accepted.
func WithReplayGuard(g mfa.ReplayGuard) Option { return func(s *AuthService) { s.replay = g } }

// WithAuditLogger records lifecycle events.
func WithAuditLogger(l audit.AuditLogger) Option { return func(s *AuthService) { s.audit = l } }

// WithResetNotifier delivers reset tokens.
func WithResetNotifier(n ResetNotifier) Option { return func(s *AuthService) { s.notifier = n } }

// WithLogger sets the logger for best-effort failures.
func WithLogger(l *slog.Logger) Option { return func(s *AuthService) { s.log = l } }

// WithClock overrides the time source for record timestamps and reset expiry.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// AuthService implements the credential and session lifecycle: login, refresh rotation,
// logout/revocation, TOTP enrollment and password reset.
type AuthService struct {
	store    store.Store
	hasher   *security.Hasher
	tokens   *security.TokenCodec
	totp     *mfa.Authenticator
	replay   mfa.ReplayGuard
	audit    audit.AuditLogger
	notifier ResetNotifier
	log      *slog.Logger
	now      func() time.Time

	tracer   trace.Tracer
	logins   metric.Int64Counter
	rotation metric.Int64Counter

	dummyOnce sync.Once
	dummyHash string

	deliveries sync.WaitGroup
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(st store.Store, hasher *security.Hasher, tokens *security.TokenCodec, totp *mfa.Authenticator, opts ...Option) *AuthService {
	s := &AuthService{
		store:  st,
		hasher: hasher,
		tokens: tokens,
		totp:   totp,
		audit:  audit.Nop{},
		log:    slog.Default(),
		now:    time.Now,
		tracer: otel.Tracer(instrumentName),
	}
	for _, o := range opts {
		o(s)
	}
	meter := otel.Meter(instrumentName)
	s.logins, _ = meter.Int64Counter("auth.login.attempts", metric.WithDescription("Login attempts by outcome"))
	s.rotation, _ = meter.Int64Counter("auth.refresh.attempts", metric.WithDescription("Refresh rotations by outcome"))
	return s
}

// Login authenticates with email and password (and a TOTP code when 2FA is enabled), persists a
// new refresh-token record and returns an access token plus the refresh envelope.
func (s *AuthService) Login(ctx context.Context, email, password, totpCode string) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer func() { s.finish(ctx, span, s.logins, err) }()

	email = normalizeEmail(email)
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Spend the same hashing work as a real verify so response time does not reveal the email.
		_, _ = s.hasher.Verify(s.dummyDigest(), password)
		s.audit.LogEvent(ctx, "", "", audit.ActionLoginFailure, audit.ResourceAuthentication, map[string]string{"reason": "invalid_credentials"})
		return nil, ErrInvalidCredentials
	}
	ok, verr := s.hasher.Verify(user.PasswordHash, password)
	if verr != nil {
		s.log.WarnContext(ctx, "stored password hash is unreadable", "user_id", user.ID, "error", verr)
	}
	if !ok {
		s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionLoginFailure, audit.ResourceAuthentication, map[string]string{"reason": "invalid_credentials"})
		return nil, ErrInvalidCredentials
	}
	if user.TwoFactorEnabled {
		valid, err := s.checkTOTP(ctx, user, totpCode)
		if err != nil {
			return nil, err
		}
		if !valid {
			s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionLoginFailure, audit.ResourceAuthentication, map[string]string{"reason": "totp_required"})
			return nil, ErrTOTPRequired
		}
	}

	res, err = s.newTokens(user)
	if err != nil {
		return nil, err
	}
	rec, err := s.newRecord(user.ID, res.RefreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionLoginSuccess, audit.ResourceAuthentication, nil)
	return res, nil
}

// Refresh rotates a refresh envelope: the matching active record is revoked and a new one is
// created in the same transaction. Replaying a consumed envelope fails with ErrInvalidRefreshToken,
// and of two concurrent rotations of the same envelope exactly one succeeds.
func (s *AuthService) Refresh(ctx context.Context, envelope string) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer func() { s.finish(ctx, span, s.rotation, err) }()

	userID, err := s.tokens.VerifyRefreshEnvelope(envelope)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	active, err := s.store.RefreshTokens().ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	matched := s.match(active, envelope)
	if matched == nil {
		s.audit.LogEvent(ctx, "", userID, audit.ActionTokenRefreshFailure, audit.ResourceSession, nil)
		return nil, ErrInvalidRefreshToken
	}
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidRefreshToken
	}

	res, err = s.newTokens(user)
	if err != nil {
		return nil, err
	}
	rec, err := s.newRecord(user.ID, res.RefreshToken)
	if err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.RefreshTokens().Revoke(ctx, matched.ID, rec.CreatedAt); err != nil {
			if errors.Is(err, sessionrepo.ErrAlreadyRevoked) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		return tx.RefreshTokens().Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionTokenRefresh, audit.ResourceSession, nil)
	return res, nil
}

// Logout revokes every active refresh token of the user named by envelope. Decode failures are
// swallowed. When the caller is authenticated, an envelope issued to a different user is ignored.
func (s *AuthService) Logout(ctx context.Context, envelope string) error {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	caller, hasCaller := interceptors.GetIdentity(ctx)
	if envelope == "" {
		return nil
	}
	userID, err := s.tokens.VerifyRefreshEnvelope(envelope)
	if err != nil {
		return nil
	}
	if hasCaller && caller.UserID != userID {
		s.log.WarnContext(ctx, "logout cookie belongs to another user", "user_id", caller.UserID)
		return nil
	}
	n, err := s.store.RefreshTokens().RevokeAllByUser(ctx, userID, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.audit.LogEvent(ctx, caller.TenantID, userID, audit.ActionLogout, audit.ResourceSession, map[string]string{"revoked": itoa(n)})
	return nil
}

// RevokeUserSessions revokes every active refresh token of userID, which must belong to tenantID.
// Access tokens already issued remain valid until they expire.
func (s *AuthService) RevokeUserSessions(ctx context.Context, tenantID, userID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.RevokeUserSessions")
	defer span.End()

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil || user.TenantID != tenantID {
		return 0, ErrUserNotFound
	}
	n, err := s.store.RefreshTokens().RevokeAllByUser(ctx, user.ID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	actor, _ := interceptors.GetUserID(ctx)
	s.audit.LogEvent(ctx, tenantID, actor, audit.ActionSessionsRevoked, audit.ResourceUser, map[string]string{"target_user_id": user.ID, "revoked": itoa(n)})
	return n, nil
}

// GetUser returns the user for id, or ErrUserNotFound.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*userdomain.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// SetupTOTP generates and stores a new pending secret. 2FA is not enabled until EnableTOTP
// succeeds; calling again replaces the pending secret.
func (s *AuthService) SetupTOTP(ctx context.Context, userID string) (*TOTPSetup, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	secret, url, err := s.totp.Generate(user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.store.Users().SetTwoFactorSecret(ctx, user.ID, secret); err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionTOTPSetup, audit.ResourceUser, nil)
	return &TOTPSetup{OTPAuthURL: url, Secret: secret}, nil
}

// EnableTOTP turns on 2FA once code validates against the pending secret.
func (s *AuthService) EnableTOTP(ctx context.Context, userID, code string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorSecret == "" {
		return ErrSetupRequired
	}
	valid, err := s.checkTOTP(ctx, user, code)
	if err != nil {
		return err
	}
	if !valid {
		return ErrInvalidCode
	}
	if err := s.store.Users().EnableTwoFactor(ctx, user.ID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionTOTPEnabled, audit.ResourceUser, nil)
	return nil
}

// DisableTOTP clears the 2FA flag and secret. No code challenge is required.
func (s *AuthService) DisableTOTP(ctx context.Context, userID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Users().DisableTwoFactor(ctx, user.ID); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionTOTPDisabled, audit.ResourceUser, nil)
	return nil
}

// RequestPasswordReset creates a reset record for email and returns the "selector.verifier" token.
// Unknown emails return ("", nil) after equivalent hashing work so callers can answer identically.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.RequestPasswordReset")
	defer span.End()

	user, err := s.store.Users().GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	selector, err := randomHex(selectorBytes)
	if err != nil {
		return "", err
	}
	verifier, err := randomHex(verifierBytes)
	if err != nil {
		return "", err
	}
	verifierHash, err := s.hasher.Hash(verifier)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}

	now := s.now().UTC()
	rec := &resetdomain.PasswordReset{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Selector:     selector,
		VerifierHash: verifierHash,
		ExpiresAt:    now.Add(ResetTTL),
		CreatedAt:    now,
	}
	if err := s.store.PasswordResets().Create(ctx, rec); err != nil {
		return "", err
	}
	token := selector + "." + verifier
	if s.notifier != nil {
		s.deliver(ctx, *user, token)
	}
	s.audit.LogEvent(ctx, user.TenantID, user.ID, audit.ActionPasswordResetRequested, audit.ResourceUser, nil)
	return token, nil
}

// deliver hands token to the notifier in the background so the caller returns after the same
// work whether or not the email belongs to an account.
func (s *AuthService) deliver(ctx context.Context, user userdomain.User, token string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		defer cancel()
		if err := s.notifier.NotifyPasswordReset(dctx, &user, token); err != nil {
			s.log.WarnContext(dctx, "password reset delivery failed", "user_id", user.ID, "error", err)
		}
	}()
}

// Wait blocks until in-flight reset deliveries finish or ctx is done.
func (s *AuthService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deliveries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompletePasswordReset consumes token and sets newPassword. Marking the record used, changing the
// password and revoking the user's refresh tokens commit together.
func (s *AuthService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "AuthService.CompletePasswordReset")
	defer span.End()

	if err := validatePassword(newPassword); err != nil {
		return err
	}
	selector, verifier, ok := strings.Cut(token, ".")
	if !ok || selector == "" || verifier == "" {
		return ErrInvalidToken
	}
	rec, err := s.store.PasswordResets().GetBySelector(ctx, selector)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if rec == nil || !rec.Usable(now) {
		return ErrInvalidToken
	}
	if ok, _ := s.hasher.Verify(rec.VerifierHash, verifier); !ok {
		return ErrInvalidToken
	}
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	var tenantID string
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.PasswordResets().MarkUsed(ctx, rec.ID, now); err != nil {
			if errors.Is(err, resetrepo.ErrAlreadyUsed) {
				return ErrInvalidToken
			}
			return err
		}
		user, err := tx.Users().GetByID(ctx, rec.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrInvalidToken
		}
		tenantID = user.TenantID
		if err := tx.Users().UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
			return err
		}
		_, err = tx.RefreshTokens().RevokeAllByUser(ctx, user.ID, now)
		return err
	})
	if err != nil {
		return err
	}
	s.audit.LogEvent(ctx, tenantID, rec.UserID, audit.ActionPasswordResetCompleted, audit.ResourceUser, nil)
	return nil
}

// checkTOTP validates code for user and, when a replay guard is configured, claims it.
func (s *AuthService) checkTOTP(ctx context.Context, user *userdomain.User, code string) (bool, error) {
	if !s.totp.Validate(code, user.TwoFactorSecret) {
		return false, nil
	}
	if s.replay == nil {
		return true, nil
	}
	return s.replay.Claim(ctx, user.ID, mfa.NormalizeCode(code))
}

// match returns the first active record whose digest verifies against envelope.
func (s *AuthService) match(active []*sessiondomain.RefreshToken, envelope string) *sessiondomain.RefreshToken {
	for _, rec := range active {
		if ok, _ := s.hasher.Verify(rec.TokenHash, envelope); ok {
			return rec
		}
	}
	return nil
}

func (s *AuthService) newTokens(user *userdomain.User) (*AuthResult, error) {
	access, accessExp, err := s.tokens.SignAccess(user.ID, user.TenantID, string(user.Role))
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.tokens.SignRefreshEnvelope(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		UserID:           user.ID,
		TenantID:         user.TenantID,
		Role:             user.Role,
	}, nil
}

func (s *AuthService) newRecord(userID, envelope string) (*sessiondomain.RefreshToken, error) {
	digest, err := s.hasher.Hash(envelope)
	if err != nil {
		return nil, err
	}
	return &sessiondomain.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: digest,
		CreatedAt: s.now().UTC(),
	}, nil
}

func (s *AuthService) dummyDigest() string {
	s.dummyOnce.Do(func() {
		d, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.log.Error("dummy hash", "error", err)
			return
		}
		s.dummyHash = d
	})
	return s.dummyHash
}

func (s *AuthService) finish(ctx context.Context, span trace.Span, counter metric.Int64Counter, err error) {
	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if err != nil && outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	span.End()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTOTPRequired):
		return "totp_required"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	default:
		return "error"
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen || n > maxPasswordLen {
		return ErrWeakPassword
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
