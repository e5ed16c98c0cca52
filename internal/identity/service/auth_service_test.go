package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"saas-admin/backend/internal/audit"
	"saas-admin/backend/internal/mfa"
	"saas-admin/backend/internal/security"
	"saas-admin/backend/internal/server/interceptors"
	"saas-admin/backend/internal/store/memory"
	userdomain "saas-admin/backend/internal/user/domain"
)

const testPassword = "Correct-Horse-1"

type recordedEvent struct {
	tenantID, userID, action, resource string
	metadata                           map[string]string
}

type recordingAudit struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingAudit) LogEvent(_ context.Context, tenantID, userID, action, resource string, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{tenantID, userID, action, resource, metadata})
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.action
	}
	return out
}

func (r *recordingAudit) has(action string) bool {
	for _, a := range r.actions() {
		if a == action {
			return true
		}
	}
	return false
}

type mockReplayGuard struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (g *mockReplayGuard) Claim(_ context.Context, userID, code string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = map[string]bool{}
	}
	k := userID + ":" + code
	if g.seen[k] {
		return false, nil
	}
	g.seen[k] = true
	return true, nil
}

type mockNotifier struct {
	mu    sync.Mutex
	token string
	delay time.Duration
	err   error
}

func (n *mockNotifier) NotifyPasswordReset(ctx context.Context, _ *userdomain.User, token string) error {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = token
	return n.err
}

func (n *mockNotifier) received() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token
}

type fixture struct {
	svc    *AuthService
	store  *memory.Store
	hasher *security.Hasher
	tokens *security.TokenCodec
	totp   *mfa.Authenticator
	audit  *recordingAudit
	user   *userdomain.User
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := memory.New()
	hasher := security.NewTestHasher()
	tokens := security.NewTestTokenCodec()
	totp := mfa.NewAuthenticator("test")
	rec := &recordingAudit{}

	tenant := &userdomain.Tenant{ID: uuid.New().String(), Name: "Acme", CreatedAt: time.Now().UTC()}
	if err := st.Tenants().Create(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	digest, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &userdomain.User{
		ID:           uuid.New().String(),
		TenantID:     tenant.ID,
		Email:        "alice@acme.com",
		Name:         "Alice",
		PasswordHash: digest,
		Role:         userdomain.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := st.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	all := append([]Option{WithAuditLogger(rec)}, opts...)
	return &fixture{
		svc:    NewAuthService(st, hasher, tokens, totp, all...),
		store:  st,
		hasher: hasher,
		tokens: tokens,
		totp:   totp,
		audit:  rec,
		user:   u,
	}
}

func (f *fixture) activeCount(t *testing.T) int {
	t.Helper()
	active, err := f.store.RefreshTokens().ListActiveByUser(context.Background(), f.user.ID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	return len(active)
}

func (f *fixture) enable2FA(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	setup, err := f.svc.SetupTOTP(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	code, err := mfa.CodeAt(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	if err := f.svc.EnableTOTP(ctx, f.user.ID, code); err != nil {
		t.Fatalf("EnableTOTP: %v", err)
	}
	return setup.Secret
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "  Alice@ACME.com ", testPassword, "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UserID != f.user.ID || res.TenantID != f.user.TenantID || res.Role != userdomain.RoleAdmin {
		t.Errorf("result = %+v", res)
	}
	claims, err := f.tokens.VerifyAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != f.user.ID || claims.TenantID != f.user.TenantID || claims.Role != "ADMIN" {
		t.Errorf("claims = %+v", claims)
	}
	uid, err := f.tokens.VerifyRefreshEnvelope(res.RefreshToken)
	if err != nil || uid != f.user.ID {
		t.Fatalf("VerifyRefreshEnvelope = %q, %v", uid, err)
	}
	if n := f.activeCount(t); n != 1 {
		t.Fatalf("active refresh tokens = %d, want 1", n)
	}
	for _, rt := range f.store.AllRefreshTokens(f.user.ID) {
		if strings.Contains(rt.TokenHash, res.RefreshToken) {
			t.Error("refresh envelope persisted in plaintext")
		}
		ok, _ := f.hasher.Verify(rt.TokenHash, res.RefreshToken)
		if !ok {
			t.Error("stored digest does not verify the issued envelope")
		}
	}
	if !f.audit.has(audit.ActionLoginSuccess) {
		t.Errorf("audit actions = %v, want login_success", f.audit.actions())
	}
}

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errWrongPass := f.svc.Login(ctx, "alice@acme.com", "wrong-password", "")
	_, errUnknown := f.svc.Login(ctx, "nobody@acme.com", testPassword, "")
	_, errEmpty := f.svc.Login(ctx, "", "", "")

	for name, err := range map[string]error{"wrong password": errWrongPass, "unknown email": errUnknown, "empty": errEmpty} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("%s: err = %v, want ErrInvalidCredentials", name, err)
		}
	}
	if errWrongPass.Error() != errUnknown.Error() {
		t.Errorf("messages differ: %q vs %q", errWrongPass, errUnknown)
	}
	if n := f.activeCount(t); n != 0 {
		t.Errorf("failed login created %d refresh tokens", n)
	}
	if !f.audit.has(audit.ActionLoginFailure) {
		t.Error("expected login_failure audit event")
	}
}

func TestLogin_EachLoginCreatesIndependentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	if a.RefreshToken == b.RefreshToken {
		t.Error("two logins returned the same refresh envelope")
	}
	if n := f.activeCount(t); n != 2 {
		t.Errorf("active = %d, want 2", n)
	}
}

func TestLogin_TwoFactor(t *testing.T) {
	f := newFixture(t)
	secret := f.enable2FA(t)
	ctx := context.Background()

	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, ""); !errors.Is(err, ErrTOTPRequired) {
		t.Fatalf("missing code: err = %v, want ErrTOTPRequired", err)
	}
	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, "000000"); !errors.Is(err, ErrTOTPRequired) {
		t.Fatalf("wrong code: err = %v, want ErrTOTPRequired", err)
	}
	if _, err := f.svc.Login(ctx, "alice@acme.com", "bad-password", "000000"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password takes precedence: err = %v", err)
	}
	code, _ := mfa.CodeAt(secret, time.Now())
	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, code); err != nil {
		t.Fatalf("valid code: %v", err)
	}
}

func TestLogin_ReplayGuardRejectsReusedCode(t *testing.T) {
	guard := &mockReplayGuard{}
	f := newFixture(t, WithReplayGuard(guard))
	ctx := context.Background()

	setup, err := f.svc.SetupTOTP(ctx, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	enableCode, _ := mfa.CodeAt(setup.Secret, time.Now().Add(-mfa.Period))
	if err := f.svc.EnableTOTP(ctx, f.user.ID, enableCode); err != nil {
		t.Fatalf("EnableTOTP: %v", err)
	}
	code, _ := mfa.CodeAt(setup.Secret, time.Now())
	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, code); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, code); !errors.Is(err, ErrTOTPRequired) {
		t.Fatalf("second use: err = %v, want ErrTOTPRequired", err)
	}
}

func TestLogin_ReplayGuardErrorFailsClosed(t *testing.T) {
	f := newFixture(t)
	secret := f.enable2FA(t)
	guardErr := errors.New("redis down")
	f.svc.replay = &mockReplayGuard{err: guardErr}

	code, _ := mfa.CodeAt(secret, time.Now())
	if _, err := f.svc.Login(context.Background(), "alice@acme.com", testPassword, code); !errors.Is(err, guardErr) {
		t.Fatalf("err = %v, want guard error", err)
	}
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("rotation returned the same envelope")
	}
	if n := f.activeCount(t); n != 1 {
		t.Errorf("active after rotation = %d, want 1", n)
	}
	if _, err := f.svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("replay: err = %v, want ErrInvalidRefreshToken", err)
	}
	// Replay does not cascade into the successor.
	if _, err := f.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("successor refresh: %v", err)
	}

	var revoked int
	for _, rt := range f.store.AllRefreshTokens(f.user.ID) {
		if rt.Revoked {
			revoked++
			if rt.RevokedAt == nil {
				t.Error("revoked record without revoked_at")
			}
		}
	}
	if revoked != 2 {
		t.Errorf("revoked records = %d, want 2", revoked)
	}
	if !f.audit.has(audit.ActionTokenRefresh) {
		t.Error("expected token_refresh audit event")
	}
}

func TestRefresh_ConcurrentRotationHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refresh(ctx, res.RefreshToken)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrInvalidRefreshToken):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful rotations = %d, want 1", ok)
	}
	if c := f.activeCount(t); c != 1 {
		t.Errorf("active = %d, want 1", c)
	}
}

func TestRefresh_InvalidEnvelopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, err := f.tokens.SignRefreshEnvelope(f.user.ID)
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]string{
		"empty":              "",
		"garbage":            "not-a-jwt",
		"access token":       res.AccessToken,
		"never persisted":    foreign,
		"tampered signature": res.RefreshToken + "x",
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Refresh(ctx, env); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Errorf("err = %v, want ErrInvalidRefreshToken", err)
			}
		})
	}
	if c := f.activeCount(t); c != 1 {
		t.Errorf("failed refreshes changed active count to %d", c)
	}
}

func TestRefresh_ExpiredEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := time.Now().Add(-8 * 24 * time.Hour)
	f.svc.tokens = f.tokens.WithClock(func() time.Time { return past })
	res, err := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	f.svc.tokens = f.tokens
	if _, err := f.svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("err = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestLogout_RevokesAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _ := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	b, _ := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	if err := f.svc.Logout(ctx, a.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c := f.activeCount(t); c != 0 {
		t.Fatalf("active after logout = %d, want 0", c)
	}
	if _, err := f.svc.Refresh(ctx, b.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("other session survived logout: %v", err)
	}
	// Access tokens stay valid until expiry.
	if _, err := f.tokens.VerifyAccess(b.AccessToken); err != nil {
		t.Errorf("access token rejected after logout: %v", err)
	}
	if !f.audit.has(audit.ActionLogout) {
		t.Error("expected logout audit event")
	}
}

func TestLogout_SwallowsBadCookies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, ""); err != nil {
		t.Fatal(err)
	}
	for _, env := range []string{"", "garbage"} {
		if err := f.svc.Logout(ctx, env); err != nil {
			t.Errorf("Logout(%q) = %v, want nil", env, err)
		}
	}
	if c := f.activeCount(t); c != 1 {
		t.Errorf("active = %d, want 1", c)
	}
}

func TestLogout_IgnoresOtherUsersCookie(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	callerCtx := interceptors.WithIdentity(ctx, interceptors.Identity{UserID: "someone-else", TenantID: f.user.TenantID, Role: "USER"})
	if err := f.svc.Logout(callerCtx, res.RefreshToken); err != nil {
		t.Fatal(err)
	}
	if c := f.activeCount(t); c != 1 {
		t.Errorf("active = %d, want 1", c)
	}
}

func TestRevokeUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.RevokeUserSessions(ctx, "other-tenant", f.user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("cross-tenant: err = %v, want ErrUserNotFound", err)
	}
	if _, err := f.svc.RevokeUserSessions(ctx, f.user.TenantID, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing user: err = %v, want ErrUserNotFound", err)
	}
	n, err := f.svc.RevokeUserSessions(ctx, f.user.TenantID, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}
	n, err = f.svc.RevokeUserSessions(ctx, f.user.TenantID, f.user.ID)
	if err != nil || n != 0 {
		t.Errorf("second revoke = %d, %v; want 0, nil", n, err)
	}
}

func TestTOTP_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.EnableTOTP(ctx, f.user.ID, "123456"); !errors.Is(err, ErrSetupRequired) {
		t.Fatalf("enable before setup: err = %v, want ErrSetupRequired", err)
	}
	setup, err := f.svc.SetupTOTP(ctx, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/") || setup.Secret == "" {
		t.Errorf("setup = %+v", setup)
	}
	u, _ := f.svc.GetUser(ctx, f.user.ID)
	if u.TwoFactorEnabled {
		t.Fatal("setup alone must not enable 2FA")
	}
	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, ""); err != nil {
		t.Fatalf("login with pending secret should not need a code: %v", err)
	}

	if err := f.svc.EnableTOTP(ctx, f.user.ID, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code: err = %v, want ErrInvalidCode", err)
	}
	code, _ := mfa.CodeAt(setup.Secret, time.Now())
	if err := f.svc.EnableTOTP(ctx, f.user.ID, code); err != nil {
		t.Fatal(err)
	}
	u, _ = f.svc.GetUser(ctx, f.user.ID)
	if !u.TwoFactorEnabled || u.TwoFactorSecret != setup.Secret {
		t.Fatalf("after enable: %+v", u)
	}

	if err := f.svc.DisableTOTP(ctx, f.user.ID); err != nil {
		t.Fatal(err)
	}
	u, _ = f.svc.GetUser(ctx, f.user.ID)
	if u.TwoFactorEnabled || u.TwoFactorSecret != "" {
		t.Fatalf("after disable: %+v", u)
	}
	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, ""); err != nil {
		t.Fatalf("login after disable: %v", err)
	}
	for _, a := range []string{audit.ActionTOTPSetup, audit.ActionTOTPEnabled, audit.ActionTOTPDisabled} {
		if !f.audit.has(a) {
			t.Errorf("missing audit action %s", a)
		}
	}
}

func TestTOTP_SetupReplacesPendingSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.svc.SetupTOTP(ctx, f.user.ID)
	second, _ := f.svc.SetupTOTP(ctx, f.user.ID)
	if first.Secret == second.Secret {
		t.Fatal("setup returned the same secret twice")
	}
	stale, _ := mfa.CodeAt(first.Secret, time.Now())
	fresh, _ := mfa.CodeAt(second.Secret, time.Now())
	if stale != fresh {
		if err := f.svc.EnableTOTP(ctx, f.user.ID, stale); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("stale secret code: err = %v, want ErrInvalidCode", err)
		}
	}
	if err := f.svc.EnableTOTP(ctx, f.user.ID, fresh); err != nil {
		t.Fatal(err)
	}
}

func TestTOTP_UnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetupTOTP(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetupTOTP: %v", err)
	}
	if err := f.svc.EnableTOTP(ctx, "missing", "123456"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("EnableTOTP: %v", err)
	}
	if err := f.svc.DisableTOTP(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("DisableTOTP: %v", err)
	}
}

func TestPasswordReset_FullFlow(t *testing.T) {
	notifier := &mockNotifier{}
	f := newFixture(t, WithResetNotifier(notifier))
	ctx := context.Background()

	session, _ := f.svc.Login(ctx, "alice@acme.com", testPassword, "")
	token, err := f.svc.RequestPasswordReset(ctx, "ALICE@acme.com")
	if err != nil {
		t.Fatal(err)
	}
	selector, verifier, ok := strings.Cut(token, ".")
	if !ok || len(selector) != 16 || len(verifier) != 64 {
		t.Fatalf("token shape = %q", token)
	}
	if err := f.svc.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if notifier.received() != token {
		t.Error("notifier did not receive the token")
	}
	for _, rec := range f.store.PasswordResetsByUser(f.user.ID) {
		if strings.Contains(rec.VerifierHash, verifier) {
			t.Error("verifier persisted in plaintext")
		}
	}

	if err := f.svc.CompletePasswordReset(ctx, token, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("weak password: err = %v", err)
	}
	if err := f.svc.CompletePasswordReset(ctx, token, "New-Password-2"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}

	if _, err := f.svc.Login(ctx, "alice@acme.com", testPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still works: %v", err)
	}
	if _, err := f.svc.Login(ctx, "alice@acme.com", "New-Password-2", ""); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("pre-reset session survived: %v", err)
	}
	if err := f.svc.CompletePasswordReset(ctx, token, "Another-Pass-3"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token reuse: err = %v, want ErrInvalidToken", err)
	}
	if !f.audit.has(audit.ActionPasswordResetCompleted) {
		t.Error("expected password_reset_completed audit event")
	}
}

func TestPasswordReset_UnknownEmail(t *testing.T) {
	f := newFixture(t)
	token, err := f.svc.RequestPasswordReset(context.Background(), "ghost@acme.com")
	if err != nil || token != "" {
		t.Fatalf("RequestPasswordReset = %q, %v; want empty, nil", token, err)
	}
}

func TestPasswordReset_InvalidTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.svc.RequestPasswordReset(ctx, "alice@acme.com")
	if err != nil {
		t.Fatal(err)
	}
	selector, _, _ := strings.Cut(token, ".")
	cases := map[string]string{
		"empty":          "",
		"no dot":         "abcdef",
		"empty parts":    ".",
		"wrong verifier": selector + "." + strings.Repeat("0", 64),
		"wrong selector": strings.Repeat("f", 16) + ".abc",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if err := f.svc.CompletePasswordReset(ctx, tok, "Valid-Password-1"); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
	// The real token is still usable after failed attempts.
	if err := f.svc.CompletePasswordReset(ctx, token, "Valid-Password-1"); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
}

func TestPasswordReset_Expired(t *testing.T) {
	now := time.Now()
	f := newFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	token, err := f.svc.RequestPasswordReset(ctx, "alice@acme.com")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(ResetTTL + time.Second)
	if err := f.svc.CompletePasswordReset(ctx, token, "Valid-Password-1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestPasswordReset_ConcurrentCompletionHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.svc.RequestPasswordReset(ctx, "alice@acme.com")
	if err != nil {
		t.Fatal(err)
	}
	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.CompletePasswordReset(ctx, token, "Valid-Password-1")
		}(i)
	}
	wg.Wait()
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful completions = %d, want 1", ok)
	}
}

func TestPasswordReset_NotifierFailureIsBestEffort(t *testing.T) {
	f := newFixture(t, WithResetNotifier(&mockNotifier{err: errors.New("smtp down")}))
	token, err := f.svc.RequestPasswordReset(context.Background(), "alice@acme.com")
	if err != nil || token == "" {
		t.Fatalf("RequestPasswordReset = %q, %v", token, err)
	}
	if err := f.svc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestPasswordReset_SlowDeliveryDoesNotRevealAccount(t *testing.T) {
	notifier := &mockNotifier{delay: 500 * time.Millisecond}
	f := newFixture(t, WithResetNotifier(notifier))
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	if _, err := f.svc.RequestPasswordReset(ctx, "nobody@acme.com"); err != nil {
		t.Fatal(err)
	}
	unknown := time.Since(start)

	start = time.Now()
	token, err := f.svc.RequestPasswordReset(ctx, "alice@acme.com")
	if err != nil || token == "" {
		t.Fatalf("RequestPasswordReset = %q, %v", token, err)
	}
	known := time.Since(start)
	// Request context ending must not cut delivery short.
	cancel()

	if known >= notifier.delay/2 {
		t.Fatalf("known email took %v; delivery ran inline", known)
	}
	if known > 10*unknown+50*time.Millisecond {
		t.Errorf("known=%v unknown=%v; timings differ by more than an order of magnitude", known, unknown)
	}
	if notifier.received() != "" {
		t.Error("delivery finished before the request returned")
	}

	if err := f.svc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if notifier.received() != token {
		t.Error("notifier did not receive the token after the request returned")
	}
}

func TestWait_RespectsContext(t *testing.T) {
	f := newFixture(t, WithResetNotifier(&mockNotifier{delay: time.Second}))
	if _, err := f.svc.RequestPasswordReset(context.Background(), "alice@acme.com"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.svc.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		pw   string
		want error
	}{
		{"1234567", ErrWeakPassword},
		{"12345678", nil},
		{strings.Repeat("a", 256), nil},
		{strings.Repeat("a", 257), ErrWeakPassword},
		{"ééééééé", ErrWeakPassword},
		{"éééééééé", nil},
	}
	for _, tt := range tests {
		if got := validatePassword(tt.pw); !errors.Is(got, tt.want) {
			t.Errorf("validatePassword(%d runes) = %v, want %v", len([]rune(tt.pw)), got, tt.want)
		}
	}
}
