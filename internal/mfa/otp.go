package mfa

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the TOTP time step.
	Period = 30 * time.Second
	// Skew is the number of adjacent steps accepted on either side of the current one.
	Skew = 1
)

// ErrEmptyAccount is returned by Generate when no account name is given.
var ErrEmptyAccount = errors.New("mfa: account name is required")

// Authenticator generates TOTP secrets and validates codes (RFC 6238, SHA1, 6 digits, 30 s).
type Authenticator struct {
	issuer string
	now    func() time.Time
}

// NewAuthenticator returns an Authenticator that labels secrets with issuer.
func NewAuthenticator(issuer string) *Authenticator {
	return &Authenticator{issuer: issuer, now: time.Now}
}

// WithClock returns a copy of a that reads the current time from now.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	cp := *a
	cp.now = now
	return &cp
}

// Generate returns a new base32 secret and its otpauth:// provisioning URL.
func (a *Authenticator) Generate(accountName string) (secret, url string, err error) {
	if accountName == "" {
		return "", "", ErrEmptyAccount
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.issuer,
		AccountName: accountName,
		Period:      uint(Period / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Validate reports whether code matches secret at the current step or one step either side.
// Spaces in code are ignored. Malformed secrets never validate.
func (a *Authenticator) Validate(code, secret string) bool {
	code = NormalizeCode(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, a.now().UTC(), validateOpts())
	return err == nil && ok
}

// CodeAt returns the code for secret at t. Used by tests and the seed tool.
func CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, validateOpts())
}

// NormalizeCode strips whitespace authenticator apps insert for readability.
func NormalizeCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(Period / time.Second),
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
