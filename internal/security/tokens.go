package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, tampered with, expired, or signed
	// for another issuer, audience, or token class.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidSecret is returned by NewTokenCodec for empty or shared signing secrets.
	ErrInvalidSecret = errors.New("invalid signing secret")
)

const (
	// AccessTTL is the fixed lifetime of access tokens.
	AccessTTL = 15 * time.Minute
	// RefreshTTL is the fixed lifetime of refresh-token envelopes (and the refresh cookie).
	RefreshTTL = 7 * 24 * time.Hour
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"id"`
	TenantID string `json:"tenantId"`
	Role     string `json:"role"`
}

// RefreshClaims holds JWT claims for the refresh-token envelope.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UID string `json:"uid"`
}

// TokenCodec signs and verifies access tokens and refresh envelopes with HS256, one secret
// per token class. It is immutable after construction and safe for concurrent use.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	now           func() time.Time
}

// NewTokenCodec returns a TokenCodec. Both secrets must be non-empty and distinct so that a
// refresh envelope can never verify as an access token or vice versa.
func NewTokenCodec(accessSecret, refreshSecret []byte, issuer, audience string) (*TokenCodec, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 || string(accessSecret) == string(refreshSecret) {
		return nil, ErrInvalidSecret
	}
	return &TokenCodec{
		accessSecret:  append([]byte(nil), accessSecret...),
		refreshSecret: append([]byte(nil), refreshSecret...),
		issuer:        issuer,
		audience:      audience,
		now:           time.Now,
	}, nil
}

// WithClock returns a copy of c that reads the current time from now.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// SignAccess issues a 15-minute access token over {id, tenantId, role}.
func (c *TokenCodec) SignAccess(userID, tenantID, role string) (token string, expiresAt time.Time, err error) {
	now := c.now().UTC()
	expiresAt = now.Add(AccessTTL)
	reg, err := c.registered(userID, now, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	claims := AccessClaims{RegisteredClaims: reg, UserID: userID, TenantID: tenantID, Role: role}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	return token, expiresAt, err
}

// VerifyAccess validates signature, algorithm, issuer, audience and expiry of an access token.
func (c *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(token, claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.TenantID == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignRefreshEnvelope issues a 7-day refresh envelope over {uid}. The random jti makes every
// envelope unique even when issued within the same second.
func (c *TokenCodec) SignRefreshEnvelope(userID string) (token string, expiresAt time.Time, err error) {
	now := c.now().UTC()
	expiresAt = now.Add(RefreshTTL)
	reg, err := c.registered(userID, now, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	claims := RefreshClaims{RegisteredClaims: reg, UID: userID}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	return token, expiresAt, err
}

// VerifyRefreshEnvelope validates a refresh envelope and returns the user id it was issued to.
func (c *TokenCodec) VerifyRefreshEnvelope(token string) (string, error) {
	claims := &RefreshClaims{}
	if err := c.parse(token, claims, c.refreshSecret); err != nil {
		return "", err
	}
	if claims.UID == "" {
		return "", ErrInvalidToken
	}
	return claims.UID, nil
}

func (c *TokenCodec) registered(subject string, now, expiresAt time.Time) (jwt.RegisteredClaims, error) {
	jti, err := generateJTI()
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{c.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}, nil
}

func (c *TokenCodec) parse(token string, claims jwt.Claims, secret []byte) error {
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
