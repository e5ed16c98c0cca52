package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned by Verify when the stored digest is malformed or uses
// parameters outside the accepted bounds.
var ErrInvalidHash = errors.New("invalid hash")

const (
	argon2Version = 19
	saltLength    = 16
	keyLength     = 32
)

// Argon2Params controls Argon2id cost. MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// Hasher hashes and verifies passwords, refresh-token envelopes and reset verifiers using
// Argon2id. Callers must not log or persist plaintext values.
type Hasher struct {
	Params Argon2Params
}

// NewHasher returns a Hasher with the given parameters. Zero values fall back to
// 64 MiB, 3 iterations, 2 lanes.
func NewHasher(p Argon2Params) *Hasher {
	if p.MemoryKiB == 0 {
		p.MemoryKiB = 64 * 1024
	}
	if p.Iterations == 0 {
		p.Iterations = 3
	}
	if p.Parallelism == 0 {
		p.Parallelism = 2
	}
	return &Hasher{Params: p}
}

// Hash returns a PHC-encoded Argon2id digest of plaintext with a fresh random salt:
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.Params.Iterations, h.Params.MemoryKiB, h.Params.Parallelism, keyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		h.Params.MemoryKiB,
		h.Params.Iterations,
		h.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches digest. The derived key is always computed in full
// and compared in constant time. Returns (false, ErrInvalidHash) for malformed digests.
func (h *Hasher) Verify(digest, plaintext string) (bool, error) {
	params, salt, expected, err := decodeDigest(digest)
	if err != nil {
		return false, err
	}
	if !h.withinBounds(params) {
		return false, ErrInvalidHash
	}
	key := argon2.IDKey([]byte(plaintext), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(expected))) // #nosec G115 -- length bounded by decodeDigest.
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// withinBounds accepts digests produced with older or smaller settings but rejects
// attacker-sized parameters.
func (h *Hasher) withinBounds(got Argon2Params) bool {
	if got.MemoryKiB > h.Params.MemoryKiB*2 {
		return false
	}
	if got.Iterations > h.Params.Iterations*2 {
		return false
	}
	if got.Parallelism > h.Params.Parallelism*2 && got.Parallelism > 4 {
		return false
	}
	return true
}

func decodeDigest(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Argon2Params{}, nil, nil, ErrInvalidHash
	}
	return Argon2Params{MemoryKiB: mem, Iterations: it, Parallelism: uint8(par)}, salt, key, nil // #nosec G115 -- par <= 255 checked above.
}
