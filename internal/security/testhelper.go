package security

// Test secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
)

// NewTestTokenCodec returns a TokenCodec using the embedded test secrets.
// For unit tests only. Callers must not use in production.
func NewTestTokenCodec() *TokenCodec {
	c, err := NewTokenCodec([]byte(testAccessSecret), []byte(testRefreshSecret), "test-issuer", "test-audience")
	if err != nil {
		panic(err)
	}
	return c
}

// NewTestHasher returns a Hasher with minimal Argon2id cost so tests stay fast.
// For unit tests only.
func NewTestHasher() *Hasher {
	return NewHasher(Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1})
}
