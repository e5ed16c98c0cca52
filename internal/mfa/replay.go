package mfa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard records accepted TOTP codes so each code is accepted at most once per user.
type ReplayGuard interface {
	// Claim returns true the first time (userID, code) is seen within the validity window.
	Claim(ctx context.Context, userID, code string) (bool, error)
}

// RedisReplayGuard implements ReplayGuard with SET NX and a TTL covering the skew window.
type RedisReplayGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisReplayGuard returns a guard backed by client.
func NewRedisReplayGuard(client redis.UniversalClient) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: Period * (2*Skew + 1)}
}

// NewRedisClient parses url (redis://host:port/db) and returns a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// Claim stores a hash of the code; the plaintext code never reaches Redis.
func (g *RedisReplayGuard) Claim(ctx context.Context, userID, code string) (bool, error) {
	return g.client.SetNX(ctx, replayKey(userID, code), 1, g.ttl).Result()
}

// Ping checks connectivity for health reporting.
func (g *RedisReplayGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func replayKey(userID, code string) string {
	h := sha256.Sum256([]byte(userID + ":" + NormalizeCode(code)))
	return "totp:used:" + hex.EncodeToString(h[:])
}
