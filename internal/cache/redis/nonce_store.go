package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore records signed-action nonces with SET NX so each one is
// accepted once across every API node.
type NonceStore struct {
	rdb *redis.Client
}

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.Underlying()}
}

func nonceKey(key string) string {
	return keyPrefix + "nonce:" + key
}

// Claim marks key as used for ttl. It reports false when key was already
// claimed.
func (ns *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := ns.rdb.SetNX(ctx, nonceKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce %s: %w", key, err)
	}
	return ok, nil
}
