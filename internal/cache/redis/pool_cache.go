package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const defaultPoolTTL = 5 * time.Minute

//go:embed scripts/pool_set.lua
var poolSetLua string

// PoolCache implements domain.PoolCache with JSON snapshots stored in a
// hash per pool, plus a set of every cached pool address.
//
// Key schema:
//
//	wagerpool:pool:{address}  - hash: "data" snapshot JSON, "version", "state"
//	wagerpool:pools           - set of cached addresses
type PoolCache struct {
	rdb   *redis.Client
	ttl   time.Duration
	setSc *redis.Script
}

// NewPoolCache creates a PoolCache. A zero ttl uses five minutes.
func NewPoolCache(c *Client, ttl time.Duration) *PoolCache {
	if ttl <= 0 {
		ttl = defaultPoolTTL
	}
	return &PoolCache{rdb: c.Underlying(), ttl: ttl, setSc: redis.NewScript(poolSetLua)}
}

func poolKey(addr common.Address) string { return keyPrefix + "pool:" + addr.Hex() }

const poolIndexKey = keyPrefix + "pools"

// Set stores a snapshot unless the cache already holds the same or a
// newer version.
func (pc *PoolCache) Set(ctx context.Context, snap domain.PoolSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %s: %w", snap.Address.Hex(), err)
	}
	err = pc.setSc.Run(ctx, pc.rdb,
		[]string{poolKey(snap.Address), poolIndexKey},
		data, snap.Version, snap.State.String(), pc.ttl.Milliseconds(), snap.Address.Hex(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set pool %s: %w", snap.Address.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a cache miss.
func (pc *PoolCache) Get(ctx context.Context, addr common.Address) (domain.PoolSnapshot, error) {
	data, err := pc.rdb.HGet(ctx, poolKey(addr), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PoolSnapshot{}, domain.ErrNotFound
		}
		return domain.PoolSnapshot{}, fmt.Errorf("redis: get pool %s: %w", addr.Hex(), err)
	}
	var snap domain.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("redis: unmarshal pool %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

// Invalidate removes a pool from the cache.
func (pc *PoolCache) Invalidate(ctx context.Context, addr common.Address) error {
	pipe := pc.rdb.TxPipeline()
	pipe.Del(ctx, poolKey(addr))
	pipe.SRem(ctx, poolIndexKey, addr.Hex())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate pool %s: %w", addr.Hex(), err)
	}
	return nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
