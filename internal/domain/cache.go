package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolCache provides fast snapshot lookups for the read API. Set ignores
// a snapshot whose version is not newer than the cached one.
type PoolCache interface {
	Set(ctx context.Context, snap PoolSnapshot) error
	Get(ctx context.Context, addr common.Address) (PoolSnapshot, error)
	Invalidate(ctx context.Context, addr common.Address) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelPoolEvents   = "ch:pool:events"
	StreamOracleRequest = "stream:oracle:requests"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
