// Package keeper polls pools for due upkeep. A keeper either drives the
// registry in its own process or, through RemotePools, the API of the node
// that hosts the pools. Several keepers may drive one host; a distributed
// lock per pool keeps them from racing on the same cycle.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// Upkeeper is the pool registry as seen by the keeper.
type Upkeeper interface {
	DuePools(ctx context.Context) ([]common.Address, error)
	PerformUpkeep(ctx context.Context, address common.Address) (domain.PoolSnapshot, error)
}

// Config controls the polling loop.
type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// Keeper is the external upkeep poller.
type Keeper struct {
	pools  Upkeeper
	locks  domain.LockManager
	cfg    Config
	logger *slog.Logger
}

// New creates a Keeper. locks may be nil for a single-instance deployment.
func New(pools Upkeeper, locks domain.LockManager, cfg Config, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Keeper{
		pools:  pools,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started", slog.Duration("interval", k.cfg.Interval))
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick performs upkeep on every due pool and returns how many cycles ran.
func (k *Keeper) Tick(ctx context.Context) int {
	due, err := k.pools.DuePools(ctx)
	if err != nil {
		k.logger.ErrorContext(ctx, "list due pools failed", slog.String("error", err.Error()))
		return 0
	}
	performed := 0
	for _, addr := range due {
		if ctx.Err() != nil {
			return performed
		}
		if k.upkeep(ctx, addr) {
			performed++
		}
	}
	return performed
}

func lockKey(addr common.Address) string {
	return "upkeep:" + addr.Hex()
}

func (k *Keeper) upkeep(ctx context.Context, addr common.Address) bool {
	log := k.logger.With(slog.String("pool", addr.Hex()))

	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, lockKey(addr), k.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			log.DebugContext(ctx, "upkeep lock held elsewhere")
			return false
		}
		if err != nil {
			log.ErrorContext(ctx, "acquire upkeep lock failed", slog.String("error", err.Error()))
			return false
		}
		defer unlock()
	}

	snap, err := k.pools.PerformUpkeep(ctx, addr)
	switch {
	case err == nil:
		log.InfoContext(ctx, "upkeep performed",
			slog.String("state", snap.State.String()),
			slog.Int("cycle", snap.PerformUpkeepCount),
		)
		return true
	case errors.Is(err, domain.ErrUpkeepNotNeeded):
		log.DebugContext(ctx, "upkeep no longer needed")
	case errors.Is(err, domain.ErrInsufficientFeeToken):
		log.WarnContext(ctx, "pool cannot pay the oracle fee")
	default:
		log.ErrorContext(ctx, "upkeep failed", slog.String("error", err.Error()))
	}
	return false
}
