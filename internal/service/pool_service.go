// Package service coordinates the pools of one node. It owns the registry of
// live pools and, after every accepted operation, persists the snapshot,
// records and publishes the resulting events, refreshes the read cache and
// archives settled pools.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/alanyoungcy/wagerpool/internal/pool"
)

// PoolNotifier receives lifecycle alerts for terminal events.
type PoolNotifier interface {
	NotifyPool(ctx context.Context, ev domain.PoolEvent, snap domain.PoolSnapshot) error
}

// Deps are the optional collaborators of a PoolService. Nil members are
// skipped.
type Deps struct {
	Store    domain.PoolStore
	Events   domain.EventStore
	Audit    domain.AuditStore
	Cache    domain.PoolCache
	Bus      domain.SignalBus
	Archiver domain.SettlementArchiver
	Notifier PoolNotifier
}

// Option configures a PoolService.
type Option func(*PoolService)

// WithClock replaces time.Now for the service and every pool it creates.
func WithClock(now func() time.Time) Option {
	return func(s *PoolService) { s.now = now }
}

// WithSignedFulfillments makes Fulfill reject callbacks that are not signed
// by the pool's configured oracle.
func WithSignedFulfillments(required bool) Option {
	return func(s *PoolService) { s.requireOracleSig = required }
}

// PoolService is the registry of pools served by this node.
type PoolService struct {
	mu    sync.RWMutex
	pools map[common.Address]*pool.Pool

	oracle    domain.Oracle
	transfer  domain.Transferer
	collector domain.Collector
	deps      Deps

	requireOracleSig bool
	now              func() time.Time
	started          time.Time
	logger           *slog.Logger
}

// NewPoolService creates an empty registry. oracle and transfer are handed
// to every pool. When transfer is also a domain.Collector, stakes are
// debited from the bettor's wallet before a pool accepts them.
func NewPoolService(oracle domain.Oracle, transfer domain.Transferer, deps Deps, logger *slog.Logger, opts ...Option) *PoolService {
	s := &PoolService{
		pools:    make(map[common.Address]*pool.Pool),
		oracle:   oracle,
		transfer: transfer,
		deps:     deps,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "pool_service")),
	}
	if c, ok := transfer.(domain.Collector); ok {
		s.collector = c
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	return s
}

func (s *PoolService) poolOptions() []pool.Option {
	opts := []pool.Option{pool.WithClock(s.now)}
	if s.collector != nil {
		opts = append(opts, pool.WithCollector(s.collector))
	}
	return opts
}

// Deploy creates a pool at address and, when fund is positive, credits the
// owner's initial fee-token funding.
func (s *PoolService) Deploy(ctx context.Context, address common.Address, params domain.PoolParams, fund *big.Int) (domain.PoolSnapshot, error) {
	s.mu.Lock()
	if _, ok := s.pools[address]; ok {
		s.mu.Unlock()
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: deploy %s: %w", address.Hex(), domain.ErrAlreadyExists)
	}
	p, err := pool.New(address, params, s.oracle, s.transfer, s.poolOptions()...)
	if err != nil {
		s.mu.Unlock()
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: deploy %s: %w", address.Hex(), err)
	}
	s.pools[address] = p
	s.mu.Unlock()

	s.audit(ctx, "pool_deployed", map[string]any{
		"pool":     address.Hex(),
		"match_id": params.MatchID,
		"fee_bps":  p.Fee(),
	})
	s.logger.InfoContext(ctx, "pool deployed",
		slog.String("pool", address.Hex()),
		slog.String("match_id", params.MatchID),
		slog.Time("match_timestamp", p.MatchTimestamp()),
	)

	if fund != nil && fund.Sign() > 0 {
		events, err := p.FundFeeToken(ctx, p.Params().Owner, fund)
		if err != nil {
			return domain.PoolSnapshot{}, fmt.Errorf("pool_service: fund %s: %w", address.Hex(), err)
		}
		return s.commit(ctx, p, events), nil
	}
	return s.commit(ctx, p, nil), nil
}

// Load restores every persisted pool that is not already registered and
// returns how many were restored.
func (s *PoolService) Load(ctx context.Context) (int, error) {
	if s.deps.Store == nil {
		return 0, nil
	}
	const page = 200
	restored := 0
	for offset := 0; ; offset += page {
		snaps, err := s.deps.Store.List(ctx, domain.ListOpts{Limit: page, Offset: offset})
		if err != nil {
			return restored, fmt.Errorf("pool_service: load pools: %w", err)
		}
		for _, snap := range snaps {
			if ok, err := s.restore(snap); err != nil {
				return restored, err
			} else if ok {
				restored++
			}
		}
		if len(snaps) < page {
			break
		}
	}
	s.logger.InfoContext(ctx, "pools restored", slog.Int("count", restored))
	return restored, nil
}

func (s *PoolService) restore(snap domain.PoolSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[snap.Address]; ok {
		return false, nil
	}
	p, err := pool.Restore(snap, s.oracle, s.transfer, s.poolOptions()...)
	if err != nil {
		return false, fmt.Errorf("pool_service: restore %s: %w", snap.Address.Hex(), err)
	}
	s.pools[snap.Address] = p
	return true, nil
}

// Pool returns the live pool at address.
func (s *PoolService) Pool(address common.Address) (*pool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[address]
	if !ok {
		return nil, fmt.Errorf("pool_service: %s: %w", address.Hex(), domain.ErrPoolNotFound)
	}
	return p, nil
}

// Addresses returns every registered pool address in ascending order.
func (s *PoolService) Addresses() []common.Address {
	s.mu.RLock()
	out := make([]common.Address, 0, len(s.pools))
	for addr := range s.pools {
		out = append(out, addr)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Snapshot returns the current state of a pool. A pool hosted here is read
// live; the read cache only serves pools this node does not host.
func (s *PoolService) Snapshot(ctx context.Context, address common.Address) (domain.PoolSnapshot, error) {
	p, err := s.Pool(address)
	if err == nil {
		return p.Snapshot(), nil
	}
	if s.deps.Cache == nil {
		return domain.PoolSnapshot{}, err
	}
	snap, cerr := s.deps.Cache.Get(ctx, address)
	if cerr != nil {
		if !errors.Is(cerr, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "pool cache read failed",
				slog.String("pool", address.Hex()),
				slog.String("error", cerr.Error()),
			)
		}
		return domain.PoolSnapshot{}, err
	}
	return snap, nil
}

// List returns snapshots of every pool, optionally restricted to one state.
func (s *PoolService) List(state *domain.PoolState) []domain.PoolSnapshot {
	var out []domain.PoolSnapshot
	for _, addr := range s.Addresses() {
		p, err := s.Pool(addr)
		if err != nil {
			continue
		}
		if state != nil && p.State() != *state {
			continue
		}
		out = append(out, p.Snapshot())
	}
	return out
}

// Settlements returns the settlement report of every terminal pool.
func (s *PoolService) Settlements() []domain.SettlementReport {
	var out []domain.SettlementReport
	for _, addr := range s.Addresses() {
		p, err := s.Pool(addr)
		if err != nil {
			continue
		}
		if report, ok := p.Settlement(); ok {
			out = append(out, report)
		}
	}
	return out
}

// Status summarises the registry.
func (s *PoolService) Status(mode string, keeperEnabled bool) domain.ServiceStatus {
	st := domain.ServiceStatus{
		Mode:          mode,
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		KeeperEnabled: keeperEnabled,
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st.Pools = len(s.pools)
	for _, p := range s.pools {
		if p.State() == domain.PoolStateOpen {
			st.OpenPools++
		}
	}
	return st
}
