// Package pool implements the wager pool state machine: an escrow ledger of
// three-way stakes, polled upkeep, asynchronous oracle resolution and
// pull-based reward withdrawal.
//
// A Pool is a single writer. Every mutating method holds the pool mutex for
// its full duration, validates before it mutates and leaves the pool
// untouched when it returns an error.
package pool

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Deployment defaults.
const (
	DefaultFeeBps          = 200
	DefaultTimeout         = 24 * time.Hour
	DefaultMaxUpkeepCycles = 5
	DefaultCallback        = "fulfill(bytes32,uint256)"
	maxFeeBps              = 10_000
)

// DefaultMinimumBet is 1e13 wei.
var DefaultMinimumBet = big.NewInt(10_000_000_000_000)

type stakeKey struct {
	account common.Address
	outcome domain.Outcome
}

// Pool is one wager pool.
type Pool struct {
	mu sync.Mutex

	address   common.Address
	params    domain.PoolParams
	oracle    domain.Oracle
	transfer  domain.Transferer
	collector domain.Collector
	now       func() time.Time

	state   domain.PoolState
	winner  domain.Outcome
	timeout time.Duration

	totals  [4]*big.Int // indexed by outcome, 1..3 used
	bettors [4]int
	stakes  map[stakeKey]*big.Int
	rewards map[common.Address]*big.Int
	balance *big.Int

	upkeepCount  int
	pending      common.Hash
	requestNonce uint64
	feeToken     *big.Int
	feeCollected *big.Int
	version      uint64
	updatedAt    time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithCollector makes PlaceBet debit the stake from the bettor's wallet
// before the pool accepts it.
func WithCollector(c domain.Collector) Option {
	return func(p *Pool) { p.collector = c }
}

// DefaultParams returns deployment parameters with every default applied.
// The match starts one timeout after now. Owner is left zero and must be
// set before New since the default fee is non-zero.
func DefaultParams(matchID string, now time.Time) domain.PoolParams {
	return domain.PoolParams{
		MatchID:         matchID,
		MatchTimestamp:  now.Add(DefaultTimeout),
		Timeout:         DefaultTimeout,
		MinimumBet:      new(big.Int).Set(DefaultMinimumBet),
		FeeBps:          DefaultFeeBps,
		MaxUpkeepCycles: DefaultMaxUpkeepCycles,
		RequestFee:      new(big.Int),
	}
}

// New deploys a pool at address. Zero MinimumBet, MaxUpkeepCycles and
// RequestFee fields take their defaults; a zero MatchTimestamp means one
// timeout after deployment.
func New(address common.Address, params domain.PoolParams, oracle domain.Oracle, transfer domain.Transferer, opts ...Option) (*Pool, error) {
	p := &Pool{
		address:  address,
		oracle:   oracle,
		transfer: transfer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := normalizeParams(&params, p.now()); err != nil {
		return nil, err
	}
	p.params = params
	p.state = domain.PoolStateOpen
	p.winner = domain.OutcomeNone
	p.timeout = params.Timeout
	for i := range p.totals {
		p.totals[i] = new(big.Int)
	}
	p.stakes = make(map[stakeKey]*big.Int)
	p.rewards = make(map[common.Address]*big.Int)
	p.balance = new(big.Int)
	p.feeToken = new(big.Int)
	p.feeCollected = new(big.Int)
	p.version = 1
	p.updatedAt = p.now()
	return p, nil
}

func normalizeParams(params *domain.PoolParams, now time.Time) error {
	if params.MatchID == "" {
		return fmt.Errorf("pool: match id is required")
	}
	if params.Timeout <= 0 {
		return fmt.Errorf("pool: timeout must be positive, got %s", params.Timeout)
	}
	if params.FeeBps > maxFeeBps {
		return fmt.Errorf("pool: fee bps %d exceeds %d", params.FeeBps, maxFeeBps)
	}
	if params.FeeBps > 0 && params.Owner == (common.Address{}) {
		return fmt.Errorf("pool: owner is required when fee bps is %d", params.FeeBps)
	}
	if params.MinimumBet == nil || params.MinimumBet.Sign() <= 0 {
		params.MinimumBet = new(big.Int).Set(DefaultMinimumBet)
	}
	if params.MaxUpkeepCycles <= 0 {
		params.MaxUpkeepCycles = DefaultMaxUpkeepCycles
	}
	if params.RequestFee == nil {
		params.RequestFee = new(big.Int)
	}
	if params.MatchTimestamp.IsZero() {
		params.MatchTimestamp = now.Add(params.Timeout)
	}
	return nil
}

// Address returns the pool address.
func (p *Pool) Address() common.Address { return p.address }

// Params returns a copy of the deployment parameters.
func (p *Pool) Params() domain.PoolParams {
	params := p.params
	params.MinimumBet = new(big.Int).Set(p.params.MinimumBet)
	params.RequestFee = new(big.Int).Set(p.params.RequestFee)
	return params
}

// Fee returns the owner cut in basis points.
func (p *Pool) Fee() uint64 { return p.params.FeeBps }

// MinimumBet returns the smallest accepted stake.
func (p *Pool) MinimumBet() *big.Int { return new(big.Int).Set(p.params.MinimumBet) }

// MatchTimestamp returns the scheduled match start.
func (p *Pool) MatchTimestamp() time.Time { return p.params.MatchTimestamp }

// Winner returns the resolved outcome, NONE until the pool is settled.
func (p *Pool) Winner() domain.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.winner
}

// State returns the lifecycle stage.
func (p *Pool) State() domain.PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Timeout returns the current, possibly extended, polling window.
func (p *Pool) Timeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

// BetAmount returns the aggregate staked on o.
func (p *Pool) BetAmount(o domain.Outcome) *big.Int {
	if !o.Bettable() {
		return new(big.Int)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.totals[o])
}

func (p *Pool) HomeBetAmount() *big.Int { return p.BetAmount(domain.OutcomeHome) }
func (p *Pool) AwayBetAmount() *big.Int { return p.BetAmount(domain.OutcomeAway) }
func (p *Pool) DrawBetAmount() *big.Int { return p.BetAmount(domain.OutcomeDraw) }

// NumberOfPlayersWhoBet returns the distinct bettor count on o.
func (p *Pool) NumberOfPlayersWhoBet(o domain.Outcome) int {
	if !o.Bettable() {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bettors[o]
}

// AmountBetOn returns what account has staked on o.
func (p *Pool) AmountBetOn(account common.Address, o domain.Outcome) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.stakes[stakeKey{account, o}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Reward returns the withdrawable entitlement of account.
func (p *Pool) Reward(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.rewards[account]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Balance returns the funds currently held by the pool.
func (p *Pool) Balance() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.balance)
}

// PendingRequest returns the in-flight oracle request id, or the zero hash.
func (p *Pool) PendingRequest() common.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Version returns the mutation counter carried by snapshots.
func (p *Pool) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// UpkeepCount returns the number of completed upkeep cycles.
func (p *Pool) UpkeepCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upkeepCount
}

// Snapshot returns a deep copy of the pool state.
func (p *Pool) Snapshot() domain.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() domain.PoolSnapshot {
	snap := domain.PoolSnapshot{
		Address:            p.address,
		Version:            p.version,
		Params:             p.Params(),
		State:              p.state,
		Winner:             p.winner,
		Timeout:            p.timeout,
		HomeTotal:          new(big.Int).Set(p.totals[domain.OutcomeHome]),
		AwayTotal:          new(big.Int).Set(p.totals[domain.OutcomeAway]),
		DrawTotal:          new(big.Int).Set(p.totals[domain.OutcomeDraw]),
		HomeBettors:        p.bettors[domain.OutcomeHome],
		AwayBettors:        p.bettors[domain.OutcomeAway],
		DrawBettors:        p.bettors[domain.OutcomeDraw],
		PerformUpkeepCount: p.upkeepCount,
		PendingRequestID:   p.pending,
		RequestNonce:       p.requestNonce,
		FeeTokenBalance:    new(big.Int).Set(p.feeToken),
		FeeCollected:       new(big.Int).Set(p.feeCollected),
		Balance:            new(big.Int).Set(p.balance),
		UpdatedAt:          p.updatedAt,
	}
	for k, v := range p.stakes {
		if v.Sign() == 0 {
			continue
		}
		snap.Stakes = append(snap.Stakes, domain.StakeRecord{Account: k.account, Outcome: k.outcome, Amount: new(big.Int).Set(v)})
	}
	sort.Slice(snap.Stakes, func(i, j int) bool {
		a, b := snap.Stakes[i], snap.Stakes[j]
		if a.Account != b.Account {
			return a.Account.Cmp(b.Account) < 0
		}
		return a.Outcome < b.Outcome
	})
	for acct, v := range p.rewards {
		if v.Sign() == 0 {
			continue
		}
		snap.Rewards = append(snap.Rewards, domain.RewardRecord{Account: acct, Amount: new(big.Int).Set(v)})
	}
	sort.Slice(snap.Rewards, func(i, j int) bool {
		return snap.Rewards[i].Account.Cmp(snap.Rewards[j].Account) < 0
	})
	return snap
}

// Restore rebuilds a pool from a snapshot.
func Restore(snap domain.PoolSnapshot, oracle domain.Oracle, transfer domain.Transferer, opts ...Option) (*Pool, error) {
	p, err := New(snap.Address, snap.Params, oracle, transfer, opts...)
	if err != nil {
		return nil, fmt.Errorf("pool: restore %s: %w", snap.Address.Hex(), err)
	}
	p.state = snap.State
	p.winner = snap.Winner
	if snap.Timeout > 0 {
		p.timeout = snap.Timeout
	}
	p.upkeepCount = snap.PerformUpkeepCount
	p.pending = snap.PendingRequestID
	p.requestNonce = snap.RequestNonce
	p.feeToken = cloneOrZero(snap.FeeTokenBalance)
	p.feeCollected = cloneOrZero(snap.FeeCollected)
	p.balance = cloneOrZero(snap.Balance)
	for _, s := range snap.Stakes {
		if !s.Outcome.Bettable() || s.Amount == nil || s.Amount.Sign() <= 0 {
			continue
		}
		p.stakes[stakeKey{s.Account, s.Outcome}] = new(big.Int).Set(s.Amount)
		p.totals[s.Outcome].Add(p.totals[s.Outcome], s.Amount)
		p.bettors[s.Outcome]++
	}
	for _, r := range snap.Rewards {
		if r.Amount == nil || r.Amount.Sign() <= 0 {
			continue
		}
		p.rewards[r.Account] = new(big.Int).Set(r.Amount)
	}
	if snap.Version > 0 {
		p.version = snap.Version
	}
	if !snap.UpdatedAt.IsZero() {
		p.updatedAt = snap.UpdatedAt
	}
	return p, nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// touch records an accepted mutation. Callers hold p.mu.
func (p *Pool) touch(now time.Time) {
	p.version++
	p.updatedAt = now
}

func (p *Pool) event(t domain.EventType, at time.Time) domain.PoolEvent {
	return domain.PoolEvent{Type: t, Pool: p.address, State: p.state, At: at}
}
