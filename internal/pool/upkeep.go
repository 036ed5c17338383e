package pool

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CheckUpkeep reports whether PerformUpkeep would run now. It has no side
// effects. A CALCULATING pool needs upkeep once its extended deadline has
// passed, at which point the pending oracle request counts as expired.
func (p *Pool) CheckUpkeep() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upkeepNeeded(p.now())
}

// Deadline returns the time after which upkeep is due.
func (p *Pool) Deadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params.MatchTimestamp.Add(p.timeout)
}

func (p *Pool) upkeepNeeded(now time.Time) bool {
	if p.state != domain.PoolStateOpen && p.state != domain.PoolStateCalculating {
		return false
	}
	return !now.Before(p.params.MatchTimestamp.Add(p.timeout))
}

func (p *Pool) participationMet() bool {
	for _, o := range domain.BetOutcomes {
		if p.bettors[o] < 1 {
			return false
		}
	}
	return true
}

// PerformUpkeep advances the pool by one upkeep cycle. Without bettors on
// all three outcomes the window is extended, and once the cycle cap is
// reached the pool is cancelled. Otherwise the match result is requested
// from the oracle and the pool moves to CALCULATING.
func (p *Pool) PerformUpkeep(ctx context.Context) ([]domain.PoolEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.upkeepNeeded(now) {
		return nil, domain.ErrUpkeepNotNeeded
	}
	cycle := p.upkeepCount + 1
	expired := p.state == domain.PoolStateCalculating

	if !p.participationMet() || (expired && cycle >= p.params.MaxUpkeepCycles) {
		if cycle >= p.params.MaxUpkeepCycles {
			p.upkeepCount = cycle
			events := []domain.PoolEvent{p.upkeepEvent(cycle, now)}
			return append(events, p.cancelLocked(now)...), nil
		}
		p.timeout += p.params.Timeout
		p.upkeepCount = cycle
		p.touch(now)
		return []domain.PoolEvent{p.upkeepEvent(cycle, now)}, nil
	}

	if p.feeToken.Cmp(p.params.RequestFee) < 0 {
		return nil, domain.ErrInsufficientFeeToken
	}
	nonce := p.requestNonce + 1
	req := domain.OracleRequest{
		ID:          RequestID(p.address, nonce),
		Pool:        p.address,
		Oracle:      p.params.Oracle,
		MatchID:     p.params.MatchID,
		APIURL:      p.params.APIURL,
		JobID:       p.params.JobID,
		Fee:         new(big.Int).Set(p.params.RequestFee),
		FeeToken:    p.params.FeeToken,
		Callback:    DefaultCallback,
		RequestedAt: now,
	}
	if err := p.oracle.Request(ctx, req); err != nil {
		return nil, fmt.Errorf("pool: request match result: %w", err)
	}

	p.feeToken.Sub(p.feeToken, p.params.RequestFee)
	p.requestNonce = nonce
	p.pending = req.ID
	p.state = domain.PoolStateCalculating
	p.timeout += p.params.Timeout
	p.upkeepCount = cycle
	p.touch(now)

	requested := p.event(domain.EventOracleRequested, now)
	requested.RequestID = req.ID
	requested.Amount = new(big.Int).Set(p.params.RequestFee)
	requested.Cycle = cycle
	return []domain.PoolEvent{p.upkeepEvent(cycle, now), requested}, nil
}

func (p *Pool) upkeepEvent(cycle int, now time.Time) domain.PoolEvent {
	ev := p.event(domain.EventUpkeepPerformed, now)
	ev.Cycle = cycle
	return ev
}

// RequestID derives the correlation id of the nonce-th oracle request of a
// pool: keccak256(pool ‖ uint256(nonce)).
func RequestID(pool common.Address, nonce uint64) common.Hash {
	var n [32]byte
	binary.BigEndian.PutUint64(n[24:], nonce)
	return crypto.Keccak256Hash(pool.Bytes(), n[:])
}

// FundFeeToken credits amount of the oracle fee token to the pool. Only the
// owner pays for result requests. The fee token is never withdrawable.
func (p *Pool) FundFeeToken(ctx context.Context, from common.Address, amount *big.Int) ([]domain.PoolEvent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrSendMoreFunds
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if from != p.params.Owner {
		return nil, domain.ErrNotOwner
	}

	p.feeToken.Add(p.feeToken, amount)
	now := p.now()
	p.touch(now)
	ev := p.event(domain.EventFeeTokenFunded, now)
	ev.Account = from
	ev.Amount = new(big.Int).Set(amount)
	return []domain.PoolEvent{ev}, nil
}

// FeeTokenBalance returns the oracle fee token held by the pool.
func (p *Pool) FeeTokenBalance() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.feeToken)
}
