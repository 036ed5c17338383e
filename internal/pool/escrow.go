package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PlaceBet stakes value on outcome for bettor.
func (p *Pool) PlaceBet(ctx context.Context, bettor common.Address, outcome domain.Outcome, value *big.Int) ([]domain.PoolEvent, error) {
	if !outcome.Bettable() {
		return nil, domain.ErrInvalidBetValue
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if value == nil || value.Cmp(p.params.MinimumBet) < 0 {
		return nil, domain.ErrSendMoreFunds
	}
	if p.state != domain.PoolStateOpen {
		return nil, domain.ErrMatchStarted
	}
	if p.collector != nil {
		if err := p.collector.Collect(ctx, p.address, bettor, value, "place_bet"); err != nil {
			return nil, fmt.Errorf("pool: collect stake: %w", err)
		}
	}

	key := stakeKey{bettor, outcome}
	stake, ok := p.stakes[key]
	if !ok {
		stake = new(big.Int)
		p.stakes[key] = stake
	}
	if stake.Sign() == 0 {
		p.bettors[outcome]++
	}
	stake.Add(stake, value)
	p.totals[outcome].Add(p.totals[outcome], value)
	p.balance.Add(p.balance, value)

	now := p.now()
	p.touch(now)
	ev := p.event(domain.EventBetPlaced, now)
	ev.Account = bettor
	ev.Outcome = outcome
	ev.Amount = new(big.Int).Set(value)
	return []domain.PoolEvent{ev}, nil
}

// CancelBet returns every stake bettor holds in the pool. Records are zeroed
// before the transfer and restored if it fails.
func (p *Pool) CancelBet(ctx context.Context, bettor common.Address) ([]domain.PoolEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != domain.PoolStateOpen {
		return nil, domain.ErrMatchStarted
	}

	var prev [4]*big.Int
	total := new(big.Int)
	for _, o := range domain.BetOutcomes {
		if v, ok := p.stakes[stakeKey{bettor, o}]; ok && v.Sign() > 0 {
			prev[o] = new(big.Int).Set(v)
			total.Add(total, v)
		}
	}
	if total.Sign() == 0 {
		return nil, domain.ErrZeroBalance
	}

	for _, o := range domain.BetOutcomes {
		if prev[o] == nil {
			continue
		}
		delete(p.stakes, stakeKey{bettor, o})
		p.totals[o].Sub(p.totals[o], prev[o])
		p.bettors[o]--
	}
	p.balance.Sub(p.balance, total)

	if err := p.transfer.Transfer(ctx, p.address, bettor, total, "cancel_bet"); err != nil {
		for _, o := range domain.BetOutcomes {
			if prev[o] == nil {
				continue
			}
			p.stakes[stakeKey{bettor, o}] = prev[o]
			p.totals[o].Add(p.totals[o], prev[o])
			p.bettors[o]++
		}
		p.balance.Add(p.balance, total)
		return nil, fmt.Errorf("pool: cancel bet transfer: %w", err)
	}

	now := p.now()
	p.touch(now)
	ev := p.event(domain.EventBetCancelled, now)
	ev.Account = bettor
	ev.Amount = total
	return []domain.PoolEvent{ev}, nil
}
