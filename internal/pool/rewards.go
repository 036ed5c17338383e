package pool

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

func (p *Pool) totalLocked() *big.Int {
	total := new(big.Int)
	for _, o := range domain.BetOutcomes {
		total.Add(total, p.totals[o])
	}
	return total
}

func (p *Pool) credit(account common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	r, ok := p.rewards[account]
	if !ok {
		r = new(big.Int)
		p.rewards[account] = r
	}
	r.Add(r, amount)
}

// distributeLocked credits each winner their stake plus a pro-rata share of
// the losing pools net of the owner fee. The owner receives the fee and the
// integer division remainder, so credited rewards always sum to the pool
// total.
func (p *Pool) distributeLocked(winner domain.Outcome) {
	total := p.totalLocked()
	winTotal := p.totals[winner]
	losing := new(big.Int).Sub(total, winTotal)

	fee := new(big.Int).Mul(losing, new(big.Int).SetUint64(p.params.FeeBps))
	fee.Quo(fee, big.NewInt(maxFeeBps))
	prize := new(big.Int).Sub(losing, fee)

	paid := new(big.Int)
	for _, k := range p.sortedStakeKeys(winner) {
		stake := p.stakes[k]
		share := new(big.Int).Mul(stake, prize)
		share.Quo(share, winTotal)
		share.Add(share, stake)
		p.credit(k.account, share)
		paid.Add(paid, share)
	}

	ownerCut := new(big.Int).Sub(total, paid)
	p.feeCollected = ownerCut
	p.credit(p.params.Owner, ownerCut)
}

// refundLocked credits every bettor their total stake.
func (p *Pool) refundLocked() {
	for _, o := range domain.BetOutcomes {
		for _, k := range p.sortedStakeKeys(o) {
			p.credit(k.account, p.stakes[k])
		}
	}
}

func (p *Pool) sortedStakeKeys(o domain.Outcome) []stakeKey {
	keys := make([]stakeKey, 0, p.bettors[o])
	for k, v := range p.stakes {
		if k.outcome == o && v.Sign() > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].account.Cmp(keys[j].account) < 0 })
	return keys
}

// Withdraw pays out the reward of account. The record is zeroed before the
// transfer and restored if it fails.
func (p *Pool) Withdraw(ctx context.Context, account common.Address) ([]domain.PoolEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reward, ok := p.rewards[account]
	if !ok || reward.Sign() == 0 {
		return nil, domain.ErrNoReward
	}
	amount := new(big.Int).Set(reward)
	delete(p.rewards, account)
	p.balance.Sub(p.balance, amount)

	if err := p.transfer.Transfer(ctx, p.address, account, amount, "withdraw"); err != nil {
		p.rewards[account] = amount
		p.balance.Add(p.balance, amount)
		return nil, fmt.Errorf("pool: withdraw transfer: %w", err)
	}

	now := p.now()
	p.touch(now)
	ev := p.event(domain.EventRewardWithdrawn, now)
	ev.Account = account
	ev.Amount = amount
	return []domain.PoolEvent{ev}, nil
}

// Settlement summarises a terminal pool for archiving.
func (p *Pool) Settlement() (domain.SettlementReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Terminal() {
		return domain.SettlementReport{}, false
	}
	snap := p.snapshotLocked()
	return domain.SettlementReport{
		Pool:         p.address,
		MatchID:      p.params.MatchID,
		State:        p.state,
		Winner:       p.winner,
		HomeTotal:    snap.HomeTotal,
		AwayTotal:    snap.AwayTotal,
		DrawTotal:    snap.DrawTotal,
		FeeCollected: snap.FeeCollected,
		Rewards:      snap.Rewards,
		SettledAt:    p.updatedAt,
	}, true
}
