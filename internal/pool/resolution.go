package pool

import (
	"context"
	"math/big"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Fulfill applies the oracle callback for requestID. Only the pending
// request of a CALCULATING pool is accepted. Result codes 1..3 end the pool
// with that winner; every other code cancels it.
func (p *Pool) Fulfill(ctx context.Context, requestID common.Hash, result int64) ([]domain.PoolEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != domain.PoolStateCalculating || p.pending == (common.Hash{}) || requestID != p.pending {
		return nil, domain.ErrUnknownRequest
	}

	now := p.now()
	p.pending = common.Hash{}
	fulfilled := p.event(domain.EventOracleFulfilled, now)
	fulfilled.RequestID = requestID
	fulfilled.Outcome = domain.OutcomeFromResult(result)
	events := []domain.PoolEvent{fulfilled}

	winner := domain.OutcomeFromResult(result)
	if winner == domain.OutcomeCancel || p.totals[winner].Sign() == 0 {
		return append(events, p.cancelLocked(now)...), nil
	}
	return append(events, p.endLocked(winner, now)...), nil
}

// endLocked moves the pool to ENDED and credits every winner.
func (p *Pool) endLocked(winner domain.Outcome, now time.Time) []domain.PoolEvent {
	p.state = domain.PoolStateEnded
	p.winner = winner
	p.pending = common.Hash{}
	p.distributeLocked(winner)
	p.touch(now)
	ev := p.event(domain.EventPoolEnded, now)
	ev.Outcome = winner
	ev.Amount = new(big.Int).Set(p.feeCollected)
	return []domain.PoolEvent{ev}
}

// cancelLocked moves the pool to CANCELLED and refunds every stake.
func (p *Pool) cancelLocked(now time.Time) []domain.PoolEvent {
	p.state = domain.PoolStateCancelled
	p.winner = domain.OutcomeCancel
	p.pending = common.Hash{}
	p.refundLocked()
	p.touch(now)
	ev := p.event(domain.EventPoolCancelled, now)
	ev.Outcome = domain.OutcomeCancel
	ev.Amount = p.totalLocked()
	return []domain.PoolEvent{ev}
}
