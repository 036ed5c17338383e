package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// PlaceBet stakes value on outcome for bettor.
func (s *PoolService) PlaceBet(ctx context.Context, address, bettor common.Address, outcome domain.Outcome, value *big.Int) (domain.PoolSnapshot, error) {
	p, err := s.Pool(address)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	events, err := p.PlaceBet(ctx, bettor, outcome, value)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: place bet: %w", err)
	}
	return s.commit(ctx, p, events), nil
}

// CancelBet refunds every stake of bettor.
func (s *PoolService) CancelBet(ctx context.Context, address, bettor common.Address) (domain.PoolSnapshot, error) {
	p, err := s.Pool(address)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	events, err := p.CancelBet(ctx, bettor)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: cancel bet: %w", err)
	}
	return s.commit(ctx, p, events), nil
}

// Withdraw pays out the reward owed to account and returns the amount.
func (s *PoolService) Withdraw(ctx context.Context, address, account common.Address) (*big.Int, error) {
	p, err := s.Pool(address)
	if err != nil {
		return nil, err
	}
	events, err := p.Withdraw(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("pool_service: withdraw: %w", err)
	}
	s.commit(ctx, p, events)
	amount := new(big.Int)
	for _, ev := range events {
		if ev.Type == domain.EventRewardWithdrawn && ev.Amount != nil {
			amount.Add(amount, ev.Amount)
		}
	}
	return amount, nil
}

// FundFeeToken credits oracle fee token to a pool.
func (s *PoolService) FundFeeToken(ctx context.Context, address, from common.Address, amount *big.Int) (domain.PoolSnapshot, error) {
	p, err := s.Pool(address)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	events, err := p.FundFeeToken(ctx, from, amount)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: fund fee token: %w", err)
	}
	return s.commit(ctx, p, events), nil
}

// CheckUpkeep reports whether the pool at address is due for upkeep.
func (s *PoolService) CheckUpkeep(address common.Address) (bool, error) {
	p, err := s.Pool(address)
	if err != nil {
		return false, err
	}
	return p.CheckUpkeep(), nil
}

// DuePools returns the addresses of every pool whose upkeep is due.
func (s *PoolService) DuePools(context.Context) ([]common.Address, error) {
	var due []common.Address
	for _, addr := range s.Addresses() {
		if ok, err := s.CheckUpkeep(addr); err == nil && ok {
			due = append(due, addr)
		}
	}
	return due, nil
}

// PerformUpkeep runs one upkeep cycle on the pool at address.
func (s *PoolService) PerformUpkeep(ctx context.Context, address common.Address) (domain.PoolSnapshot, error) {
	p, err := s.Pool(address)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	events, err := p.PerformUpkeep(ctx)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: perform upkeep: %w", err)
	}
	return s.commit(ctx, p, events), nil
}

// Fulfill delivers an oracle callback. When signed fulfillments are
// required, or a signature is supplied, it must recover to the pool's
// oracle address.
func (s *PoolService) Fulfill(ctx context.Context, f domain.Fulfillment) error {
	p, err := s.Pool(f.Pool)
	if err != nil {
		return err
	}
	if s.requireOracleSig || len(f.Signature) > 0 {
		signer, err := crypto.RecoverFulfillment(f)
		if err != nil {
			return fmt.Errorf("pool_service: fulfill: %w", domain.ErrUnauthorizedOracle)
		}
		if signer != p.Params().Oracle {
			s.logger.WarnContext(ctx, "fulfillment from unexpected signer",
				slog.String("pool", f.Pool.Hex()),
				slog.String("signer", signer.Hex()),
			)
			return fmt.Errorf("pool_service: fulfill: %w", domain.ErrUnauthorizedOracle)
		}
	}
	events, err := p.Fulfill(ctx, f.RequestID, f.Result)
	if err != nil {
		return fmt.Errorf("pool_service: fulfill: %w", err)
	}
	s.commit(ctx, p, events)
	return nil
}

// Events returns the persisted event log of a pool.
func (s *PoolService) Events(ctx context.Context, address common.Address, opts domain.ListOpts) ([]domain.PoolEvent, error) {
	if _, err := s.Pool(address); err != nil {
		return nil, err
	}
	if s.deps.Events == nil {
		return nil, nil
	}
	events, err := s.deps.Events.ListByPool(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list events %s: %w", address.Hex(), err)
	}
	return events, nil
}

var _ domain.Fulfiller = (*PoolService)(nil)
