package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// MemoryLedger is a process-local WalletLedger used when no database is
// configured.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	entries  []domain.LedgerEntry
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[common.Address]*big.Int)}
}

// Transfer credits amount to the wallet of to.
func (l *MemoryLedger) Transfer(_ context.Context, pool, to common.Address, amount *big.Int, memo string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyLocked(pool, to, new(big.Int).Set(amount), memo)
	return nil
}

// Deposit credits operator funds to account.
func (l *MemoryLedger) Deposit(ctx context.Context, account common.Address, amount *big.Int, memo string) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory ledger: deposit to %s: non-positive amount", account.Hex())
	}
	return l.Transfer(ctx, common.Address{}, account, amount, memo)
}

// Collect debits amount from the wallet of from.
func (l *MemoryLedger) Collect(_ context.Context, pool, from common.Address, amount *big.Int, memo string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("memory ledger: collect %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	l.applyLocked(pool, from, new(big.Int).Neg(amount), memo)
	return nil
}

func (l *MemoryLedger) applyLocked(pool, account common.Address, delta *big.Int, memo string) {
	bal, ok := l.balances[account]
	if !ok {
		bal = new(big.Int)
		l.balances[account] = bal
	}
	bal.Add(bal, delta)
	l.entries = append(l.entries, domain.LedgerEntry{
		ID:        int64(len(l.entries) + 1),
		Pool:      pool,
		Account:   account,
		Amount:    delta,
		Memo:      memo,
		CreatedAt: time.Now().UTC(),
	})
}

// Balance returns the current balance of account.
func (l *MemoryLedger) Balance(_ context.Context, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// History returns the entries of account, newest first.
func (l *MemoryLedger) History(_ context.Context, account common.Address, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Account == account {
			out = append(out, l.entries[i])
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.WalletLedger = (*MemoryLedger)(nil)
