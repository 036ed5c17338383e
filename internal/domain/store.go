package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists pool snapshots, one row per pool address. Save keeps
// the stored row when its version is not lower than snap.Version and
// reports ErrStaleSnapshot.
type PoolStore interface {
	Save(ctx context.Context, snap PoolSnapshot) error
	Get(ctx context.Context, addr common.Address) (PoolSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]PoolSnapshot, error)
}

// EventStore persists the append-only pool event log.
type EventStore interface {
	Append(ctx context.Context, events []PoolEvent) error
	ListByPool(ctx context.Context, addr common.Address, opts ListOpts) ([]PoolEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// LedgerEntry is one movement recorded against an account wallet. Debits
// carry a negative amount.
type LedgerEntry struct {
	ID        int64
	Pool      common.Address
	Account   common.Address
	Amount    *big.Int
	Memo      string
	CreatedAt time.Time
}

// WalletLedger holds persistent account balances. Deposits come from the
// operator, stakes are collected from it and payouts are transferred to it.
type WalletLedger interface {
	Transferer
	Collector
	Deposit(ctx context.Context, account common.Address, amount *big.Int, memo string) error
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	History(ctx context.Context, account common.Address, opts ListOpts) ([]LedgerEntry, error)
}
