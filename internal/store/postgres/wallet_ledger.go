package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// WalletLedger implements domain.WalletLedger. Every movement is one
// transaction that appends a ledger row and adjusts the account wallet.
type WalletLedger struct {
	pool *pgxpool.Pool
}

// NewWalletLedger creates a new WalletLedger backed by the given connection pool.
func NewWalletLedger(pool *pgxpool.Pool) *WalletLedger {
	return &WalletLedger{pool: pool}
}

// Transfer credits amount from pool to the wallet of to.
func (l *WalletLedger) Transfer(ctx context.Context, pool, to common.Address, amount *big.Int, memo string) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: transfer to %s: non-positive amount", to.Hex())
	}
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallet_ledger (pool, account, amount, memo) VALUES ($1, $2, $3::numeric, $4)`,
			pool.Hex(), to.Hex(), amount.String(), memo,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO wallets (account, balance, updated_at) VALUES ($1, $2::numeric, NOW())
			ON CONFLICT (account) DO UPDATE SET
				balance    = wallets.balance + EXCLUDED.balance,
				updated_at = NOW()`,
			to.Hex(), amount.String(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: transfer %s to %s: %w", amount, to.Hex(), err)
	}
	return nil
}

// Deposit credits operator funds to account. Deposits are recorded against
// the zero pool address.
func (l *WalletLedger) Deposit(ctx context.Context, account common.Address, amount *big.Int, memo string) error {
	return l.Transfer(ctx, common.Address{}, account, amount, memo)
}

// Collect debits amount from the wallet of from and records a negative
// ledger row, both in one transaction. A wallet that cannot cover amount is
// left untouched and domain.ErrInsufficientFunds is returned.
func (l *WalletLedger) Collect(ctx context.Context, pool, from common.Address, amount *big.Int, memo string) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: collect from %s: non-positive amount", from.Hex())
	}
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE wallets SET balance = balance - $2::numeric, updated_at = NOW()
			WHERE account = $1 AND balance >= $2::numeric`,
			from.Hex(), amount.String(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientFunds
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO wallet_ledger (pool, account, amount, memo) VALUES ($1, $2, $3::numeric, $4)`,
			pool.Hex(), from.Hex(), new(big.Int).Neg(amount).String(), memo,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: collect %s from %s: %w", amount, from.Hex(), err)
	}
	return nil
}

// Balance returns the wallet balance of account, zero when it has none.
func (l *WalletLedger) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var s string
	err := l.pool.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE account = $1`, account.Hex()).Scan(&s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("postgres: wallet balance %s: %w", account.Hex(), err)
	}
	return parseNumeric(s)
}

// History returns the movements of account, newest first.
func (l *WalletLedger) History(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query, args := listClause(`
		SELECT id, pool, account, amount::text, memo, created_at
		FROM wallet_ledger WHERE account = $1`, "created_at", "id DESC", []any{account.Hex()}, opts)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: wallet history %s: %w", account.Hex(), err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e                  domain.LedgerEntry
			pool, acct, amount string
		)
		if err := rows.Scan(&e.ID, &pool, &acct, &amount, &e.Memo, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Pool = common.HexToAddress(pool)
		e.Account = common.HexToAddress(acct)
		if e.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: wallet history rows: %w", err)
	}
	return out, nil
}

var _ domain.WalletLedger = (*WalletLedger)(nil)
