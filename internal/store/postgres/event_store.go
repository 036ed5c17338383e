package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts events in one batch. Events already stored under the same
// ID are skipped.
func (s *EventStore) Append(ctx context.Context, events []domain.PoolEvent) error {
	if len(events) == 0 {
		return nil
	}
	const query = `
		INSERT INTO pool_events (
			event_id, pool, type, account, outcome, amount,
			request_id, state, cycle, at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		var account, requestID *string
		if e.Account != (common.Address{}) {
			a := e.Account.Hex()
			account = &a
		}
		if e.RequestID != (common.Hash{}) {
			r := e.RequestID.Hex()
			requestID = &r
		}
		batch.Queue(query,
			e.ID, e.Pool.Hex(), string(e.Type), account, int16(e.Outcome), nullableNumeric(e.Amount),
			requestID, int16(e.State), e.Cycle, e.At,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append pool events: %w", err)
		}
	}
	return nil
}

// ListByPool returns the events of a pool, oldest first.
func (s *EventStore) ListByPool(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.PoolEvent, error) {
	query, args := listClause(`
		SELECT event_id, pool, type, COALESCE(account, ''), outcome, amount::text,
			COALESCE(request_id, ''), state, cycle, at
		FROM pool_events WHERE pool = $1`, "at", "id ASC", []any{addr.Hex()}, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", addr.Hex(), err)
	}
	defer rows.Close()

	var out []domain.PoolEvent
	for rows.Next() {
		var (
			e                      domain.PoolEvent
			pool, typ, acct, reqID string
			amount                 *string
			outcome, state         int16
		)
		if err := rows.Scan(&e.ID, &pool, &typ, &acct, &outcome, &amount, &reqID, &state, &e.Cycle, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan pool event: %w", err)
		}
		e.Pool = common.HexToAddress(pool)
		e.Type = domain.EventType(typ)
		if acct != "" {
			e.Account = common.HexToAddress(acct)
		}
		if reqID != "" {
			e.RequestID = common.HexToHash(reqID)
		}
		e.Outcome = domain.Outcome(outcome)
		e.State = domain.PoolState(state)
		if amount != nil {
			if e.Amount, err = parseNumeric(*amount); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pool events rows: %w", err)
	}
	return out, nil
}

var _ domain.EventStore = (*EventStore)(nil)
