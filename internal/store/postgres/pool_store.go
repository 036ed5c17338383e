package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// PoolStore implements domain.PoolStore. The full snapshot lives in a JSONB
// column; totals, state and winner are duplicated into typed columns for
// querying.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Save inserts or replaces the snapshot of a pool. A row already holding
// the same or a newer version is kept and domain.ErrStaleSnapshot is
// returned.
func (s *PoolStore) Save(ctx context.Context, snap domain.PoolSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal pool %s: %w", snap.Address.Hex(), err)
	}
	var pending *string
	if snap.PendingRequestID != (common.Hash{}) {
		h := snap.PendingRequestID.Hex()
		pending = &h
	}

	const query = `
		INSERT INTO pools (
			address, match_id, match_timestamp, state, winner,
			home_total, away_total, draw_total, balance,
			pending_request, snapshot, version, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12, NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			state           = EXCLUDED.state,
			winner          = EXCLUDED.winner,
			home_total      = EXCLUDED.home_total,
			away_total      = EXCLUDED.away_total,
			draw_total      = EXCLUDED.draw_total,
			balance         = EXCLUDED.balance,
			pending_request = EXCLUDED.pending_request,
			snapshot        = EXCLUDED.snapshot,
			version         = EXCLUDED.version,
			updated_at      = NOW()
		WHERE pools.version < EXCLUDED.version`

	tag, err := s.pool.Exec(ctx, query,
		snap.Address.Hex(), snap.Params.MatchID, snap.Params.MatchTimestamp,
		int16(snap.State), int16(snap.Winner),
		numeric(snap.HomeTotal), numeric(snap.AwayTotal), numeric(snap.DrawTotal), numeric(snap.Balance),
		pending, data, int64(snap.Version),
	)
	if err != nil {
		return fmt.Errorf("postgres: save pool %s: %w", snap.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save pool %s v%d: %w", snap.Address.Hex(), snap.Version, domain.ErrStaleSnapshot)
	}
	return nil
}

// Get returns domain.ErrPoolNotFound when the pool is unknown.
func (s *PoolStore) Get(ctx context.Context, addr common.Address) (domain.PoolSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM pools WHERE address = $1`, addr.Hex()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PoolSnapshot{}, domain.ErrPoolNotFound
		}
		return domain.PoolSnapshot{}, fmt.Errorf("postgres: get pool %s: %w", addr.Hex(), err)
	}
	var snap domain.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("postgres: unmarshal pool %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

// List returns pools ordered by match time.
func (s *PoolStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.PoolSnapshot, error) {
	query, args := listClause(`SELECT snapshot FROM pools WHERE 1=1`, "match_timestamp", "match_timestamp ASC, address ASC", nil, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var out []domain.PoolSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		var snap domain.PoolSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal pool: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return out, nil
}

var _ domain.PoolStore = (*PoolStore)(nil)
