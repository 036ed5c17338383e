package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Fetcher resolves the result code of a request.
type Fetcher interface {
	Fetch(ctx context.Context, req domain.OracleRequest) (int64, error)
}

// NodeConfig tunes a Node.
type NodeConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts bounds fetch/deliver retries per request. Zero retries
	// until the pool rejects the request as stale.
	MaxAttempts int
}

type pendingRequest struct {
	req      domain.OracleRequest
	attempts int
}

// Node is the off-chain oracle operator. It reads requests addressed to its
// key from the request stream, fetches each match result, signs it and
// delivers the fulfillment. Failed requests are retried on later ticks.
type Node struct {
	bus       domain.SignalBus
	fetcher   Fetcher
	signer    *crypto.Signer
	fulfiller domain.Fulfiller
	cfg       NodeConfig
	logger    *slog.Logger

	lastID  string
	pending map[common.Hash]*pendingRequest
	order   []common.Hash
}

// NewNode creates a Node.
func NewNode(bus domain.SignalBus, fetcher Fetcher, signer *crypto.Signer, fulfiller domain.Fulfiller, cfg NodeConfig, logger *slog.Logger) *Node {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Node{
		bus:       bus,
		fetcher:   fetcher,
		signer:    signer,
		fulfiller: fulfiller,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "oracle_node"), slog.String("oracle", signer.Address().Hex())),
		lastID:    "0",
		pending:   make(map[common.Hash]*pendingRequest),
	}
}

// Run polls until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.logger.InfoContext(ctx, "oracle node started", slog.Duration("poll_interval", n.cfg.PollInterval))
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := n.Tick(ctx); err != nil {
			n.logger.ErrorContext(ctx, "oracle node tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick reads new requests and works through every pending one.
func (n *Node) Tick(ctx context.Context) error {
	if err := n.drain(ctx); err != nil {
		return err
	}
	n.process(ctx)
	return nil
}

// Pending returns the number of requests awaiting delivery.
func (n *Node) Pending() int { return len(n.pending) }

func (n *Node) drain(ctx context.Context) error {
	for {
		msgs, err := n.bus.StreamRead(ctx, domain.StreamOracleRequest, n.lastID, n.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, msg := range msgs {
			n.lastID = msg.ID
			var req domain.OracleRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				n.logger.WarnContext(ctx, "skipping malformed oracle request", slog.String("stream_id", msg.ID), slog.String("error", err.Error()))
				continue
			}
			if req.Oracle != (common.Address{}) && req.Oracle != n.signer.Address() {
				continue
			}
			if _, ok := n.pending[req.ID]; ok {
				continue
			}
			n.pending[req.ID] = &pendingRequest{req: req}
			n.order = append(n.order, req.ID)
		}
		if len(msgs) < n.cfg.BatchSize {
			return nil
		}
	}
}

func (n *Node) process(ctx context.Context) {
	remaining := n.order[:0]
	for _, id := range n.order {
		p, ok := n.pending[id]
		if !ok {
			continue
		}
		if n.handle(ctx, p) {
			delete(n.pending, id)
			continue
		}
		remaining = append(remaining, id)
	}
	n.order = remaining
}

// handle reports whether the request is finished with.
func (n *Node) handle(ctx context.Context, p *pendingRequest) bool {
	p.attempts++
	log := n.logger.With(slog.String("request_id", p.req.ID.Hex()), slog.String("pool", p.req.Pool.Hex()), slog.String("match_id", p.req.MatchID))

	result, err := n.fetcher.Fetch(ctx, p.req)
	if err != nil {
		log.WarnContext(ctx, "fetch match result failed", slog.Int("attempt", p.attempts), slog.String("error", err.Error()))
		return n.exhausted(ctx, p, log)
	}

	f := domain.Fulfillment{RequestID: p.req.ID, Pool: p.req.Pool, Result: result}
	if err := n.signer.SignFulfillment(&f); err != nil {
		log.ErrorContext(ctx, "sign fulfillment failed", slog.String("error", err.Error()))
		return n.exhausted(ctx, p, log)
	}

	err = n.fulfiller.Fulfill(ctx, f)
	switch {
	case err == nil:
		log.InfoContext(ctx, "fulfillment delivered", slog.Int64("result", result))
		return true
	case errors.Is(err, domain.ErrUnknownRequest), errors.Is(err, domain.ErrUnauthorizedOracle), errors.Is(err, domain.ErrPoolNotFound):
		log.WarnContext(ctx, "fulfillment rejected, dropping request", slog.String("error", err.Error()))
		return true
	default:
		log.WarnContext(ctx, "deliver fulfillment failed", slog.Int("attempt", p.attempts), slog.String("error", err.Error()))
		return n.exhausted(ctx, p, log)
	}
}

func (n *Node) exhausted(ctx context.Context, p *pendingRequest, log *slog.Logger) bool {
	if n.cfg.MaxAttempts > 0 && p.attempts >= n.cfg.MaxAttempts {
		log.ErrorContext(ctx, "giving up on oracle request", slog.Int("attempts", p.attempts))
		return true
	}
	return false
}
