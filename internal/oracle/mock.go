// Package oracle contains the collaborators that answer pool result
// requests: an in-process mock, a Redis stream publisher and the off-chain
// node that fetches results and delivers signed fulfillments.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/wagerpool/internal/crypto"
	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Mock is an in-process oracle operator. It records every request and lets
// the caller answer them explicitly through Resolve.
type Mock struct {
	mu        sync.Mutex
	requests  map[common.Hash]domain.OracleRequest
	order     []common.Hash
	signer    *crypto.Signer
	fulfiller domain.Fulfiller
}

// NewMock returns a Mock. signer may be nil when fulfillments do not need
// to be signed.
func NewMock(signer *crypto.Signer) *Mock {
	return &Mock{requests: make(map[common.Hash]domain.OracleRequest), signer: signer}
}

// SetFulfiller wires the receiver of Resolve.
func (m *Mock) SetFulfiller(f domain.Fulfiller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fulfiller = f
}

// Address returns the signing address, or the zero address when unsigned.
func (m *Mock) Address() common.Address {
	if m.signer == nil {
		return common.Address{}
	}
	return m.signer.Address()
}

// Request records req.
func (m *Mock) Request(_ context.Context, req domain.OracleRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; !ok {
		m.order = append(m.order, req.ID)
	}
	m.requests[req.ID] = req
	return nil
}

// Requests returns recorded requests in arrival order.
func (m *Mock) Requests() []domain.OracleRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OracleRequest, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.requests[id])
	}
	return out
}

// Latest returns the most recent request for pool.
func (m *Mock) Latest(pool common.Address) (domain.OracleRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if req := m.requests[m.order[i]]; req.Pool == pool {
			return req, true
		}
	}
	return domain.OracleRequest{}, false
}

// Resolve answers request id with result.
func (m *Mock) Resolve(ctx context.Context, id common.Hash, result int64) error {
	m.mu.Lock()
	req, ok := m.requests[id]
	fulfiller := m.fulfiller
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("oracle/mock: resolve %s: %w", id.Hex(), domain.ErrUnknownRequest)
	}
	if fulfiller == nil {
		return fmt.Errorf("oracle/mock: no fulfiller configured")
	}

	f := domain.Fulfillment{RequestID: id, Pool: req.Pool, Result: result}
	if m.signer != nil {
		if err := m.signer.SignFulfillment(&f); err != nil {
			return fmt.Errorf("oracle/mock: sign: %w", err)
		}
	}
	return fulfiller.Fulfill(ctx, f)
}

var _ domain.Oracle = (*Mock)(nil)
