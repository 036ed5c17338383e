package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// StreamPublisher is the production domain.Oracle: it appends each request
// to the oracle request stream, where nodes pick it up.
type StreamPublisher struct {
	bus domain.SignalBus
}

// NewStreamPublisher creates a StreamPublisher.
func NewStreamPublisher(bus domain.SignalBus) *StreamPublisher {
	return &StreamPublisher{bus: bus}
}

// Request enqueues req. It returns once the stream accepted the entry.
func (p *StreamPublisher) Request(ctx context.Context, req domain.OracleRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("oracle/publisher: marshal request: %w", err)
	}
	if err := p.bus.StreamAppend(ctx, domain.StreamOracleRequest, data); err != nil {
		return fmt.Errorf("oracle/publisher: enqueue %s: %w", req.ID.Hex(), err)
	}
	return nil
}

var _ domain.Oracle = (*StreamPublisher)(nil)
