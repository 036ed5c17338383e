package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "application/octet-stream")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestSettlementRoundTrip(t *testing.T) {
	blob := newMemBlob()
	audit := &memAudit{}
	arch := NewSettlementArchiver(blob, blob, audit)
	pool := common.HexToAddress("0xaa")

	report := domain.SettlementReport{
		Pool:         pool,
		MatchID:      "m-1",
		State:        domain.PoolStateEnded,
		Winner:       domain.OutcomeDraw,
		HomeTotal:    big.NewInt(10),
		AwayTotal:    big.NewInt(20),
		DrawTotal:    big.NewInt(30),
		FeeCollected: big.NewInt(1),
		Rewards:      []domain.RewardRecord{{Account: common.HexToAddress("0x01"), Amount: big.NewInt(59)}},
		SettledAt:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	path, err := arch.ArchiveSettlement(context.Background(), report)
	if err != nil {
		t.Fatalf("ArchiveSettlement: %v", err)
	}
	if path != "settlements/"+pool.Hex()+"/report.json" || blob.types[path] != "application/json" {
		t.Fatalf("path = %s type = %s", path, blob.types[path])
	}

	got, err := arch.LoadSettlement(context.Background(), pool)
	if err != nil {
		t.Fatalf("LoadSettlement: %v", err)
	}
	if got.Winner != domain.OutcomeDraw || got.DrawTotal.Cmp(big.NewInt(30)) != 0 || len(got.Rewards) != 1 {
		t.Fatalf("unexpected report: %+v", got)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.settlement" {
		t.Fatalf("audit events = %v", audit.events)
	}

	if _, err := arch.LoadSettlement(context.Background(), common.HexToAddress("0xbb")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing report: err = %v", err)
	}
}

func TestArchiveEventsWritesJSONL(t *testing.T) {
	blob := newMemBlob()
	arch := NewSettlementArchiver(blob, blob, nil)
	pool := common.HexToAddress("0xaa")
	events := []domain.PoolEvent{
		{Type: domain.EventBetPlaced, Pool: pool, Amount: big.NewInt(5)},
		{Type: domain.EventPoolCancelled, Pool: pool},
	}
	path, err := arch.ArchiveEvents(context.Background(), pool, events)
	if err != nil {
		t.Fatalf("ArchiveEvents: %v", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(blob.objects[path]))
	lines := 0
	for sc.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines = %d, want 2", lines)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"https://r2.example.com", false, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
