package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// SettlementArchiver implements domain.SettlementArchiver. Reports are
// stored as JSON and event logs as JSONL:
//
//	settlements/{pool}/report.json
//	settlements/{pool}/events.jsonl
type SettlementArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewSettlementArchiver creates a SettlementArchiver. audit may be nil.
func NewSettlementArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *SettlementArchiver {
	return &SettlementArchiver{writer: writer, reader: reader, audit: audit}
}

func settlementPath(pool common.Address, name string) string {
	return fmt.Sprintf("settlements/%s/%s", pool.Hex(), name)
}

// ArchiveSettlement uploads report and returns its object path.
func (a *SettlementArchiver) ArchiveSettlement(ctx context.Context, report domain.SettlementReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal settlement %s: %w", report.Pool.Hex(), err)
	}
	path := settlementPath(report.Pool, "report.json")
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive settlement: %w", err)
	}
	a.logAudit(ctx, "archive.settlement", map[string]any{
		"pool":   report.Pool.Hex(),
		"path":   path,
		"state":  report.State.String(),
		"winner": report.Winner.String(),
	})
	return path, nil
}

// ArchiveEvents uploads the event log of pool as JSONL.
func (a *SettlementArchiver) ArchiveEvents(ctx context.Context, pool common.Address, events []domain.PoolEvent) (string, error) {
	buf, err := marshalJSONL(events)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal events %s: %w", pool.Hex(), err)
	}
	path := settlementPath(pool, "events.jsonl")
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive events: %w", err)
	}
	a.logAudit(ctx, "archive.events", map[string]any{
		"pool":  pool.Hex(),
		"path":  path,
		"count": len(events),
	})
	return path, nil
}

// LoadSettlement reads back an archived report.
func (a *SettlementArchiver) LoadSettlement(ctx context.Context, pool common.Address) (domain.SettlementReport, error) {
	rc, err := a.reader.Get(ctx, settlementPath(pool, "report.json"))
	if err != nil {
		return domain.SettlementReport{}, err
	}
	defer rc.Close()
	var report domain.SettlementReport
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: decode settlement %s: %w", pool.Hex(), err)
	}
	return report, nil
}

func (a *SettlementArchiver) logAudit(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	detail["at"] = time.Now().UTC().Format(time.RFC3339)
	_ = a.audit.Log(ctx, event, detail)
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.SettlementArchiver = (*SettlementArchiver)(nil)
