package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementArchiver writes terminal pool reports to cold storage.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, report SettlementReport) (string, error)
	ArchiveEvents(ctx context.Context, pool common.Address, events []PoolEvent) (string, error)
	LoadSettlement(ctx context.Context, pool common.Address) (SettlementReport, error)
}
