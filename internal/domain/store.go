package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ObservationStore persists finished window observations. Upsert must be
// idempotent per WindowID: delivering the same record twice leaves exactly
// one row, and a re-delivery never shortens a previously stored price
// history.
type ObservationStore interface {
	Upsert(ctx context.Context, rec ObservationRecord) error
	GetByWindow(ctx context.Context, id WindowID) (ObservationRecord, error)
	GetBySlug(ctx context.Context, slug string) (ObservationRecord, error)
	List(ctx context.Context, opts ListOpts) ([]ObservationRecord, error)
	Count(ctx context.Context) (int64, error)
}

// QuoteCache mirrors the latest known price per token so processes outside
// the tracker can read live quotes without their own feed.
type QuoteCache interface {
	SetQuote(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetQuote(ctx context.Context, tokenID string) (float64, time.Time, error)
	GetQuotes(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

// LockManager provides distributed locking, used to keep a single tracker
// instance active per slug prefix. Holders must Refresh well inside the TTL
// or the lock lapses and another instance may take it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
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
