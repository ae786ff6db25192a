package store

import (
	"context"
	"database/sql"
)

// UpdateFunc receives the current record (nil when missing) and returns the record to
// persist. Returning a nil record deletes the document.
type UpdateFunc func(current *Record) (*Record, error)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Record model related methods.
	UpsertRecord(ctx context.Context, upsert *Record) (*Record, error)
	ListRecords(ctx context.Context, find *FindRecord) ([]*Record, error)
	// DeleteRecord removes the record, its vectors and unreferenced blobs.
	// It reports whether the record existed.
	DeleteRecord(ctx context.Context, id string) (bool, error)
	// UpdateRecord runs fn and writes its result within one transaction. It returns the
	// stored record and whether the document was deleted.
	UpdateRecord(ctx context.Context, id string, fn UpdateFunc) (*Record, bool, error)

	// Blob model related methods.
	GetBlob(ctx context.Context, digest string) (*Blob, error)

	// Search related methods.
	FullTextSearch(ctx context.Context, opts *FullTextSearchOptions) ([]*Record, error)
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*VectorMatch, error)

	// Vector index maintenance methods.
	ListStaleEntries(ctx context.Context, idx VectorIndex, limit int, exclude []string) ([]*StaleEntry, error)
	CommitIndexBatch(ctx context.Context, idx VectorIndex, entries []*IndexEntry) error
}
