// Package storage provides interfaces and types for table-partitioned vector storage backends.
//
// It defines the TableStore interface that all storage implementations must satisfy,
// along with the record type and the filter/search options shared by every backend.
package storage

import (
	"context"
	"errors"
	"time"
)

// Predefined storage errors.
var (
	// ErrNotFound indicates that no record with the requested ID exists.
	ErrNotFound = errors.New("record not found")

	// ErrEmptyFilter is returned by Delete when the filter would match every row.
	// Nothing is deleted in that case.
	ErrEmptyFilter = errors.New("refusing to delete with an empty filter")

	// ErrInvalidTableName indicates that a table name failed validation.
	ErrInvalidTableName = errors.New("invalid table name")
)

// Record represents a single row stored in a table.
//
// This type is defined in the storage package so that the memory cache, the
// pattern learner and the knowledge store can share one backend without
// importing each other.
type Record struct {
	// ID is the unique identifier of the record within its table.
	ID string

	// OwnerID identifies the user who owns this record.
	OwnerID string

	// DomainID identifies the agent or feature area the record belongs to.
	DomainID string

	// Content is the text content that was embedded.
	Content string

	// Embedding is the vector embedding for similarity search.
	Embedding []float64

	// Metadata contains additional structured information.
	Metadata map[string]interface{}

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	// UpdatedAt is when the record was last updated.
	UpdatedAt time.Time

	// LastAccessedAt is when the record was last returned by a search (nil if never).
	LastAccessedAt *time.Time

	// AccessCount is the number of times the record was returned by a search.
	AccessCount int

	// Distance is the cosine distance to the query vector (search results only).
	Distance float64

	// Score is the similarity score max(0, 1-Distance) (search results only).
	Score float64
}

// Filter selects records. All non-empty fields are combined with AND.
type Filter struct {
	// IDs restricts the match to the given record IDs.
	IDs []string

	// OwnerID restricts the match to a single owner.
	OwnerID string

	// DomainID restricts the match to a single domain.
	DomainID string

	// Metadata matches top-level metadata keys by equality.
	Metadata map[string]interface{}

	// CreatedBefore matches records created strictly before this instant.
	CreatedBefore time.Time

	// UpdatedBefore matches records updated strictly before this instant.
	UpdatedBefore time.Time
}

// IsEmpty reports whether the filter has no conditions and would match every row.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.IDs) == 0 &&
		f.OwnerID == "" &&
		f.DomainID == "" &&
		len(f.Metadata) == 0 &&
		f.CreatedBefore.IsZero() &&
		f.UpdatedBefore.IsZero()
}

// SearchOptions contains options for similarity search.
type SearchOptions struct {
	// Filter restricts candidate records before ranking.
	Filter *Filter

	// Limit sets the maximum number of results to return (0 means backend default).
	Limit int
}

// ScanOptions contains options for non-vector listing.
type ScanOptions struct {
	// Filter restricts the returned records.
	Filter *Filter

	// Limit sets the maximum number of results to return (0 means no limit).
	Limit int

	// Offset sets the number of results to skip.
	Offset int

	// OldestFirst orders by creation time ascending instead of newest first.
	OldestFirst bool
}

// TableStore defines the interface for table-partitioned vector storage backends.
//
// All storage implementations (SQLite, PostgreSQL, OceanBase, chromem) must implement
// this interface. Tables are created lazily: writes ensure the table exists and
// reads against a missing table return empty results instead of an error.
type TableStore interface {
	// EnsureTable creates the table if it does not exist. It is idempotent and
	// safe to call concurrently.
	EnsureTable(ctx context.Context, table string) error

	// TableExists reports whether the table exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// ListTables returns the names of all tables managed by this store.
	ListTables(ctx context.Context) ([]string, error)

	// Insert appends records to the table, creating it if needed.
	Insert(ctx context.Context, table string, records ...*Record) error

	// Update replaces the content, embedding and metadata of an existing record.
	// Returns ErrNotFound if the record does not exist.
	Update(ctx context.Context, table string, record *Record) error

	// Touch increments the access count and sets the last access time of the
	// given records.
	Touch(ctx context.Context, table string, ids []string, at time.Time) error

	// Get retrieves a record by ID. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, table, id string) (*Record, error)

	// Search performs vector similarity search.
	//
	// Returns matching records sorted by similarity (highest first), each with
	// Distance and Score populated.
	Search(ctx context.Context, table string, vector []float64, opts *SearchOptions) ([]*Record, error)

	// Scan lists records matching the filter ordered by creation time.
	Scan(ctx context.Context, table string, opts *ScanOptions) ([]*Record, error)

	// Delete removes records matching the filter and returns how many were removed.
	//
	// An empty filter returns (0, ErrEmptyFilter) and removes nothing.
	Delete(ctx context.Context, table string, filter *Filter) (int64, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, table string, filter *Filter) (int64, error)

	// DropTable removes the table and all of its records.
	DropTable(ctx context.Context, table string) error

	// Close closes the store and releases resources.
	Close() error
}
