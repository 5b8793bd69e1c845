// Package chromem provides an embedded storage.TableStore backed by chromem-go.
//
// chromem-go is a pure Go, embedded vector database. Each table maps to one
// collection. Optional persistence writes collections to a directory on disk.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

const (
	defaultSearchLimit = 10

	keyOwner        = "owner_id"
	keyDomain       = "domain_id"
	keyCreatedAt    = "created_at"
	keyUpdatedAt    = "updated_at"
	keyLastAccessed = "last_accessed_at"
	keyAccessCount  = "access_count"
	keyMetadataJSON = "metadata_json"
	keyVectorJSON   = "embedding_json"
	keyZeroVector   = "zero_vector"

	// metaPrefix namespaces flattened caller metadata so it can be matched with
	// chromem's where filter without colliding with the keys above.
	metaPrefix = "m."
)

// Config contains configuration for the chromem store.
type Config struct {
	// PersistDir enables persistence when non-empty.
	PersistDir string

	// Compress gzips persisted documents.
	Compress bool

	// Dimensions is the embedding dimensionality shared by every table.
	Dimensions int
}

// Client implements storage.TableStore on top of a chromem.DB.
type Client struct {
	db         *chromem.DB
	dimensions int

	// mu serialises read-modify-write sequences (Update, Touch) and collection creation.
	mu sync.RWMutex
}

// NewClient creates a new chromem store.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("NewChromemClient: embedding dimensions must be positive")
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistDir != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistDir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("NewChromemClient: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Client{db: db, dimensions: cfg.Dimensions}, nil
}

// collection returns the collection for a table, or nil when it does not exist.
func (c *Client) collection(table string) *chromem.Collection {
	return c.db.GetCollection(table, nil)
}

// EnsureTable creates the collection if it does not exist.
func (c *Client) EnsureTable(ctx context.Context, table string) error {
	_, err := c.getOrCreateCollection(table)
	return err
}

func (c *Client) getOrCreateCollection(table string) (*chromem.Collection, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return nil, fmt.Errorf("EnsureTable: %w", err)
	}

	if col := c.collection(table); col != nil {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	col, err := c.db.GetOrCreateCollection(table, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("EnsureTable: %w", err)
	}
	return col, nil
}

// TableExists reports whether the collection exists.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return false, fmt.Errorf("TableExists: %w", err)
	}
	return c.collection(table) != nil, nil
}

// ListTables returns every collection name, sorted.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	cols := c.db.ListCollections()
	tables := make([]string, 0, len(cols))
	for name := range cols {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables, nil
}

// Insert adds documents to the collection.
func (c *Client) Insert(ctx context.Context, table string, records ...*storage.Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := c.getOrCreateCollection(table)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("Insert: record id is required")
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = r.CreatedAt
		}
		doc, err := c.toDocument(r)
		if err != nil {
			return fmt.Errorf("Insert: %w", err)
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("Insert: %w", err)
		}
	}
	return nil
}

// Update replaces the content, embedding and metadata of a record.
//
// chromem has no in-place update, so the document is deleted and re-added.
func (c *Client) Update(ctx context.Context, table string, record *storage.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	col := c.collection(table)
	if col == nil {
		return fmt.Errorf("Update: %w", storage.ErrNotFound)
	}
	existing, err := c.getLocked(ctx, col, record.ID)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	existing.Content = record.Content
	existing.Embedding = record.Embedding
	existing.Metadata = record.Metadata
	existing.UpdatedAt = record.UpdatedAt
	if existing.UpdatedAt.IsZero() {
		existing.UpdatedAt = time.Now()
	}
	return c.replace(ctx, col, existing)
}

// Touch records an access on each of the given records.
func (c *Client) Touch(ctx context.Context, table string, ids []string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	col := c.collection(table)
	if col == nil {
		return nil
	}
	for _, id := range ids {
		r, err := c.getLocked(ctx, col, id)
		if err != nil {
			continue
		}
		r.AccessCount++
		t := at
		r.LastAccessedAt = &t
		if err := c.replace(ctx, col, r); err != nil {
			return fmt.Errorf("Touch: %w", err)
		}
	}
	return nil
}

// Get retrieves a record by ID.
func (c *Client) Get(ctx context.Context, table, id string) (*storage.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	col := c.collection(table)
	if col == nil {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	r, err := c.getLocked(ctx, col, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return r, nil
}

// Search performs vector similarity search.
//
// Conditions chromem cannot express (IDs, time bounds) are applied after the
// query, so the query asks for every candidate matching the where clause.
func (c *Client) Search(ctx context.Context, table string, vector []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	col := c.collection(table)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	query, zeroQuery := c.queryVector(vector)
	nResults := col.Count()
	if !needsPostFilter(opts.Filter) && limit < nResults {
		nResults = limit
	}

	results, err := col.QueryEmbedding(ctx, query, nResults, whereClause(opts.Filter), nil)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	var records []*storage.Record
	for _, res := range results {
		r, err := fromDocument(res.ID, res.Content, res.Metadata, res.Embedding)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}
		if !storage.MatchFilter(r, opts.Filter) {
			continue
		}
		r.Score = 0
		if !zeroQuery && res.Metadata[keyZeroVector] != "1" && !math.IsNaN(float64(res.Similarity)) {
			r.Score = math.Max(0, math.Min(1, float64(res.Similarity)))
		}
		r.Distance = 1 - r.Score
		records = append(records, r)
	}

	return storage.SortByScore(records, limit), nil
}

// Scan lists records matching the filter ordered by creation time.
func (c *Client) Scan(ctx context.Context, table string, opts *storage.ScanOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.ScanOptions{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	records, err := c.allLocked(ctx, table, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("Scan: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.OldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if opts.OldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(records) {
			return nil, nil
		}
		records = records[opts.Offset:]
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return records, nil
}

// Delete removes records matching the filter.
func (c *Client) Delete(ctx context.Context, table string, filter *storage.Filter) (int64, error) {
	if filter.IsEmpty() {
		return 0, storage.ErrEmptyFilter
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	col := c.collection(table)
	if col == nil {
		return 0, nil
	}
	records, err := c.allLocked(ctx, table, filter)
	if err != nil {
		return 0, fmt.Errorf("Delete: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("Delete: %w", err)
	}
	return int64(len(ids)), nil
}

// Count returns the number of records matching the filter.
func (c *Client) Count(ctx context.Context, table string, filter *storage.Filter) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	col := c.collection(table)
	if col == nil {
		return 0, nil
	}
	if filter.IsEmpty() {
		return int64(col.Count()), nil
	}
	records, err := c.allLocked(ctx, table, filter)
	if err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return int64(len(records)), nil
}

// DropTable removes the collection.
func (c *Client) DropTable(ctx context.Context, table string) error {
	if err := storage.ValidateTableName(table); err != nil {
		return fmt.Errorf("DropTable: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collection(table) == nil {
		return nil
	}
	if err := c.db.DeleteCollection(table); err != nil {
		return fmt.Errorf("DropTable: %w", err)
	}
	return nil
}

// Close releases resources. Persistent databases write through on every
// change, so there is nothing to flush.
func (c *Client) Close() error {
	return nil
}

// allLocked returns every record in the table matching the filter.
//
// chromem exposes no listing API, so the whole collection is fetched with a
// query against an arbitrary unit vector.
func (c *Client) allLocked(ctx context.Context, table string, filter *storage.Filter) ([]*storage.Record, error) {
	col := c.collection(table)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	probe, _ := c.queryVector(nil)
	results, err := col.QueryEmbedding(ctx, probe, col.Count(), whereClause(filter), nil)
	if err != nil {
		return nil, err
	}

	records := make([]*storage.Record, 0, len(results))
	for _, res := range results {
		r, err := fromDocument(res.ID, res.Content, res.Metadata, res.Embedding)
		if err != nil {
			return nil, err
		}
		if storage.MatchFilter(r, filter) {
			records = append(records, r)
		}
	}
	return records, nil
}

func (c *Client) getLocked(ctx context.Context, col *chromem.Collection, id string) (*storage.Record, error) {
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return fromDocument(doc.ID, doc.Content, doc.Metadata, doc.Embedding)
}

func (c *Client) replace(ctx context.Context, col *chromem.Collection, r *storage.Record) error {
	doc, err := c.toDocument(r)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, r.ID); err != nil {
		return err
	}
	return col.AddDocument(ctx, doc)
}

// queryVector converts a query to float32. A zero, missing or wrongly sized
// vector is replaced by a uniform unit vector because chromem normalises
// inputs and rejects mixed lengths; such a query scores every record 0.
func (c *Client) queryVector(vector []float64) ([]float32, bool) {
	if len(vector) != c.dimensions || isZero(vector) {
		return uniformVector(c.dimensions), true
	}
	return toFloat32(vector), false
}

func (c *Client) toDocument(r *storage.Record) (chromem.Document, error) {
	metadataJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return chromem.Document{}, err
	}
	// chromem normalises stored vectors; the original is kept for round trips.
	vectorJSON, err := json.Marshal(r.Embedding)
	if err != nil {
		return chromem.Document{}, err
	}

	meta := map[string]string{
		keyOwner:        r.OwnerID,
		keyDomain:       r.DomainID,
		keyCreatedAt:    r.CreatedAt.Format(time.RFC3339Nano),
		keyUpdatedAt:    r.UpdatedAt.Format(time.RFC3339Nano),
		keyAccessCount:  strconv.Itoa(r.AccessCount),
		keyMetadataJSON: string(metadataJSON),
		keyVectorJSON:   string(vectorJSON),
	}
	if r.LastAccessedAt != nil {
		meta[keyLastAccessed] = r.LastAccessedAt.Format(time.RFC3339Nano)
	}
	for k, v := range r.Metadata {
		meta[metaPrefix+k] = storage.MetadataString(v)
	}

	// chromem fails every query once a collection holds vectors of different
	// lengths. Zero vectors and vectors of the wrong dimension are indexed as
	// a placeholder that always scores 0; the original stays in keyVectorJSON.
	embedding := toFloat32(r.Embedding)
	if len(r.Embedding) != c.dimensions || isZero(r.Embedding) {
		embedding = uniformVector(c.dimensions)
		meta[keyZeroVector] = "1"
	}

	return chromem.Document{
		ID:        r.ID,
		Metadata:  meta,
		Embedding: embedding,
		Content:   r.Content,
	}, nil
}

func fromDocument(id, content string, meta map[string]string, embedding []float32) (*storage.Record, error) {
	r := &storage.Record{
		ID:       id,
		OwnerID:  meta[keyOwner],
		DomainID: meta[keyDomain],
		Content:  content,
	}

	if s := meta[keyVectorJSON]; s != "" {
		if err := json.Unmarshal([]byte(s), &r.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	} else {
		r.Embedding = make([]float64, len(embedding))
		for i, v := range embedding {
			r.Embedding[i] = float64(v)
		}
	}

	if s := meta[keyMetadataJSON]; s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &r.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, meta[keyCreatedAt]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, meta[keyUpdatedAt]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if s := meta[keyLastAccessed]; s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("parse last_accessed_at: %w", err)
		}
		r.LastAccessedAt = &t
	}
	r.AccessCount, _ = strconv.Atoi(meta[keyAccessCount])

	return r, nil
}
