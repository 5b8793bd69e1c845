// Package postgres provides a PostgreSQL + pgvector implementation of storage.TableStore.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

const defaultSearchLimit = 10

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db         *sql.DB
	dimensions int

	mu    sync.Mutex
	known map[string]bool
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	EmbeddingModelDims int
	SSLMode            string
}

// DSN returns the lib/pq connection string for the configuration.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient creates a new PostgreSQL client and enables the pgvector extension.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewPostgresClient: embedding dimensions must be positive")
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: create extension: %w", err)
	}

	return &Client{
		db:         db,
		dimensions: cfg.EmbeddingModelDims,
		known:      make(map[string]bool),
	}, nil
}

// EnsureTable creates the table (using pgvector's vector type) and its index.
func (c *Client) EnsureTable(ctx context.Context, table string) error {
	if err := storage.ValidateTableName(table); err != nil {
		return fmt.Errorf("EnsureTable: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known[table] {
		return nil
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			domain_id VARCHAR(255) NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`, table, c.dimensions)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("EnsureTable: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_owner_domain ON %s(owner_id, domain_id, created_at)`,
		table, table)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("EnsureTable: create index: %w", err)
	}

	c.known[table] = true
	return nil
}

// TableExists reports whether the table exists in the current schema.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return false, fmt.Errorf("TableExists: %w", err)
	}

	c.mu.Lock()
	known := c.known[table]
	c.mu.Unlock()
	if known {
		return true, nil
	}

	var exists bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, strings.ToLower(table)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("TableExists: %w", err)
	}
	if exists {
		c.mu.Lock()
		c.known[table] = true
		c.mu.Unlock()
	}
	return exists, nil
}

// ListTables returns every table in the current schema.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("ListTables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ListTables: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Insert appends records inside one transaction.
func (c *Client) Insert(ctx context.Context, table string, records ...*storage.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.EnsureTable(ctx, table); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner_id, domain_id, content, embedding, metadata, created_at, updated_at, last_accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, table)

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

		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("Insert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query,
			r.ID,
			r.OwnerID,
			r.DomainID,
			r.Content,
			storage.FormatVector(r.Embedding),
			string(metadataJSON),
			r.CreatedAt,
			r.UpdatedAt,
			nullTime(r.LastAccessedAt),
			r.AccessCount,
		); err != nil {
			return fmt.Errorf("Insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Update replaces the content, embedding and metadata of a record.
func (c *Client) Update(ctx context.Context, table string, record *storage.Record) error {
	exists, err := c.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("Update: %w", storage.ErrNotFound)
	}

	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, embedding = $2, metadata = $3, updated_at = $4
		WHERE id = $5
	`, table)

	result, err := c.db.ExecContext(ctx, query,
		record.Content, storage.FormatVector(record.Embedding), string(metadataJSON), record.UpdatedAt, record.ID)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("Update: %w", storage.ErrNotFound)
	}
	return nil
}

// Touch records an access on each of the given records.
func (c *Client) Touch(ctx context.Context, table string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := c.TableExists(ctx, table)
	if err != nil || !exists {
		return err
	}

	whereClause, args := buildWhereClauseWithOffset(&storage.Filter{IDs: ids}, 2)
	query := fmt.Sprintf(`
		UPDATE %s
		SET access_count = access_count + 1, last_accessed_at = $1
		%s
	`, table, whereClause)

	if _, err := c.db.ExecContext(ctx, query, append([]interface{}{at}, args...)...); err != nil {
		return fmt.Errorf("Touch: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (c *Client) Get(ctx context.Context, table, id string) (*storage.Record, error) {
	exists, err := c.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}

	query := fmt.Sprintf(`SELECT %s, 0 FROM %s WHERE id = $1`, selectColumns, table)
	record, err := scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	record.Distance, record.Score = 0, 0
	return record, nil
}

// Search performs vector similarity search.
//
// Uses pgvector's <=> operator (cosine distance, 1 - cosine similarity).
func (c *Client) Search(ctx context.Context, table string, vector []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	exists, err := c.TableExists(ctx, table)
	if err != nil || !exists {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	whereClause, args := buildWhereClauseWithOffset(opts.Filter, 2)
	query := fmt.Sprintf(`
		SELECT %s, embedding <=> $1::vector AS distance
		FROM %s
		%s
		ORDER BY distance ASC
		LIMIT %d
	`, selectColumns, table, whereClause, limit)

	args = append([]interface{}{storage.FormatVector(vector)}, args...)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Scan lists records matching the filter ordered by creation time.
func (c *Client) Scan(ctx context.Context, table string, opts *storage.ScanOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.ScanOptions{}
	}
	exists, err := c.TableExists(ctx, table)
	if err != nil || !exists {
		return nil, err
	}

	whereClause, args := buildWhereClause(opts.Filter)
	order := "DESC"
	if opts.OldestFirst {
		order = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s, 0 FROM %s %s ORDER BY created_at %s, id %s`,
		selectColumns, table, whereClause, order, order)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		record.Distance, record.Score = 0, 0
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes records matching the filter.
func (c *Client) Delete(ctx context.Context, table string, filter *storage.Filter) (int64, error) {
	if filter.IsEmpty() {
		return 0, storage.ErrEmptyFilter
	}
	exists, err := c.TableExists(ctx, table)
	if err != nil || !exists {
		return 0, err
	}

	whereClause, args := buildWhereClause(filter)
	result, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s %s", table, whereClause), args...)
	if err != nil {
		return 0, fmt.Errorf("Delete: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Delete: %w", err)
	}
	return n, nil
}

// Count returns the number of records matching the filter.
func (c *Client) Count(ctx context.Context, table string, filter *storage.Filter) (int64, error) {
	exists, err := c.TableExists(ctx, table)
	if err != nil || !exists {
		return 0, err
	}

	whereClause, args := buildWhereClause(filter)
	var n int64
	if err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, whereClause), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// DropTable removes the table.
func (c *Client) DropTable(ctx context.Context, table string) error {
	if err := storage.ValidateTableName(table); err != nil {
		return fmt.Errorf("DropTable: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("DropTable: %w", err)
	}
	delete(c.known, table)
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const selectColumns = `id, owner_id, domain_id, content, embedding::text, metadata,
	created_at, updated_at, last_accessed_at, access_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a record followed by its distance column.
func scanRecord(s rowScanner) (*storage.Record, error) {
	var (
		record         storage.Record
		embeddingStr   string
		metadataBytes  []byte
		lastAccessedAt sql.NullTime
		distance       sql.NullFloat64
	)

	if err := s.Scan(
		&record.ID,
		&record.OwnerID,
		&record.DomainID,
		&record.Content,
		&embeddingStr,
		&metadataBytes,
		&record.CreatedAt,
		&record.UpdatedAt,
		&lastAccessedAt,
		&record.AccessCount,
		&distance,
	); err != nil {
		return nil, err
	}

	embedding, err := storage.ParseVector(embeddingStr)
	if err != nil {
		return nil, err
	}
	record.Embedding = embedding

	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &record.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		record.LastAccessedAt = &t
	}

	record.Distance = 1
	// pgvector yields NaN for zero vectors.
	if distance.Valid && !math.IsNaN(distance.Float64) {
		record.Distance = distance.Float64
	}
	record.Score = storage.ScoreFromDistance(record.Distance)

	return &record, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
