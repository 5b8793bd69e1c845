// Package oceanbase provides an OceanBase (MySQL protocol) implementation of storage.TableStore.
//
// Vectors live in native VECTOR(n) columns and similarity is computed by the
// server with cosine_distance.
package oceanbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

const defaultSearchLimit = 10

// Client is an OceanBase client.
type Client struct {
	db     *sql.DB
	config *Config

	mu    sync.Mutex
	known map[string]bool
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	EmbeddingModelDims int
}

// DSN returns the go-sql-driver/mysql connection string for the configuration.
func (cfg *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewOceanBaseClient: embedding dimensions must be positive")
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	return &Client{
		db:     db,
		config: cfg,
		known:  make(map[string]bool),
	}, nil
}

// EnsureTable creates the table if it does not exist.
//
// The text column is named document and carries a content hash, matching the
// layout other OceanBase memory clients use.
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
			embedding VECTOR(%d),
			document LONGTEXT,
			metadata JSON,
			owner_id VARCHAR(128) NOT NULL,
			domain_id VARCHAR(128) NOT NULL DEFAULT '',
			hash VARCHAR(32),
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			last_accessed_at DATETIME(6) NULL,
			access_count INT NOT NULL DEFAULT 0,
			INDEX idx_owner_domain (owner_id, domain_id, created_at)
		)
	`, table, c.config.EmbeddingModelDims)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("EnsureTable: %w", err)
	}

	c.known[table] = true
	return nil
}

// TableExists reports whether the table exists in the configured database.
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

	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("TableExists: %w", err)
	}
	if n > 0 {
		c.mu.Lock()
		c.known[table] = true
		c.mu.Unlock()
	}
	return n > 0, nil
}

// ListTables returns every table in the configured database.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE()
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
		(id, owner_id, domain_id, document, embedding, metadata, hash, created_at, updated_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, table)

	now := time.Now().UTC()
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

		var lastAccessed interface{}
		if r.LastAccessedAt != nil {
			lastAccessed = r.LastAccessedAt.UTC()
		}

		if _, err := tx.ExecContext(ctx, query,
			r.ID,
			r.OwnerID,
			r.DomainID,
			r.Content,
			storage.FormatVector(r.Embedding),
			string(metadataJSON),
			generateHash(r.Content),
			r.CreatedAt.UTC(),
			r.UpdatedAt.UTC(),
			lastAccessed,
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

	// MySQL reports zero affected rows when values are unchanged, so existence
	// is checked separately.
	if _, err := c.Get(ctx, table, record.ID); err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET document = ?, embedding = ?, metadata = ?, hash = ?, updated_at = ?
		WHERE id = ?
	`, table)
	if _, err := c.db.ExecContext(ctx, query,
		record.Content,
		storage.FormatVector(record.Embedding),
		string(metadataJSON),
		generateHash(record.Content),
		record.UpdatedAt.UTC(),
		record.ID,
	); err != nil {
		return fmt.Errorf("Update: %w", err)
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

	whereClause, args := buildWhereClause(&storage.Filter{IDs: ids})
	query := fmt.Sprintf(`
		UPDATE %s
		SET access_count = access_count + 1, last_accessed_at = ?
		%s
	`, table, whereClause)

	if _, err := c.db.ExecContext(ctx, query, append([]interface{}{at.UTC()}, args...)...); err != nil {
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

	query := fmt.Sprintf(`SELECT %s, NULL FROM %s WHERE id = ?`, selectColumns, table)
	record, err := scanRecord(c.db.QueryRowContext(ctx, query, id), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return record, nil
}

// Search performs vector search ordered by cosine distance.
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

	whereClause, args := buildWhereClause(opts.Filter)
	query := fmt.Sprintf(`
		SELECT %s, cosine_distance(embedding, ?) AS distance
		FROM %s
		%s
		ORDER BY distance ASC
		LIMIT ?
	`, selectColumns, table, whereClause)

	allArgs := append([]interface{}{storage.FormatVector(vector)}, args...)
	allArgs = append(allArgs, limit)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows, true)
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

	limit := opts.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}

	query := fmt.Sprintf(`
		SELECT %s, NULL FROM %s
		%s
		ORDER BY created_at %s, id %s
		LIMIT ? OFFSET ?
	`, selectColumns, table, whereClause, order, order)
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows, false)
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

const selectColumns = `id, owner_id, domain_id, document, embedding, metadata,
	created_at, updated_at, last_accessed_at, access_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a record followed by an optional distance column.
func scanRecord(s rowScanner, hasDistance bool) (*storage.Record, error) {
	var (
		record         storage.Record
		embeddingStr   sql.NullString
		metadataJSON   []byte
		lastAccessedAt sql.NullTime
		distance       sql.NullFloat64
	)

	if err := s.Scan(
		&record.ID,
		&record.OwnerID,
		&record.DomainID,
		&record.Content,
		&embeddingStr,
		&metadataJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
		&lastAccessedAt,
		&record.AccessCount,
		&distance,
	); err != nil {
		return nil, err
	}

	if embeddingStr.Valid && embeddingStr.String != "" {
		embedding, err := storage.ParseVector(embeddingStr.String)
		if err != nil {
			return nil, err
		}
		record.Embedding = embedding
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		record.LastAccessedAt = &t
	}

	if hasDistance {
		// cosine_distance is NULL for zero vectors.
		record.Distance = 1
		if distance.Valid && !math.IsNaN(distance.Float64) {
			record.Distance = distance.Float64
		}
		record.Score = storage.ScoreFromDistance(record.Distance)
	}

	return &record, nil
}

func scanRecords(rows *sql.Rows, hasDistance bool) ([]*storage.Record, error) {
	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows, hasDistance)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
