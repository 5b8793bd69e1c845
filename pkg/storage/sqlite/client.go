// Package sqlite provides SQLite implementation for table-partitioned vector storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale deployments. Vectors are stored as JSON strings in TEXT fields,
// and similarity search uses in-memory cosine similarity calculation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// defaultSearchLimit is used when SearchOptions.Limit is zero.
const defaultSearchLimit = 10

// Client implements storage.TableStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// mu guards known.
	mu sync.Mutex

	// known caches tables that are already created.
	known map[string]bool
}

// Config contains configuration for creating a SQLite TableStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long a writer waits on a locked database. Default 5s.
	BusyTimeout time.Duration
}

// NewClient creates a new SQLite TableStore client.
//
// Parameters:
//   - cfg: Configuration containing the database path
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if the directory or database connection cannot be created
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.DBPath == "" {
		return nil, fmt.Errorf("NewSQLiteClient: db path is required")
	}

	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", cfg.DBPath, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	// SQLite allows a single writer; serialising connections avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	return &Client{
		db:    db,
		known: make(map[string]bool),
	}, nil
}

// EnsureTable creates the table and its owner index if they do not exist.
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
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			domain_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_accessed_at INTEGER,
			access_count INTEGER NOT NULL DEFAULT 0
		)
	`, table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("EnsureTable: %w", err)
	}

	indexQuery := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_owner_domain ON %s(owner_id, domain_id, created_at)`,
		table, table)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("EnsureTable: %w", err)
	}

	c.known[table] = true
	return nil
}

// TableExists reports whether the table exists in the database.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	if err := storage.ValidateTableName(table); err != nil {
		return false, fmt.Errorf("TableExists: %w", err)
	}

	c.mu.Lock()
	if c.known[table] {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	var name string
	err := c.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("TableExists: %w", err)
	}

	c.mu.Lock()
	c.known[table] = true
	c.mu.Unlock()
	return true, nil
}

// ListTables returns all user tables in the database.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
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

// Insert appends records to the table inside a single transaction.
//
// Vectors and metadata are stored as JSON strings in TEXT fields.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

		embeddingJSON, err := json.Marshal(r.Embedding)
		if err != nil {
			return fmt.Errorf("Insert: %w", err)
		}
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("Insert: %w", err)
		}

		var lastAccessed interface{}
		if r.LastAccessedAt != nil {
			lastAccessed = r.LastAccessedAt.UnixNano()
		}

		if _, err := tx.ExecContext(ctx, query,
			r.ID,
			r.OwnerID,
			r.DomainID,
			r.Content,
			string(embeddingJSON),
			string(metadataJSON),
			r.CreatedAt.UnixNano(),
			r.UpdatedAt.UnixNano(),
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

	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
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
		SET content = ?, embedding = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, table)

	result, err := c.db.ExecContext(ctx, query,
		record.Content, string(embeddingJSON), string(metadataJSON), record.UpdatedAt.UnixNano(), record.ID)
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

	placeholders, args := inClause(ids)
	query := fmt.Sprintf(`
		UPDATE %s
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (%s)
	`, table, placeholders)

	if _, err := c.db.ExecContext(ctx, query, append([]interface{}{at.UnixNano()}, args...)...); err != nil {
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

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns, table)
	record, err := scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return record, nil
}

// Search performs vector similarity search using cosine similarity.
//
// SQLite does not have native vector operations, so similarity is calculated
// in memory after loading all records matching the filter.
func (c *Client) Search(ctx context.Context, table string, vector []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	exists, err := c.TableExists(ctx, table)
	if err != nil || !exists {
		return nil, err
	}

	whereClause, args := buildWhereClause(opts.Filter)
	query := fmt.Sprintf(`SELECT %s FROM %s %s`, selectColumns, table, whereClause)

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
		record.Distance = 1 - storage.CosineSimilarity(vector, record.Embedding)
		record.Score = storage.ScoreFromDistance(record.Distance)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return storage.SortByScore(records, limit), nil
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
		limit = -1
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
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

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
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
	query := fmt.Sprintf("DELETE FROM %s %s", table, whereClause)

	result, err := c.db.ExecContext(ctx, query, args...)
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
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, whereClause)
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
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

const selectColumns = `id, owner_id, domain_id, content, embedding, metadata,
	created_at, updated_at, last_accessed_at, access_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a record from a database row or rows.
func scanRecord(s rowScanner) (*storage.Record, error) {
	var (
		record         storage.Record
		embeddingStr   string
		metadataStr    sql.NullString
		createdAt      int64
		updatedAt      int64
		lastAccessedAt sql.NullInt64
	)

	if err := s.Scan(
		&record.ID,
		&record.OwnerID,
		&record.DomainID,
		&record.Content,
		&embeddingStr,
		&metadataStr,
		&createdAt,
		&updatedAt,
		&lastAccessedAt,
		&record.AccessCount,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}

	if metadataStr.Valid && metadataStr.String != "" && metadataStr.String != "null" {
		if err := json.Unmarshal([]byte(metadataStr.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	record.CreatedAt = time.Unix(0, createdAt)
	record.UpdatedAt = time.Unix(0, updatedAt)
	if lastAccessedAt.Valid {
		t := time.Unix(0, lastAccessedAt.Int64)
		record.LastAccessedAt = &t
	}

	return &record, nil
}

func inClause(ids []string) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
