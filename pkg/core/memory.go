package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/logging"
	"github.com/MundoTango/Mundo-Tango-sub004/internal/metrics"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/intelligence"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// Client is the memory cache.
//
// It stores content as embedded records partitioned by owner and domain,
// retrieves them by similarity and keeps each owner's memory bounded by age
// and volume. The client is safe for concurrent use.
//
// Example usage:
//
//	client, _ := core.New(store, provider, core.WithLogger(logger))
//	defer client.Close()
//
//	id, _ := client.Store(ctx, "u1", "life_ceo", "I love jazz music", core.MemoryTypePreference)
//	results, _ := client.Retrieve(ctx, "u1", "life_ceo", "music preferences", core.WithMinSimilarity(0))
type Client struct {
	store      storage.TableStore
	embedder   *embedder.CachedProvider
	llm        llm.Provider
	summarizer *intelligence.Summarizer
	node       *snowflake.Node
	opts       *clientOptions
	logger     *zap.Logger
	metrics    *metrics.Collector

	// extraTables are tables owned by other components sharing this store
	// (patterns, learned patterns); ForgetAll covers them too.
	tablesMu    sync.RWMutex
	extraTables map[string]bool

	cleanupGroup singleflight.Group
	wg           sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a memory cache client on top of store and provider.
//
// A provider that is not already a *embedder.CachedProvider is wrapped in one,
// configured with WithEmbeddingCache options.
//
// Parameters:
//   - store: Table store shared with the pattern learner and knowledge store
//   - provider: Embedding provider
//   - opts: Optional client settings
//
// Returns a new Client, or an error if the configuration is invalid.
func New(store storage.TableStore, provider embedder.Provider, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: table store is required", ErrInvalidConfig))
	}
	if provider == nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: embedding provider is required", ErrInvalidConfig))
	}

	o := defaultClientOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.storageTimeout <= 0 {
		o.storageTimeout = DefaultStorageTimeout
	}
	if o.cleanupTimeout <= 0 {
		o.cleanupTimeout = DefaultCleanupTimeout
	}

	if err := storage.ValidateTableName(o.defaultTable); err != nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: default table: %w", ErrInvalidConfig, err))
	}
	for domain, table := range o.domainTables {
		if err := storage.ValidateTableName(table); err != nil {
			return nil, NewMemoryError("New", fmt.Errorf("%w: table for domain %q: %w", ErrInvalidConfig, domain, err))
		}
	}

	cached, ok := provider.(*embedder.CachedProvider)
	if !ok {
		cacheOpts := append([]embedder.CacheOption{
			embedder.WithLogger(o.logger),
			embedder.WithMetrics(o.metrics),
		}, o.cacheOpts...)
		var err error
		cached, err = embedder.NewCachedProvider(provider, cacheOpts...)
		if err != nil {
			return nil, NewMemoryError("New", err)
		}
	}

	node, err := snowflake.NewNode(o.nodeID)
	if err != nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}

	summarizer := o.summarizer
	if summarizer == nil && o.llm != nil {
		summarizer = intelligence.NewSummarizer(o.llm)
	}

	return &Client{
		store:       store,
		embedder:    cached,
		llm:         o.llm,
		summarizer:  summarizer,
		node:        node,
		opts:        o,
		logger:      o.logger.With(zap.String("component", "memory")),
		metrics:     o.metrics,
		extraTables: make(map[string]bool),
	}, nil
}

// Store embeds content and writes it as a new memory.
//
// Validation happens before any I/O: ownerID and content must be non-empty,
// memoryType must be valid, importance must lie in [1, 10] (out-of-range
// values are rejected, not clamped) and metadata must not use reserved keys.
// An embedding failure does not fail the call; the memory is stored with a
// zero vector. After the write a cleanup pass for the owner is scheduled in
// the background; its failures are only logged.
//
// Returns the new memory ID.
func (c *Client) Store(ctx context.Context, ownerID, domainID, content string, memoryType MemoryType, opts ...StoreOption) (string, error) {
	const op = "Store"

	o := applyStoreOptions(opts)
	content = strings.TrimSpace(content)
	switch {
	case ownerID == "":
		return "", invalidInput(op, "owner id is required")
	case content == "":
		return "", invalidInput(op, "content is empty")
	case !memoryType.IsValid():
		return "", invalidInput(op, "unknown memory type %q", memoryType)
	case o.Importance < MinImportance || o.Importance > MaxImportance:
		return "", invalidInput(op, "importance %d outside [%d, %d]", o.Importance, MinImportance, MaxImportance)
	}
	for k := range o.Metadata {
		if k == MetadataMemoryType || k == MetadataImportance {
			return "", invalidInput(op, "metadata key %q is reserved", k)
		}
	}
	if err := c.checkOpen(op); err != nil {
		return "", err
	}

	vector, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return "", NewMemoryError(op, err)
	}

	record := &MemoryRecord{
		ID:         c.node.Generate().String(),
		OwnerID:    ownerID,
		DomainID:   domainID,
		Content:    content,
		Embedding:  vector,
		MemoryType: memoryType,
		Importance: o.Importance,
		Metadata:   o.Metadata,
		CreatedAt:  c.opts.now().UTC(),
	}

	table := c.tableFor(domainID)
	sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
	defer cancel()
	if err := c.store.Insert(sctx, table, toStorageRecord(record)); err != nil {
		c.metrics.RecordStorageError("insert")
		return "", storageUnavailable(op, err)
	}

	c.logger.Debug("memory stored",
		zap.String("id", record.ID),
		zap.String("owner_id", ownerID),
		zap.String("table", table),
		zap.String("memory_type", string(memoryType)))

	c.scheduleCleanup(ctx, ownerID)
	return record.ID, nil
}

// Retrieve returns the owner's memories most similar to query.
//
// The search over-fetches 2×limit candidates, then keeps only records of the
// owner whose type is in opts.Types (when given) and whose similarity is at
// least the threshold, and truncates to limit. Returned memories have their
// access count and last access time updated best-effort.
//
// A storage failure degrades to an empty result and is logged.
func (c *Client) Retrieve(ctx context.Context, ownerID, domainID, query string, opts ...RetrieveOption) ([]*RetrieveResult, error) {
	const op = "Retrieve"
	start := time.Now()

	o := applyRetrieveOptions(opts)
	query = strings.TrimSpace(query)
	switch {
	case ownerID == "":
		return nil, invalidInput(op, "owner id is required")
	case query == "":
		return nil, invalidInput(op, "query is empty")
	case o.Limit <= 0:
		return nil, invalidInput(op, "limit must be positive")
	case o.MinSimilarity < 0 || o.MinSimilarity > 1:
		return nil, invalidInput(op, "min similarity %v outside [0, 1]", o.MinSimilarity)
	}
	for _, t := range o.Types {
		if !t.IsValid() {
			return nil, invalidInput(op, "unknown memory type %q", t)
		}
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, NewMemoryError(op, err)
	}

	table := c.tableFor(domainID)
	sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
	defer cancel()

	candidates, err := c.store.Search(sctx, table, vector, &storage.SearchOptions{
		Filter: &storage.Filter{OwnerID: ownerID, DomainID: domainID},
		Limit:  o.Limit * 2,
	})
	if err != nil {
		c.metrics.RecordStorageError("search")
		c.logger.Warn("memory search failed, returning no results",
			zap.String("owner_id", ownerID),
			zap.String("table", table),
			zap.Error(err))
		return []*RetrieveResult{}, nil
	}

	results := make([]*RetrieveResult, 0, o.Limit)
	for _, r := range candidates {
		if r.OwnerID != ownerID || r.Score < o.MinSimilarity {
			continue
		}
		memory := fromStorageRecord(r)
		if len(o.Types) > 0 && !containsType(o.Types, memory.MemoryType) {
			continue
		}
		results = append(results, &RetrieveResult{
			Memory:     memory,
			Similarity: r.Score,
			Distance:   r.Distance,
		})
		if len(results) == o.Limit {
			break
		}
	}

	c.touch(sctx, table, results)
	c.metrics.RecordRetrieve(domainID, time.Since(start), len(results))
	return results, nil
}

// touch records the access on the store and on the returned memories.
func (c *Client) touch(ctx context.Context, table string, results []*RetrieveResult) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}

	now := c.opts.now().UTC()
	if err := c.store.Touch(ctx, table, ids, now); err != nil {
		c.metrics.RecordStorageError("touch")
		c.logger.Warn("failed to update access statistics", zap.Error(err))
		return
	}
	for _, r := range results {
		r.Memory.AccessCount++
		at := now
		r.Memory.LastAccessedAt = &at
	}
}

// GetRecent returns the owner's most recent conversation memories in the
// domain, newest first. A storage failure degrades to an empty result.
func (c *Client) GetRecent(ctx context.Context, ownerID, domainID string, limit int) ([]*MemoryRecord, error) {
	const op = "GetRecent"
	if ownerID == "" {
		return nil, invalidInput(op, "owner id is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
	defer cancel()

	records, err := c.store.Scan(sctx, c.tableFor(domainID), &storage.ScanOptions{
		Filter: &storage.Filter{
			OwnerID:  ownerID,
			DomainID: domainID,
			Metadata: map[string]interface{}{MetadataMemoryType: string(MemoryTypeConversation)},
		},
		Limit: limit,
	})
	if err != nil {
		c.metrics.RecordStorageError("scan")
		c.logger.Warn("recent memory scan failed", zap.String("owner_id", ownerID), zap.Error(err))
		return []*MemoryRecord{}, nil
	}

	out := make([]*MemoryRecord, len(records))
	for i, r := range records {
		out[i] = fromStorageRecord(r)
	}
	return out, nil
}

// Get returns a memory by ID from any memory table.
//
// Returns an error wrapping ErrNotFound if no memory has this ID.
func (c *Client) Get(ctx context.Context, memoryID string) (*MemoryRecord, error) {
	const op = "Get"
	if memoryID == "" {
		return nil, invalidInput(op, "memory id is required")
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}

	for _, table := range c.MemoryTables() {
		sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
		r, err := c.store.Get(sctx, table, memoryID)
		cancel()
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storageUnavailable(op, err)
		}
		return fromStorageRecord(r), nil
	}
	return nil, NewMemoryError(op, ErrNotFound)
}

// GetStats summarises the owner's memories across all memory tables.
//
// A storage failure on a table is logged and that table is skipped.
func (c *Client) GetStats(ctx context.Context, ownerID string) (*Stats, error) {
	const op = "GetStats"
	if ownerID == "" {
		return nil, invalidInput(op, "owner id is required")
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}

	stats := &Stats{ByType: make(map[MemoryType]int64, len(MemoryTypes))}
	for _, table := range c.MemoryTables() {
		if err := c.addTableStats(ctx, table, ownerID, stats); err != nil {
			c.metrics.RecordStorageError("stats")
			c.logger.Warn("failed to collect stats",
				zap.String("table", table),
				zap.String("owner_id", ownerID),
				zap.Error(err))
		}
	}
	return stats, nil
}

func (c *Client) addTableStats(ctx context.Context, table, ownerID string, stats *Stats) error {
	sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
	defer cancel()

	owner := &storage.Filter{OwnerID: ownerID}
	total, err := c.store.Count(sctx, table, owner)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	stats.TotalMemories += total

	for _, t := range MemoryTypes {
		n, err := c.store.Count(sctx, table, &storage.Filter{
			OwnerID:  ownerID,
			Metadata: map[string]interface{}{MetadataMemoryType: string(t)},
		})
		if err != nil {
			return err
		}
		if n > 0 {
			stats.ByType[t] += n
		}
	}

	for _, oldestFirst := range []bool{true, false} {
		records, err := c.store.Scan(sctx, table, &storage.ScanOptions{
			Filter:      owner,
			Limit:       1,
			OldestFirst: oldestFirst,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			continue
		}
		at := records[0].CreatedAt
		if oldestFirst && (stats.Oldest == nil || at.Before(*stats.Oldest)) {
			stats.Oldest = &at
		}
		if !oldestFirst && (stats.Newest == nil || at.After(*stats.Newest)) {
			stats.Newest = &at
		}
	}
	return nil
}

// Forget permanently deletes a memory.
//
// Returns false with no error when no memory has this ID (or, with
// WithOwner, when it belongs to someone else).
func (c *Client) Forget(ctx context.Context, memoryID string, opts ...ForgetOption) (bool, error) {
	const op = "Forget"
	if memoryID == "" {
		return false, invalidInput(op, "memory id is required")
	}
	if err := c.checkOpen(op); err != nil {
		return false, err
	}
	o := applyForgetOptions(opts)

	var deleted int64
	for _, table := range c.MemoryTables() {
		sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
		n, err := c.store.Delete(sctx, table, &storage.Filter{
			IDs:     []string{memoryID},
			OwnerID: o.OwnerID,
		})
		cancel()
		if err != nil {
			c.metrics.RecordStorageError("delete")
			return false, storageUnavailable(op, err)
		}
		deleted += n
	}

	if deleted > 0 {
		c.logger.Info("memory forgotten", zap.String("id", memoryID))
	}
	return deleted > 0, nil
}

// ForgetAll deletes every record of the owner in every table this client
// knows about: the memory tables and the tables registered by the pattern
// learner and knowledge store. Tables are processed concurrently.
//
// Any table failure makes the whole call fail; the returned count is what
// was deleted before the failure.
func (c *Client) ForgetAll(ctx context.Context, ownerID string) (int64, error) {
	const op = "ForgetAll"
	if ownerID == "" {
		return 0, invalidInput(op, "owner id is required")
	}
	if err := c.checkOpen(op); err != nil {
		return 0, err
	}

	tables, err := c.existingTables(ctx)
	if err != nil {
		return 0, storageUnavailable(op, err)
	}

	var (
		mu    sync.Mutex
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, table := range tables {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, c.opts.storageTimeout)
			defer cancel()
			n, err := c.store.Delete(sctx, table, &storage.Filter{OwnerID: ownerID})
			if err != nil {
				return fmt.Errorf("table %s: %w", table, err)
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.RecordStorageError("forget_all")
		c.logger.Error("forget all failed", zap.String("owner_id", ownerID), zap.Error(err))
		return total, storageUnavailable(op, err)
	}

	c.logger.Info("owner data forgotten", zap.String("owner_id", ownerID), zap.Int64("deleted", total))
	return total, nil
}

// existingTables returns the known tables that exist in the store.
func (c *Client) existingTables(ctx context.Context) ([]string, error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.storageTimeout)
	defer cancel()

	listed, err := c.store.ListTables(sctx)
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(listed))
	for _, t := range listed {
		exists[t] = true
	}

	var tables []string
	for _, t := range c.KnownTables() {
		if exists[t] {
			tables = append(tables, t)
		}
	}
	return tables, nil
}

// EmbeddingStatus reports the health of the embedding provider.
func (c *Client) EmbeddingStatus() embedder.Status {
	return c.embedder.Status()
}

// TableStore returns the underlying table store, shared with the pattern
// learner and knowledge store.
func (c *Client) TableStore() storage.TableStore {
	return c.store
}

// Embedder returns the cached embedding provider.
func (c *Client) Embedder() *embedder.CachedProvider {
	return c.embedder
}

// LLM returns the configured LLM provider, or nil.
func (c *Client) LLM() llm.Provider {
	return c.llm
}

// Logger returns the client's base logger.
func (c *Client) Logger() *zap.Logger {
	return c.opts.logger
}

// Metrics returns the metrics collector, or nil.
func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// StorageTimeout returns the per-call storage timeout.
func (c *Client) StorageTimeout() time.Duration {
	return c.opts.storageTimeout
}

// RegisterTable adds a table owned by another component to the set covered
// by ForgetAll.
func (c *Client) RegisterTable(table string) error {
	if err := storage.ValidateTableName(table); err != nil {
		return NewMemoryError("RegisterTable", err)
	}
	c.tablesMu.Lock()
	c.extraTables[table] = true
	c.tablesMu.Unlock()
	return nil
}

// MemoryTables returns the default table and every domain table, sorted and
// without duplicates.
func (c *Client) MemoryTables() []string {
	set := map[string]bool{c.opts.defaultTable: true}
	for _, t := range c.opts.domainTables {
		set[t] = true
	}
	return sortedKeys(set)
}

// KnownTables returns MemoryTables plus registered tables.
func (c *Client) KnownTables() []string {
	set := map[string]bool{c.opts.defaultTable: true}
	for _, t := range c.opts.domainTables {
		set[t] = true
	}
	c.tablesMu.RLock()
	for t := range c.extraTables {
		set[t] = true
	}
	c.tablesMu.RUnlock()
	return sortedKeys(set)
}

// tableFor routes a domain to its table.
func (c *Client) tableFor(domainID string) string {
	if t, ok := c.opts.domainTables[domainID]; ok {
		return t
	}
	return c.opts.defaultTable
}

func (c *Client) checkOpen(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return NewMemoryError(op, ErrClosed)
	}
	return nil
}

// Wait blocks until background cleanup passes have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close waits for background work, then closes the embedding provider, the
// LLM and the table store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()

	var errs []error
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, closer := range c.opts.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return NewMemoryError("Close", errors.Join(errs...))
}

// scheduleCleanup runs Cleanup for the owner in the background. Concurrent
// requests for the same owner share one pass.
func (c *Client) scheduleCleanup(ctx context.Context, ownerID string) {
	if !c.opts.autoCleanup {
		return
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.wg.Add(1)
	c.mu.RUnlock()

	bgCtx, cancel := logging.DetachContextWithTimeout(ctx, c.opts.cleanupTimeout)
	go func() {
		defer c.wg.Done()
		defer cancel()

		_, err, _ := c.cleanupGroup.Do(ownerID, func() (interface{}, error) {
			return c.cleanup(bgCtx, ownerID)
		})
		if err != nil {
			c.logger.Warn("background cleanup failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}()
}

func containsType(types []MemoryType, t MemoryType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
