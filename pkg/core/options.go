package core

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/metrics"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/intelligence"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
)

// Defaults for the memory cache.
const (
	DefaultTable          = "user_memories"
	DefaultLimit          = 5
	DefaultMinSimilarity  = 0.7
	DefaultRetention      = 365 * 24 * time.Hour
	DefaultMaxPerOwner    = 10000
	DefaultStorageTimeout = 15 * time.Second
	DefaultCleanupTimeout = time.Minute
)

// DefaultDomainTables routes well-known domains to their own table.
var DefaultDomainTables = map[string]string{
	"life_ceo": "life_ceo_memories",
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger         *zap.Logger
	metrics        *metrics.Collector
	llm            llm.Provider
	summarizer     *intelligence.Summarizer
	defaultTable   string
	domainTables   map[string]string
	retention      time.Duration
	maxPerOwner    int64
	storageTimeout time.Duration
	cleanupTimeout time.Duration
	autoCleanup    bool
	cacheOpts      []embedder.CacheOption
	nodeID         int64
	now            func() time.Time
	closers        []io.Closer
}

func defaultClientOptions() *clientOptions {
	tables := make(map[string]string, len(DefaultDomainTables))
	for k, v := range DefaultDomainTables {
		tables[k] = v
	}
	return &clientOptions{
		defaultTable:   DefaultTable,
		domainTables:   tables,
		retention:      DefaultRetention,
		maxPerOwner:    DefaultMaxPerOwner,
		storageTimeout: DefaultStorageTimeout,
		cleanupTimeout: DefaultCleanupTimeout,
		autoCleanup:    true,
		nodeID:         1,
		now:            time.Now,
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithLLM sets the LLM used to summarise conversations and, through
// Client.LLM, by the knowledge store.
func WithLLM(provider llm.Provider) Option {
	return func(o *clientOptions) { o.llm = provider }
}

// WithSummarizer overrides the summarizer built from WithLLM.
func WithSummarizer(s *intelligence.Summarizer) Option {
	return func(o *clientOptions) { o.summarizer = s }
}

// WithDefaultTable sets the table used for domains without a dedicated table.
func WithDefaultTable(table string) Option {
	return func(o *clientOptions) { o.defaultTable = table }
}

// WithDomainTable routes domainID to its own table.
//
// Example:
//
//	client, _ := core.New(store, provider, core.WithDomainTable("finance", "finance_memories"))
func WithDomainTable(domainID, table string) Option {
	return func(o *clientOptions) { o.domainTables[domainID] = table }
}

// WithRetention sets how long memories are kept. Zero disables age-based cleanup.
func WithRetention(d time.Duration) Option {
	return func(o *clientOptions) { o.retention = d }
}

// WithMaxPerOwner caps the number of memories per owner. Zero disables the cap.
func WithMaxPerOwner(n int64) Option {
	return func(o *clientOptions) { o.maxPerOwner = n }
}

// WithStorageTimeout bounds each table store call.
func WithStorageTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.storageTimeout = d }
}

// WithAutoCleanup enables or disables the cleanup pass scheduled after each Store.
func WithAutoCleanup(enabled bool) Option {
	return func(o *clientOptions) { o.autoCleanup = enabled }
}

// WithEmbeddingCache passes options to the CachedProvider built around a
// plain provider. Ignored when the provider is already a *embedder.CachedProvider.
func WithEmbeddingCache(opts ...embedder.CacheOption) Option {
	return func(o *clientOptions) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// WithNodeID sets the snowflake node ID (0-1023). Processes sharing a store
// need distinct node IDs.
func WithNodeID(id int64) Option {
	return func(o *clientOptions) { o.nodeID = id }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// StoreOption configures a Store call.
type StoreOption func(*StoreOptions)

// StoreOptions contains options for Store.
type StoreOptions struct {
	// Importance is in [1, 10]; defaults to 5.
	Importance int

	// Metadata holds caller attributes. The keys memory_type and importance
	// are reserved.
	Metadata map[string]interface{}
}

// WithImportance sets the importance of a stored memory.
func WithImportance(importance int) StoreOption {
	return func(o *StoreOptions) { o.Importance = importance }
}

// WithMetadata attaches metadata to a stored memory.
//
// Example:
//
//	id, _ := client.Store(ctx, "u1", "", "I love jazz music", core.MemoryTypePreference,
//	    core.WithMetadata(map[string]interface{}{"source": "chat"}))
func WithMetadata(metadata map[string]interface{}) StoreOption {
	return func(o *StoreOptions) { o.Metadata = metadata }
}

func applyStoreOptions(opts []StoreOption) *StoreOptions {
	o := &StoreOptions{Importance: DefaultImportance}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RetrieveOption configures a Retrieve call.
type RetrieveOption func(*RetrieveOptions)

// RetrieveOptions contains options for Retrieve.
type RetrieveOptions struct {
	// Limit is the maximum number of results. Defaults to 5.
	Limit int

	// Types restricts results to these memory types (all types when empty).
	Types []MemoryType

	// MinSimilarity drops results below this similarity. Defaults to 0.7.
	MinSimilarity float64
}

// WithLimit sets the maximum number of results.
func WithLimit(limit int) RetrieveOption {
	return func(o *RetrieveOptions) { o.Limit = limit }
}

// WithTypes restricts results to the given memory types.
func WithTypes(types ...MemoryType) RetrieveOption {
	return func(o *RetrieveOptions) { o.Types = types }
}

// WithMinSimilarity sets the similarity threshold.
func WithMinSimilarity(min float64) RetrieveOption {
	return func(o *RetrieveOptions) { o.MinSimilarity = min }
}

func applyRetrieveOptions(opts []RetrieveOption) *RetrieveOptions {
	o := &RetrieveOptions{
		Limit:         DefaultLimit,
		MinSimilarity: DefaultMinSimilarity,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ForgetOption configures a Forget call.
type ForgetOption func(*ForgetOptions)

// ForgetOptions contains options for Forget.
type ForgetOptions struct {
	// OwnerID, when set, only deletes the memory if it belongs to this owner.
	OwnerID string
}

// WithOwner scopes Forget to one owner.
func WithOwner(ownerID string) ForgetOption {
	return func(o *ForgetOptions) { o.OwnerID = ownerID }
}

func applyForgetOptions(opts []ForgetOption) *ForgetOptions {
	o := &ForgetOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// withClosers registers resources the client closes after the table store.
func withClosers(closers ...io.Closer) Option {
	return func(o *clientOptions) { o.closers = append(o.closers, closers...) }
}
