package embedder

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/metrics"
)

// Defaults for CachedProvider.
const (
	DefaultCacheSize = 1000
	DefaultTimeout   = 15 * time.Second
)

// CachedProvider wraps a Provider with a bounded LRU cache, an optional shared
// cache tier, request coalescing and an optional rate limit.
//
// Upstream failures never surface as errors: when the provider fails or times
// out Embed logs a warning, marks the provider degraded and returns an
// all-zero vector of Dimensions() length. Zero vectors are not cached. The
// only error is the caller's own context ending before the vector is ready;
// concurrent callers for the same text share one upstream call that outlives
// any single caller.
type CachedProvider struct {
	provider Provider
	cache    *lru.Cache[string, []float64]
	shared   VectorCache
	group    singleflight.Group
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu     sync.Mutex
	status Status
}

// CacheOption configures a CachedProvider.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	size    int
	shared  VectorCache
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
}

// WithCacheSize sets the in-process cache capacity.
func WithCacheSize(size int) CacheOption {
	return func(o *cacheOptions) { o.size = size }
}

// WithSharedCache adds a second cache tier, typically Redis.
func WithSharedCache(c VectorCache) CacheOption {
	return func(o *cacheOptions) { o.shared = c }
}

// WithRateLimit limits upstream calls to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) CacheOption {
	return func(o *cacheOptions) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) CacheOption {
	return func(o *cacheOptions) { o.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CacheOption {
	return func(o *cacheOptions) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) CacheOption {
	return func(o *cacheOptions) { o.metrics = m }
}

// NewCachedProvider wraps provider.
func NewCachedProvider(provider Provider, opts ...CacheOption) (*CachedProvider, error) {
	if provider == nil {
		return nil, fmt.Errorf("NewCachedProvider: provider is required")
	}

	o := &cacheOptions{
		size:    DefaultCacheSize,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.size <= 0 {
		o.size = DefaultCacheSize
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	cache, err := lru.New[string, []float64](o.size)
	if err != nil {
		return nil, fmt.Errorf("NewCachedProvider: %w", err)
	}

	return &CachedProvider{
		provider: provider,
		cache:    cache,
		shared:   o.shared,
		limiter:  o.limiter,
		timeout:  o.timeout,
		logger:   o.logger.With(zap.String("component", "embedder")),
		metrics:  o.metrics,
	}, nil
}

// Embed returns the embedding for text, serving from cache when possible.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	key := CacheKey(text)
	p.bump(func(s *Status) { s.Requests++ })

	if vec, ok := p.cache.Get(key); ok {
		p.bump(func(s *Status) { s.Hits++ })
		p.metrics.RecordEmbedding(metrics.EmbeddingHit)
		return clone(vec), nil
	}

	// The shared load must not die with whichever caller started it.
	ch := p.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.load(loadCtx, key, text), nil
	})

	select {
	case res := <-ch:
		return clone(res.Val.([]float64)), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("embed: %w", ctx.Err())
	}
}

// load consults the shared tier and then the upstream provider. It always
// returns a vector.
func (p *CachedProvider) load(ctx context.Context, key, text string) []float64 {
	if p.shared != nil {
		vec, ok, err := p.shared.Get(ctx, key)
		if err != nil {
			p.logger.Warn("shared embedding cache lookup failed", zap.Error(err))
		} else if ok {
			p.cache.Add(key, vec)
			p.bump(func(s *Status) { s.SharedHits++ })
			p.metrics.RecordEmbedding(metrics.EmbeddingSharedHit)
			return vec
		}
	}

	p.bump(func(s *Status) { s.Misses++ })

	vec, err := p.callUpstream(ctx, text)
	if err != nil {
		p.bump(func(s *Status) {
			s.Failures++
			s.Degraded = true
			s.LastError = err.Error()
			s.LastErrorAt = time.Now()
		})
		p.metrics.RecordEmbedding(metrics.EmbeddingDegraded)
		p.logger.Warn("embedding failed, using zero vector",
			zap.Error(err),
			zap.Int("dimensions", p.Dimensions()))
		return make([]float64, p.Dimensions())
	}

	p.bump(func(s *Status) { s.Degraded = false })
	p.metrics.RecordEmbedding(metrics.EmbeddingMiss)

	if want := p.Dimensions(); want > 0 && len(vec) != want {
		p.logger.Warn("embedding dimension mismatch",
			zap.Int("expected", want),
			zap.Int("actual", len(vec)))
	}

	p.cache.Add(key, vec)
	if p.shared != nil {
		if err := p.shared.Set(ctx, key, vec); err != nil {
			p.logger.Warn("shared embedding cache store failed", zap.Error(err))
		}
	}
	return vec
}

func (p *CachedProvider) callUpstream(ctx context.Context, text string) ([]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(callCtx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	vec, err := p.provider.Embed(callCtx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("provider returned an empty vector")
	}
	return vec, nil
}

// EmbedBatch embeds each text through the cache.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the dimensionality of the wrapped provider.
func (p *CachedProvider) Dimensions() int {
	return p.provider.Dimensions()
}

// Status returns a snapshot of the provider's counters and degraded flag.
func (p *CachedProvider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Len returns the number of entries in the in-process cache.
func (p *CachedProvider) Len() int {
	return p.cache.Len()
}

// Purge empties the in-process cache.
func (p *CachedProvider) Purge() {
	p.cache.Purge()
}

// Close closes the wrapped provider.
func (p *CachedProvider) Close() error {
	return p.provider.Close()
}

func (p *CachedProvider) bump(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

// IsZero reports whether every component of vec is zero.
func IsZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

func clone(vec []float64) []float64 {
	out := make([]float64, len(vec))
	copy(out, vec)
	return out
}
