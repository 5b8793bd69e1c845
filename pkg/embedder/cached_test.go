package embedder_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/MundoTango/Mundo-Tango-sub004/internal/metrics"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
)

// countingProvider returns a vector derived from the text length and counts calls.
type countingProvider struct {
	dims  int
	calls atomic.Int64
	err   error
	delay time.Duration
	seen  []string
	mu    sync.Mutex
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.seen = append(p.seen, text)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	vec := make([]float64, p.dims)
	vec[0] = float64(len(text))
	return vec, nil
}

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, errors.New("not used")
}

func (p *countingProvider) Dimensions() int { return p.dims }
func (p *countingProvider) Close() error    { return nil }

// mapCache is an in-memory VectorCache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]float64
}

func (c *mapCache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, vec []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = vec
	return nil
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "hello world", embedder.CacheKey("  hello \n\t world "))

	long := strings.Repeat("é", 700)
	key := embedder.CacheKey(long)
	assert.Equal(t, embedder.MaxCacheKeyRunes, len([]rune(key)))

	// Texts sharing a 500-rune prefix share a key.
	assert.Equal(t, embedder.CacheKey(long+"a"), embedder.CacheKey(long+"b"))
}

func TestCacheKey_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")
		key := embedder.CacheKey(text)

		assert.LessOrEqual(rt, len([]rune(key)), embedder.MaxCacheKeyRunes)
		assert.Equal(rt, key, embedder.CacheKey(key))
		assert.Equal(rt, key, embedder.CacheKey("  "+text+"\n"))
	})
}

func TestCachedProvider_HitAvoidsUpstream(t *testing.T) {
	upstream := &countingProvider{dims: 4}
	p, err := embedder.NewCachedProvider(upstream)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := p.Embed(ctx, "hello")
	require.NoError(t, err)
	second, err := p.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), upstream.calls.Load())

	st := p.Status()
	assert.Equal(t, uint64(2), st.Requests)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.False(t, st.Degraded)
}

func TestCachedProvider_FullTextSentUpstream(t *testing.T) {
	upstream := &countingProvider{dims: 2}
	p, err := embedder.NewCachedProvider(upstream)
	require.NoError(t, err)

	long := strings.Repeat("x", 900)
	vec, err := p.Embed(context.Background(), long)
	require.NoError(t, err)
	assert.Equal(t, 900.0, vec[0])
	assert.Equal(t, long, upstream.seen[0])
}

func TestCachedProvider_ReturnedVectorIsACopy(t *testing.T) {
	p, err := embedder.NewCachedProvider(&countingProvider{dims: 2})
	require.NoError(t, err)
	ctx := context.Background()

	vec, _ := p.Embed(ctx, "abc")
	vec[0] = -1

	again, _ := p.Embed(ctx, "abc")
	assert.Equal(t, 3.0, again[0])
}

func TestCachedProvider_EvictsAtCapacity(t *testing.T) {
	upstream := &countingProvider{dims: 2}
	p, err := embedder.NewCachedProvider(upstream, embedder.WithCacheSize(2))
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = p.Embed(ctx, "a")
	_, _ = p.Embed(ctx, "bb")
	_, _ = p.Embed(ctx, "ccc")
	assert.Equal(t, 2, p.Len())

	// "a" was evicted and must be fetched again.
	_, _ = p.Embed(ctx, "a")
	assert.Equal(t, int64(4), upstream.calls.Load())
}

func TestCachedProvider_FailureDegradesToZeroVector(t *testing.T) {
	upstream := &countingProvider{dims: 3, err: errors.New("quota exceeded")}
	p, err := embedder.NewCachedProvider(upstream,
		embedder.WithMetrics(metrics.NewCollector("test", nil, nil)))
	require.NoError(t, err)
	ctx := context.Background()

	vec, err := p.Embed(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, vec)

	st := p.Status()
	assert.True(t, st.Degraded)
	assert.Equal(t, uint64(1), st.Failures)
	assert.Contains(t, st.LastError, "quota exceeded")

	// Zero vectors are not cached, so recovery is picked up.
	upstream.err = nil
	vec, err = p.Embed(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, 8.0, vec[0])
	assert.False(t, p.Status().Degraded)
}

func TestCachedProvider_TimeoutDegrades(t *testing.T) {
	upstream := &countingProvider{dims: 2, delay: time.Second}
	p, err := embedder.NewCachedProvider(upstream, embedder.WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	vec, err := p.Embed(context.Background(), "slow")
	require.NoError(t, err)
	assert.True(t, embedder.IsZero(vec))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, p.Status().Degraded)
}

func TestCachedProvider_CoalescesConcurrentMisses(t *testing.T) {
	upstream := &countingProvider{dims: 2, delay: 50 * time.Millisecond}
	p, err := embedder.NewCachedProvider(upstream)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := p.Embed(context.Background(), "same text")
			assert.NoError(t, err)
			assert.Equal(t, 9.0, vec[0])
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, upstream.calls.Load(), int64(2))
}

func TestCachedProvider_CoalescedCallerSurvivesFirstCallerCancel(t *testing.T) {
	upstream := &countingProvider{dims: 4, delay: 100 * time.Millisecond}
	p, err := embedder.NewCachedProvider(upstream)
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Embed(firstCtx, "text")
		firstErr <- err
	}()

	// Wait until the first caller's upstream call is in flight.
	require.Eventually(t, func() bool { return upstream.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan []float64, 1)
	go func() {
		vec, err := p.Embed(context.Background(), "text")
		assert.NoError(t, err)
		second <- vec
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	vec := <-second
	assert.Equal(t, []float64{4, 0, 0, 0}, vec)
	assert.Equal(t, int64(1), upstream.calls.Load())
	assert.False(t, p.Status().Degraded)

	// The result was cached for later callers.
	vec, err = p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 0, 0, 0}, vec)
	assert.Equal(t, int64(1), upstream.calls.Load())
}

func TestCachedProvider_SharedTier(t *testing.T) {
	shared := &mapCache{data: map[string][]float64{}}
	first := &countingProvider{dims: 2}
	p1, err := embedder.NewCachedProvider(first, embedder.WithSharedCache(shared))
	require.NoError(t, err)

	_, err = p1.Embed(context.Background(), "shared text")
	require.NoError(t, err)
	assert.Len(t, shared.data, 1)

	// A second process-local provider is served from the shared tier.
	second := &countingProvider{dims: 2}
	p2, err := embedder.NewCachedProvider(second, embedder.WithSharedCache(shared))
	require.NoError(t, err)

	vec, err := p2.Embed(context.Background(), "shared text")
	require.NoError(t, err)
	assert.Equal(t, 11.0, vec[0])
	assert.Zero(t, second.calls.Load())
	assert.Equal(t, uint64(1), p2.Status().SharedHits)
}

func TestCachedProvider_RateLimit(t *testing.T) {
	upstream := &countingProvider{dims: 1}
	p, err := embedder.NewCachedProvider(upstream,
		embedder.WithRateLimit(20, 1),
		embedder.WithTimeout(time.Second))
	require.NoError(t, err)

	start := time.Now()
	for _, text := range []string{"a", "b", "c"} {
		_, err := p.Embed(context.Background(), text)
		require.NoError(t, err)
	}
	// Two waits of ~50ms after the initial burst token.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int64(3), upstream.calls.Load())
}

func TestCachedProvider_EmbedBatch(t *testing.T) {
	p, err := embedder.NewCachedProvider(&countingProvider{dims: 1})
	require.NoError(t, err)

	out, err := p.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}}, out)
	assert.Equal(t, 1, p.Dimensions())
}

func TestNewCachedProvider_RequiresProvider(t *testing.T) {
	_, err := embedder.NewCachedProvider(nil)
	assert.Error(t, err)
}
