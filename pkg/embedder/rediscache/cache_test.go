package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
)

var _ embedder.VectorCache = (*Cache)(nil)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.TTL = time.Minute

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "I love jazz")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "I love jazz", []float64{0.1, -0.2, 0.3}))

	vec, ok, err := c.Get(ctx, "I love jazz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{0.1, -0.2, 0.3}, vec)
}

func TestCache_KeysAreHashedAndExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "secret text", []float64{1}))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "secret")
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "secret text")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_MalformedEntryIsAMiss(t *testing.T) {
	c, mr := newTestCache(t)

	require.NoError(t, mr.Set(c.redisKey("k"), "not json"))

	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_ServerDown(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(context.Background(), Config{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestCachedProviderUsesSharedTier(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, embedder.CacheKey("shared  text"), []float64{0.5, 0.5}))

	p, err := embedder.NewCachedProvider(failingProvider{}, embedder.WithSharedCache(c))
	require.NoError(t, err)

	vec, err := p.Embed(ctx, "shared text")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, vec)
	assert.Equal(t, uint64(1), p.Status().SharedHits)
	assert.False(t, p.Status().Degraded)
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, string) ([]float64, error) {
	return nil, assert.AnError
}

func (f failingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, assert.AnError
}

func (failingProvider) Dimensions() int { return 2 }
func (failingProvider) Close() error    { return nil }
