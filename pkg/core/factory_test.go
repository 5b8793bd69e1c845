package core_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
)

func sqliteConfig(t *testing.T) *core.Config {
	return &core.Config{
		Embedder: core.EmbedderConfig{Provider: "hashing", Dimensions: 256},
		VectorStore: core.VectorStoreConfig{
			Provider: "sqlite",
			Config:   map[string]interface{}{"db_path": filepath.Join(t.TempDir(), "m.db")},
		},
		Memory: core.MemoryConfig{
			DomainTables: map[string]string{"finance": "finance_memories"},
			MaxPerOwner:  100,
		},
	}
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	client, err := core.NewFromConfig(ctx, sqliteConfig(t))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.Equal(t, 256, client.Embedder().Dimensions())
	assert.Nil(t, client.LLM())
	assert.Contains(t, client.MemoryTables(), "finance_memories")

	id, err := client.Store(ctx, "u1", "finance", "Pays rent on the first", core.MemoryTypeFact)
	require.NoError(t, err)
	m, err := client.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, m.Embedding, 256)
}

func TestNewFromConfig_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sqliteConfig(t)
	cfg.Cache.Redis.Addr = mr.Addr()

	ctx := context.Background()
	client, err := core.NewFromConfig(ctx, cfg)
	require.NoError(t, err)

	_, err = client.Store(ctx, "u1", "", "Learning the tango", core.MemoryTypeFact)
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
	require.NoError(t, client.Close())
}

func TestNewFromConfig_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := sqliteConfig(t)
	cfg.Cache.Redis.Addr = addr

	client, err := core.NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestNewFromConfig_Invalid(t *testing.T) {
	_, err := core.NewFromConfig(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg := sqliteConfig(t)
	cfg.VectorStore.Provider = "mongo"
	_, err = core.NewFromConfig(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg = sqliteConfig(t)
	cfg.Memory.DefaultTable = "bad-name"
	_, err = core.NewFromConfig(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewLLM(t *testing.T) {
	provider, err := core.NewLLM(&core.LLMConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, provider)

	provider, err = core.NewLLM(&core.LLMConfig{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, provider)

	_, err = core.NewLLM(&core.LLMConfig{Provider: "ollama"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewTableStore_Chromem(t *testing.T) {
	store, err := core.NewTableStore(&core.VectorStoreConfig{Provider: "chromem"}, 16)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	tables, err := store.ListTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
}
