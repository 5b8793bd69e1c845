package core

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder/hashing"
	openaiEmbedder "github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder/openai"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder/rediscache"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
	anthropicLLM "github.com/MundoTango/Mundo-Tango-sub004/pkg/llm/anthropic"
	openaiLLM "github.com/MundoTango/Mundo-Tango-sub004/pkg/llm/openai"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
	chromemStore "github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/chromem"
	oceanbaseStore "github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/oceanbase"
	postgresStore "github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/postgres"
	sqliteStore "github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/sqlite"
)

// NewFromConfig creates a Client from a Config.
//
// It builds the embedding provider, the table store, the optional LLM and
// the optional Redis embedding cache, then applies the memory settings.
// Options passed in opts are applied after the ones derived from cfg.
//
// Example:
//
//	cfg, _ := core.LoadConfigFromEnv()
//	client, err := core.NewFromConfig(ctx, cfg, core.WithLogger(logger))
func NewFromConfig(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	const op = "NewFromConfig"
	if cfg == nil {
		return nil, NewMemoryError(op, fmt.Errorf("%w: config is required", ErrInvalidConfig))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	probe := defaultClientOptions()
	for _, opt := range opts {
		opt(probe)
	}
	logger := probe.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := NewEmbeddingProvider(&cfg.Embedder)
	if err != nil {
		return nil, NewMemoryError(op, err)
	}

	var closers []io.Closer
	cacheOpts := []embedder.CacheOption{
		embedder.WithCacheSize(cfg.Cache.Size),
		embedder.WithRateLimit(cfg.Cache.RateLimit, cfg.Cache.Burst),
		embedder.WithTimeout(time.Duration(cfg.Cache.TimeoutSeconds) * time.Second),
	}
	if cfg.Cache.Redis.Addr != "" {
		rc := rediscache.DefaultConfig()
		rc.Addr = cfg.Cache.Redis.Addr
		rc.Password = cfg.Cache.Redis.Password
		rc.DB = cfg.Cache.Redis.DB
		if cfg.Cache.Redis.KeyPrefix != "" {
			rc.KeyPrefix = cfg.Cache.Redis.KeyPrefix
		}
		if cfg.Cache.Redis.TTLSeconds > 0 {
			rc.TTL = time.Duration(cfg.Cache.Redis.TTLSeconds) * time.Second
		}
		shared, err := rediscache.New(ctx, rc, logger)
		if err != nil {
			// The shared tier is optional; the in-process cache still works.
			logger.Warn("redis embedding cache unavailable", zap.String("addr", rc.Addr), zap.Error(err))
		} else {
			cacheOpts = append(cacheOpts, embedder.WithSharedCache(shared))
			closers = append(closers, shared)
		}
	}

	store, err := NewTableStore(&cfg.VectorStore, provider.Dimensions())
	if err != nil {
		closeAll(closers)
		_ = provider.Close()
		return nil, NewMemoryError(op, err)
	}

	derived := []Option{WithEmbeddingCache(cacheOpts...), withClosers(closers...)}

	llmProvider, err := NewLLM(&cfg.LLM)
	if err != nil {
		closeAll(closers)
		_ = provider.Close()
		_ = store.Close()
		return nil, NewMemoryError(op, err)
	}
	if llmProvider != nil {
		derived = append(derived, WithLLM(llmProvider))
	}

	m := cfg.Memory
	if m.DefaultTable != "" {
		derived = append(derived, WithDefaultTable(m.DefaultTable))
	}
	for domain, table := range m.DomainTables {
		derived = append(derived, WithDomainTable(domain, table))
	}
	if m.RetentionDays > 0 {
		derived = append(derived, WithRetention(time.Duration(m.RetentionDays)*24*time.Hour))
	}
	if m.MaxPerOwner > 0 {
		derived = append(derived, WithMaxPerOwner(m.MaxPerOwner))
	}
	if m.StorageTimeoutSeconds > 0 {
		derived = append(derived, WithStorageTimeout(time.Duration(m.StorageTimeoutSeconds)*time.Second))
	}
	if m.DisableAutoCleanup {
		derived = append(derived, WithAutoCleanup(false))
	}
	if m.NodeID > 0 {
		derived = append(derived, WithNodeID(m.NodeID))
	}

	client, err := New(store, provider, append(derived, opts...)...)
	if err != nil {
		closeAll(closers)
		_ = provider.Close()
		_ = store.Close()
		if llmProvider != nil {
			_ = llmProvider.Close()
		}
		return nil, err
	}
	return client, nil
}

// NewEmbeddingProvider creates the embedding provider named by cfg.Provider.
func NewEmbeddingProvider(cfg *EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "hashing", "":
		return hashing.NewClient(&hashing.Config{Dimensions: cfg.Dimensions}), nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedder provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// NewLLM creates the LLM provider named by cfg.Provider. It returns nil
// without error when no provider is configured.
func NewLLM(cfg *LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		client, err := openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "anthropic":
		client, err := anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unsupported llm provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// NewTableStore creates the table store named by cfg.Provider. dims is the
// embedding dimensionality, required by the vector backends.
func NewTableStore(cfg *VectorStoreConfig, dims int) (storage.TableStore, error) {
	c := cfg.Config
	switch cfg.Provider {
	case "sqlite":
		store, err := sqliteStore.NewClient(&sqliteStore.Config{
			DBPath: configString(c, "db_path", "./mtmemory.db"),
		})
		return storeOrNil(store, err)
	case "postgres":
		store, err := postgresStore.NewClient(&postgresStore.Config{
			Host:               configString(c, "host", "localhost"),
			Port:               configInt(c, "port", 5432),
			User:               configString(c, "user", "postgres"),
			Password:           configString(c, "password", ""),
			DBName:             configString(c, "db_name", "mtmemory"),
			SSLMode:            configString(c, "ssl_mode", "disable"),
			EmbeddingModelDims: dims,
		})
		return storeOrNil(store, err)
	case "oceanbase":
		store, err := oceanbaseStore.NewClient(&oceanbaseStore.Config{
			Host:               configString(c, "host", "127.0.0.1"),
			Port:               configInt(c, "port", 2881),
			User:               configString(c, "user", "root@sys"),
			Password:           configString(c, "password", ""),
			DBName:             configString(c, "db_name", "mtmemory"),
			EmbeddingModelDims: dims,
		})
		return storeOrNil(store, err)
	case "chromem":
		store, err := chromemStore.NewClient(&chromemStore.Config{
			PersistDir: configString(c, "persist_dir", ""),
			Compress:   configBool(c, "compress"),
			Dimensions: dims,
		})
		return storeOrNil(store, err)
	default:
		return nil, fmt.Errorf("%w: unsupported vector store provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// storeOrNil keeps a failed constructor from returning a typed nil.
func storeOrNil[T storage.TableStore](store T, err error) (storage.TableStore, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}

func configString(c map[string]interface{}, key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

func configInt(c map[string]interface{}, key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func configBool(c map[string]interface{}, key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
