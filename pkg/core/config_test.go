package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
)

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *core.Config)
	}{
		{
			name: "sqlite with hashing embedder",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"SQLITE_PATH":        "./test.db",
				"EMBEDDING_PROVIDER": "hashing",
				"LLM_PROVIDER":       "none",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "./test.db", cfg.VectorStore.Config["db_path"])
				assert.Equal(t, "none", cfg.LLM.Provider)
			},
		},
		{
			name: "postgres with openai and anthropic",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "postgres",
				"POSTGRES_HOST":      "db",
				"POSTGRES_PORT":      "6543",
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
				"EMBEDDING_DIMS":     "512",
				"LLM_PROVIDER":       "anthropic",
				"LLM_API_KEY":        "test-key",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, "db", cfg.VectorStore.Config["host"])
				assert.Equal(t, 6543, cfg.VectorStore.Config["port"])
				assert.Equal(t, 512, cfg.Embedder.Dimensions)
				assert.Equal(t, "anthropic", cfg.LLM.Provider)
			},
		},
		{
			name: "cache and memory settings",
			envVars: map[string]string{
				"DATABASE_PROVIDER":        "chromem",
				"CHROMEM_COMPRESS":         "true",
				"EMBEDDING_PROVIDER":       "hashing",
				"EMBEDDING_CACHE_SIZE":     "250",
				"EMBEDDING_RATE_LIMIT":     "2.5",
				"REDIS_ADDR":               "localhost:6379",
				"REDIS_TTL_SECONDS":        "60",
				"MEMORY_RETENTION_DAYS":    "30",
				"MEMORY_MAX_PER_OWNER":     "100",
				"KNOWLEDGE_MIN_CONFIDENCE": "0.65",
				"LOG_LEVEL":                "debug",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, true, cfg.VectorStore.Config["compress"])
				assert.Equal(t, 250, cfg.Cache.Size)
				assert.InDelta(t, 2.5, cfg.Cache.RateLimit, 1e-9)
				assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
				assert.Equal(t, 60, cfg.Cache.Redis.TTLSeconds)
				assert.Equal(t, 30, cfg.Memory.RetentionDays)
				assert.Equal(t, int64(100), cfg.Memory.MaxPerOwner)
				assert.InDelta(t, 0.65, cfg.Knowledge.MinConfidence, 1e-9)
				assert.Equal(t, "debug", cfg.Logging.Level)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := core.LoadConfigFromEnv()
			require.NoError(t, err)
			require.NotNil(t, cfg)
			assert.Equal(t, tt.envVars["DATABASE_PROVIDER"], cfg.VectorStore.Provider)
			assert.Equal(t, tt.envVars["EMBEDDING_PROVIDER"], cfg.Embedder.Provider)
			assert.NoError(t, cfg.Validate())
			tt.check(t, cfg)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *core.Config {
		return &core.Config{
			Embedder:    core.EmbedderConfig{Provider: "hashing"},
			VectorStore: core.VectorStoreConfig{Provider: "sqlite"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *core.Config)
		wantErr bool
	}{
		{name: "minimal", mutate: func(c *core.Config) {}},
		{name: "openai embedder with key", mutate: func(c *core.Config) {
			c.Embedder = core.EmbedderConfig{Provider: "openai", APIKey: "k"}
		}},
		{name: "openai embedder without key", mutate: func(c *core.Config) {
			c.Embedder = core.EmbedderConfig{Provider: "openai"}
		}, wantErr: true},
		{name: "unknown embedder", mutate: func(c *core.Config) {
			c.Embedder.Provider = "qwen"
		}, wantErr: true},
		{name: "unknown store", mutate: func(c *core.Config) {
			c.VectorStore.Provider = "mongo"
		}, wantErr: true},
		{name: "llm without key", mutate: func(c *core.Config) {
			c.LLM.Provider = "anthropic"
		}, wantErr: true},
		{name: "unknown llm", mutate: func(c *core.Config) {
			c.LLM = core.LLMConfig{Provider: "ollama", APIKey: "k"}
		}, wantErr: true},
		{name: "negative retention", mutate: func(c *core.Config) {
			c.Memory.RetentionDays = -1
		}, wantErr: true},
		{name: "knowledge confidence above one", mutate: func(c *core.Config) {
			c.Knowledge.MinConfidence = 1.5
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"embedder": {"provider": "hashing", "dimensions": 256},
		"vector_store": {"provider": "sqlite", "config": {"db_path": "/tmp/m.db"}},
		"memory": {"max_per_owner": 50, "domain_tables": {"finance": "finance_memories"}}
	}`), 0o600))

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
embedder:
  provider: hashing
  dimensions: 256
vector_store:
  provider: sqlite
  config:
    db_path: /tmp/m.db
memory:
  max_per_owner: 50
  domain_tables:
    finance: finance_memories
`), 0o600))

	for _, path := range []string{jsonPath, yamlPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			cfg, err := core.LoadConfigFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, 256, cfg.Embedder.Dimensions)
			assert.Equal(t, "/tmp/m.db", cfg.VectorStore.Config["db_path"])
			assert.Equal(t, int64(50), cfg.Memory.MaxPerOwner)
			assert.Equal(t, "finance_memories", cfg.Memory.DomainTables["finance"])
			assert.NoError(t, cfg.Validate())
		})
	}

	_, err := core.LoadConfigFromFile(filepath.Join(dir, "config.toml"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = core.LoadConfigFromJSON(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
