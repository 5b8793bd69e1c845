package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains the complete configuration for a memory engine process.
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// LLM contains LLM provider configuration (optional).
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// VectorStore contains table store configuration.
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`

	// Cache configures the embedding cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Memory configures the memory cache client.
	Memory MemoryConfig `json:"memory" yaml:"memory"`

	// Patterns configures the pattern learner.
	Patterns PatternsConfig `json:"patterns" yaml:"patterns"`

	// Knowledge configures the knowledge pattern store.
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`

	// Logging configures the process logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, anthropic. An empty provider or "none"
// disables summarisation and LLM pattern extraction.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, hashing.
type EmbedderConfig struct {
	Provider   string `json:"provider" yaml:"provider"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// VectorStoreConfig contains configuration for the table store.
//
// Supported providers: sqlite, postgres, oceanbase, chromem.
type VectorStoreConfig struct {
	Provider string `json:"provider" yaml:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode
	// For OceanBase: host, port, user, password, db_name
	// For chromem: persist_dir, compress
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// Size is the in-process LRU capacity. Default 1000.
	Size int `json:"size,omitempty" yaml:"size,omitempty"`

	// RateLimit caps upstream embedding calls per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// Burst is the rate limiter burst. Default 1.
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`

	// TimeoutSeconds bounds each upstream call. Default 15.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// Redis enables the shared cache tier when Addr is set.
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig configures the shared embedding cache tier.
type RedisConfig struct {
	Addr       string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	DB         int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix  string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// MemoryConfig configures the memory cache client.
type MemoryConfig struct {
	DefaultTable          string            `json:"default_table,omitempty" yaml:"default_table,omitempty"`
	DomainTables          map[string]string `json:"domain_tables,omitempty" yaml:"domain_tables,omitempty"`
	RetentionDays         int               `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	MaxPerOwner           int64             `json:"max_per_owner,omitempty" yaml:"max_per_owner,omitempty"`
	StorageTimeoutSeconds int               `json:"storage_timeout_seconds,omitempty" yaml:"storage_timeout_seconds,omitempty"`
	DisableAutoCleanup    bool              `json:"disable_auto_cleanup,omitempty" yaml:"disable_auto_cleanup,omitempty"`
	NodeID                int64             `json:"node_id,omitempty" yaml:"node_id,omitempty"`
}

// PatternsConfig configures the pattern learner.
type PatternsConfig struct {
	Table         string  `json:"table,omitempty" yaml:"table,omitempty"`
	DecayRate     float64 `json:"decay_rate,omitempty" yaml:"decay_rate,omitempty"`
	RetentionDays int     `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
}

// KnowledgeConfig configures the knowledge pattern store.
type KnowledgeConfig struct {
	Table         string  `json:"table,omitempty" yaml:"table,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level       string `json:"level,omitempty" yaml:"level,omitempty"`
	Development bool   `json:"development,omitempty" yaml:"development,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase, chromem)
//   - SQLITE_PATH; POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE; OCEANBASE_HOST, OCEANBASE_PORT,
//     OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE; CHROMEM_PATH, CHROMEM_COMPRESS
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - EMBEDDING_CACHE_SIZE, EMBEDDING_RATE_LIMIT, EMBEDDING_BURST, EMBEDDING_TIMEOUT_SECONDS
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_TTL_SECONDS
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - MEMORY_DEFAULT_TABLE, MEMORY_RETENTION_DAYS, MEMORY_MAX_PER_OWNER, MEMORY_NODE_ID
//   - PATTERN_TABLE, PATTERN_DECAY_RATE, KNOWLEDGE_TABLE, KNOWLEDGE_MIN_CONFIDENCE
//   - LOG_LEVEL, LOG_DEVELOPMENT
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	var storeConfig map[string]interface{}
	switch provider {
	case "postgres":
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     getEnvInt("POSTGRES_PORT", 5432),
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "mtmemory"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "oceanbase":
		storeConfig = map[string]interface{}{
			"host":     getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":     getEnvInt("OCEANBASE_PORT", 2881),
			"user":     getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password": os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":  getEnvOrDefault("OCEANBASE_DATABASE", "mtmemory"),
		}
	case "chromem":
		storeConfig = map[string]interface{}{
			"persist_dir": os.Getenv("CHROMEM_PATH"),
			"compress":    os.Getenv("CHROMEM_COMPRESS") == "true",
		}
	default:
		storeConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./mtmemory.db"),
		}
	}

	config := &Config{
		LLM: LLMConfig{
			Provider: getEnvOrDefault("LLM_PROVIDER", "none"),
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    os.Getenv("LLM_MODEL"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
		},
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "hashing"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: getEnvInt("EMBEDDING_DIMS", 0),
		},
		VectorStore: VectorStoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Cache: CacheConfig{
			Size:           getEnvInt("EMBEDDING_CACHE_SIZE", 0),
			RateLimit:      getEnvFloat("EMBEDDING_RATE_LIMIT", 0),
			Burst:          getEnvInt("EMBEDDING_BURST", 0),
			TimeoutSeconds: getEnvInt("EMBEDDING_TIMEOUT_SECONDS", 0),
			Redis: RedisConfig{
				Addr:       os.Getenv("REDIS_ADDR"),
				Password:   os.Getenv("REDIS_PASSWORD"),
				DB:         getEnvInt("REDIS_DB", 0),
				TTLSeconds: getEnvInt("REDIS_TTL_SECONDS", 0),
			},
		},
		Memory: MemoryConfig{
			DefaultTable:  os.Getenv("MEMORY_DEFAULT_TABLE"),
			RetentionDays: getEnvInt("MEMORY_RETENTION_DAYS", 0),
			MaxPerOwner:   int64(getEnvInt("MEMORY_MAX_PER_OWNER", 0)),
			NodeID:        int64(getEnvInt("MEMORY_NODE_ID", 0)),
		},
		Patterns: PatternsConfig{
			Table:     os.Getenv("PATTERN_TABLE"),
			DecayRate: getEnvFloat("PATTERN_DECAY_RATE", 0),
		},
		Knowledge: KnowledgeConfig{
			Table:         os.Getenv("KNOWLEDGE_TABLE"),
			MinConfidence: getEnvFloat("KNOWLEDGE_MIN_CONFIDENCE", 0),
		},
		Logging: LoggingConfig{
			Level:       getEnvOrDefault("LOG_LEVEL", "info"),
			Development: os.Getenv("LOG_DEVELOPMENT") == "true",
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewMemoryError("LoadConfigFromEnvFile", fmt.Errorf("failed to load .env file: %w", err))
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}
	return &config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}
	return &config, nil
}

// LoadConfigFromFile picks the JSON or YAML loader by file extension.
func LoadConfigFromFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	case ".json":
		return LoadConfigFromJSON(path)
	default:
		return nil, NewMemoryError("LoadConfigFromFile", fmt.Errorf("%w: unsupported config file %q", ErrInvalidConfig, path))
	}
}

// Validate validates the configuration.
//
// Checks that:
//   - the embedder and vector store providers are known
//   - providers that call remote APIs have an API key
//   - numeric settings are not negative
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch c.Embedder.Provider {
	case "hashing":
	case "openai":
		if c.Embedder.APIKey == "" {
			return fail("embedder api key is required for provider %q", c.Embedder.Provider)
		}
	default:
		return fail("unknown embedder provider %q", c.Embedder.Provider)
	}

	switch c.VectorStore.Provider {
	case "sqlite", "postgres", "oceanbase", "chromem":
	default:
		return fail("unknown vector store provider %q", c.VectorStore.Provider)
	}

	switch c.LLM.Provider {
	case "", "none":
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			return fail("llm api key is required for provider %q", c.LLM.Provider)
		}
	default:
		return fail("unknown llm provider %q", c.LLM.Provider)
	}

	switch {
	case c.Embedder.Dimensions < 0:
		return fail("embedder dimensions must not be negative")
	case c.Cache.Size < 0, c.Cache.RateLimit < 0, c.Cache.TimeoutSeconds < 0:
		return fail("cache settings must not be negative")
	case c.Memory.RetentionDays < 0, c.Memory.MaxPerOwner < 0, c.Memory.StorageTimeoutSeconds < 0:
		return fail("memory settings must not be negative")
	case c.Knowledge.MinConfidence < 0 || c.Knowledge.MinConfidence > 1:
		return fail("knowledge min confidence must lie in [0, 1]")
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files in the current
// directory and up to 5 parent directories.
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}

	for i := 0; i < 6; i++ {
		for _, name := range []string{".env", ".env.example"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
