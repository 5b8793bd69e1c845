// Package rediscache implements a shared embedding cache tier on Redis.
//
// Several processes can share the vectors computed by any one of them. Keys
// are hashed so arbitrary input text never appears in Redis key space.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config is the configuration for the Redis cache tier.
type Config struct {
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
	PoolSize  int           `json:"pool_size" yaml:"pool_size"`
}

// DefaultConfig returns a configuration for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "mtmemory:emb:",
		TTL:       7 * 24 * time.Hour,
		PoolSize:  10,
	}
}

// Cache stores embedding vectors in Redis.
// It implements embedder.VectorCache.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("rediscache: addr is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rediscache: failed to connect to redis: %w", err)
	}

	logger.Info("embedding cache connected", zap.String("addr", cfg.Addr))

	return &Cache{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "embedding_cache")),
	}, nil
}

// Get returns the cached vector for key. A miss returns (nil, false, nil).
func (c *Cache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rediscache get: %w", err)
	}

	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		c.logger.Warn("discarding malformed cache entry", zap.Error(err))
		return nil, false, nil
	}
	return vec, true, nil
}

// Set stores vector under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, vector []float64) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("rediscache marshal: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache set: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.prefix + hex.EncodeToString(sum[:])
}
