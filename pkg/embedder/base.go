// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// and CachedProvider, which wraps any Provider with caching, request
// coalescing and graceful degradation.
package embedder

import (
	"context"
	"strings"
	"time"
)

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, hashing, etc.) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// Returns a slice of embedding vectors in input order and any error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	//
	// For example, OpenAI's text-embedding-3-small produces 1536-dimensional vectors.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// VectorCache is a shared second-tier cache consulted after the in-process cache.
//
// Implementations must be safe for concurrent use. A miss returns (nil, false, nil).
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float64, bool, error)
	Set(ctx context.Context, key string, vector []float64) error
}

// Status reports the health of a CachedProvider.
type Status struct {
	// Requests is the number of Embed calls served.
	Requests uint64

	// Hits counts in-process cache hits.
	Hits uint64

	// SharedHits counts hits in the shared VectorCache.
	SharedHits uint64

	// Misses counts calls that went to the upstream provider.
	Misses uint64

	// Failures counts upstream calls that failed or timed out.
	Failures uint64

	// Degraded is true when the most recent upstream call failed.
	Degraded bool

	// LastError is the message of the most recent upstream failure.
	LastError string

	// LastErrorAt is when LastError happened.
	LastErrorAt time.Time
}

// MaxCacheKeyRunes bounds the prefix of the input used as cache key.
const MaxCacheKeyRunes = 500

// CacheKey returns the cache key for text: the first MaxCacheKeyRunes runes of
// the trimmed text with runs of whitespace collapsed to one space.
func CacheKey(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	runes := []rune(normalized)
	if len(runes) > MaxCacheKeyRunes {
		return strings.TrimRight(string(runes[:MaxCacheKeyRunes]), " ")
	}
	return normalized
}
