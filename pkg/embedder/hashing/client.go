// Package hashing provides a deterministic, offline embedding provider.
//
// Text is split into lower-cased word tokens and each token is hashed into a
// fixed number of signed buckets (the "hashing trick"). Texts sharing words
// therefore have positive cosine similarity, which is enough for local
// development, the CLI and tests without network access.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is used when Config.Dimensions is zero.
const DefaultDimensions = 1024

// stopWords are ignored so that filler words do not create false similarity.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "at": true, "for": true, "i": true,
	"in": true, "is": true, "it": true, "my": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "with": true,
}

// Config configures the hashing embedder.
type Config struct {
	// Dimensions is the vector size. Defaults to DefaultDimensions.
	Dimensions int
}

// Client is a feature-hashing embedder. It implements embedder.Provider.
type Client struct {
	dimensions int
}

// NewClient creates a hashing embedder.
func NewClient(cfg *Config) *Client {
	dims := DefaultDimensions
	if cfg != nil && cfg.Dimensions > 0 {
		dims = cfg.Dimensions
	}
	return &Client{dimensions: dims}
}

// Embed returns the L2-normalised bag-of-words hash vector of text.
//
// Text without any indexable token yields a zero vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, c.dimensions)
	for _, token := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		idx := int(sum % uint64(c.dimensions))
		sign := 1.0
		if (sum>>63)&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// Tokenize splits text into lower-cased alphanumeric tokens, dropping stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
