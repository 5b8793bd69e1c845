// Package openai provides an embedding provider backed by the OpenAI Embeddings API.
//
// Any OpenAI-compatible endpoint (Azure, DashScope compatible mode, local
// gateways) can be used by setting BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = string(openai.SmallEmbedding3)

	// DefaultDimensions is the native size of text-embedding-3-small.
	DefaultDimensions = 1536

	// DefaultMaxTokens is the input limit of the text-embedding-3 family.
	DefaultMaxTokens = 8191

	// runesPerToken is the fallback estimate when no tokenizer is available.
	runesPerToken = 4
)

// Client is an OpenAI Embedder client.
// It implements the embedder.Provider interface.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	maxTokens  int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// Config is the configuration for OpenAI Embedder.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to text-embedding-3-small
// BaseURL: API base URL, defaults to OpenAI official address
// Dimensions: Vector dimensions, defaults to 1536
// MaxTokens: Inputs longer than this are truncated before sending
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
	MaxTokens  int
}

// NewClient creates a new OpenAI Embedder client.
//
// Args:
//   - cfg: OpenAI Embedder configuration containing APIKey, BaseURL, Dimensions, etc.
//
// Returns:
//   - *Client: OpenAI Embedder client instance
//   - error: Returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = DefaultDimensions
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts multiple texts to vectors in one request.
//
// Returns an error if the number of returned results doesn't match the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = c.truncate(text)
	}

	req := openai.EmbeddingRequest{
		Input: inputs,
		Model: c.model,
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if c.model != openai.AdaEmbeddingV2 && c.dimensions != DefaultDimensions {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from OpenAI API (got %d, expected %d)", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding generation failed: result index %d out of range", data.Index)
		}
		embeddings[data.Index] = toFloat64(data.Embedding)
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is retained for interface compatibility; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}

// truncate trims text to the model's token limit.
//
// The cl100k_base encoding is loaded lazily; when it is unavailable (for
// example without network access on first use) a rune-count estimate is used.
func (c *Client) truncate(text string) string {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	return Truncate(c.enc, text, c.maxTokens)
}

// Truncate shortens text to at most maxTokens tokens using enc, or to
// maxTokens*4 runes when enc is nil.
func Truncate(enc *tiktoken.Tiktoken, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc == nil {
		runes := []rune(text)
		if limit := maxTokens * runesPerToken; len(runes) > limit {
			return string(runes[:limit])
		}
		return text
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
