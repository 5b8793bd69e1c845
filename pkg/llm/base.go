// Package llm defines the chat model contract used by the memory engine.
//
// The engine only ever asks a model for short structured answers: a
// conversation summary before it is stored, and a reusable solution pattern
// extracted from a task outcome. Callers treat every failure as recoverable.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider is a chat model.
type Provider interface {
	// Generate answers a single user prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages answers a conversation. System messages may appear
	// anywhere; providers that need them separately extract them.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	Close() error
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Defaults applied by ApplyGenerateOptions.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1000
)

// GenerateOptions holds per-request sampling settings.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int

	// JSON asks the provider to answer with a single JSON object, using the
	// provider's native JSON mode where it has one.
	JSON bool

	Stop []string
}

// GenerateOption configures a request.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature.
//
// Example:
//
//	text, _ := provider.Generate(ctx, "Summarise this", llm.WithTemperature(0.2))
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = temp }
}

// WithMaxTokens caps the length of the answer.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = n }
}

// WithJSONResponse requests a JSON object answer.
func WithJSONResponse() GenerateOption {
	return func(o *GenerateOptions) { o.JSON = true }
}

// WithStop sets stop sequences.
func WithStop(stop ...string) GenerateOption {
	return func(o *GenerateOptions) { o.Stop = stop }
}

// ApplyGenerateOptions resolves opts over the defaults.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	o := &GenerateOptions{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// SplitSystem separates system messages from the rest of the conversation.
// Multiple system messages are joined with a blank line.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			rest = append(rest, msg)
			continue
		}
		if system != "" {
			system += "\n\n"
		}
		system += msg.Content
	}
	return system, rest
}
