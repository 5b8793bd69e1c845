package intelligence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
)

// DefaultTranscriptRunes bounds the transcript stored when summarisation fails.
const DefaultTranscriptRunes = 2000

// Summary is the condensed form of a conversation.
type Summary struct {
	// Summary is one or two sentences in the conversation's language.
	Summary string `json:"summary"`

	// Topics are short lowercase labels.
	Topics []string `json:"topics"`
}

// Summarizer condenses conversations with an LLM before they are stored.
//
// Example usage:
//
//	s := NewSummarizer(provider)
//	summary, err := s.Summarize(ctx, messages)
type Summarizer struct {
	llm          llm.Provider
	customPrompt string
}

// NewSummarizer creates a summarizer.
//
// Parameters:
//   - provider: LLM provider (required)
func NewSummarizer(provider llm.Provider) *Summarizer {
	return &Summarizer{llm: provider}
}

// NewSummarizerWithPrompt creates a summarizer with a custom system prompt.
// The prompt must still ask for {"summary": ..., "topics": [...]}.
func NewSummarizerWithPrompt(provider llm.Provider, prompt string) *Summarizer {
	return &Summarizer{llm: provider, customPrompt: prompt}
}

// Summarize asks the LLM for a summary and topic list of messages.
//
// System messages are not part of the transcript. An empty transcript or an
// empty summary from the model is an error so callers can fall back to
// Transcript.
func (s *Summarizer) Summarize(ctx context.Context, messages []llm.Message) (*Summary, error) {
	if s == nil || s.llm == nil {
		return nil, errors.New("summarizer: no LLM provider configured")
	}

	conversation := Transcript(messages, 0)
	if conversation == "" {
		return nil, errors.New("summarizer: empty conversation")
	}

	response, err := s.llm.GenerateWithMessages(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: s.systemPrompt()},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Conversation:\n%s", conversation)},
	}, llm.WithTemperature(0.2), llm.WithMaxTokens(300), llm.WithJSONResponse())
	if err != nil {
		return nil, fmt.Errorf("failed to summarize conversation: %w", err)
	}

	var summary Summary
	if err := llm.DecodeJSON(response, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}

	summary.Summary = strings.TrimSpace(summary.Summary)
	if summary.Summary == "" {
		return nil, errors.New("summarizer: model returned an empty summary")
	}
	summary.Topics = normalizeTopics(summary.Topics)
	return &summary, nil
}

func (s *Summarizer) systemPrompt() string {
	if s.customPrompt != "" {
		return s.customPrompt
	}

	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You condense conversations into memories for a personal assistant.

Rules:
- Today: %s
- Write one or two sentences capturing preferences, facts, plans and decisions the user expressed.
- Keep time references ("yesterday", "next Friday").
- List up to 5 short lowercase topics.
- Preserve the input language.
- Return JSON only: {"summary": "...", "topics": ["topic1", "topic2"]}`, today)
}

// Transcript renders messages as "role: content" lines, skipping system
// messages and empty content. When maxRunes > 0 the result is cut to that
// many runes.
func Transcript(messages []llm.Message, maxRunes int) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if msg.Role == llm.RoleSystem || content == "" {
			continue
		}
		role := msg.Role
		if role == "" {
			role = llm.RoleUser
		}
		parts = append(parts, role+": "+content)
	}

	out := strings.Join(parts, "\n")
	if maxRunes > 0 {
		if runes := []rune(out); len(runes) > maxRunes {
			out = string(runes[:maxRunes])
		}
	}
	return out
}

func normalizeTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
