package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/intelligence"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
)

// Metadata keys written by StoreConversation.
const (
	MetadataTopics       = "topics"
	MetadataSummarized   = "summarized"
	MetadataMessageCount = "message_count"
)

// StoreConversation condenses a conversation into one conversation memory.
//
// With an LLM configured the stored content is its summary and the topics are
// kept in metadata. Without an LLM, or when summarisation fails, the memory
// holds the transcript cut to intelligence.DefaultTranscriptRunes runes.
//
// Returns the new memory ID.
func (c *Client) StoreConversation(ctx context.Context, ownerID, domainID string, messages []llm.Message, opts ...StoreOption) (string, error) {
	const op = "StoreConversation"
	if ownerID == "" {
		return "", invalidInput(op, "owner id is required")
	}

	transcript := intelligence.Transcript(messages, intelligence.DefaultTranscriptRunes)
	if transcript == "" {
		return "", invalidInput(op, "conversation has no content")
	}

	content := transcript
	topics := []string{}
	summarized := false

	if c.summarizer != nil {
		summary, err := c.summarizer.Summarize(ctx, messages)
		if err != nil {
			c.logger.Warn("conversation summary failed, storing transcript",
				zap.String("owner_id", ownerID),
				zap.Error(NewMemoryError(op, err)))
		} else {
			content = summary.Summary
			topics = summary.Topics
			summarized = true
		}
	}

	o := applyStoreOptions(opts)
	metadata := make(map[string]interface{}, len(o.Metadata)+3)
	for k, v := range o.Metadata {
		metadata[k] = v
	}
	metadata[MetadataTopics] = topics
	metadata[MetadataSummarized] = summarized
	metadata[MetadataMessageCount] = len(messages)

	return c.Store(ctx, ownerID, domainID, content, MemoryTypeConversation,
		WithImportance(o.Importance),
		WithMetadata(metadata))
}
