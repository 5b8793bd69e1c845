package core

import (
	"fmt"
	"time"
)

// MemoryType classifies a memory.
type MemoryType string

const (
	// MemoryTypeConversation is a (summarised) conversation turn.
	MemoryTypeConversation MemoryType = "conversation"

	// MemoryTypePreference is a stated like or dislike.
	MemoryTypePreference MemoryType = "preference"

	// MemoryTypeFact is a piece of factual information about the owner.
	MemoryTypeFact MemoryType = "fact"

	// MemoryTypeFeedback is feedback the owner gave.
	MemoryTypeFeedback MemoryType = "feedback"

	// MemoryTypeDecision is a decision the owner made.
	MemoryTypeDecision MemoryType = "decision"
)

// MemoryTypes lists every valid MemoryType.
var MemoryTypes = []MemoryType{
	MemoryTypeConversation,
	MemoryTypePreference,
	MemoryTypeFact,
	MemoryTypeFeedback,
	MemoryTypeDecision,
}

// IsValid reports whether t is one of MemoryTypes.
func (t MemoryType) IsValid() bool {
	for _, v := range MemoryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseMemoryType converts s into a MemoryType.
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, s)
	}
	return t, nil
}

// Reserved metadata keys owned by the engine.
const (
	MetadataMemoryType = "memory_type"
	MetadataImportance = "importance"
)

// Importance bounds.
const (
	MinImportance     = 1
	MaxImportance     = 10
	DefaultImportance = 5
)

// MemoryRecord is a single stored memory.
//
// Example:
//
//	record := &core.MemoryRecord{
//	    OwnerID:    "u1",
//	    DomainID:   "life_ceo",
//	    Content:    "I love jazz music",
//	    MemoryType: core.MemoryTypePreference,
//	    Importance: 7,
//	}
type MemoryRecord struct {
	// ID is the unique identifier of the memory (snowflake, decimal string).
	ID string `json:"id"`

	// OwnerID identifies the user who owns this memory.
	OwnerID string `json:"owner_id"`

	// DomainID identifies the agent or feature area; it also selects the table.
	DomainID string `json:"domain_id,omitempty"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Embedding is the vector embedding. An all-zero vector means the
	// embedding provider was unavailable when the memory was stored.
	Embedding []float64 `json:"embedding,omitempty"`

	// MemoryType classifies the memory.
	MemoryType MemoryType `json:"memory_type"`

	// Importance is a caller-supplied score in [1, 10].
	Importance int `json:"importance"`

	// Metadata contains caller-supplied attributes (reserved keys removed).
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the memory was last retrieved (nil if never).
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// AccessCount is the number of times the memory was retrieved.
	AccessCount int `json:"access_count"`
}

// RetrieveResult is a memory returned by Retrieve with its similarity.
type RetrieveResult struct {
	Memory *MemoryRecord `json:"memory"`

	// Similarity is max(0, 1 - Distance), in [0, 1].
	Similarity float64 `json:"similarity"`

	// Distance is the cosine distance to the query.
	Distance float64 `json:"distance"`
}

// Stats summarises an owner's memories across all memory tables.
type Stats struct {
	TotalMemories int64                `json:"total_memories"`
	ByType        map[MemoryType]int64 `json:"by_type"`
	Oldest        *time.Time           `json:"oldest,omitempty"`
	Newest        *time.Time           `json:"newest,omitempty"`
}

// CleanupReport describes one cleanup pass.
type CleanupReport struct {
	// Expired counts memories removed for exceeding the retention window.
	Expired int64 `json:"expired"`

	// Evicted counts memories removed for exceeding the per-owner cap.
	Evicted int64 `json:"evicted"`
}

// MemoryResult is the result of an asynchronous store.
type MemoryResult struct {
	ID    string
	Error error
}

// AsyncRetrieveResult is the result of an asynchronous retrieve.
type AsyncRetrieveResult struct {
	Results []*RetrieveResult
	Error   error
}

// ForgetResult is the result of an asynchronous forget.
type ForgetResult struct {
	Deleted bool
	Error   error
}
