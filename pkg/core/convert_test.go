package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

func TestToStorageRecord_FoldsReservedKeys(t *testing.T) {
	now := time.Now().UTC()
	m := &MemoryRecord{
		ID:         "1",
		OwnerID:    "u1",
		DomainID:   "life_ceo",
		Content:    "I love jazz music",
		Embedding:  []float64{0.1, 0.2},
		MemoryType: MemoryTypePreference,
		Importance: 7,
		Metadata:   map[string]interface{}{"source": "chat"},
		CreatedAt:  now,
	}

	r := toStorageRecord(m)
	assert.Equal(t, "preference", r.Metadata[MetadataMemoryType])
	assert.Equal(t, 7, r.Metadata[MetadataImportance])
	assert.Equal(t, "chat", r.Metadata["source"])
	assert.Equal(t, now, r.UpdatedAt)

	// The caller's map is not modified.
	assert.Len(t, m.Metadata, 1)
}

func TestFromStorageRecord(t *testing.T) {
	tests := []struct {
		name           string
		metadata       map[string]interface{}
		wantType       MemoryType
		wantImportance int
		wantMetadata   map[string]interface{}
	}{
		{
			name:           "json decoded importance",
			metadata:       map[string]interface{}{MetadataMemoryType: "decision", MetadataImportance: float64(9), "k": "v"},
			wantType:       MemoryTypeDecision,
			wantImportance: 9,
			wantMetadata:   map[string]interface{}{"k": "v"},
		},
		{
			name:           "json number importance",
			metadata:       map[string]interface{}{MetadataImportance: json.Number("3")},
			wantType:       MemoryTypeFact,
			wantImportance: 3,
		},
		{
			name:           "string importance",
			metadata:       map[string]interface{}{MetadataMemoryType: "feedback", MetadataImportance: "8"},
			wantType:       MemoryTypeFeedback,
			wantImportance: 8,
		},
		{
			name:           "foreign record",
			metadata:       nil,
			wantType:       MemoryTypeFact,
			wantImportance: DefaultImportance,
		},
		{
			name:           "unknown type falls back to fact",
			metadata:       map[string]interface{}{MetadataMemoryType: "gossip"},
			wantType:       MemoryTypeFact,
			wantImportance: DefaultImportance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fromStorageRecord(&storage.Record{ID: "1", OwnerID: "u1", Metadata: tt.metadata})
			assert.Equal(t, tt.wantType, m.MemoryType)
			assert.Equal(t, tt.wantImportance, m.Importance)
			assert.Equal(t, tt.wantMetadata, m.Metadata)
		})
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	accessed := time.Now().UTC()
	m := &MemoryRecord{
		ID:             "42",
		OwnerID:        "u1",
		Content:        "Meeting at 3pm",
		MemoryType:     MemoryTypeConversation,
		Importance:     2,
		CreatedAt:      accessed.Add(-time.Hour),
		LastAccessedAt: &accessed,
		AccessCount:    3,
	}

	back := fromStorageRecord(toStorageRecord(m))
	require.NotNil(t, back)
	assert.Equal(t, m, back)
}
