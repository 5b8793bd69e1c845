package core

import (
	"encoding/json"
	"strconv"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// toStorageRecord converts a MemoryRecord to a storage.Record, folding the
// memory type and importance into the reserved metadata keys.
func toStorageRecord(m *MemoryRecord) *storage.Record {
	metadata := make(map[string]interface{}, len(m.Metadata)+2)
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	metadata[MetadataMemoryType] = string(m.MemoryType)
	metadata[MetadataImportance] = m.Importance

	return &storage.Record{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		DomainID:       m.DomainID,
		Content:        m.Content,
		Embedding:      m.Embedding,
		Metadata:       metadata,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.CreatedAt,
		LastAccessedAt: m.LastAccessedAt,
		AccessCount:    m.AccessCount,
	}
}

// fromStorageRecord converts a storage.Record to a MemoryRecord.
//
// Records written by other components may lack the reserved keys; they are
// reported as facts with default importance.
func fromStorageRecord(r *storage.Record) *MemoryRecord {
	m := &MemoryRecord{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		DomainID:       r.DomainID,
		Content:        r.Content,
		Embedding:      r.Embedding,
		MemoryType:     MemoryTypeFact,
		Importance:     DefaultImportance,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
	}

	if len(r.Metadata) > 0 {
		m.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			switch k {
			case MetadataMemoryType:
				if s, ok := v.(string); ok && MemoryType(s).IsValid() {
					m.MemoryType = MemoryType(s)
				}
			case MetadataImportance:
				if n, ok := toInt(v); ok {
					m.Importance = n
				}
			default:
				m.Metadata[k] = v
			}
		}
		if len(m.Metadata) == 0 {
			m.Metadata = nil
		}
	}
	return m
}

// toInt converts the numeric representations produced by JSON decoding and
// the SQL drivers.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
