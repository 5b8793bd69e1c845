package pattern

import (
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// toRecord stores FirstSeen as the creation time and LastSeen as the update
// time, so pruning can filter on UpdatedBefore.
func toRecord(p *Pattern, vector []float64) *storage.Record {
	return &storage.Record{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		DomainID:  p.DomainID,
		Content:   p.Text,
		Embedding: vector,
		Metadata: map[string]interface{}{
			metaFrequency:  p.Frequency,
			metaConfidence: p.Confidence,
		},
		CreatedAt: p.FirstSeen,
		UpdatedAt: p.LastSeen,
	}
}

func fromRecord(r *storage.Record) *Pattern {
	p := &Pattern{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		DomainID:   r.DomainID,
		Text:       r.Content,
		Frequency:  1,
		Confidence: DefaultInitialConfidence,
		FirstSeen:  r.CreatedAt,
		LastSeen:   r.UpdatedAt,
	}
	if n, ok := toFloat(r.Metadata[metaFrequency]); ok {
		p.Frequency = int(n)
	}
	if c, ok := toFloat(r.Metadata[metaConfidence]); ok {
		p.Confidence = clamp01(c)
	}
	return p
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
