package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTableName checks that name is safe to interpolate into SQL.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Vectors of different length or with zero norm have similarity 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ScoreFromDistance converts a cosine distance to a similarity in [0, 1].
func ScoreFromDistance(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return math.Max(0, math.Min(1, 1-distance))
}

// SortByScore sorts records by score (descending) and truncates to limit when limit > 0.
//
// Ties keep their original order.
func SortByScore(records []*Record, limit int) []*Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})

	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

// MetadataString renders a metadata value the way backends compare it.
//
// Backends that filter on JSON text compare against this representation, so
// numbers, booleans and strings all match regardless of how they were decoded.
func MetadataString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// MatchFilter reports whether a record satisfies the filter.
//
// Backends that cannot push every condition into their query language use it
// to finish filtering in memory.
func MatchFilter(r *Record, f *Filter) bool {
	if f == nil {
		return true
	}
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.DomainID != "" && r.DomainID != f.DomainID {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == r.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	for k, want := range f.Metadata {
		got, ok := r.Metadata[k]
		if !ok || MetadataString(got) != MetadataString(want) {
			return false
		}
	}
	return true
}

// FormatVector renders a vector in the bracketed text form accepted by
// pgvector and OceanBase VECTOR columns.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func FormatVector(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseVector parses the bracketed text form produced by FormatVector.
func ParseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		result[i] = val
	}
	return result, nil
}
