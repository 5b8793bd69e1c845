package chromem

import (
	"math"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// whereClause builds the chromem equality filter for the conditions it can
// express: owner, domain and flattened metadata.
func whereClause(f *storage.Filter) map[string]string {
	if f == nil {
		return nil
	}

	where := map[string]string{}
	if f.OwnerID != "" {
		where[keyOwner] = f.OwnerID
	}
	if f.DomainID != "" {
		where[keyDomain] = f.DomainID
	}
	for k, v := range f.Metadata {
		where[metaPrefix+k] = storage.MetadataString(v)
	}

	if len(where) == 0 {
		return nil
	}
	return where
}

// needsPostFilter reports whether the filter has conditions that are only
// checked after querying.
func needsPostFilter(f *storage.Filter) bool {
	return f != nil && (len(f.IDs) > 0 || !f.CreatedBefore.IsZero() || !f.UpdatedBefore.IsZero())
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func uniformVector(dims int) []float32 {
	if dims <= 0 {
		dims = 1
	}
	out := make([]float32, dims)
	val := float32(1 / math.Sqrt(float64(dims)))
	for i := range out {
		out[i] = val
	}
	return out
}
