package sqlite

import (
	"sort"
	"strings"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// buildWhereClause translates a storage filter into a SQLite WHERE clause.
//
// Metadata values are compared as text through json_extract so that numbers
// and strings decoded from JSON match the same way on every backend.
func buildWhereClause(f *storage.Filter) (string, []interface{}) {
	if f.IsEmpty() {
		return "", nil
	}

	conditions := []string{}
	args := []interface{}{}

	if f.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, f.OwnerID)
	}

	if f.DomainID != "" {
		conditions = append(conditions, "domain_id = ?")
		args = append(args, f.DomainID)
	}

	if len(f.IDs) > 0 {
		placeholders, idArgs := inClause(f.IDs)
		conditions = append(conditions, "id IN ("+placeholders+")")
		args = append(args, idArgs...)
	}

	if !f.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, f.CreatedBefore.UnixNano())
	}

	if !f.UpdatedBefore.IsZero() {
		conditions = append(conditions, "updated_at < ?")
		args = append(args, f.UpdatedBefore.UnixNano())
	}

	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conditions = append(conditions, "CAST(json_extract(metadata, ?) AS TEXT) = ?")
		args = append(args, "$."+jsonPathKey(k), metadataText(f.Metadata[k]))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// metadataText renders v the way json_extract returns it; JSON booleans come back as 1 or 0.
func metadataText(v interface{}) string {
	if b, ok := v.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return storage.MetadataString(v)
}

// jsonPathKey quotes a metadata key for use in a JSON path.
func jsonPathKey(k string) string {
	return `"` + strings.ReplaceAll(k, `"`, `\"`) + `"`
}
