package oceanbase

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// buildWhereClause builds a WHERE clause.
//
// Metadata conditions compare JSON_UNQUOTE(JSON_EXTRACT(...)) text against the
// canonical string form of the wanted value.
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
		placeholders := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		conditions = append(conditions, "id IN ("+strings.Join(placeholders, ", ")+")")
	}

	if !f.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, f.CreatedBefore.UTC())
	}

	if !f.UpdatedBefore.IsZero() {
		conditions = append(conditions, "updated_at < ?")
		args = append(args, f.UpdatedBefore.UTC())
	}

	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conditions = append(conditions, "JSON_UNQUOTE(JSON_EXTRACT(metadata, ?)) = ?")
		args = append(args, `$."`+strings.ReplaceAll(k, `"`, `\"`)+`"`, storage.MetadataString(f.Metadata[k]))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// generateHash generates an MD5 hash for content.
func generateHash(content string) string {
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}
