package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// buildWhereClause builds a WHERE clause starting from $1.
func buildWhereClause(f *storage.Filter) (string, []interface{}) {
	return buildWhereClauseWithOffset(f, 1)
}

// buildWhereClauseWithOffset builds a WHERE clause starting from a specific parameter index.
//
// Metadata conditions use the ->> operator, which renders JSONB scalars as text.
func buildWhereClauseWithOffset(f *storage.Filter, startIndex int) (string, []interface{}) {
	if f.IsEmpty() {
		return "", nil
	}

	conditions := []string{}
	args := []interface{}{}
	argIndex := startIndex

	next := func(cond string, arg interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argIndex))
		args = append(args, arg)
		argIndex++
	}

	if f.OwnerID != "" {
		next("owner_id = $%d", f.OwnerID)
	}
	if f.DomainID != "" {
		next("domain_id = $%d", f.DomainID)
	}
	if len(f.IDs) > 0 {
		placeholders := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, id)
			argIndex++
		}
		conditions = append(conditions, "id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !f.CreatedBefore.IsZero() {
		next("created_at < $%d", f.CreatedBefore)
	}
	if !f.UpdatedBefore.IsZero() {
		next("updated_at < $%d", f.UpdatedBefore)
	}

	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conditions = append(conditions, fmt.Sprintf("metadata->>$%d = $%d", argIndex, argIndex+1))
		args = append(args, k, storage.MetadataString(f.Metadata[k]))
		argIndex += 2
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
