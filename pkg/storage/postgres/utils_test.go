package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

func TestBuildWhereClause(t *testing.T) {
	clause, args := buildWhereClause(nil)
	assert.Empty(t, clause)
	assert.Empty(t, args)

	cutoff := time.Unix(1700000000, 0)
	clause, args = buildWhereClauseWithOffset(&storage.Filter{
		OwnerID:       "u1",
		IDs:           []string{"a", "b"},
		CreatedBefore: cutoff,
		Metadata:      map[string]interface{}{"memory_type": "fact", "importance": 7},
	}, 2)

	assert.Equal(t,
		"WHERE owner_id = $2 AND id IN ($3, $4) AND created_at < $5 AND metadata->>$6 = $7 AND metadata->>$8 = $9",
		clause)
	assert.Equal(t, []interface{}{"u1", "a", "b", cutoff, "importance", "7", "memory_type", "fact"}, args)
}
