// Package storagetest contains a behavioural test suite shared by every
// storage.TableStore backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.TableStore

// Run executes the suite against stores produced by newStore.
//
// Every vector used by the suite has three dimensions.
func Run(t *testing.T, newStore Factory) {
	t.Run("MissingTableReadsAreEmpty", func(t *testing.T) { testMissingTable(t, newStore(t)) })
	t.Run("InsertGetRoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("SearchRanksBySimilarity", func(t *testing.T) { testSearch(t, newStore(t)) })
	t.Run("SearchFilters", func(t *testing.T) { testSearchFilters(t, newStore(t)) })
	t.Run("ScanOrder", func(t *testing.T) { testScan(t, newStore(t)) })
	t.Run("UpdateAndTouch", func(t *testing.T) { testUpdateTouch(t, newStore(t)) })
	t.Run("DeleteGuards", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("TablesLifecycle", func(t *testing.T) { testTables(t, newStore(t)) })
}

func rec(id, owner, domain, content string, vec []float64, meta map[string]interface{}, created time.Time) *storage.Record {
	return &storage.Record{
		ID:        id,
		OwnerID:   owner,
		DomainID:  domain,
		Content:   content,
		Embedding: vec,
		Metadata:  meta,
		CreatedAt: created,
	}
}

func testMissingTable(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	exists, err := s.TableExists(ctx, "missing_table")
	require.NoError(t, err)
	assert.False(t, exists)

	results, err := s.Search(ctx, "missing_table", []float64{1, 0, 0}, &storage.SearchOptions{Limit: 5})
	assert.NoError(t, err)
	assert.Empty(t, results)

	scanned, err := s.Scan(ctx, "missing_table", nil)
	assert.NoError(t, err)
	assert.Empty(t, scanned)

	n, err := s.Count(ctx, "missing_table", &storage.Filter{OwnerID: "u1"})
	assert.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Delete(ctx, "missing_table", &storage.Filter{OwnerID: "u1"})
	assert.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Get(ctx, "missing_table", "1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testRoundTrip(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	created := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	in := rec("1", "u1", "life_ceo", "likes jazz", []float64{0.1, 0.2, 0.3},
		map[string]interface{}{"memory_type": "preference", "importance": 7}, created)
	require.NoError(t, s.Insert(ctx, "user_memories", in))

	out, err := s.Get(ctx, "user_memories", "1")
	require.NoError(t, err)
	assert.Equal(t, "u1", out.OwnerID)
	assert.Equal(t, "life_ceo", out.DomainID)
	assert.Equal(t, "likes jazz", out.Content)
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3}, out.Embedding, 1e-6)
	assert.Equal(t, "preference", out.Metadata["memory_type"])
	assert.Equal(t, "7", storage.MetadataString(out.Metadata["importance"]))
	assert.WithinDuration(t, created, out.CreatedAt, time.Millisecond)
	assert.Nil(t, out.LastAccessedAt)
	assert.Zero(t, out.AccessCount)

	_, err = s.Get(ctx, "user_memories", "nope")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testSearch(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, "t",
		rec("a", "u1", "d", "a", []float64{1, 0, 0}, nil, now),
		rec("b", "u1", "d", "b", []float64{0.8, 0.6, 0}, nil, now),
		rec("c", "u1", "d", "c", []float64{0, 0, 1}, nil, now),
	))

	results, err := s.Search(ctx, "t", []float64{1, 0, 0}, &storage.SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.8, results[1].Score, 1e-6)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func testSearchFilters(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, "t",
		rec("a", "u1", "d1", "a", []float64{1, 0, 0}, map[string]interface{}{"memory_type": "fact"}, now),
		rec("b", "u2", "d1", "b", []float64{1, 0, 0}, map[string]interface{}{"memory_type": "fact"}, now),
		rec("c", "u1", "d2", "c", []float64{1, 0, 0}, map[string]interface{}{"memory_type": "preference"}, now),
	))

	results, err := s.Search(ctx, "t", []float64{1, 0, 0}, &storage.SearchOptions{
		Filter: &storage.Filter{OwnerID: "u1"},
		Limit:  10,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "u1", r.OwnerID)
	}

	results, err = s.Search(ctx, "t", []float64{1, 0, 0}, &storage.SearchOptions{
		Filter: &storage.Filter{OwnerID: "u1", Metadata: map[string]interface{}{"memory_type": "preference"}},
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].ID)

	n, err := s.Count(ctx, "t", &storage.Filter{DomainID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testScan(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("r%d", i)
		require.NoError(t, s.Insert(ctx, "t",
			rec(id, "u1", "d", id, []float64{1, float64(i), 0}, nil, base.Add(time.Duration(i)*time.Minute))))
	}

	newest, err := s.Scan(ctx, "t", &storage.ScanOptions{Filter: &storage.Filter{OwnerID: "u1"}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "r4", newest[0].ID)
	assert.Equal(t, "r3", newest[1].ID)

	oldest, err := s.Scan(ctx, "t", &storage.ScanOptions{OldestFirst: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, "r1", oldest[0].ID)
	assert.Equal(t, "r2", oldest[1].ID)

	before, err := s.Scan(ctx, "t", &storage.ScanOptions{Filter: &storage.Filter{CreatedBefore: base.Add(2 * time.Minute)}})
	require.NoError(t, err)
	assert.Len(t, before, 2)
}

func testUpdateTouch(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "t", rec("a", "u1", "d", "old", []float64{1, 0, 0}, map[string]interface{}{"k": "v"}, time.Now())))

	err := s.Update(ctx, "t", &storage.Record{
		ID:        "a",
		Content:   "new",
		Embedding: []float64{0, 1, 0},
		Metadata:  map[string]interface{}{"k": "v2"},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "t", "a")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)
	assert.Equal(t, "v2", got.Metadata["k"])
	assert.Equal(t, "u1", got.OwnerID)

	err = s.Update(ctx, "t", &storage.Record{ID: "missing", Content: "x", Embedding: []float64{1, 0, 0}})
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	at := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Touch(ctx, "t", []string{"a"}, at))
	require.NoError(t, s.Touch(ctx, "t", []string{"a"}, at))

	got, err = s.Get(ctx, "t", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.WithinDuration(t, at, *got.LastAccessedAt, time.Millisecond)
}

func testDelete(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, "t",
		rec("a", "u1", "d", "a", []float64{1, 0, 0}, nil, now),
		rec("b", "u1", "d", "b", []float64{1, 0, 0}, nil, now),
		rec("c", "u2", "d", "c", []float64{1, 0, 0}, nil, now),
	))

	n, err := s.Delete(ctx, "t", &storage.Filter{})
	assert.True(t, errors.Is(err, storage.ErrEmptyFilter))
	assert.Zero(t, n)

	n, err = s.Delete(ctx, "t", nil)
	assert.True(t, errors.Is(err, storage.ErrEmptyFilter))
	assert.Zero(t, n)

	total, err := s.Count(ctx, "t", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	n, err = s.Delete(ctx, "t", &storage.Filter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Delete(ctx, "t", &storage.Filter{IDs: []string{"c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err = s.Count(ctx, "t", nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func testTables(t *testing.T, s storage.TableStore) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	require.NoError(t, s.EnsureTable(ctx, "alpha"))
	require.NoError(t, s.EnsureTable(ctx, "alpha"))
	require.NoError(t, s.Insert(ctx, "beta", rec("1", "u", "d", "x", []float64{1, 0, 0}, nil, time.Now())))

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "alpha")
	assert.Contains(t, tables, "beta")

	require.NoError(t, s.DropTable(ctx, "beta"))
	exists, err := s.TableExists(ctx, "beta")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Error(t, s.EnsureTable(ctx, "bad-name"))
}
