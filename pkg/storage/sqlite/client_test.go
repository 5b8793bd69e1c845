package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
	sqliteStore "github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/sqlite"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/storagetest"
)

func setupSQLiteTest(t *testing.T) storage.TableStore {
	t.Helper()
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "memories.db"),
	})
	require.NoError(t, err)
	return store
}

func TestSQLiteClient_Suite(t *testing.T) {
	storagetest.Run(t, setupSQLiteTest)
}

func TestNewClient_RequiresPath(t *testing.T) {
	_, err := sqliteStore.NewClient(&sqliteStore.Config{})
	assert.Error(t, err)
}

func TestSQLiteClient_ConcurrentEnsureAndInsert(t *testing.T) {
	store := setupSQLiteTest(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Insert(ctx, "life_ceo_memories", &storage.Record{
				ID:        string(rune('a' + i)),
				OwnerID:   "u1",
				Content:   "concurrent",
				Embedding: []float64{1, 0},
				CreatedAt: time.Now(),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := store.Count(ctx, "life_ceo_memories", &storage.Filter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestSQLiteClient_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, "user_memories", &storage.Record{
		ID: "1", OwnerID: "u1", Content: "kept", Embedding: []float64{1},
	}))
	require.NoError(t, store.Close())

	reopened, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: path})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(ctx, "user_memories", "1")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Content)
}
