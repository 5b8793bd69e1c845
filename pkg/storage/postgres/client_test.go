package postgres_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage"
	postgresStore "github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/postgres"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/storagetest"
)

// postgresConfig reads connection settings from the environment and skips
// the test when no database is configured.
func postgresConfig(t *testing.T) *postgresStore.Config {
	t.Helper()
	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := 5432
	if portStr := os.Getenv("POSTGRES_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT: %s", portStr)
		}
		port = p
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	dbName := os.Getenv("POSTGRES_DB")
	if dbName == "" {
		dbName = "postgres"
	}

	return &postgresStore.Config{
		Host:               host,
		Port:               port,
		User:               user,
		Password:           password,
		DBName:             dbName,
		EmbeddingModelDims: 3,
	}
}

func TestPostgresClient_Suite(t *testing.T) {
	cfg := postgresConfig(t)

	storagetest.Run(t, func(t *testing.T) storage.TableStore {
		client, err := postgresStore.NewClient(cfg)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: %v", err)
		}
		// Each subtest starts from empty tables.
		ctx := context.Background()
		for _, table := range []string{"t", "user_memories", "alpha", "beta", "missing_table"} {
			require.NoError(t, client.DropTable(ctx, table))
		}
		return client
	})
}

func TestPostgresClient_ZeroVectorScoresZero(t *testing.T) {
	cfg := postgresConfig(t)
	client, err := postgresStore.NewClient(cfg)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: %v", err)
	}
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	table := fmt.Sprintf("zero_vec_%d", time.Now().UnixNano())
	defer func() { _ = client.DropTable(ctx, table) }()

	require.NoError(t, client.Insert(ctx, table, &storage.Record{
		ID: "z", OwnerID: "u1", Content: "degraded", Embedding: []float64{0, 0, 0},
	}))

	results, err := client.Search(ctx, table, []float64{1, 0, 0}, &storage.SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 0.0, results[0].Score)
}
