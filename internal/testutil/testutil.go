// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder/hashing"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/llm"
	sqliteStore "github.com/MundoTango/Mundo-Tango-sub004/pkg/storage/sqlite"
)

// NewSQLiteStore opens a SQLite TableStore in a temporary directory and
// closes it when the test ends.
func NewSQLiteStore(t testing.TB) *sqliteStore.Client {
	t.Helper()
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "memory.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewEmbedder returns the deterministic hashing embedder.
func NewEmbedder() *hashing.Client {
	return hashing.NewClient(nil)
}

// FakeLLM is an llm.Provider returning canned responses.
type FakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     [][]llm.Message
}

// NewFakeLLM returns a fake that answers with responses in order, repeating
// the last one when exhausted.
func NewFakeLLM(responses ...string) *FakeLLM {
	return &FakeLLM{responses: responses}
}

// FailWith makes every subsequent call return err.
func (f *FakeLLM) FailWith(err error) *FakeLLM {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	return f
}

// Calls returns the message lists received so far.
func (f *FakeLLM) Calls() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]llm.Message, len(f.calls))
	copy(out, f.calls)
	return out
}

// Generate implements llm.Provider.
func (f *FakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.GenerateWithMessages(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

// GenerateWithMessages implements llm.Provider.
func (f *FakeLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, _ ...llm.GenerateOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

// Close implements llm.Provider.
func (f *FakeLLM) Close() error { return nil }
