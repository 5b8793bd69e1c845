package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder"
	embedderOpenAI "github.com/MundoTango/Mundo-Tango-sub004/pkg/embedder/openai"
)

var _ embedder.Provider = (*embedderOpenAI.Client)(nil)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := embedderOpenAI.NewClient(&embedderOpenAI.Config{})
	assert.Error(t, err)
}

func TestClient_EmbedBatchAgainstFakeServer(t *testing.T) {
	var gotInputs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInputs = req.Input

		// Results deliberately out of order.
		resp := map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := embedderOpenAI.NewClient(&embedderOpenAI.Config{
		APIKey:     "test",
		BaseURL:    srv.URL + "/v1",
		Dimensions: 2,
		MaxTokens:  1,
	})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "second text that is longer"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, c.Dimensions())
	require.Len(t, gotInputs, 2)
	assert.NotEqual(t, "second text that is longer", gotInputs[1])
}

func TestClient_ServerErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := embedderOpenAI.NewClient(&embedderOpenAI.Config{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestTruncate_RuneFallback(t *testing.T) {
	assert.Equal(t, "abcd", embedderOpenAI.Truncate(nil, "abcdefgh", 1))
	assert.Equal(t, "abc", embedderOpenAI.Truncate(nil, "abc", 1))
	assert.Equal(t, "abcdefgh", embedderOpenAI.Truncate(nil, "abcdefgh", 0))
}
