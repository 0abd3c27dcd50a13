package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpus/pkg/config"
)

func newEmbeddingServer(t *testing.T, dimension int, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		var req openaiEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := openaiEmbeddingResponse{}
		for i, text := range req.Input {
			vec := make([]float32, dimension)
			vec[0] = float32(len(text))
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEmbedPreservesOrder(t *testing.T) {
	srv := newEmbeddingServer(t, 4, nil)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{
		BaseURL:   srv.URL,
		Dimension: 4,
		BatchSize: 2,
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
}

func TestEmbedSplitsIntoSubbatches(t *testing.T) {
	var requests atomic.Int64
	srv := newEmbeddingServer(t, 3, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{
		BaseURL:     srv.URL,
		Dimension:   3,
		BatchSize:   2,
		Concurrency: 2,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"1", "2", "3", "4", "5"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), requests.Load(), "5 texts at batch size 2 should issue 3 requests")
}

func TestEmbedEmptyInput(t *testing.T) {
	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{BaseURL: "http://unused", Dimension: 4})
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedDetectsDimensionMismatch(t *testing.T) {
	srv := newEmbeddingServer(t, 8, nil)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{
		BaseURL:   srv.URL,
		Dimension: 4,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)

	var mismatch *DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 4, mismatch.Expected)
	assert.Equal(t, 8, mismatch.Got)
}

func TestEmbedSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{BaseURL: srv.URL, Dimension: 4})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)

	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, "openai", embErr.Provider)
}

func TestNewRejectsZeroDimension(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbeddingConfig{BaseURL: "http://x"})
	require.Error(t, err)
}
