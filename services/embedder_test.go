package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qa-agent/models"
)

func TestOpenAIEmbedderPlacesVectorsByIndex(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req models.OpenAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// Answer out of order: placement must follow the index field.
		resp := models.OpenAIEmbedResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, models.OpenAIEmbedding{Index: i, Embedding: []float32{float32(i), 1}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(server.Client(), server.URL, "test-key", "text-embedding-3-small")
	vectors, err := embedder.EmbedBatch(context.Background(), []string{"first", "second", "third"})
	require.NoError(t, err)

	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 1}, vectors[0])
	assert.Equal(t, []float32{1, 1}, vectors[1])
	assert.Equal(t, []float32{2, 1}, vectors[2])
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestOpenAIEmbedderSplitsOversizeBatches(t *testing.T) {
	var calls int
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req models.OpenAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Input))

		resp := models.OpenAIEmbedResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, models.OpenAIEmbedding{Index: i, Embedding: []float32{1, 2, 3}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	inputs := make([]string, 130)
	for i := range inputs {
		inputs[i] = fmt.Sprintf("chunk %d", i)
	}

	embedder := NewOpenAIEmbedder(server.Client(), server.URL, "k", "m")
	vectors, err := embedder.EmbedBatch(context.Background(), inputs)
	require.NoError(t, err)

	assert.Len(t, vectors, 130)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{64, 64, 2}, batchSizes)
}

func TestOpenAIEmbedderSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "model overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(server.Client(), server.URL, "k", "m")
	_, err := embedder.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestOpenAIEmbedderRejectsCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := models.OpenAIEmbedResponse{
			Data: []models.OpenAIEmbedding{{Index: 0, Embedding: []float32{1}}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(server.Client(), server.URL, "k", "m")
	_, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 vectors for 2 inputs")
}

func TestOllamaEmbedderEmbedsBatchSequentially(t *testing.T) {
	var prompts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req models.OllamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompts = append(prompts, req.Prompt)
		json.NewEncoder(w).Encode(models.OllamaEmbedResponse{Embedding: []float32{float32(len(req.Prompt)), 0.5}})
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.Client(), server.URL, "nomic-embed-text:v1.5")
	vectors, err := embedder.EmbedBatch(context.Background(), []string{"aa", "bbbb"})
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	assert.Equal(t, []string{"aa", "bbbb"}, prompts)
	assert.Equal(t, []float32{2, 0.5}, vectors[0])
	assert.Equal(t, []float32{4, 0.5}, vectors[1])
}

func TestOllamaEmbedderSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.Client(), server.URL, "missing")
	_, err := embedder.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-200 status: 404")
}

func TestEmbedBatchRejectsMixedDimensions(t *testing.T) {
	var call int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		dim := 2
		if call > 1 {
			dim = 3
		}
		json.NewEncoder(w).Encode(models.OllamaEmbedResponse{Embedding: make([]float32, dim)})
	}))
	defer server.Close()

	embedder := NewOllamaEmbedder(server.Client(), server.URL, "m")
	_, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}
