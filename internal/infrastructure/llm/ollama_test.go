package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

func TestOllamaClient_Generate_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test prompt", req.Prompt)
		assert.False(t, req.Stream)
		assert.Equal(t, 2000, req.Options.NumPredict)
		assert.InDelta(t, 0.1, req.Options.Temperature, 1e-9)

		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "mocked response", PromptEvalCount: 12, EvalCount: 34})
	}))
	defer ts.Close()

	client := NewOllamaClient(ts.URL, "test-model", zaptest.NewLogger(t))

	resp, err := client.Generate(context.Background(), "test prompt", repository.DefaultGenerateOptions())
	require.NoError(t, err)
	assert.Equal(t, "mocked response", resp.Text)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 34, resp.OutputTokens)
	assert.Equal(t, "ollama", client.Name())
	assert.Equal(t, "test-model", client.Model())
	assert.Zero(t, client.EstimateCost(1000))
}

func TestOllamaClient_Generate_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer ts.Close()

	client := NewOllamaClient(ts.URL, "", nil)

	_, err := client.Generate(context.Background(), "test prompt", repository.GenerateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrProviderCallFailed)

	appErr := apperror.From(err)
	assert.Equal(t, "ollama", appErr.Provider)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
	assert.Equal(t, "internal error", appErr.Message)
}

func TestOllamaClient_Generate_DecodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("invalid json"))
	}))
	defer ts.Close()

	_, err := NewOllamaClient(ts.URL, "", nil).Generate(context.Background(), "p", repository.GenerateOptions{})
	assert.ErrorIs(t, err, apperror.ErrProviderCallFailed)
}

func TestOllamaClient_Generate_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	opts := repository.DefaultGenerateOptions()
	opts.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := NewOllamaClient(ts.URL, "", nil).Generate(context.Background(), "p", opts)
	assert.ErrorIs(t, err, apperror.ErrProviderCallFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOllamaClient_ConnectionError(t *testing.T) {
	client := NewOllamaClient("http://localhost:1", "model", nil)

	_, err := client.Generate(context.Background(), "p", repository.GenerateOptions{})
	assert.ErrorIs(t, err, apperror.ErrProviderCallFailed)
}

func TestOllamaClient_Defaults(t *testing.T) {
	client := NewOllamaClient("", "", nil)
	assert.Equal(t, "http://localhost:11434", client.host)
	assert.Equal(t, "llama3", client.Model())
	assert.True(t, client.IsAvailable())
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)

		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		})
	}))
	defer ts.Close()

	embedder := NewOllamaEmbedder(ts.URL, "nomic-embed-text", 3, 100, nil)

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, vectors[1])
	assert.Equal(t, 3, embedder.Dimensions())
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embeddings: [][]float32{{0.1, 0.2}}})
	}))
	defer ts.Close()

	_, err := NewOllamaEmbedder(ts.URL, "", 3, 0, nil).Embed(context.Background(), "a")
	assert.ErrorIs(t, err, apperror.ErrInternal)
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embeddings: [][]float32{{0.1}}})
	}))
	defer ts.Close()

	_, err := NewOllamaEmbedder(ts.URL, "", 1, 0, nil).EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, apperror.ErrProviderCallFailed)
}
