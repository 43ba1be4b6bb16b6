package llm

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

const ollamaProvider = "ollama"

// OllamaClient implements repository.GenerationProvider against a local Ollama server.
type OllamaClient struct {
	host       string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOllamaClient initializes a new client for a local Ollama instance.
func NewOllamaClient(host, model string, logger *zap.Logger) *OllamaClient {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		host:       host,
		model:      model,
		httpClient: &http.Client{},
		logger:     logger.Named("ollama"),
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate sends a prompt to the local Ollama instance.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts repository.GenerateOptions) (*repository.GenerateResult, error) {
	opts = normalize(opts)
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	c.logger.Debug("sending generation request", zap.String("model", c.model), zap.Int("prompt_chars", len(prompt)))

	var resp ollamaResponse
	err := postJSON(ctx, c.httpClient, ollamaProvider, c.host+"/api/generate", nil, ollamaRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &repository.GenerateResult{
		Text:         resp.Response,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}

// EstimateCost is always zero for a self-hosted model.
func (c *OllamaClient) EstimateCost(tokenCount int) float64 {
	return estimateCost(ollamaProvider, c.model, tokenCount)
}

// IsAvailable reports whether a host is configured. Ollama needs no credentials.
func (c *OllamaClient) IsAvailable() bool { return c.host != "" }

func (c *OllamaClient) Name() string  { return ollamaProvider }
func (c *OllamaClient) Model() string { return c.model }

// OllamaEmbedder implements repository.EmbeddingProvider using Ollama's /api/embed.
type OllamaEmbedder struct {
	host       string
	model      string
	dimensions int
	maxTokens  int
	settings   embedderSettings
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOllamaEmbedder creates an embedder; maxTokens <= 0 disables the input size check.
func NewOllamaEmbedder(host, model string, dimensions, maxTokens int, logger *zap.Logger, opts ...EmbedderOption) *OllamaEmbedder {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaEmbedder{
		host:       host,
		model:      model,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		settings:   newEmbedderSettings(opts),
		httpClient: &http.Client{},
		logger:     logger.Named("ollama"),
	}
}

type ollamaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := checkTokenLimit(texts, e.maxTokens); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, e.settings.timeout)
	defer cancel()

	e.logger.Debug("generating embeddings", zap.Int("count", len(texts)), zap.String("model", e.model))

	var resp ollamaEmbeddingResponse
	if err := postJSON(ctx, e.httpClient, ollamaProvider, e.host+"/api/embed", nil, ollamaEmbeddingRequest{
		Model: e.model,
		Input: texts,
	}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, apperror.ProviderCallFailed(ollamaProvider, http.StatusOK,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)), nil)
	}
	if err := checkDimensions(ollamaProvider, e.dimensions, resp.Embeddings); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (e *OllamaEmbedder) Dimensions() int   { return e.dimensions }
func (e *OllamaEmbedder) IsAvailable() bool { return e.host != "" }
func (e *OllamaEmbedder) Name() string      { return ollamaProvider }
func (e *OllamaEmbedder) Model() string     { return e.model }

// checkDimensions rejects vectors that do not match the configured model size.
func checkDimensions(provider string, want int, vectors [][]float32) error {
	if want <= 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != want {
			return apperror.Internal(
				fmt.Sprintf("%s returned %d-dimensional vectors but %d are configured", provider, len(v), want), nil)
		}
	}
	return nil
}
