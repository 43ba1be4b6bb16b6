package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

const geminiProvider = "gemini"

// newGenaiClient returns ProviderUnavailable when no key is configured so the
// selector can tell a missing credential from a transient failure.
func newGenaiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, apperror.ProviderUnavailable(geminiProvider, "API key is not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// GeminiClient implements repository.GenerationProvider.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGeminiClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiClient, error) {
	client, err := newGenaiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{client: client, model: model, logger: logger.Named("gemini")}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts repository.GenerateOptions) (*repository.GenerateResult, error) {
	opts = normalize(opts)
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(float32(opts.Temperature))
	model.SetTopP(float32(opts.TopP))
	model.SetMaxOutputTokens(int32(opts.MaxTokens))

	c.logger.Debug("sending generation request", zap.String("model", c.model))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, apperror.ProviderCallFailed(geminiProvider, 0, transportMessage("generation failed", err), err)
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}

	result := &repository.GenerateResult{Text: text}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", apperror.ProviderCallFailed(geminiProvider, http.StatusOK, "no candidates returned", nil)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", apperror.ProviderCallFailed(geminiProvider, http.StatusOK, "unexpected response format", nil)
	}
	return sb.String(), nil
}

func (c *GeminiClient) EstimateCost(tokenCount int) float64 {
	return estimateCost(geminiProvider, c.model, tokenCount)
}

func (c *GeminiClient) IsAvailable() bool { return c.client != nil }
func (c *GeminiClient) Name() string      { return geminiProvider }
func (c *GeminiClient) Model() string     { return c.model }

func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// GeminiEmbedder implements repository.EmbeddingProvider with batch embed calls.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
	maxTokens  int
	settings   embedderSettings
	logger     *zap.Logger
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions, maxTokens int, logger *zap.Logger, opts ...EmbedderOption) (*GeminiEmbedder, error) {
	client, err := newGenaiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "text-embedding-004"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		settings:   newEmbedderSettings(opts),
		logger:     logger.Named("gemini"),
	}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := checkTokenLimit(texts, e.maxTokens); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, e.settings.timeout)
	defer cancel()

	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	e.logger.Debug("generating embeddings", zap.Int("count", len(texts)), zap.String("model", e.model))

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, apperror.ProviderCallFailed(geminiProvider, 0, transportMessage("batch embedding failed", err), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperror.ProviderCallFailed(geminiProvider, http.StatusOK,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)), nil)
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, apperror.ProviderCallFailed(geminiProvider, http.StatusOK, fmt.Sprintf("embedding %d is empty", i), nil)
		}
		vectors[i] = emb.Values
	}
	if err := checkDimensions(geminiProvider, e.dimensions, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *GeminiEmbedder) Dimensions() int   { return e.dimensions }
func (e *GeminiEmbedder) IsAvailable() bool { return e.client != nil }
func (e *GeminiEmbedder) Name() string      { return geminiProvider }
func (e *GeminiEmbedder) Model() string     { return e.model }

func (e *GeminiEmbedder) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
