package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

const (
	openAIProvider       = "openai"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIClient implements repository.GenerationProvider with the chat completions API.
type OpenAIClient struct {
	chat   *openaiModel.ChatModel
	apiKey string
	model  string
	logger *zap.Logger
}

func NewOpenAIClient(ctx context.Context, baseURL, apiKey, modelName string, logger *zap.Logger) (*OpenAIClient, error) {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if modelName == "" {
		modelName = "gpt-4"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	chat, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai chat model: %w", err)
	}
	return &OpenAIClient{
		chat:   chat,
		apiKey: apiKey,
		model:  modelName,
		logger: logger.Named("openai"),
	}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts repository.GenerateOptions) (*repository.GenerateResult, error) {
	if !c.IsAvailable() {
		return nil, apperror.ProviderUnavailable(openAIProvider, "API key is not configured")
	}
	opts = normalize(opts)
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	c.logger.Debug("sending chat completion", zap.String("model", c.model))

	msg, err := c.chat.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)},
		model.WithTemperature(float32(opts.Temperature)),
		model.WithMaxTokens(opts.MaxTokens),
		model.WithTopP(float32(opts.TopP)),
	)
	if err != nil {
		return nil, openAIError("chat completion failed", err)
	}

	result := &repository.GenerateResult{Text: msg.Content}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		result.InputTokens = msg.ResponseMeta.Usage.PromptTokens
		result.OutputTokens = msg.ResponseMeta.Usage.CompletionTokens
	}
	return result, nil
}

func (c *OpenAIClient) EstimateCost(tokenCount int) float64 {
	return estimateCost(openAIProvider, c.model, tokenCount)
}

func (c *OpenAIClient) IsAvailable() bool { return c.apiKey != "" }
func (c *OpenAIClient) Name() string      { return openAIProvider }
func (c *OpenAIClient) Model() string     { return c.model }

// OpenAIEmbedder implements repository.EmbeddingProvider with the embeddings API.
type OpenAIEmbedder struct {
	embedder   *openaiEmbed.Embedder
	apiKey     string
	model      string
	dimensions int
	maxTokens  int
	settings   embedderSettings
	logger     *zap.Logger
}

func NewOpenAIEmbedder(ctx context.Context, baseURL, apiKey, modelName string, dimensions, maxTokens int, logger *zap.Logger, opts ...EmbedderOption) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	embedder, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai embedder: %w", err)
	}
	return &OpenAIEmbedder{
		embedder:   embedder,
		apiKey:     apiKey,
		model:      modelName,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		settings:   newEmbedderSettings(opts),
		logger:     logger.Named("openai"),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.IsAvailable() {
		return nil, apperror.ProviderUnavailable(openAIProvider, "API key is not configured")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := checkTokenLimit(texts, e.maxTokens); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, e.settings.timeout)
	defer cancel()

	e.logger.Debug("generating embeddings", zap.Int("count", len(texts)), zap.String("model", e.model))

	raw, err := e.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, openAIError("embedding request failed", err)
	}
	if len(raw) != len(texts) {
		return nil, apperror.ProviderCallFailed(openAIProvider, http.StatusOK,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(raw)), nil)
	}

	vectors := make([][]float32, len(raw))
	for i, v := range raw {
		vectors[i] = toFloat32(v)
	}
	if err := checkDimensions(openAIProvider, e.dimensions, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimensions() int   { return e.dimensions }
func (e *OpenAIEmbedder) IsAvailable() bool { return e.apiKey != "" }
func (e *OpenAIEmbedder) Name() string      { return openAIProvider }
func (e *OpenAIEmbedder) Model() string     { return e.model }

// openAIError keeps the HTTP status and the provider's own message. Transport
// failures keep err as the cause so cancellation stays detectable.
func openAIError(msg string, err error) error {
	var chatErr *openaiModel.APIError
	if errors.As(err, &chatErr) {
		return apperror.ProviderCallFailed(openAIProvider, chatErr.HTTPStatusCode, chatErr.Message, nil)
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apperror.ProviderCallFailed(openAIProvider, apiErr.HTTPStatusCode, apiErr.Message, nil)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		body := reqErr.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return apperror.ProviderCallFailed(openAIProvider, reqErr.HTTPStatusCode, string(body), nil)
	}
	return apperror.ProviderCallFailed(openAIProvider, 0, transportMessage(msg, err), err)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
