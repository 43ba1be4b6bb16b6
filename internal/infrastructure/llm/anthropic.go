package llm

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

const (
	anthropicProvider   = "anthropic"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient implements repository.GenerationProvider with the messages API.
// Anthropic offers no embeddings, so there is no embedder counterpart.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAnthropicClient(baseURL, apiKey, model string, logger *zap.Logger) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	if model == "" {
		model = "claude-3-sonnet-20240229"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
		logger:     logger.Named("anthropic"),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	TopP        *float64           `json:"top_p,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts repository.GenerateOptions) (*repository.GenerateResult, error) {
	if !c.IsAvailable() {
		return nil, apperror.ProviderUnavailable(anthropicProvider, "API key is not configured")
	}
	opts = normalize(opts)
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	req := anthropicRequest{
		Model:       c.model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	// top_p is only sent when it actually narrows sampling.
	if opts.TopP < 1 {
		topP := opts.TopP
		req.TopP = &topP
	}

	c.logger.Debug("sending message", zap.String("model", c.model))

	var resp anthropicResponse
	err := postJSON(ctx, c.httpClient, anthropicProvider, c.baseURL+"/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}, req, &resp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, apperror.ProviderCallFailed(anthropicProvider, http.StatusOK, "no text content returned", nil)
	}

	return &repository.GenerateResult{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func (c *AnthropicClient) EstimateCost(tokenCount int) float64 {
	return estimateCost(anthropicProvider, c.model, tokenCount)
}

func (c *AnthropicClient) IsAvailable() bool { return c.apiKey != "" }
func (c *AnthropicClient) Name() string      { return anthropicProvider }
func (c *AnthropicClient) Model() string     { return c.model }
