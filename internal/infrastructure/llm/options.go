package llm

import (
	"strings"
	"time"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

// DefaultEmbedTimeout bounds one embedding call when none is configured.
const DefaultEmbedTimeout = 15 * time.Second

// EmbedderOption customizes an embedding backend.
type EmbedderOption func(*embedderSettings)

type embedderSettings struct {
	timeout time.Duration
}

// WithEmbedTimeout bounds every Embed and EmbedBatch call. Non-positive
// values keep DefaultEmbedTimeout.
func WithEmbedTimeout(d time.Duration) EmbedderOption {
	return func(s *embedderSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func newEmbedderSettings(opts []EmbedderOption) embedderSettings {
	s := embedderSettings{timeout: DefaultEmbedTimeout}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// normalize fills zero fields with the defaults.
func normalize(opts repository.GenerateOptions) repository.GenerateOptions {
	def := repository.DefaultGenerateOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.TopP <= 0 {
		opts.TopP = def.TopP
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Temperature < 0 {
		opts.Temperature = def.Temperature
	}
	return opts
}

// checkTokenLimit rejects inputs that certainly exceed the embedding model's
// context before any request is made.
func checkTokenLimit(texts []string, limit int) error {
	if limit <= 0 {
		return nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return apperror.Validation("embedding input %d is empty", i)
		}
		if n := repository.EstimateTokens(t); n > limit {
			return apperror.Validation("embedding input %d is about %d tokens, above the limit of %d", i, n, limit)
		}
	}
	return nil
}

// costPer1K is the blended USD rate per thousand tokens.
func costPer1K(provider, model string) float64 {
	switch provider {
	case "openai":
		if strings.HasPrefix(model, "gpt-4") {
			return 0.04
		}
		return 0.002
	case "anthropic":
		if strings.Contains(model, "opus") {
			return 0.045
		}
		return 0.009
	case "gemini":
		return 0.0035
	default:
		return 0
	}
}

func estimateCost(provider, model string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * costPer1K(provider, model)
}
