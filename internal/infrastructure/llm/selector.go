package llm

import (
	"context"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/config"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

// GenerationFactory builds one generation backend.
type GenerationFactory func(ctx context.Context) (repository.GenerationProvider, error)

// EmbeddingFactory builds one embedding backend.
type EmbeddingFactory func(ctx context.Context) (repository.EmbeddingProvider, error)

// Selector maps configured backend names to provider instances. Resolution
// happens once at startup: an unregistered name is an UnknownProvider error
// and a backend without credentials is ProviderUnavailable.
type Selector struct {
	generators map[string]GenerationFactory
	embedders  map[string]EmbeddingFactory
}

func NewSelector() *Selector {
	return &Selector{
		generators: make(map[string]GenerationFactory),
		embedders:  make(map[string]EmbeddingFactory),
	}
}

func (s *Selector) RegisterGenerator(name string, f GenerationFactory) {
	s.generators[name] = f
}

func (s *Selector) RegisterEmbedder(name string, f EmbeddingFactory) {
	s.embedders[name] = f
}

// Generator resolves name to an available generation backend.
func (s *Selector) Generator(ctx context.Context, name string) (repository.GenerationProvider, error) {
	f, ok := s.generators[name]
	if !ok {
		return nil, apperror.UnknownProvider(name, s.GeneratorNames()...)
	}
	p, err := f(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsAvailable() {
		closeQuietly(p)
		return nil, apperror.ProviderUnavailable(name, "backend is missing required credentials")
	}
	return p, nil
}

// Embedder resolves name to an available embedding backend.
func (s *Selector) Embedder(ctx context.Context, name string) (repository.EmbeddingProvider, error) {
	f, ok := s.embedders[name]
	if !ok {
		return nil, apperror.UnknownProvider(name, s.EmbedderNames()...)
	}
	p, err := f(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsAvailable() {
		closeQuietly(p)
		return nil, apperror.ProviderUnavailable(name, "backend is missing required credentials")
	}
	return p, nil
}

// GeneratorNames lists registered generation backends in sorted order.
func (s *Selector) GeneratorNames() []string {
	return sortedKeys(s.generators)
}

// EmbedderNames lists registered embedding backends in sorted order.
func (s *Selector) EmbedderNames() []string {
	return sortedKeys(s.embedders)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewDefaultSelector registers every built-in backend from cfg.
func NewDefaultSelector(cfg *config.Config, logger *zap.Logger) *Selector {
	s := NewSelector()
	creds := cfg.Providers
	gen := cfg.Generation
	emb := cfg.Embedding

	s.RegisterGenerator(config.ProviderOpenAI, func(ctx context.Context) (repository.GenerationProvider, error) {
		return NewOpenAIClient(ctx, creds.OpenAIBaseURL, creds.OpenAIAPIKey, gen.Model, logger)
	})
	s.RegisterGenerator(config.ProviderAnthropic, func(context.Context) (repository.GenerationProvider, error) {
		return NewAnthropicClient(creds.AnthropicBaseURL, creds.AnthropicAPIKey, gen.Model, logger), nil
	})
	s.RegisterGenerator(config.ProviderGemini, func(ctx context.Context) (repository.GenerationProvider, error) {
		return NewGeminiClient(ctx, creds.GeminiAPIKey, gen.Model, logger)
	})
	s.RegisterGenerator(config.ProviderOllama, func(context.Context) (repository.GenerationProvider, error) {
		return NewOllamaClient(creds.OllamaHost, gen.Model, logger), nil
	})

	timeout := WithEmbedTimeout(emb.Timeout)
	s.RegisterEmbedder(config.ProviderOpenAI, func(ctx context.Context) (repository.EmbeddingProvider, error) {
		return NewOpenAIEmbedder(ctx, creds.OpenAIBaseURL, creds.OpenAIAPIKey, emb.Model, emb.Dimensions, emb.MaxTokens, logger, timeout)
	})
	s.RegisterEmbedder(config.ProviderGemini, func(ctx context.Context) (repository.EmbeddingProvider, error) {
		return NewGeminiEmbedder(ctx, creds.GeminiAPIKey, emb.Model, emb.Dimensions, emb.MaxTokens, logger, timeout)
	})
	s.RegisterEmbedder(config.ProviderOllama, func(context.Context) (repository.EmbeddingProvider, error) {
		return NewOllamaEmbedder(creds.OllamaHost, emb.Model, emb.Dimensions, emb.MaxTokens, logger, timeout), nil
	})
	return s
}

func closeQuietly(p any) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}
