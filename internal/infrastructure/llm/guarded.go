package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/resilience"
)

// countsAsFailure trips the breaker only on provider call failures; client
// errors such as oversized input and caller cancellations say nothing about
// provider health.
func countsAsFailure(err error) bool {
	return errors.Is(err, apperror.ErrProviderCallFailed) && !IsCancellation(err)
}

func breakerError(provider string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperror.ProviderCallFailed(provider, 0, "circuit breaker open", err)
	}
	return err
}

// NewProviderBreaker builds a breaker that counts only provider call failures.
func NewProviderBreaker(name string, threshold int, openTimeout time.Duration, opts ...resilience.Option) *resilience.CircuitBreaker {
	opts = append([]resilience.Option{resilience.WithFailurePredicate(countsAsFailure)}, opts...)
	return resilience.NewCircuitBreaker(name, threshold, openTimeout, opts...)
}

// GuardedGenerator wraps a GenerationProvider with a circuit breaker.
type GuardedGenerator struct {
	repository.GenerationProvider
	breaker *resilience.CircuitBreaker
}

func NewGuardedGenerator(p repository.GenerationProvider, breaker *resilience.CircuitBreaker) *GuardedGenerator {
	return &GuardedGenerator{GenerationProvider: p, breaker: breaker}
}

func (g *GuardedGenerator) Generate(ctx context.Context, prompt string, opts repository.GenerateOptions) (*repository.GenerateResult, error) {
	var result *repository.GenerateResult
	err := g.breaker.Execute(func() error {
		var err error
		result, err = g.GenerationProvider.Generate(ctx, prompt, opts)
		return err
	})
	if err != nil {
		return nil, breakerError(g.Name(), err)
	}
	return result, nil
}

func (g *GuardedGenerator) Close() error {
	if c, ok := g.GenerationProvider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// GuardedEmbedder wraps an EmbeddingProvider with a circuit breaker.
type GuardedEmbedder struct {
	repository.EmbeddingProvider
	breaker *resilience.CircuitBreaker
}

func NewGuardedEmbedder(p repository.EmbeddingProvider, breaker *resilience.CircuitBreaker) *GuardedEmbedder {
	return &GuardedEmbedder{EmbeddingProvider: p, breaker: breaker}
}

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := g.breaker.Execute(func() error {
		var err error
		vector, err = g.EmbeddingProvider.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, breakerError(g.Name(), err)
	}
	return vector, nil
}

func (g *GuardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := g.breaker.Execute(func() error {
		var err error
		vectors, err = g.EmbeddingProvider.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, breakerError(g.Name(), err)
	}
	return vectors, nil
}

func (g *GuardedEmbedder) Close() error {
	if c, ok := g.EmbeddingProvider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
