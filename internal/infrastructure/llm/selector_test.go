package llm

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/config"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	os.Clearenv()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestSelector_UnknownProvider(t *testing.T) {
	s := NewDefaultSelector(testConfig(t), nil)

	_, err := s.Generator(context.Background(), "watson")
	assert.ErrorIs(t, err, apperror.ErrUnknownProvider)
	assert.NotErrorIs(t, err, apperror.ErrProviderUnavailable)

	assert.Contains(t, err.Error(), "available: anthropic, gemini, ollama, openai")

	_, err = s.Embedder(context.Background(), "anthropic")
	assert.ErrorIs(t, err, apperror.ErrUnknownProvider)
	assert.Contains(t, err.Error(), "available: gemini, ollama, openai")
}

func TestSelector_MissingCredentials(t *testing.T) {
	s := NewDefaultSelector(testConfig(t), nil)

	for _, name := range []string{"openai", "anthropic", "gemini"} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Generator(context.Background(), name)
			assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)
			assert.NotErrorIs(t, err, apperror.ErrUnknownProvider)
		})
	}
}

func TestSelector_ResolvesConfiguredBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.OpenAIAPIKey = "sk-test"
	cfg.Providers.AnthropicAPIKey = "ak-test"
	s := NewDefaultSelector(cfg, nil)

	tests := []struct {
		name     string
		wantType any
	}{
		{"openai", &OpenAIClient{}},
		{"anthropic", &AnthropicClient{}},
		{"ollama", &OllamaClient{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.Generator(context.Background(), tt.name)
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, p)
			assert.Equal(t, tt.name, p.Name())
		})
	}

	e, err := s.Embedder(context.Background(), "openai")
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimensions())

	assert.Equal(t, []string{"anthropic", "gemini", "ollama", "openai"}, s.GeneratorNames())
}

func TestSelector_FactoryError(t *testing.T) {
	s := NewSelector()
	boom := errors.New("boom")
	s.RegisterGenerator("broken", func(context.Context) (repository.GenerationProvider, error) { return nil, boom })

	_, err := s.Generator(context.Background(), "broken")
	assert.ErrorIs(t, err, boom)
}

type closingGenerator struct {
	stubGenerator
	available bool
	closed    int
}

func (c *closingGenerator) IsAvailable() bool { return c.available }
func (c *closingGenerator) Close() error      { c.closed++; return nil }

func TestSelector_ClosesUnavailableBackend(t *testing.T) {
	gen := &closingGenerator{}
	s := NewSelector()
	s.RegisterGenerator("offline", func(context.Context) (repository.GenerationProvider, error) { return gen, nil })

	_, err := s.Generator(context.Background(), "offline")
	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)
	assert.Equal(t, 1, gen.closed)
}
