package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	got := normalize(repository.GenerateOptions{})
	assert.Equal(t, 2000, got.MaxTokens)
	assert.Equal(t, 1.0, got.TopP)
	assert.Equal(t, 30*time.Second, got.Timeout)
	assert.Zero(t, got.Temperature, "zero temperature is a valid setting")

	custom := normalize(repository.GenerateOptions{Temperature: 0.7, MaxTokens: 100, TopP: 0.9, Timeout: time.Second})
	assert.Equal(t, 100, custom.MaxTokens)
	assert.Equal(t, 0.9, custom.TopP)
	assert.Equal(t, time.Second, custom.Timeout)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, repository.EstimateTokens(""))
	assert.Equal(t, 1, repository.EstimateTokens("abcd"))
	assert.Equal(t, 2, repository.EstimateTokens("abcde"))
	assert.Equal(t, 1, repository.EstimateTokens("ñáéí"), "counts runes, not bytes")
}

func TestCheckTokenLimit(t *testing.T) {
	assert.NoError(t, checkTokenLimit([]string{"short"}, 10))
	assert.NoError(t, checkTokenLimit([]string{strings.Repeat("x", 1000)}, 0))
	assert.ErrorIs(t, checkTokenLimit([]string{strings.Repeat("x", 41)}, 10), apperror.ErrValidation)
	assert.ErrorIs(t, checkTokenLimit([]string{"   "}, 10), apperror.ErrValidation)
}

func TestEmbedderSettings(t *testing.T) {
	assert.Equal(t, DefaultEmbedTimeout, newEmbedderSettings(nil).timeout)
	assert.Equal(t, DefaultEmbedTimeout, newEmbedderSettings([]EmbedderOption{WithEmbedTimeout(0)}).timeout)
	assert.Equal(t, 2*time.Second, newEmbedderSettings([]EmbedderOption{WithEmbedTimeout(2 * time.Second)}).timeout)
}
