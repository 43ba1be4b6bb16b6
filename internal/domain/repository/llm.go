package repository

import (
	"context"
	"time"
	"unicode/utf8"
)

// GenerateOptions tunes a single generation call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	Timeout     time.Duration
}

// DefaultGenerateOptions favors near-deterministic, bounded answers.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Temperature: 0.1,
		MaxTokens:   2000,
		TopP:        1.0,
		Timeout:     30 * time.Second,
	}
}

// GenerateResult is the completion text plus token usage for cost accounting.
type GenerateResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// GenerationProvider produces a text completion from a prompt.
type GenerationProvider interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error)
	// EstimateCost returns the USD cost of tokenCount tokens at a blended rate.
	EstimateCost(tokenCount int) float64
	IsAvailable() bool
	Name() string
	Model() string
}

// EstimateTokens approximates the token count of text at four characters per token.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
