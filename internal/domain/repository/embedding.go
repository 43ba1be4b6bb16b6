package repository

import (
	"context"
)

// EmbeddingProvider turns text into fixed-length vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch preserves input order and returns exactly len(texts) vectors.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	IsAvailable() bool
	Name() string
	Model() string
}
