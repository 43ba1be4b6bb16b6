package repository

import (
	"context"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

// VectorIndex stores reference documents with their embeddings and ranks them
// by cosine similarity.
type VectorIndex interface {
	// UpsertBatch stores each item atomically and returns how many were stored.
	// Items failing individually are skipped, not fatal.
	UpsertBatch(ctx context.Context, items []models.IndexItem) (int, error)
	DeleteBySource(ctx context.Context, source string) (int, error)
	// FindSimilar returns at most topK documents in descending similarity.
	FindSimilar(ctx context.Context, vector []float32, topK int, filters models.SearchFilters) ([]models.ScoredDocument, error)
	Count(ctx context.Context) (int, error)
	CountBySource(ctx context.Context, source string) (int, error)
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	Close() error
}

// StaleEmbeddingCounter is implemented by indexes that record which model
// produced each vector.
type StaleEmbeddingCounter interface {
	// StaleEmbeddings counts vectors made by a model other than modelName or
	// stamped with an older embedding version.
	StaleEmbeddings(ctx context.Context, modelName string) (int, error)
}
