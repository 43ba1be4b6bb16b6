package repository

import (
	"context"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

// DatasetSource yields the raw entries of one ingestible dataset.
type DatasetSource interface {
	// Load returns at most limit entries in dataset order; limit <= 0 means all.
	Load(ctx context.Context, limit int) ([]models.DatasetEntry, error)
	// Name is the provenance name stamped on every stored document.
	Name() string
	URL() string
}
