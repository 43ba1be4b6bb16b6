package database

import (
	"context"
	"errors"

	"github.com/luisamigo/luisamigo-api/internal/database/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected: version mismatch")
)

// RunRepository persists ingestion run state. UpdateRun uses optimistic
// concurrency: it fails with ErrConcurrentUpdate when run.Version is stale
// and bumps run.Version on success.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.IngestionRun) (int64, error)
	GetRun(ctx context.Context, id int64) (*models.IngestionRun, error)
	LatestRun(ctx context.Context, source string) (*models.IngestionRun, error)
	UpdateRun(ctx context.Context, run *models.IngestionRun) error
}
