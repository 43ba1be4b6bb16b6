package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

// Batcher splits large embedding workloads into provider-sized requests and
// runs a bounded number of them concurrently.
type Batcher struct {
	embedder    repository.EmbeddingProvider
	batchSize   int
	concurrency int
	logger      *zap.Logger
}

// NewBatcher creates a new embedding batcher. Non-positive sizes fall back
// to one batch of 50 at a time.
func NewBatcher(embedder repository.EmbeddingProvider, batchSize, concurrency int, logger *zap.Logger) *Batcher {
	if batchSize < 1 {
		batchSize = 50
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		embedder:    embedder,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger.Named("embedding-batcher"),
	}
}

// EmbedAll returns one vector per text, in input order. The first failing
// batch cancels the rest and its error is returned.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	total := len(texts)
	numBatches := (total + b.batchSize - 1) / b.batchSize
	b.logger.Debug("splitting texts into batches",
		zap.Int("texts", total), zap.Int("batches", numBatches), zap.Int("batch_size", b.batchSize))

	results := make([][]float32, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i := 0; i < numBatches; i++ {
		start := i * b.batchSize
		end := min(start+b.batchSize, total)

		g.Go(func() error {
			vectors, err := b.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				b.logger.Warn("batch failed", zap.Int("batch", i), zap.Error(err))
				return fmt.Errorf("batch %d failed: %w", i, err)
			}
			if len(vectors) != end-start {
				return fmt.Errorf("batch %d failed: expected %d vectors, got %d", i, end-start, len(vectors))
			}
			// Each goroutine owns a disjoint slice range.
			copy(results[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
