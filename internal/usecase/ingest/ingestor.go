package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/database"
	dbmodels "github.com/luisamigo/luisamigo-api/internal/database/models"
	"github.com/luisamigo/luisamigo-api/internal/domain/models"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
	"github.com/luisamigo/luisamigo-api/internal/embedding"
	"github.com/luisamigo/luisamigo-api/internal/metrics"
)

// ErrEmptyDataset is returned when the source yields no usable entries.
var ErrEmptyDataset = errors.New("no entries found in dataset")

// Estimation constants for the default embedding backend.
const (
	tokensPerDocument  = 200
	costPer1KTokensUSD = 0.00002
	documentsPerMinute = 50
	validationSample   = 100
)

// Options controls a single ingestion run.
type Options struct {
	BatchSize    int  `json:"batchSize"`
	Overwrite    bool `json:"overwrite"`
	SkipExisting bool `json:"skipExisting"`
	// Limit caps the number of dataset entries read; zero means all.
	Limit int `json:"limit"`
}

// DefaultOptions skips documents already in the index and writes in batches of 50.
func DefaultOptions() Options {
	return Options{BatchSize: 50, SkipExisting: true}
}

// Result summarizes one ingestion run.
type Result struct {
	RunID      int64     `json:"runId,omitempty"`
	Source     string    `json:"source"`
	Success    bool      `json:"success"`
	Total      int       `json:"totalDocuments"`
	Stored     int       `json:"documentsProcessed"`
	Skipped    int       `json:"documentsSkipped"`
	Failed     int       `json:"documentsFailed"`
	Deleted    int       `json:"documentsDeleted"`
	StartedAt  time.Time `json:"startTime"`
	FinishedAt time.Time `json:"endTime"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"errorMessage,omitempty"`
}

// Estimate is a rough time and cost projection for ingesting a dataset.
type Estimate struct {
	DocumentCount    int     `json:"documentCount"`
	EstimatedTokens  int     `json:"estimatedTokens"`
	EstimatedMinutes int     `json:"estimatedMinutes"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
	Breakdown        string  `json:"breakdown"`
}

// ValidationReport describes the health of a dataset before ingestion.
type ValidationReport struct {
	Valid         bool     `json:"valid"`
	DocumentCount int      `json:"documentCount"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
}

// Ingestor loads a dataset, normalizes and embeds every entry and stores
// document plus vector as one unit in the index.
type Ingestor struct {
	source   repository.DatasetSource
	index    repository.VectorIndex
	embedder repository.EmbeddingProvider
	batcher  *embedding.Batcher
	runs     database.RunRepository
	chunker  *Chunker
	metrics  *metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestor wires the workflow. runs may be nil when the index has no
// place to record run history.
func NewIngestor(
	source repository.DatasetSource,
	index repository.VectorIndex,
	embedder repository.EmbeddingProvider,
	batcher *embedding.Batcher,
	runs database.RunRepository,
	chunker *Chunker,
	rec *metrics.Recorder,
	logger *zap.Logger,
) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunker == nil {
		chunker = NewChunker(DefaultMaxChunkSize, DefaultChunkOverlap)
	}
	if batcher == nil {
		batcher = embedding.NewBatcher(embedder, 0, 1, logger)
	}
	return &Ingestor{
		source:   source,
		index:    index,
		embedder: embedder,
		batcher:  batcher,
		runs:     runs,
		chunker:  chunker,
		metrics:  rec,
		logger:   logger.Named("ingestor"),
		now:      time.Now,
	}
}

// SourceName is the provenance name of the configured dataset.
func (i *Ingestor) SourceName() string { return i.source.Name() }

// pending is a normalized document waiting for its embedding.
type pending struct {
	doc  models.ReferenceDocument
	text string
}

// Run performs one ingestion. Per-entry failures are counted and do not stop
// the run; a load failure, an empty dataset, an overwrite failure or
// cancellation ends it with an error. The returned Result is always non-nil.
func (i *Ingestor) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	res := &Result{Source: i.source.Name(), StartedAt: i.now()}
	log := i.logger.With(zap.String("source", res.Source))
	log.Info("starting ingestion",
		zap.Int("batch_size", opts.BatchSize), zap.Bool("overwrite", opts.Overwrite),
		zap.Bool("skip_existing", opts.SkipExisting), zap.Int("limit", opts.Limit))

	run := i.startRun(ctx, res, opts)

	err := i.ingest(ctx, res, opts, log)
	i.finish(ctx, run, res, err)
	if err != nil {
		log.Error("ingestion failed", zap.Error(err))
		return res, err
	}
	log.Info("ingestion completed",
		zap.Int("total", res.Total), zap.Int("stored", res.Stored),
		zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed),
		zap.Int64("duration_ms", res.DurationMs))
	return res, nil
}

func (i *Ingestor) ingest(ctx context.Context, res *Result, opts Options, log *zap.Logger) error {
	entries, err := i.source.Load(ctx, opts.Limit)
	if err != nil {
		return fmt.Errorf("load dataset %s: %w", res.Source, err)
	}
	res.Total = len(entries)
	if len(entries) == 0 {
		return ErrEmptyDataset
	}

	if opts.Overwrite {
		deleted, err := i.index.DeleteBySource(ctx, res.Source)
		if err != nil {
			return fmt.Errorf("overwrite %s: %w", res.Source, err)
		}
		res.Deleted = deleted
		log.Info("deleted existing documents", zap.Int("deleted", deleted))
	}

	batch := make([]pending, 0, opts.BatchSize)
	for idx, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		externalID := ExternalID(idx, entry.Question, entry.Answer)

		if opts.SkipExisting && !opts.Overwrite {
			exists, err := i.index.ExistsByExternalID(ctx, externalID)
			if err != nil {
				log.Warn("existence check failed, ingesting anyway", zap.String("external_id", externalID), zap.Error(err))
			} else if exists {
				res.Skipped++
				i.metrics.AddIngested("skipped", 1)
				continue
			}
		}

		p, ok := i.prepare(externalID, entry, log)
		if !ok {
			res.Failed++
			i.metrics.AddIngested("failed", 1)
			continue
		}
		batch = append(batch, p)

		if len(batch) >= opts.BatchSize {
			if err := i.flush(ctx, batch, res, log); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := i.flush(ctx, batch, res, log); err != nil {
			return err
		}
	}
	return nil
}

// prepare normalizes one entry into a document and the text to embed.
func (i *Ingestor) prepare(externalID string, entry models.DatasetEntry, log *zap.Logger) (pending, bool) {
	question := Normalize(entry.Question)
	answer := Normalize(entry.Answer)
	if question == "" || answer == "" {
		log.Warn("entry is empty after normalization", zap.String("external_id", externalID))
		return pending{}, false
	}

	doc := models.ReferenceDocument{
		ExternalID:   externalID,
		Question:     question,
		Answer:       answer,
		LawReference: ExtractLegalReference(answer),
		Category:     InferCategory(question, answer),
		Source:       i.source.Name(),
		SourceURL:    i.source.URL(),
	}

	text := question + " " + answer
	if i.chunker.NeedsChunking(text) {
		// Only the first chunk is embedded; multi-chunk storage is not supported yet.
		chunks := i.chunker.Chunk(text)
		log.Warn("document exceeds chunk size, embedding first chunk only",
			zap.String("external_id", externalID), zap.Int("chunks", len(chunks)),
			zap.Int("discarded_chunks", len(chunks)-1))
		text = chunks[0]
	}
	return pending{doc: doc, text: text}, true
}

// flush embeds and stores one batch. Embedding failures mark the whole batch
// failed; only cancellation aborts the run.
func (i *Ingestor) flush(ctx context.Context, batch []pending, res *Result, log *zap.Logger) error {
	texts := make([]string, len(batch))
	for j, p := range batch {
		texts[j] = p.text
	}

	vectors, err := i.batcher.EmbedAll(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("embedding batch failed", zap.Int("size", len(batch)), zap.Error(err))
		res.Failed += len(batch)
		i.metrics.AddIngested("failed", len(batch))
		return nil
	}

	items := make([]models.IndexItem, len(batch))
	for j, p := range batch {
		items[j] = models.IndexItem{
			Document:  p.doc,
			Vector:    vectors[j],
			ModelName: i.embedder.Model(),
			Provider:  i.embedder.Name(),
		}
	}

	stored, err := i.index.UpsertBatch(ctx, items)
	res.Stored += stored
	i.metrics.AddIngested("stored", stored)
	if err != nil {
		res.Failed += len(batch) - stored
		i.metrics.AddIngested("failed", len(batch)-stored)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("storing batch failed", zap.Int("size", len(batch)), zap.Int("stored", stored), zap.Error(err))
		return nil
	}
	// The index skips items it rejects, such as duplicates.
	res.Skipped += len(batch) - stored
	i.metrics.AddIngested("skipped", len(batch)-stored)

	log.Info("progress", zap.Int("stored", res.Stored), zap.Int("total", res.Total))
	return nil
}

func (i *Ingestor) startRun(ctx context.Context, res *Result, opts Options) *dbmodels.IngestionRun {
	if i.runs == nil {
		return nil
	}
	run := &dbmodels.IngestionRun{Source: res.Source, Status: dbmodels.RunStatusPending, Overwrite: opts.Overwrite}
	id, err := i.runs.CreateRun(ctx, run)
	if err != nil {
		i.logger.Warn("failed to record ingestion run", zap.Error(err))
		return nil
	}
	run.ID = id
	res.RunID = id

	run.Status = dbmodels.RunStatusRunning
	if err := i.runs.UpdateRun(ctx, run); err != nil {
		i.logger.Warn("failed to mark run as running", zap.Int64("run_id", id), zap.Error(err))
	}
	return run
}

func (i *Ingestor) finish(ctx context.Context, run *dbmodels.IngestionRun, res *Result, err error) {
	res.FinishedAt = i.now()
	res.DurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	if run == nil {
		return
	}

	run.Total = res.Total
	run.Stored = res.Stored
	run.Skipped = res.Skipped
	run.Failed = res.Failed
	run.ErrorMessage = res.Error
	run.FinishedAt = res.FinishedAt
	run.Status = dbmodels.RunStatusCompleted
	if err != nil {
		run.Status = dbmodels.RunStatusFailed
	}
	// The run is recorded even when the caller's context was cancelled.
	if uerr := i.runs.UpdateRun(context.WithoutCancel(ctx), run); uerr != nil {
		i.logger.Warn("failed to record run outcome", zap.Int64("run_id", run.ID), zap.Error(uerr))
	}
}

// LatestRun returns the most recent run recorded for the configured source.
func (i *Ingestor) LatestRun(ctx context.Context) (*dbmodels.IngestionRun, error) {
	if i.runs == nil {
		return nil, database.ErrNotFound
	}
	return i.runs.LatestRun(ctx, i.source.Name())
}

// Validate loads the dataset and inspects a sample of up to 100 entries for
// blank fields and duplicate questions. Load failures are reported in the
// report, not as an error.
func (i *Ingestor) Validate(ctx context.Context) *ValidationReport {
	entries, err := i.source.Load(ctx, 0)
	if err != nil {
		i.logger.Error("dataset validation failed", zap.Error(err))
		return &ValidationReport{Errors: []string{err.Error()}, Warnings: []string{}}
	}
	if len(entries) == 0 {
		return &ValidationReport{Errors: []string{"Dataset is empty"}, Warnings: []string{}}
	}

	sample := entries[:min(len(entries), validationSample)]
	blank, duplicates := 0, 0
	seen := make(map[string]struct{}, len(sample))
	for _, e := range sample {
		if strings.TrimSpace(e.Question) == "" {
			blank++
		}
		if strings.TrimSpace(e.Answer) == "" {
			blank++
		}
		key := strings.ToLower(Normalize(e.Question))
		if _, ok := seen[key]; ok && key != "" {
			duplicates++
		}
		seen[key] = struct{}{}
	}

	warnings := []string{}
	if blank > 0 {
		warnings = append(warnings, fmt.Sprintf("Found %d invalid entries in sample of %d", blank, len(sample)))
	}
	if duplicates > 0 {
		warnings = append(warnings, fmt.Sprintf("Found %d duplicate questions in sample of %d", duplicates, len(sample)))
	}

	i.logger.Info("dataset validated", zap.Int("entries", len(entries)), zap.Int("warnings", len(warnings)))
	return &ValidationReport{Valid: true, DocumentCount: len(entries), Errors: []string{}, Warnings: warnings}
}

// Estimate projects the cost of ingesting count documents. A non-positive
// count loads the dataset to size it.
func (i *Ingestor) Estimate(ctx context.Context, count int) (*Estimate, error) {
	if count <= 0 {
		entries, err := i.source.Load(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("load dataset %s: %w", i.source.Name(), err)
		}
		count = len(entries)
	}
	return EstimateFor(count), nil
}

// EstimateFor applies the fixed per-document token and throughput rates.
func EstimateFor(count int) *Estimate {
	tokens := count * tokensPerDocument
	cost := float64(tokens) / 1000 * costPer1KTokensUSD
	minutes := max(1, count/documentsPerMinute)
	return &Estimate{
		DocumentCount:    count,
		EstimatedTokens:  tokens,
		EstimatedMinutes: minutes,
		EstimatedCostUSD: cost,
		Breakdown: fmt.Sprintf("Documents: %d\nEstimated tokens: %d\nProcessing rate: ~%d docs/min\nEmbedding cost: $%.5f per 1K tokens",
			count, tokens, documentsPerMinute, costPer1KTokensUSD),
	}
}
