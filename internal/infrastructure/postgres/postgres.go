package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/database"
	dbmodels "github.com/luisamigo/luisamigo-api/internal/database/models"
	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS legal_documents (
	id            BIGSERIAL PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	question      TEXT NOT NULL,
	answer        TEXT NOT NULL,
	law_reference TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	tags          TEXT[] NOT NULL DEFAULT '{}',
	min_level     INTEGER,
	source        TEXT NOT NULL,
	source_url    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS document_embeddings (
	id          BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL UNIQUE REFERENCES legal_documents (id) ON DELETE CASCADE,
	embedding   vector(%d) NOT NULL,
	dimensions  INTEGER NOT NULL,
	model_name  TEXT NOT NULL,
	provider    TEXT NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id            BIGSERIAL PRIMARY KEY,
	source        TEXT NOT NULL,
	status        INTEGER NOT NULL,
	version       INTEGER NOT NULL DEFAULT 1,
	overwrite     BOOLEAN NOT NULL DEFAULT false,
	total         INTEGER NOT NULL DEFAULT 0,
	stored        INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	finished_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_legal_documents_source ON legal_documents (source);
CREATE INDEX IF NOT EXISTS idx_legal_documents_category ON legal_documents (lower(category));
CREATE INDEX IF NOT EXISTS idx_document_embeddings_hnsw ON document_embeddings USING hnsw (embedding vector_cosine_ops);
`

// Store implements repository.VectorIndex and database.RunRepository on
// PostgreSQL with the pgvector extension. Ranking happens in the database
// using the cosine distance operator.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
	logger     *zap.Logger
}

// NewStore enables the vector extension, opens a pool whose connections know
// the vector type and creates the schema.
func NewStore(ctx context.Context, dsn string, dimensions int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaSQL, dimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Named("pgvector").Info("postgres connection established with pgvector support", zap.Int("dimensions", dimensions))
	return &Store{pool: pool, dimensions: dimensions, logger: logger.Named("pgvector")}, nil
}

// UpsertBatch writes each document and its embedding in one transaction.
// Duplicates and wrongly sized vectors are skipped.
func (s *Store) UpsertBatch(ctx context.Context, items []models.IndexItem) (int, error) {
	stored := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		if len(item.Vector) != s.dimensions {
			s.logger.Warn("skipping item with wrong vector size",
				zap.String("external_id", item.Document.ExternalID),
				zap.Int("got", len(item.Vector)), zap.Int("want", s.dimensions))
			continue
		}

		ok, err := s.insert(ctx, item)
		if err != nil {
			s.logger.Debug("skipping item", zap.String("external_id", item.Document.ExternalID), zap.Error(err))
			continue
		}
		if ok {
			stored++
		}
	}
	if skipped := len(items) - stored; skipped > 0 {
		s.logger.Info("batch stored with skips", zap.Int("stored", stored), zap.Int("skipped", skipped))
	}
	return stored, nil
}

func (s *Store) insert(ctx context.Context, item models.IndexItem) (bool, error) {
	doc := item.Document
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}

	inserted := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO legal_documents
				(external_id, question, answer, law_reference, category, tags, min_level, source, source_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (external_id) DO NOTHING
			RETURNING id`,
			doc.ExternalID, doc.Question, doc.Answer, doc.LawReference, doc.Category,
			tags, doc.MinLevel, doc.Source, doc.SourceURL,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO document_embeddings (document_id, embedding, dimensions, model_name, provider, version)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, pgvector.NewVector(item.Vector), len(item.Vector), item.ModelName, item.Provider, models.CurrentEmbeddingVersion,
		)
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM legal_documents WHERE source = $1", source)
	if err != nil {
		return 0, fmt.Errorf("delete documents of %s: %w", source, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) FindSimilar(ctx context.Context, vector []float32, topK int, filters models.SearchFilters) ([]models.ScoredDocument, error) {
	if topK <= 0 {
		return []models.ScoredDocument{}, nil
	}
	if len(vector) != s.dimensions {
		return nil, apperror.Internal(
			fmt.Sprintf("query vector has %d dimensions, index expects %d", len(vector), s.dimensions), nil)
	}

	query, args := buildSearchQuery(pgvector.NewVector(vector), topK, filters)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperror.Internal("similarity query failed", err)
	}
	defer rows.Close()

	results := []models.ScoredDocument{}
	for rows.Next() {
		var (
			r        models.ScoredDocument
			minLevel *int32
		)
		d := &r.Document
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Question, &d.Answer, &d.LawReference, &d.Category,
			&d.Tags, &minLevel, &d.Source, &d.SourceURL, &d.CreatedAt, &d.UpdatedAt, &r.Score); err != nil {
			return nil, apperror.Internal("failed to scan similarity row", err)
		}
		if minLevel != nil {
			level := int(*minLevel)
			d.MinLevel = &level
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Internal("error iterating similarity rows", err)
	}
	return results, nil
}

// buildSearchQuery renders the ranked similarity query. $1 is always the query
// vector. Equal distances fall back to insertion order through d.id.
func buildSearchQuery(vector pgvector.Vector, topK int, f models.SearchFilters) (string, []any) {
	args := []any{vector}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var where []string
	if f.Category != "" {
		where = append(where, "lower(d.category) = lower("+next(f.Category)+")")
	}
	if f.Source != "" {
		where = append(where, "d.source = "+next(f.Source))
	}
	if f.MaxLevel != nil {
		where = append(where, "(d.min_level IS NULL OR d.min_level <= "+next(*f.MaxLevel)+")")
	}
	if f.MinLevel != nil {
		where = append(where, "(d.min_level IS NULL OR d.min_level >= "+next(*f.MinLevel)+")")
	}
	if len(f.Tags) > 0 {
		where = append(where, "d.tags @> "+next(f.Tags))
	}
	if f.MinScore > 0 {
		where = append(where, "1 - (e.embedding <=> $1) >= "+next(f.MinScore))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT d.id, d.external_id, d.question, d.answer, d.law_reference, d.category,
	d.tags, d.min_level, d.source, d.source_url, d.created_at, d.updated_at,
	1 - (e.embedding <=> $1) AS score
FROM legal_documents d
JOIN document_embeddings e ON e.document_id = d.id`)
	if len(where) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(where, "\n  AND "))
	}
	sb.WriteString("\nORDER BY e.embedding <=> $1, d.id\nLIMIT ")
	sb.WriteString(next(topK))
	return sb.String(), args
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM legal_documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *Store) CountBySource(ctx context.Context, source string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM legal_documents WHERE source = $1", source).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents of %s: %w", source, err)
	}
	return n, nil
}

func (s *Store) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM legal_documents WHERE external_id = $1)", externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", externalID, err)
	}
	return exists, nil
}

func (s *Store) StaleEmbeddings(ctx context.Context, modelName string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM document_embeddings WHERE model_name <> $1 OR version < $2",
		modelName, models.CurrentEmbeddingVersion).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale embeddings: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunRepository implementation

const runColumns = "id, source, status, version, overwrite, total, stored, skipped, failed, error_message, finished_at, created_at"

func scanRun(row pgx.Row) (*dbmodels.IngestionRun, error) {
	var (
		run      dbmodels.IngestionRun
		status   int
		finished *time.Time
	)
	err := row.Scan(&run.ID, &run.Source, &status, &run.Version, &run.Overwrite, &run.Total,
		&run.Stored, &run.Skipped, &run.Failed, &run.ErrorMessage, &finished, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Status = dbmodels.RunStatus(status)
	if finished != nil {
		run.FinishedAt = *finished
	}
	return &run, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Store) CreateRun(ctx context.Context, run *dbmodels.IngestionRun) (int64, error) {
	run.Version = 1
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_runs (source, status, version, overwrite, total, stored, skipped, failed, error_message, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		run.Source, int(run.Status), run.Version, run.Overwrite, run.Total, run.Stored, run.Skipped, run.Failed,
		run.ErrorMessage, nullableTime(run.FinishedAt),
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("create ingestion run: %w", err)
	}
	return run.ID, nil
}

func (s *Store) GetRun(ctx context.Context, id int64) (*dbmodels.IngestionRun, error) {
	return scanRun(s.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM ingestion_runs WHERE id = $1", id))
}

func (s *Store) LatestRun(ctx context.Context, source string) (*dbmodels.IngestionRun, error) {
	return scanRun(s.pool.QueryRow(ctx,
		"SELECT "+runColumns+" FROM ingestion_runs WHERE source = $1 ORDER BY id DESC LIMIT 1", source))
}

func (s *Store) UpdateRun(ctx context.Context, run *dbmodels.IngestionRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_runs
		SET status = $1, overwrite = $2, total = $3, stored = $4, skipped = $5, failed = $6,
			error_message = $7, finished_at = $8, version = version + 1
		WHERE id = $9 AND version = $10`,
		int(run.Status), run.Overwrite, run.Total, run.Stored, run.Skipped, run.Failed,
		run.ErrorMessage, nullableTime(run.FinishedAt), run.ID, run.Version,
	)
	if err != nil {
		return fmt.Errorf("update ingestion run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrConcurrentUpdate
	}
	run.Version++
	return nil
}
