package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/database"
	"github.com/luisamigo/luisamigo-api/internal/database/models"
	domain "github.com/luisamigo/luisamigo-api/internal/domain/models"
	"github.com/luisamigo/luisamigo-api/internal/similarity"
)

// BunStore is the embedded SQL implementation of repository.VectorIndex and
// database.RunRepository. SQL has no vector operator here, so FindSimilar
// narrows candidates with a metadata predicate and then runs an O(n)
// brute-force cosine scan over their vectors.
type BunStore struct {
	db         *bun.DB
	dimensions int
	logger     *zap.Logger
}

func NewBunStore(ctx context.Context, db *sql.DB, dialect schema.Dialect, dimensions int, logger *zap.Logger) (*BunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bunDB := bun.NewDB(db, dialect)
	store := &BunStore{db: bunDB, dimensions: dimensions, logger: logger.Named("bunstore")}

	if _, err := bunDB.NewCreateTable().Model((*models.LegalDocument)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create legal_documents table: %w", err)
	}
	if _, err := bunDB.NewCreateTable().Model((*models.DocumentEmbedding)(nil)).IfNotExists().
		ForeignKey(`("document_id") REFERENCES "legal_documents" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create document_embeddings table: %w", err)
	}
	if _, err := bunDB.NewCreateTable().Model((*models.IngestionRun)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create ingestion_runs table: %w", err)
	}
	for name, column := range map[string]string{
		"idx_legal_documents_source":   "source",
		"idx_legal_documents_category": "category",
	} {
		if _, err := bunDB.NewCreateIndex().Model((*models.LegalDocument)(nil)).
			Index(name).Column(column).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}

	return store, nil
}

// VectorIndex implementation

// UpsertBatch writes each document and its embedding in one transaction.
// Items that fail (duplicate external id, wrong dimensionality) are skipped.
func (s *BunStore) UpsertBatch(ctx context.Context, items []domain.IndexItem) (int, error) {
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

		doc := fromDomain(item.Document)
		err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewInsert().Model(doc).Exec(ctx); err != nil {
				return err
			}
			emb := &models.DocumentEmbedding{
				DocumentID: doc.ID,
				Vector:     item.Vector,
				Dimensions: len(item.Vector),
				ModelName:  item.ModelName,
				Provider:   item.Provider,
				Version:    domain.CurrentEmbeddingVersion,
			}
			_, err := tx.NewInsert().Model(emb).Exec(ctx)
			return err
		})
		if err != nil {
			s.logger.Debug("skipping item", zap.String("external_id", item.Document.ExternalID), zap.Error(err))
			continue
		}
		stored++
	}
	if skipped := len(items) - stored; skipped > 0 {
		s.logger.Info("batch stored with skips", zap.Int("stored", stored), zap.Int("skipped", skipped))
	}
	return stored, nil
}

func (s *BunStore) DeleteBySource(ctx context.Context, source string) (int, error) {
	var deleted int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		docIDs := tx.NewSelect().Model((*models.LegalDocument)(nil)).Column("id").Where("source = ?", source)
		if _, err := tx.NewDelete().Model((*models.DocumentEmbedding)(nil)).
			Where("document_id IN (?)", docIDs).Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*models.LegalDocument)(nil)).Where("source = ?", source).Exec(ctx)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete documents of %s: %w", source, err)
	}
	return int(deleted), nil
}

func (s *BunStore) FindSimilar(ctx context.Context, vector []float32, topK int, filters domain.SearchFilters) ([]domain.ScoredDocument, error) {
	if topK <= 0 {
		return []domain.ScoredDocument{}, nil
	}
	if len(vector) != s.dimensions {
		return nil, apperror.Internal("query vector dimensionality does not match the index",
			fmt.Errorf("%w: %d != %d", similarity.ErrDimensionMismatch, len(vector), s.dimensions))
	}

	var docs []models.LegalDocument
	if err := s.filtered(s.db.NewSelect().Model(&docs), filters).Order("ld.id ASC").Scan(ctx); err != nil {
		return nil, apperror.Internal("load candidate documents", err)
	}
	if len(docs) == 0 {
		return []domain.ScoredDocument{}, nil
	}

	var embs []models.DocumentEmbedding
	candidateIDs := s.filtered(s.db.NewSelect().Model((*models.LegalDocument)(nil)).ColumnExpr("ld.id"), filters)
	if err := s.db.NewSelect().Model(&embs).Where("document_id IN (?)", candidateIDs).Scan(ctx); err != nil {
		return nil, apperror.Internal("load candidate embeddings", err)
	}
	vectors := make(map[int64][]float32, len(embs))
	for _, e := range embs {
		vectors[e.DocumentID] = e.Vector
	}

	candidates := make([]similarity.Candidate[domain.ReferenceDocument], 0, len(docs))
	for i := range docs {
		d := toDomain(&docs[i])
		v, ok := vectors[d.ID]
		if !ok || !filters.Matches(&d) {
			continue
		}
		candidates = append(candidates, similarity.Candidate[domain.ReferenceDocument]{Item: d, Vector: v, Position: i})
	}

	ranked, err := similarity.Rank(vector, candidates, topK, filters.MinScore)
	if err != nil {
		return nil, apperror.Internal("stored vectors do not match the query dimensionality", err)
	}
	out := make([]domain.ScoredDocument, len(ranked))
	for i, r := range ranked {
		out[i] = domain.ScoredDocument{Document: r.Item, Score: r.Score}
	}
	return out, nil
}

// filtered applies the SQL-expressible part of the filters. Tags are
// matched in Go since they are stored as JSON.
func (s *BunStore) filtered(q *bun.SelectQuery, f domain.SearchFilters) *bun.SelectQuery {
	if f.IsEmpty() {
		return q
	}
	if f.Category != "" {
		q = q.Where("lower(ld.category) = lower(?)", f.Category)
	}
	if f.Source != "" {
		q = q.Where("ld.source = ?", f.Source)
	}
	if f.MaxLevel != nil {
		maxLevel := *f.MaxLevel
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("ld.min_level IS NULL").WhereOr("ld.min_level <= ?", maxLevel)
		})
	}
	if f.MinLevel != nil {
		minLevel := *f.MinLevel
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("ld.min_level IS NULL").WhereOr("ld.min_level >= ?", minLevel)
		})
	}
	return q
}

func (s *BunStore) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.LegalDocument)(nil)).Count(ctx)
}

func (s *BunStore) CountBySource(ctx context.Context, source string) (int, error) {
	return s.db.NewSelect().Model((*models.LegalDocument)(nil)).Where("source = ?", source).Count(ctx)
}

func (s *BunStore) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	return s.db.NewSelect().Model((*models.LegalDocument)(nil)).Where("external_id = ?", externalID).Exists(ctx)
}

// StaleEmbeddings counts embeddings produced by a different model or an
// older schema version, which need re-embedding.
func (s *BunStore) StaleEmbeddings(ctx context.Context, modelName string) (int, error) {
	return s.db.NewSelect().Model((*models.DocumentEmbedding)(nil)).
		Where("model_name != ? OR version < ?", modelName, domain.CurrentEmbeddingVersion).
		Count(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}

// RunRepository implementation

func (s *BunStore) CreateRun(ctx context.Context, run *models.IngestionRun) (int64, error) {
	if run.Version == 0 {
		run.Version = 1
	}
	if _, err := s.db.NewInsert().Model(run).Exec(ctx); err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (s *BunStore) GetRun(ctx context.Context, id int64) (*models.IngestionRun, error) {
	run := new(models.IngestionRun)
	if err := s.db.NewSelect().Model(run).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *BunStore) LatestRun(ctx context.Context, source string) (*models.IngestionRun, error) {
	run := new(models.IngestionRun)
	if err := s.db.NewSelect().Model(run).Where("source = ?", source).Order("id DESC").Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *BunStore) UpdateRun(ctx context.Context, run *models.IngestionRun) error {
	res, err := s.db.NewUpdate().Model((*models.IngestionRun)(nil)).
		Set("status = ?", run.Status).
		Set("total = ?", run.Total).
		Set("stored = ?", run.Stored).
		Set("skipped = ?", run.Skipped).
		Set("failed = ?", run.Failed).
		Set("error_message = ?", run.ErrorMessage).
		Set("finished_at = ?", nullTime(run.FinishedAt)).
		Set("version = version + 1").
		Set("updated_at = current_timestamp").
		Where("id = ? AND version = ?", run.ID, run.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrConcurrentUpdate
	}
	run.Version++
	return nil
}

func nullTime(t time.Time) bun.NullTime {
	return bun.NullTime{Time: t}
}

func fromDomain(d domain.ReferenceDocument) *models.LegalDocument {
	return &models.LegalDocument{
		ExternalID:   d.ExternalID,
		Question:     d.Question,
		Answer:       d.Answer,
		LawReference: d.LawReference,
		Category:     d.Category,
		Tags:         d.Tags,
		MinLevel:     d.MinLevel,
		Source:       d.Source,
		SourceURL:    d.SourceURL,
	}
}

func toDomain(m *models.LegalDocument) domain.ReferenceDocument {
	return domain.ReferenceDocument{
		ID:           m.ID,
		ExternalID:   m.ExternalID,
		Question:     m.Question,
		Answer:       m.Answer,
		LawReference: m.LawReference,
		Category:     m.Category,
		Tags:         m.Tags,
		MinLevel:     m.MinLevel,
		Source:       m.Source,
		SourceURL:    m.SourceURL,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
