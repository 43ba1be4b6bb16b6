package qdrant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

// Payload keys stored with every point.
const (
	keyExternalID   = "external_id"
	keyQuestion     = "question"
	keyAnswer       = "answer"
	keyLawReference = "law_reference"
	keyCategory     = "category"
	keyCategoryKey  = "category_key"
	keyTags         = "tags"
	keyMinLevel     = "min_level"
	keySource       = "source"
	keySourceURL    = "source_url"
	keyModelName    = "model_name"
	keyProvider     = "provider"
	keyVersion      = "version"
	keyCreatedAt    = "created_at"
	keySeq          = "seq"
)

// Store implements repository.VectorIndex on a Qdrant collection. Every
// document is one point whose id is derived from its external id.
type Store struct {
	client     *pb.Client
	collection string
	dimensions int
	logger     *zap.Logger
	now        func() time.Time
}

// NewStore connects to Qdrant and ensures the target collection exists with
// the configured dimensionality and cosine distance.
func NewStore(ctx context.Context, host string, port int, collection string, dimensions int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}

	s := &Store{
		client:     client,
		collection: collection,
		dimensions: dimensions,
		logger:     logger.Named("qdrant"),
		now:        time.Now,
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ensure collection %q: %w", collection, err)
	}

	s.logger.Info("connected", zap.String("host", host), zap.Int("port", port), zap.String("collection", collection))
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return err
	}

	s.logger.Info("created collection", zap.String("collection", s.collection), zap.Int("dimensions", s.dimensions))
	return nil
}

// PointID maps an external id to a stable UUID so re-ingesting the same
// document always addresses the same point.
func PointID(externalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(externalID)).String()
}

func (s *Store) UpsertBatch(ctx context.Context, items []models.IndexItem) (int, error) {
	points := make([]*pb.PointStruct, 0, len(items))
	seq := s.now().UnixNano()
	for i, it := range items {
		if len(it.Vector) != s.dimensions {
			s.logger.Warn("skipping item with wrong dimensionality",
				zap.String("external_id", it.Document.ExternalID),
				zap.Int("got", len(it.Vector)), zap.Int("want", s.dimensions))
			continue
		}
		exists, err := s.ExistsByExternalID(ctx, it.Document.ExternalID)
		if err != nil {
			s.logger.Warn("skipping item after existence check failed",
				zap.String("external_id", it.Document.ExternalID), zap.Error(err))
			continue
		}
		if exists {
			s.logger.Debug("skipping duplicate", zap.String("external_id", it.Document.ExternalID))
			continue
		}
		payload, err := pb.TryValueMap(toPayload(it, seq+int64(i), s.now()))
		if err != nil {
			s.logger.Warn("skipping item with unencodable payload",
				zap.String("external_id", it.Document.ExternalID), zap.Error(err))
			continue
		}
		points = append(points, &pb.PointStruct{
			Id:      pb.NewIDUUID(PointID(it.Document.ExternalID)),
			Vectors: pb.NewVectorsDense(it.Vector),
			Payload: payload,
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	err := s.upsert(ctx, points)
	if err == nil {
		return len(points), nil
	}
	s.logger.Warn("batch upsert failed, retrying points individually", zap.Error(err))

	stored := 0
	for _, p := range points {
		if err := s.upsert(ctx, []*pb.PointStruct{p}); err != nil {
			s.logger.Warn("point upsert failed", zap.String("id", p.GetId().GetUuid()), zap.Error(err))
			continue
		}
		stored++
	}
	return stored, nil
}

func (s *Store) upsert(ctx context.Context, points []*pb.PointStruct) error {
	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           pb.PtrOf(true),
		Points:         points,
	})
	return classify("upsert", err)
}

func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	filter := &pb.Filter{Must: []*pb.Condition{pb.NewMatchKeyword(keySource, source)}}
	n, err := s.count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           pb.PtrOf(true),
		Points:         pb.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, classify("delete", err)
	}

	s.logger.Info("deleted documents", zap.String("source", source), zap.Int("count", n))
	return n, nil
}

func (s *Store) FindSimilar(ctx context.Context, vector []float32, topK int, filters models.SearchFilters) ([]models.ScoredDocument, error) {
	if topK <= 0 {
		return []models.ScoredDocument{}, nil
	}
	if len(vector) != s.dimensions {
		return nil, apperror.Internal(
			fmt.Sprintf("query vector has %d dimensions, index expects %d", len(vector), s.dimensions), nil)
	}

	req := &pb.QueryPoints{
		CollectionName: s.collection,
		Query:          pb.NewQueryDense(vector),
		Filter:         BuildFilter(filters),
		Limit:          pb.PtrOf(uint64(topK)),
		WithPayload:    pb.NewWithPayload(true),
	}
	if filters.MinScore > 0 {
		req.ScoreThreshold = pb.PtrOf(float32(filters.MinScore))
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, classify("query", err)
	}
	return rankPoints(points, filters.MinScore), nil
}

// rankPoints converts query hits and orders them by descending score, breaking
// ties by insertion sequence.
func rankPoints(points []*pb.ScoredPoint, minScore float64) []models.ScoredDocument {
	type hit struct {
		doc models.ScoredDocument
		seq int64
	}
	hits := make([]hit, 0, len(points))
	for _, p := range points {
		if minScore > 0 && p.GetScore() < float32(minScore) {
			continue
		}
		score := float64(p.GetScore())
		doc, seq := fromPayload(p.GetPayload())
		hits = append(hits, hit{doc: models.ScoredDocument{Document: doc, Score: score}, seq: seq})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].doc.Score != hits[j].doc.Score {
			return hits[i].doc.Score > hits[j].doc.Score
		}
		return hits[i].seq < hits[j].seq
	})

	out := make([]models.ScoredDocument, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.count(ctx, nil)
}

func (s *Store) CountBySource(ctx context.Context, source string) (int, error) {
	return s.count(ctx, &pb.Filter{Must: []*pb.Condition{pb.NewMatchKeyword(keySource, source)}})
}

func (s *Store) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	n, err := s.count(ctx, &pb.Filter{Must: []*pb.Condition{pb.NewMatchKeyword(keyExternalID, externalID)}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) count(ctx context.Context, filter *pb.Filter) (int, error) {
	n, err := s.client.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          pb.PtrOf(true),
	})
	if err != nil {
		return 0, classify("count", err)
	}
	return int(n), nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// BuildFilter translates search filters into a Qdrant filter. It returns nil
// when nothing constrains the search. MinScore is applied as a score
// threshold instead.
func BuildFilter(f models.SearchFilters) *pb.Filter {
	if f.IsEmpty() {
		return nil
	}
	var must []*pb.Condition
	if f.Category != "" {
		must = append(must, pb.NewMatchKeyword(keyCategoryKey, strings.ToLower(f.Category)))
	}
	if f.Source != "" {
		must = append(must, pb.NewMatchKeyword(keySource, f.Source))
	}
	if f.MaxLevel != nil {
		must = append(must, unleveledOr(&pb.Range{Lte: pb.PtrOf(float64(*f.MaxLevel))}))
	}
	if f.MinLevel != nil {
		must = append(must, unleveledOr(&pb.Range{Gte: pb.PtrOf(float64(*f.MinLevel))}))
	}
	for _, tag := range f.Tags {
		must = append(must, pb.NewMatchKeyword(keyTags, tag))
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

// unleveledOr lets documents without a level through any level constraint.
func unleveledOr(r *pb.Range) *pb.Condition {
	return pb.NewFilterAsCondition(&pb.Filter{
		Should: []*pb.Condition{
			pb.NewIsEmpty(keyMinLevel),
			pb.NewRange(keyMinLevel, r),
		},
	})
}

func toPayload(it models.IndexItem, seq int64, now time.Time) map[string]any {
	doc := it.Document
	tags := make([]any, len(doc.Tags))
	for i, t := range doc.Tags {
		tags[i] = t
	}
	created := doc.CreatedAt
	if created.IsZero() {
		created = now
	}

	payload := map[string]any{
		keyExternalID:   doc.ExternalID,
		keyQuestion:     doc.Question,
		keyAnswer:       doc.Answer,
		keyLawReference: doc.LawReference,
		keyCategory:     doc.Category,
		keyCategoryKey:  strings.ToLower(doc.Category),
		keyTags:         tags,
		keySource:       doc.Source,
		keySourceURL:    doc.SourceURL,
		keyModelName:    it.ModelName,
		keyProvider:     it.Provider,
		keyVersion:      models.CurrentEmbeddingVersion,
		keyCreatedAt:    created.Unix(),
		keySeq:          seq,
	}
	if doc.MinLevel != nil {
		payload[keyMinLevel] = *doc.MinLevel
	}
	return payload
}

func fromPayload(p map[string]*pb.Value) (models.ReferenceDocument, int64) {
	str := func(k string) string { return p[k].GetStringValue() }

	doc := models.ReferenceDocument{
		ExternalID:   str(keyExternalID),
		Question:     str(keyQuestion),
		Answer:       str(keyAnswer),
		LawReference: str(keyLawReference),
		Category:     str(keyCategory),
		Source:       str(keySource),
		SourceURL:    str(keySourceURL),
	}
	for _, v := range p[keyTags].GetListValue().GetValues() {
		doc.Tags = append(doc.Tags, v.GetStringValue())
	}
	if v, ok := p[keyMinLevel]; ok {
		if _, isInt := v.GetKind().(*pb.Value_IntegerValue); isInt {
			level := int(v.GetIntegerValue())
			doc.MinLevel = &level
		}
	}
	if ts := p[keyCreatedAt].GetIntegerValue(); ts > 0 {
		doc.CreatedAt = time.Unix(ts, 0).UTC()
		doc.UpdatedAt = doc.CreatedAt
	}
	return doc, p[keySeq].GetIntegerValue()
}

// classify maps gRPC failures onto the internal error category. An
// unreachable store is reported distinctly so logs tell it from a bad request.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return apperror.Internal(fmt.Sprintf("qdrant %s: store unavailable", op), err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return apperror.Internal(fmt.Sprintf("qdrant %s: rejected request", op), err)
	default:
		return apperror.Internal(fmt.Sprintf("qdrant %s failed", op), err)
	}
}
