package qdrant

import (
	"errors"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/models"
)

func intPtr(v int) *int { return &v }

func TestPointIDIsDeterministic(t *testing.T) {
	a := PointID("barcenas-1-0000abcd")
	b := PointID("barcenas-1-0000abcd")
	c := PointID("barcenas-2-0000abcd")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestPayloadRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	item := models.IndexItem{
		Document: models.ReferenceDocument{
			ExternalID:   "doc-1",
			Question:     "¿Qué es el amparo?",
			Answer:       "Conforme al Artículo 103 de la Constitución...",
			LawReference: "Artículo 103 Constitución Política",
			Category:     "Constitutional",
			Tags:         []string{"amparo", "garantías"},
			MinLevel:     intPtr(3),
			Source:       "ds",
			SourceURL:    "https://example.org/ds",
			CreatedAt:    created,
		},
		Vector:    []float32{1, 0},
		ModelName: "embed-model",
		Provider:  "openai",
	}

	values, err := pb.TryValueMap(toPayload(item, 42, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "constitutional", values[keyCategoryKey].GetStringValue())

	doc, seq := fromPayload(values)
	assert.Equal(t, int64(42), seq)
	assert.Equal(t, item.Document.ExternalID, doc.ExternalID)
	assert.Equal(t, item.Document.Answer, doc.Answer)
	assert.Equal(t, item.Document.LawReference, doc.LawReference)
	assert.Equal(t, item.Document.Category, doc.Category)
	assert.Equal(t, item.Document.Tags, doc.Tags)
	require.NotNil(t, doc.MinLevel)
	assert.Equal(t, 3, *doc.MinLevel)
	assert.True(t, created.Equal(doc.CreatedAt))
}

func TestPayloadWithoutLevel(t *testing.T) {
	item := models.IndexItem{Document: models.ReferenceDocument{ExternalID: "x", Source: "ds"}}
	payload := toPayload(item, 1, time.Now())
	_, hasLevel := payload[keyMinLevel]
	assert.False(t, hasLevel)

	values, err := pb.TryValueMap(payload)
	require.NoError(t, err)
	doc, _ := fromPayload(values)
	assert.Nil(t, doc.MinLevel)
	assert.Empty(t, doc.Tags)
	assert.False(t, doc.CreatedAt.IsZero(), "missing creation time defaults to now")
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, BuildFilter(models.SearchFilters{}))
	assert.Nil(t, BuildFilter(models.SearchFilters{MinScore: 0.5}), "min score is a threshold, not a filter")

	f := BuildFilter(models.SearchFilters{
		Category: "Civil",
		MaxLevel: intPtr(5),
		Tags:     []string{"contratos", "obligaciones"},
	})
	require.NotNil(t, f)
	require.Len(t, f.Must, 4)

	category := f.Must[0].GetField()
	require.NotNil(t, category)
	assert.Equal(t, keyCategoryKey, category.GetKey())
	assert.Equal(t, "civil", category.GetMatch().GetKeyword())

	level := f.Must[1].GetFilter()
	require.NotNil(t, level)
	require.Len(t, level.Should, 2)
	assert.Equal(t, keyMinLevel, level.Should[0].GetIsEmpty().GetKey())
	assert.Equal(t, 5.0, level.Should[1].GetField().GetRange().GetLte())

	assert.Equal(t, "contratos", f.Must[2].GetField().GetMatch().GetKeyword())
	assert.Equal(t, "obligaciones", f.Must[3].GetField().GetMatch().GetKeyword())
}

func TestBuildFilterMinLevelAndSource(t *testing.T) {
	f := BuildFilter(models.SearchFilters{MinLevel: intPtr(8), Source: "ds"})
	require.NotNil(t, f)
	require.Len(t, f.Must, 2)
	assert.Equal(t, keySource, f.Must[0].GetField().GetKey())
	assert.Equal(t, 8.0, f.Must[1].GetFilter().Should[1].GetField().GetRange().GetGte())
}

func scoredPoint(t *testing.T, id string, score float32, seq int64) *pb.ScoredPoint {
	t.Helper()
	values, err := pb.TryValueMap(toPayload(models.IndexItem{
		Document: models.ReferenceDocument{ExternalID: id, Source: "ds"},
	}, seq, time.Now()))
	require.NoError(t, err)
	return &pb.ScoredPoint{Id: pb.NewIDUUID(PointID(id)), Payload: values, Score: score}
}

func TestRankPointsOrdersByScoreThenSequence(t *testing.T) {
	points := []*pb.ScoredPoint{
		scoredPoint(t, "late-tie", 0.8, 20),
		scoredPoint(t, "best", 0.95, 30),
		scoredPoint(t, "early-tie", 0.8, 10),
		scoredPoint(t, "low", 0.2, 1),
	}

	got := rankPoints(points, 0)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.Document.ExternalID
	}
	assert.Equal(t, []string{"best", "early-tie", "late-tie", "low"}, ids)

	got = rankPoints(points, 0.8)
	assert.Len(t, got, 3, "min score keeps scores equal to the threshold")

	assert.NotNil(t, rankPoints(nil, 0))
	assert.Empty(t, rankPoints(nil, 0))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("query", nil))

	for _, code := range []codes.Code{codes.Unavailable, codes.InvalidArgument, codes.Internal} {
		err := classify("query", status.Error(code, "boom"))
		assert.True(t, errors.Is(err, apperror.ErrInternal), code.String())
		assert.Equal(t, code, status.Code(errors.Unwrap(err)))
	}
}
