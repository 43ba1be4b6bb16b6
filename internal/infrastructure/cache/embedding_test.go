package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingEmbedder struct {
	batches [][]string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0.5}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int   { return 2 }
func (e *countingEmbedder) IsAvailable() bool { return true }
func (e *countingEmbedder) Name() string      { return "fake" }
func (e *countingEmbedder) Model() string     { return "fake-embed" }

func newCache(t *testing.T) (*CachedEmbedder, *countingEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingEmbedder{}
	return NewCachedEmbedder(inner, rdb, time.Hour, zaptest.NewLogger(t)), inner, mr
}

func TestCachedEmbedder_HitsSkipProvider(t *testing.T) {
	c, inner, _ := newCache(t)
	ctx := context.Background()

	first, err := c.EmbedBatch(ctx, []string{"amparo", "juicio"})
	require.NoError(t, err)

	second, err := c.EmbedBatch(ctx, []string{"amparo", "juicio"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, inner.batches, 1)
}

func TestCachedEmbedder_OnlyMissesReachProvider(t *testing.T) {
	c, inner, _ := newCache(t)
	ctx := context.Background()

	_, err := c.Embed(ctx, "amparo")
	require.NoError(t, err)

	vectors, err := c.EmbedBatch(ctx, []string{"nuevo", "amparo", "otro"})
	require.NoError(t, err)

	require.Len(t, inner.batches, 2)
	assert.Equal(t, []string{"nuevo", "otro"}, inner.batches[1])
	assert.Equal(t, []float32{5, 0.5}, vectors[0])
	assert.Equal(t, []float32{6, 0.5}, vectors[1])
	assert.Equal(t, []float32{4, 0.5}, vectors[2])
}

func TestCachedEmbedder_RedisDownFallsBack(t *testing.T) {
	c, inner, mr := newCache(t)
	mr.Close()

	v, err := c.Embed(context.Background(), "amparo")
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 0.5}, v)
	assert.Len(t, inner.batches, 1)
}

func TestCachedEmbedder_TTL(t *testing.T) {
	c, _, mr := newCache(t)
	_, err := c.Embed(context.Background(), "amparo")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
