package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockEmbedder struct {
	mu      sync.Mutex
	err     error
	batches int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = []float32{1.0, 2.0, float32(len(text))}
	}
	return embeddings, nil
}

func (m *mockEmbedder) Dimensions() int   { return 3 }
func (m *mockEmbedder) IsAvailable() bool { return true }
func (m *mockEmbedder) Name() string      { return "mock" }
func (m *mockEmbedder) Model() string     { return "mock-embed" }

func TestBatcher_Empty(t *testing.T) {
	batcher := NewBatcher(&mockEmbedder{}, 2, 2, zaptest.NewLogger(t))

	res, err := batcher.EmbedAll(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestBatcher_PreservesOrder(t *testing.T) {
	client := &mockEmbedder{}
	batcher := NewBatcher(client, 2, 3, zaptest.NewLogger(t))

	texts := []string{"one", "two", "three", "four", "five"}
	res, err := batcher.EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, res, 5)

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), res[i][2], "vector %d out of order", i)
	}
	assert.Equal(t, 3, client.batches)
}

func TestBatcher_Error(t *testing.T) {
	batcher := NewBatcher(&mockEmbedder{err: errors.New("mock error")}, 10, 1, nil)

	_, err := batcher.EmbedAll(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Equal(t, "batch 0 failed: mock error", err.Error())
}

func TestBatcher_Defaults(t *testing.T) {
	batcher := NewBatcher(&mockEmbedder{}, 0, 0, nil)
	assert.Equal(t, 50, batcher.batchSize)
	assert.Equal(t, 1, batcher.concurrency)
}
