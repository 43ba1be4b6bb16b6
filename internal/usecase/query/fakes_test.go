package query

import (
	"context"
	"sync"

	"github.com/luisamigo/luisamigo-api/internal/domain/models"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
)

type fakeEmbedder struct {
	mu        sync.Mutex
	vector    []float32
	vectorFor func(text string) []float32
	err       error
	calls     int
	available bool
}

func newFakeEmbedder(vector ...float32) *fakeEmbedder {
	return &fakeEmbedder{vector: vector, available: true}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.vectorFor != nil {
		return f.vectorFor(text), nil
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int   { return len(f.vector) }
func (f *fakeEmbedder) IsAvailable() bool { return f.available }
func (f *fakeEmbedder) Name() string      { return "fake" }
func (f *fakeEmbedder) Model() string     { return "fake-embed" }

type fakeGenerator struct {
	mu        sync.Mutex
	text      string
	err       error
	prompts   []string
	opts      []repository.GenerateOptions
	block     bool
	available bool
	input     int
	output    int
}

func newFakeGenerator(text string) *fakeGenerator {
	return &fakeGenerator{text: text, available: true}
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts repository.GenerateOptions) (*repository.GenerateResult, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &repository.GenerateResult{Text: f.text, InputTokens: f.input, OutputTokens: f.output}, nil
}

func (f *fakeGenerator) EstimateCost(tokens int) float64 { return float64(tokens) / 1000 * 0.01 }
func (f *fakeGenerator) IsAvailable() bool               { return f.available }
func (f *fakeGenerator) Name() string                    { return "fakegen" }
func (f *fakeGenerator) Model() string                   { return "fake-model" }

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeIndex struct {
	docs     []models.ScoredDocument
	err      error
	count    int
	countErr error
	topK     int
	filters  models.SearchFilters
	searches int
}

func (f *fakeIndex) UpsertBatch(context.Context, []models.IndexItem) (int, error) { return 0, nil }
func (f *fakeIndex) DeleteBySource(context.Context, string) (int, error)          { return 0, nil }

func (f *fakeIndex) FindSimilar(_ context.Context, _ []float32, topK int, filters models.SearchFilters) ([]models.ScoredDocument, error) {
	f.searches++
	f.topK = topK
	f.filters = filters
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.docs) {
		return f.docs[:topK], nil
	}
	return f.docs, nil
}

func (f *fakeIndex) Count(context.Context) (int, error)                       { return f.count, f.countErr }
func (f *fakeIndex) CountBySource(context.Context, string) (int, error)       { return f.count, nil }
func (f *fakeIndex) ExistsByExternalID(context.Context, string) (bool, error) { return false, nil }
func (f *fakeIndex) Close() error                                             { return nil }

func scored(id, answer, lawRef string, score float64) models.ScoredDocument {
	return models.ScoredDocument{
		Document: models.ReferenceDocument{
			ExternalID:   id,
			Question:     "question for " + id,
			Answer:       answer,
			LawReference: lawRef,
			Category:     "Constitutional",
			Source:       "test-dataset",
		},
		Score: score,
	}
}
