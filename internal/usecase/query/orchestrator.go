package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/domain/models"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
	"github.com/luisamigo/luisamigo-api/internal/metrics"
)

// State is a step of the answer pipeline.
type State int

const (
	StateEmbedding State = iota
	StateRetrieving
	StateInsufficientEvidence
	StateContextReady
	StateGenerating
	StateValidating
	StateFormatting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmbedding:
		return "embedding"
	case StateRetrieving:
		return "retrieving"
	case StateInsufficientEvidence:
		return "insufficient_evidence"
	case StateContextReady:
		return "context_ready"
	case StateGenerating:
		return "generating"
	case StateValidating:
		return "validating"
	case StateFormatting:
		return "formatting"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

// Request bounds.
const (
	MaxTopK          = 20
	MinSemesterLevel = 1
	MaxSemesterLevel = 10
)

// Options tunes retrieval and generation for every question.
type Options struct {
	DefaultTopK   int
	MinScore      float64
	MinEvidence   int
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
	Generation    repository.GenerateOptions
}

// DefaultOptions returns topK 5, min evidence 1 and the default generation options.
func DefaultOptions() Options {
	return Options{
		DefaultTopK:   5,
		MinEvidence:   1,
		EmbedTimeout:  15 * time.Second,
		SearchTimeout: 10 * time.Second,
		Generation:    repository.DefaultGenerateOptions(),
	}
}

// Orchestrator runs the question pipeline: embed, retrieve, branch on
// evidence, generate, validate, format. It holds no per-request state and is
// safe for concurrent use. Provider failures are never retried here.
type Orchestrator struct {
	embedder  repository.EmbeddingProvider
	generator repository.GenerationProvider
	index     repository.VectorIndex
	prompts   *PromptBuilder
	validator *HallucinationValidator
	formatter *ResponseFormatter
	opts      Options
	metrics   *metrics.Recorder
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

func NewOrchestrator(
	embedder repository.EmbeddingProvider,
	generator repository.GenerationProvider,
	index repository.VectorIndex,
	opts Options,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = def.DefaultTopK
	}
	if opts.MinEvidence <= 0 {
		opts.MinEvidence = def.MinEvidence
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = def.EmbedTimeout
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	if opts.Generation.Timeout <= 0 {
		opts.Generation = def.Generation
	}

	return &Orchestrator{
		embedder:  embedder,
		generator: generator,
		index:     index,
		prompts:   NewPromptBuilder(logger),
		validator: NewHallucinationValidator(logger),
		formatter: NewResponseFormatter(logger),
		opts:      opts,
		metrics:   recorder,
		logger:    logger.Named("orchestrator"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// ValidateRequest rejects malformed questions before any provider call.
func ValidateRequest(req models.AskRequest) error {
	if strings.TrimSpace(req.Question) == "" {
		return apperror.Validation("question must not be empty")
	}
	if req.TopK != nil && (*req.TopK < 1 || *req.TopK > MaxTopK) {
		return apperror.Validation("topK must be between 1 and %d", MaxTopK)
	}
	if req.SemesterLevel != nil && (*req.SemesterLevel < MinSemesterLevel || *req.SemesterLevel > MaxSemesterLevel) {
		return apperror.Validation("semesterLevel must be between %d and %d", MinSemesterLevel, MaxSemesterLevel)
	}
	return nil
}

// run carries the state of one question through the pipeline.
type run struct {
	id      string
	state   State
	started time.Time
	logger  *zap.Logger
}

func (r *run) transition(to State) {
	r.logger.Debug("state transition", zap.Stringer("from", r.state), zap.Stringer("to", to))
	r.state = to
}

// Ask answers one question. Validation errors are returned before any
// external call is made.
func (o *Orchestrator) Ask(ctx context.Context, req models.AskRequest) (*models.AnswerPackage, error) {
	if err := ValidateRequest(req); err != nil {
		o.metrics.RecordRequest("rejected")
		return nil, err
	}

	id, ok := RequestIDFrom(ctx)
	if !ok {
		id = o.newID()
	}
	r := &run{id: id, state: StateEmbedding, started: o.now()}
	r.logger = o.logger.With(zap.String("request_id", r.id))
	r.logger.Info("processing question", zap.String("materia", req.Category))

	pkg, err := o.ask(ctx, r, req)
	if err != nil {
		failedAt := r.state
		r.transition(StateFailed)
		return nil, o.fail(r, failedAt, err)
	}

	r.transition(StateDone)
	outcome := "answered"
	if pkg.Metadata.InsufficientEvidence {
		outcome = "insufficient_evidence"
	}
	o.metrics.RecordRequest(outcome)
	r.logger.Info("question answered",
		zap.String("outcome", outcome),
		zap.Int("documents", pkg.Metadata.DocumentsRetrieved),
		zap.Int64("processing_ms", pkg.Metadata.ProcessingTimeMs))
	return pkg, nil
}

func (o *Orchestrator) ask(ctx context.Context, r *run, req models.AskRequest) (*models.AnswerPackage, error) {
	question := strings.TrimSpace(req.Question)

	vector, err := o.embed(ctx, question)
	if err != nil {
		return nil, err
	}

	r.transition(StateRetrieving)
	filters := o.filters(req)
	docs, err := o.retrieve(ctx, vector, req, filters)
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveRetrieved(len(docs))

	meta := models.Metadata{
		RequestID: r.id,
		Category:  filters.Category,
		Provider:  o.generator.Name(),
		Model:     o.generator.Model(),
	}

	if len(docs) < o.opts.MinEvidence {
		r.transition(StateInsufficientEvidence)
		r.logger.Warn("insufficient evidence", zap.Int("documents", len(docs)), zap.Int("min_evidence", o.opts.MinEvidence))

		prompt := o.prompts.BuildInsufficient(question)
		r.transition(StateGenerating)
		result, err := o.generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		meta.EstimatedCostUSD = o.cost(prompt, result)
		meta.Validated = true

		r.transition(StateFormatting)
		meta.ProcessingTimeMs = o.now().Sub(r.started).Milliseconds()
		return o.formatter.FormatInsufficient(result.Text, meta), nil
	}

	r.transition(StateContextReady)
	prompt := o.prompts.Build(question, docs)

	r.transition(StateGenerating)
	result, err := o.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	meta.EstimatedCostUSD = o.cost(prompt, result)

	r.transition(StateValidating)
	validation := o.validate(result.Text, docs)
	meta.Validated = validation.Valid
	meta.Warnings = validation.Warnings
	if !validation.Valid {
		r.logger.Warn("answer cites articles missing from context", zap.Strings("warnings", validation.Warnings))
	}

	r.transition(StateFormatting)
	meta.ProcessingTimeMs = o.now().Sub(r.started).Milliseconds()
	return o.formatter.Format(result.Text, docs, meta), nil
}

func (o *Orchestrator) embed(ctx context.Context, question string) ([]float32, error) {
	defer o.observe("embedding", o.now())
	ctx, cancel := context.WithTimeout(ctx, o.opts.EmbedTimeout)
	defer cancel()
	return o.embedder.Embed(ctx, question)
}

func (o *Orchestrator) retrieve(ctx context.Context, vector []float32, req models.AskRequest, filters models.SearchFilters) ([]models.ScoredDocument, error) {
	defer o.observe("retrieval", o.now())
	ctx, cancel := context.WithTimeout(ctx, o.opts.SearchTimeout)
	defer cancel()

	topK := o.opts.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	return o.index.FindSimilar(ctx, vector, topK, filters)
}

// filters maps request constraints onto search filters. The semester level
// caps the minimum level a document may require.
func (o *Orchestrator) filters(req models.AskRequest) models.SearchFilters {
	f := models.SearchFilters{
		Category: strings.TrimSpace(req.Category),
		MinScore: o.opts.MinScore,
	}
	if req.SemesterLevel != nil {
		level := *req.SemesterLevel
		f.MaxLevel = &level
	}
	return f
}

// generate bounds the call with the configured timeout; exceeding it
// surfaces as a provider failure.
func (o *Orchestrator) generate(ctx context.Context, prompt string) (*repository.GenerateResult, error) {
	defer o.observe("generation", o.now())
	ctx, cancel := context.WithTimeout(ctx, o.opts.Generation.Timeout)
	defer cancel()
	return o.generator.Generate(ctx, prompt, o.opts.Generation)
}

func (o *Orchestrator) validate(answer string, docs []models.ScoredDocument) ValidationResult {
	defer o.observe("validation", o.now())
	refs := make([]models.ReferenceDocument, len(docs))
	for i, d := range docs {
		refs[i] = d.Document
	}
	result := o.validator.Validate(answer, refs)
	o.metrics.AddHallucinationWarnings(len(result.Warnings))
	return result
}

// cost prefers reported token usage and falls back to an estimate from text length.
func (o *Orchestrator) cost(prompt string, result *repository.GenerateResult) float64 {
	tokens := result.InputTokens + result.OutputTokens
	if tokens == 0 {
		tokens = repository.EstimateTokens(prompt) + repository.EstimateTokens(result.Text)
	}
	return o.generator.EstimateCost(tokens)
}

func (o *Orchestrator) observe(stage string, start time.Time) {
	o.metrics.ObserveStage(stage, o.now().Sub(start))
}

// fail records a failed question and normalizes err into the error taxonomy.
func (o *Orchestrator) fail(r *run, at State, err error) error {
	appErr := apperror.From(err)
	if errors.Is(err, context.Canceled) {
		r.logger.Info("question abandoned by caller", zap.Stringer("state", at))
		o.metrics.RecordRequest("cancelled")
		return appErr
	}

	r.logger.Error("question failed",
		zap.Stringer("state", at),
		zap.String("category", string(appErr.Category)),
		zap.String("provider", appErr.Provider),
		zap.Error(err))
	if appErr.Provider != "" {
		o.metrics.RecordProviderError(appErr.Provider, string(appErr.Category))
	}
	o.metrics.RecordRequest("failed")
	return appErr
}

// Health reports the three readiness conditions.
type Health struct {
	Healthy             bool   `json:"-"`
	Status              string `json:"status"`
	GenerationAvailable bool   `json:"generation"`
	EmbeddingAvailable  bool   `json:"embedding"`
	DocumentCount       int    `json:"documentCount"`
	Error               string `json:"error,omitempty"`
}

// Health is UP only when both providers are available and the corpus is non-empty.
func (o *Orchestrator) Health(ctx context.Context) Health {
	h := Health{
		GenerationAvailable: o.generator.IsAvailable(),
		EmbeddingAvailable:  o.embedder.IsAvailable(),
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.SearchTimeout)
	defer cancel()
	count, err := o.index.Count(ctx)
	if err != nil {
		o.logger.Error("health check failed", zap.Error(err))
		h.Error = "document count unavailable"
	}
	h.DocumentCount = count

	h.Healthy = err == nil && h.GenerationAvailable && h.EmbeddingAvailable && count > 0
	h.Status = "DOWN"
	if h.Healthy {
		h.Status = "UP"
	}
	o.logger.Debug("health check",
		zap.Bool("generation", h.GenerationAvailable),
		zap.Bool("embedding", h.EmbeddingAvailable),
		zap.Int("documents", count))
	return h
}
