// Package server assembles the application from configuration and runs the
// HTTP front door.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/config"
	"github.com/luisamigo/luisamigo-api/internal/database"
	"github.com/luisamigo/luisamigo-api/internal/database/bunstore"
	"github.com/luisamigo/luisamigo-api/internal/domain/repository"
	"github.com/luisamigo/luisamigo-api/internal/embedding"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/cache"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/dataset"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/llm"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/postgres"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/qdrant"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/resilience"
	httpserver "github.com/luisamigo/luisamigo-api/internal/interface/http"
	"github.com/luisamigo/luisamigo-api/internal/metrics"
	"github.com/luisamigo/luisamigo-api/internal/usecase/ingest"
	"github.com/luisamigo/luisamigo-api/internal/usecase/query"
)

// NewLogger builds the process logger: JSON production output unless
// development is set.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// BuildOptions adjusts how the application is assembled.
type BuildOptions struct {
	// DatasetFile switches ingestion from the HuggingFace source to a local JSONL file.
	DatasetFile string
}

// App holds the wired components. Close releases every connection it opened.
type App struct {
	Config       *config.Config
	Orchestrator *query.Orchestrator
	Ingestor     *ingest.Ingestor
	Index        repository.VectorIndex
	Registry     *prometheus.Registry

	logger  *zap.Logger
	closers []func() error
}

// Build resolves the configured backends once and wires the pipeline.
// Provider selection errors surface here, never per request.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts BuildOptions) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, logger: logger, Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(app.Registry)

	generator, embedder, err := app.selectProviders(ctx, llm.NewDefaultSelector(cfg, logger))
	if err != nil {
		return nil, err
	}
	logger.Info("providers selected",
		zap.String("generation", generator.Name()), zap.String("generation_model", generator.Model()),
		zap.String("embedding", embedder.Name()), zap.String("embedding_model", embedder.Model()),
		zap.Int("dimensions", embedder.Dimensions()))

	breakerLog := resilience.WithLogger(logger.Named("breaker"))
	generator = llm.NewGuardedGenerator(generator,
		llm.NewProviderBreaker(generator.Name()+"-generation", cfg.Breaker.FailThreshold, cfg.Breaker.OpenTimeout, breakerLog))
	embedder = llm.NewGuardedEmbedder(embedder,
		llm.NewProviderBreaker(embedder.Name()+"-embedding", cfg.Breaker.FailThreshold, cfg.Breaker.OpenTimeout, breakerLog))
	embedder = app.withCache(ctx, embedder)

	index, runs, err := app.openStore(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Index = index

	app.Orchestrator = query.NewOrchestrator(embedder, generator, index, query.Options{
		DefaultTopK:   cfg.Retrieval.DefaultTopK,
		MinScore:      cfg.Retrieval.MinScore,
		MinEvidence:   cfg.Retrieval.MinEvidence,
		EmbedTimeout:  cfg.Embedding.Timeout,
		SearchTimeout: cfg.Retrieval.SearchTimeout,
		Generation: repository.GenerateOptions{
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			TopP:        cfg.Generation.TopP,
			Timeout:     cfg.Generation.Timeout,
		},
	}, rec, logger)

	var source repository.DatasetSource
	if opts.DatasetFile != "" {
		source = dataset.NewFileSource(opts.DatasetFile, cfg.Ingestion.SourceName, logger)
	} else {
		source = dataset.NewHuggingFaceSource(cfg.Ingestion.DatasetsServerURL, cfg.Ingestion.Dataset, cfg.Ingestion.SourceName, logger)
	}
	batcher := embedding.NewBatcher(embedder, cfg.Ingestion.BatchSize, cfg.Ingestion.Concurrency, logger)
	chunker := ingest.NewChunker(cfg.Ingestion.MaxChunkSize, cfg.Ingestion.ChunkOverlap)
	app.Ingestor = ingest.NewIngestor(source, index, embedder, batcher, runs, chunker, rec, logger)

	if n, err := index.Count(ctx); err == nil && n == 0 {
		logger.Warn("vector index is empty; questions will take the insufficient evidence path until ingestion runs")
	}
	app.warnStaleEmbeddings(ctx, index, embedder.Model())
	return app, nil
}

// selectProviders resolves both backends and registers the ones holding
// connections for Close. Nothing stays open when either selection fails.
func (a *App) selectProviders(ctx context.Context, selector *llm.Selector) (repository.GenerationProvider, repository.EmbeddingProvider, error) {
	generator, err := selector.Generator(ctx, a.Config.Generation.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("select generation provider: %w", err)
	}
	a.track(generator)
	embedder, err := selector.Embedder(ctx, a.Config.Embedding.Provider)
	if err != nil {
		_ = a.Close()
		return nil, nil, fmt.Errorf("select embedding provider: %w", err)
	}
	a.track(embedder)
	return generator, embedder, nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// warnStaleEmbeddings reports vectors stored by another model or an older
// embedding version. Queries against them rank poorly until re-ingestion.
func (a *App) warnStaleEmbeddings(ctx context.Context, index repository.VectorIndex, modelName string) {
	counter, ok := index.(repository.StaleEmbeddingCounter)
	if !ok {
		return
	}
	n, err := counter.StaleEmbeddings(ctx, modelName)
	if err != nil {
		a.logger.Warn("could not check embedding freshness", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Warn("index holds embeddings from another model or version; re-run ingestion with --overwrite",
			zap.Int("stale", n), zap.String("embedding_model", modelName))
	}
}

// withCache wraps embedder with the Redis cache when one is configured and
// reachable. An unreachable Redis is logged and skipped.
func (a *App) withCache(ctx context.Context, embedder repository.EmbeddingProvider) repository.EmbeddingProvider {
	cc := a.Config.Cache
	if cc.RedisAddr == "" {
		return embedder
	}
	rdb := redis.NewClient(&redis.Options{Addr: cc.RedisAddr, Password: cc.RedisPassword, DB: cc.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("redis unreachable, embedding cache disabled", zap.String("addr", cc.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return embedder
	}
	a.closers = append(a.closers, rdb.Close)
	a.logger.Info("embedding cache enabled", zap.String("addr", cc.RedisAddr), zap.Duration("ttl", cc.TTL))
	return cache.NewCachedEmbedder(embedder, rdb, cc.TTL, a.logger)
}

// openStore returns the vector index and, when the backend can record them,
// the ingestion run repository.
func (a *App) openStore(ctx context.Context) (repository.VectorIndex, database.RunRepository, error) {
	sc := a.Config.Store
	dims := a.Config.Embedding.Dimensions

	switch sc.Kind {
	case config.StoreSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, sc.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", sc.SQLitePath, err)
		}
		sqldb.SetMaxOpenConns(1)
		store, err := bunstore.NewBunStore(ctx, sqldb, sqlitedialect.New(), dims, a.logger)
		if err != nil {
			_ = sqldb.Close()
			return nil, nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, store, nil

	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, sc.PostgresDSN, dims, a.logger)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, store, nil

	case config.StoreQdrant:
		store, err := qdrant.NewStore(ctx, sc.QdrantHost, sc.QdrantPort, sc.QdrantCollection, dims, a.logger)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported vector store %q", sc.Kind)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Server runs the HTTP API until its context is cancelled.
type Server struct {
	app        *App
	httpServer *http.Server
	logger     *zap.Logger
}

func New(app *App) *Server {
	if !app.Config.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpserver.NewServer(app.Orchestrator, app.Ingestor, app.Registry, app.logger)
	return &Server{
		app: app,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(app.Config.Port)),
			Handler:           api.RegisterRoutes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: app.logger.Named("server"),
	}
}

// Run serves until ctx is done, then drains in-flight requests within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting REST API server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.app.Config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
