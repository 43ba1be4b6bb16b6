package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/database"
	dbmodels "github.com/luisamigo/luisamigo-api/internal/database/models"
	"github.com/luisamigo/luisamigo-api/internal/domain/models"
	"github.com/luisamigo/luisamigo-api/internal/usecase/ingest"
	"github.com/luisamigo/luisamigo-api/internal/usecase/query"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Asker answers questions and reports pipeline readiness.
type Asker interface {
	Ask(ctx context.Context, req models.AskRequest) (*models.AnswerPackage, error)
	Health(ctx context.Context) query.Health
}

// Ingester runs and inspects dataset ingestion.
type Ingester interface {
	Run(ctx context.Context, opts ingest.Options) (*ingest.Result, error)
	Validate(ctx context.Context) *ingest.ValidationReport
	Estimate(ctx context.Context, count int) (*ingest.Estimate, error)
	LatestRun(ctx context.Context) (*dbmodels.IngestionRun, error)
}

// Server exposes the question pipeline and ingestion over HTTP.
type Server struct {
	asker    Asker
	ingester Ingester
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	// Only one ingestion runs at a time.
	ingesting sync.Mutex
}

// NewServer creates a new HTTP server. A nil gatherer disables /metrics.
func NewServer(asker Asker, ingester Ingester, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		asker:    asker,
		ingester: ingester,
		gatherer: gatherer,
		logger:   logger.Named("http"),
	}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Category  apperror.Category `json:"category"`
	Message   string            `json:"message"`
	RequestID string            `json:"requestId,omitempty"`
}

// RegisterRoutes sets up the HTTP routing.
func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	api := r.Group("/api")
	{
		api.POST("/ask", s.handleAsk)
		api.GET("/health", s.handleHealth)

		api.POST("/ingest", s.handleIngest)
		api.GET("/ingest/validate", s.handleValidate)
		api.GET("/ingest/estimate", s.handleEstimate)
		api.GET("/ingest/runs/latest", s.handleLatestRun)
	}

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(query.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")))
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	appErr := apperror.From(err)
	if appErr.HTTPStatus() >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("request_id", c.GetString("request_id")), zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus(), errorResponse{
		Category:  appErr.Category,
		Message:   appErr.PublicMessage(),
		RequestID: c.GetString("request_id"),
	})
}

func (s *Server) handleAsk(c *gin.Context) {
	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperror.Validation("invalid request: %v", err))
		return
	}

	pkg, err := s.asker.Ask(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkg)
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.asker.Health(c.Request.Context())
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) handleIngest(c *gin.Context) {
	opts := ingest.DefaultOptions()
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(c, apperror.Validation("invalid ingestion options: %v", err))
		return
	}
	if opts.Limit < 0 {
		s.writeError(c, apperror.Validation("limit must not be negative"))
		return
	}

	if !s.ingesting.TryLock() {
		c.JSON(http.StatusConflict, errorResponse{
			Category:  apperror.CategoryValidation,
			Message:   "an ingestion is already running",
			RequestID: c.GetString("request_id"),
		})
		return
	}
	defer s.ingesting.Unlock()

	res, err := s.ingester.Run(c.Request.Context(), opts)
	if err != nil {
		status := apperror.From(err).HTTPStatus()
		if errors.Is(err, ingest.ErrEmptyDataset) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Error("ingestion failed", zap.Error(err))
		c.JSON(status, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleValidate(c *gin.Context) {
	c.JSON(http.StatusOK, s.ingester.Validate(c.Request.Context()))
}

func (s *Server) handleEstimate(c *gin.Context) {
	count := 0
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(c, apperror.Validation("count must be a non-negative integer"))
			return
		}
		count = n
	}

	est, err := s.ingester.Estimate(c.Request.Context(), count)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, est)
}

func (s *Server) handleLatestRun(c *gin.Context) {
	run, err := s.ingester.LatestRun(c.Request.Context())
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{
			Category:  apperror.CategoryValidation,
			Message:   "no ingestion run recorded",
			RequestID: c.GetString("request_id"),
		})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           run.ID,
		"source":       run.Source,
		"status":       run.Status.String(),
		"total":        run.Total,
		"stored":       run.Stored,
		"skipped":      run.Skipped,
		"failed":       run.Failed,
		"errorMessage": run.ErrorMessage,
		"startedAt":    run.CreatedAt,
		"finishedAt":   run.FinishedAt,
	})
}
