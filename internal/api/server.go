package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/middleware"
	"github.com/phenotype-similarity-server/internal/monitoring"
	"github.com/phenotype-similarity-server/internal/service"
)

// Service is the similarity functionality the HTTP surface exposes
type Service interface {
	ComputeSimilarity(ctx context.Context, matchID, referenceID string) (*domain.SimilarityResult, error)
	RederiveView(ctx context.Context, view *domain.SimilarityResult, accessLevel string) (*domain.SimilarityResult, error)
	PatientChanged(ctx context.Context, patientID string, deleted bool) error
	ClearAllReplicas(ctx context.Context) error
	ReloadModel(ctx context.Context) error
	ModelStatus(ctx context.Context) service.ModelStatus
	TermInfo(ctx context.Context, termID string) (*service.TermInfo, error)
}

var _ Service = (*service.SimilarityService)(nil)

// Server represents the HTTP server
type Server struct {
	config  domain.ServerConfig
	service Service
	metrics *monitoring.Metrics
	version string
	logger  *logrus.Logger
	router  *gin.Engine
	server  *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithMetrics instruments every route and, when metrics are enabled, serves
// the registry at the configured path
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithVersion sets the version reported by /health
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// SimilarityRequest asks for the similarity of a patient pair
type SimilarityRequest struct {
	MatchID     string `json:"match_id" binding:"required"`
	ReferenceID string `json:"reference_id" binding:"required"`
}

// RederiveRequest asks for an existing pair under another access level, at
// most the one the access policy grants
type RederiveRequest struct {
	MatchID     string `json:"match_id" binding:"required"`
	ReferenceID string `json:"reference_id" binding:"required"`
	AccessLevel string `json:"access_level" binding:"required"`
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, svc Service, logger *logrus.Logger, opts ...Option) *Server {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:  cfg.Server,
		service: svc,
		version: "1.0.0",
		logger:  logger,
		router:  gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CorrelationID())
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.RequestLogger(logger))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}
	s.router.Use(middleware.RequestTimeout(cfg.Server.RequestLimit))

	s.setupRoutes(cfg.Metrics)
	return s
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(metrics domain.MetricsConfig) {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil && metrics.Enabled {
		path := metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.metrics.Handler()))
	}

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/similarity", s.handleComputeSimilarity)
		v1.POST("/similarity/rederive", s.handleRederive)
		v1.DELETE("/cache/patients/:id", s.handleInvalidatePatient)
		v1.DELETE("/cache", s.handleClearCache)
		v1.GET("/model", s.handleModelStatus)
		v1.POST("/model/reload", s.handleReloadModel)
		v1.GET("/terms/:id", s.handleTermInfo)
	}
}

// handleHealth reports readiness. The server is unhealthy until a model is published.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.service.ModelStatus(c.Request.Context())
	code := http.StatusOK
	state := "healthy"
	if !status.Ready {
		code = http.StatusServiceUnavailable
		state = "initializing"
	}
	if s.metrics != nil {
		s.metrics.UpdateCacheStats(status.Cache)
	}
	c.JSON(code, gin.H{
		"status":        state,
		"model_id":      status.ModelID,
		"cache_backend": status.Cache.Backend,
		"timestamp":     time.Now().UTC(),
		"version":       s.version,
	})
}

func (s *Server) handleComputeSimilarity(c *gin.Context) {
	var req SimilarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	result, err := s.service.ComputeSimilarity(c.Request.Context(), req.MatchID, req.ReferenceID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRederive(c *gin.Context) {
	var req RederiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	view := &domain.SimilarityResult{MatchID: req.MatchID, ReferenceID: req.ReferenceID}
	result, err := s.service.RederiveView(c.Request.Context(), view, req.AccessLevel)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleInvalidatePatient(c *gin.Context) {
	id := c.Param("id")
	deleted := c.Query("deleted") == "true"
	if err := s.service.PatientChanged(c.Request.Context(), id, deleted); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": id})
}

func (s *Server) handleClearCache(c *gin.Context) {
	if err := s.service.ClearAllReplicas(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleModelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.ModelStatus(c.Request.Context()))
}

func (s *Server) handleReloadModel(c *gin.Context) {
	if err := s.service.ReloadModel(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.service.ModelStatus(c.Request.Context()))
}

func (s *Server) handleTermInfo(c *gin.Context) {
	info, err := s.service.TermInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

var errorMessages = map[string]string{
	domain.CodeInvalidInput:      "Invalid request",
	domain.CodeValidation:        "Invalid request",
	domain.CodeNotFound:          "Resource not found",
	domain.CodeModelNotReady:     "Similarity model is not ready",
	domain.CodeSourceUnavailable: "Upstream source unavailable",
	domain.CodeMalformedData:     "Upstream data is malformed",
	domain.CodeInternalServer:    "Internal server error",
}

// HTTPStatus maps a transport error code onto an HTTP status
func HTTPStatus(code string) int {
	switch code {
	case domain.CodeInvalidInput, domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeModelNotReady, domain.CodeSourceUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeMalformedData:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, domain.NewServiceError(
			domain.CodeInternalServer, "Request timeout", err.Error(), c.GetString(middleware.CorrelationIDKey)))
		return
	}

	status := HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(middleware.CorrelationIDKey),
			"code":           code,
			"error":          err,
		}).Error("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, domain.NewServiceError(
		code, errorMessages[code], err.Error(), c.GetString(middleware.CorrelationIDKey)))
}
