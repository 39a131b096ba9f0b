// Package mcp exposes the similarity service as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
	"github.com/phenotype-similarity-server/internal/service"
)

// Transports
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Service is the similarity functionality the tools expose
type Service interface {
	ComputeSimilarity(ctx context.Context, matchID, referenceID string) (*domain.SimilarityResult, error)
	RederiveView(ctx context.Context, view *domain.SimilarityResult, accessLevel string) (*domain.SimilarityResult, error)
	PatientChanged(ctx context.Context, patientID string, deleted bool) error
	ClearAllReplicas(ctx context.Context) error
	ModelStatus(ctx context.Context) service.ModelStatus
	TermInfo(ctx context.Context, termID string) (*service.TermInfo, error)
}

var _ Service = (*service.SimilarityService)(nil)

// Server is the MCP server wrapping the similarity service
type Server struct {
	config    domain.MCPConfig
	service   Service
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers every tool
func NewServer(cfg domain.MCPConfig, svc Service, logger *logrus.Logger) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "phenotype-similarity"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "1.0.0"
	}

	serverInfo := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	s := &Server{
		config:    cfg,
		service:   svc,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    logger,
	}
	s.registerTools()

	logger.WithFields(logrus.Fields{
		"server_name": cfg.ServerName,
		"version":     cfg.ServerVersion,
		"tools":       len(ToolNames),
	}).Info("MCP server initialized")
	return s
}

// Run serves the tools over transport until ctx is cancelled. The HTTP
// transport listens on port.
func (s *Server) Run(ctx context.Context, transport string, port int) error {
	s.logger.WithField("transport_type", transport).Info("Starting MCP server")

	switch transport {
	case TransportStdio, "":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil

	case TransportHTTP:
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcpServer }, nil)
		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("MCP HTTP transport failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)

	default:
		return fmt.Errorf("unsupported transport type: %s", transport)
	}
}

// withTimeout bounds a tool invocation by the configured request timeout
func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.RequestTimeout)
}
