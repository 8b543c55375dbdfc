// Package mcp exposes the prediction service as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/service"
)

const (
	// TransportStdio serves a single client over stdin/stdout.
	TransportStdio = "stdio"
	// TransportHTTP serves the streamable HTTP transport.
	TransportHTTP = "http"
)

// Server wraps an MCP server bound to a PredictorService.
type Server struct {
	config    domain.MCPConfig
	svc       *service.PredictorService
	logger    *logrus.Logger
	mcpServer *mcp.Server
}

// NewServer creates the MCP server and registers its tools, resources and prompts.
func NewServer(cfg domain.MCPConfig, svc *service.PredictorService, logger *logrus.Logger) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "ivf-outcome-server"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "v1.0.0"
	}

	s := &Server{
		config: cfg,
		svc:    svc,
		logger: logger,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    name,
			Version: version,
		}, nil),
	}
	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Start serves on the configured transport until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	transport := s.config.TransportType
	if transport == "" {
		transport = TransportStdio
	}
	s.logger.WithFields(logrus.Fields{
		"transport":     transport,
		"model_version": s.svc.ModelVersion(),
	}).Info("Starting MCP server")

	switch transport {
	case TransportStdio:
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.HTTPHost, s.config.HTTPPort)
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("MCP HTTP transport listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start MCP HTTP transport: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
