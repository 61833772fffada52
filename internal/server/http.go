package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/receptionist/internal/instrumentation"
)

const (
	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout closes idle keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// HTTPServerConfig holds configuration for the public HTTP server.
type HTTPServerConfig struct {
	Addr string
	// WebhookToken is the shared secret required on /retell/tools and /mcp.
	// Empty disables the check.
	WebhookToken string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Webhook http.Handler
	// MCPServer is served at /mcp when set.
	MCPServer *mcpserver.MCPServer
	Health    *HealthChecker
	Metrics   *instrumentation.Metrics
	Logger    *slog.Logger
}

// HTTPServer serves the webhook, MCP and health routes.
type HTTPServer struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewHTTPServer assembles the routes.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	if config.Webhook != nil {
		mux.Handle("POST /retell/tools", RequireToken(config.WebhookToken, config.Webhook))
	}
	if config.MCPServer != nil {
		mcpHandler := mcpserver.NewStreamableHTTPServer(config.MCPServer,
			mcpserver.WithEndpointPath("/mcp"),
		)
		mux.Handle("/mcp", RequireToken(config.WebhookToken, mcpHandler))
	}
	if config.Health != nil {
		config.Health.RegisterHealthEndpoints(mux)
	}

	handler := Instrument(mux, config.Metrics, logger)
	return &HTTPServer{
		handler: handler,
		logger:  logger,
		httpServer: &http.Server{
			Addr:              config.Addr,
			Handler:           handler,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}

// Handler returns the instrumented route handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until Shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info("starting http server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
