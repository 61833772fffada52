package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/receptionist/internal/config"
	"github.com/teemow/receptionist/internal/holds"
	"github.com/teemow/receptionist/internal/instrumentation"
	"github.com/teemow/receptionist/internal/logging"
	"github.com/teemow/receptionist/internal/server"
	"github.com/teemow/receptionist/internal/tools"
)

// serveFlags maps serve flags to config keys.
var serveFlags = map[string]string{
	"transport":        "server.transport",
	"host":             "server.host",
	"port":             "server.port",
	"metrics-addr":     "server.metrics_addr",
	"webhook-token":    "server.webhook_token",
	"holds-backend":    "holds.backend",
	"calendar-backend": "calendar.backend",
	"crm-backend":      "crm.backend",
	"aliases-file":     "aliases_file",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the receptionist server",
		Long: `Start the receptionist server.

Supports two transports:
  - http: POST /retell/tools webhook, MCP streamable HTTP at /mcp, health
    probes, plus Prometheus metrics on a separate address (default)
  - stdio: the MCP tools over standard input/output

Holds live in memory by default. Use --holds-backend postgres or redis to
share them between replicas.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, serveFlags)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("transport", "http", "Transport type: http or stdio")
	f.String("host", "0.0.0.0", "Address to listen on")
	f.Int("port", 8000, "Port to listen on")
	f.String("metrics-addr", ":9090", "Metrics server address, empty to disable")
	f.String("webhook-token", "", "Shared secret expected in the x-retell-webhook-token header")
	f.String("holds-backend", config.BackendMemory, "Hold storage: memory, postgres or redis")
	f.String("calendar-backend", config.BackendGoogle, "Calendar backend: google or memory")
	f.String("crm-backend", config.BackendMemory, "CRM storage: memory or postgres")
	f.String("aliases-file", "", "YAML file with tool name aliases")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	f.String("log-format", "json", "Log format: json or text")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the MCP protocol in stdio mode.
	var console io.Writer = os.Stdout
	if cfg.Server.Transport == config.TransportStdio {
		console = os.Stderr
	}
	logger, closer := logging.NewWithWriter(cfg.LoggingConfig(), console)
	defer func() { _ = closer.Close() }()
	slog.SetDefault(logger)

	provider, err := instrumentation.NewProvider(ctx, cfg.InstrumentationConfig(version))
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	a, err := buildApp(ctx, cfg, provider, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := mcpserver.NewMCPServer("receptionist", version,
		mcpserver.WithToolCapabilities(true),
	)
	tools.Register(mcpSrv, a.invoker)

	sweeper := holds.NewSweeper(a.store, cfg.Holds.SweepInterval, a.orchestrator.ReleaseExpired, logger)

	logger.Info("starting receptionist",
		slog.String("version", version),
		slog.String("transport", cfg.Server.Transport),
		slog.String("holds_backend", cfg.Holds.Backend),
		slog.String("calendar_backend", cfg.Calendar.Backend),
		slog.String("timezone", cfg.TimeZone))

	if cfg.Server.Transport == config.TransportStdio {
		return runStdio(ctx, mcpSrv, sweeper)
	}
	return runHTTP(ctx, cfg, a, mcpSrv, sweeper, provider, logger)
}

func runStdio(ctx context.Context, mcpSrv *mcpserver.MCPServer, sweeper *holds.Sweeper) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		err := mcpserver.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server stopped with error: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func runHTTP(ctx context.Context, cfg config.Config, a *app, mcpSrv *mcpserver.MCPServer, sweeper *holds.Sweeper, provider *instrumentation.Provider, logger *slog.Logger) error {
	start := time.Now()
	sc := server.NewServerContext(ctx, a.checks...)
	health := server.NewHealthChecker(sc)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Addr:         cfg.Server.Addr(),
		WebhookToken: cfg.Server.WebhookToken,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Webhook:      server.NewWebhookHandler(a.normalizer, a.invoker, provider.Metrics(), logger),
		MCPServer:    mcpSrv,
		Health:       health,
		Metrics:      provider.Metrics(),
		Logger:       logger,
	})
	if cfg.Server.WebhookToken == "" {
		logger.Warn("webhook token not set, /retell/tools and /mcp accept unauthenticated requests")
	}

	var metricsServer *server.MetricsServer
	if cfg.Server.MetricsAddr != "" && provider.MetricsHandler() != nil {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Server.MetricsAddr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		sc.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = errors.Join(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})

	err := g.Wait()
	logger.Info("receptionist stopped", slog.Duration("uptime", time.Since(start).Truncate(time.Second)))
	return err
}
