package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/txinspector/service/config"
	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/endpoints"
	"github.com/brojonat/txinspector/service/inspector"
	"github.com/brojonat/txinspector/service/logsink"
	"github.com/brojonat/txinspector/service/metrics"
	natspkg "github.com/brojonat/txinspector/service/nats"
	"github.com/brojonat/txinspector/service/server"
	"github.com/brojonat/txinspector/service/settings"
	"github.com/brojonat/txinspector/service/temporal"
	"github.com/brojonat/txinspector/service/tracing"
	"github.com/brojonat/txinspector/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"version", version,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, "txinspector-server", cfg.OTELEndpoint, logger)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Submission history and settings live in Postgres when configured,
	// otherwise settings fall back to a local bbolt file.
	var (
		store         *db.Store
		settingsStore settings.Store
	)
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		store = db.NewStore(dbPool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		settingsStore = store
		logger.Info("connected to database")
	} else {
		path := cfg.SettingsPath
		if path == "" {
			path = settings.DefaultPath()
		}
		bolt, err := settings.OpenBoltStore(path)
		if err != nil {
			logger.Error("failed to open settings store", "path", path, "error", err)
			os.Exit(1)
		}
		defer bolt.Close()
		settingsStore = bolt
		logger.Warn("DATABASE_URL not set, submission history disabled", "settings_path", path)
	}

	var extra []endpoints.Endpoint
	if cfg.RPCEndpointsFile != "" {
		extra, err = endpoints.LoadFile(cfg.RPCEndpointsFile)
		if err != nil {
			logger.Error("failed to load endpoints file", "path", cfg.RPCEndpointsFile, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded extra rpc endpoints", "count", len(extra))
	}
	registry := endpoints.NewRegistry(settingsStore, extra, logger)

	session, err := setupSession(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up wallet session", "error", err)
		os.Exit(1)
	}

	logs := logsink.New(cfg.LogCapacity, logger.With("component", "session_log"))

	inspectorCfg := inspector.Config{
		Registry:         registry,
		Session:          session,
		Logs:             logs,
		Override:         cfg.SolanaRPCURL,
		MaxAttempts:      cfg.ConfirmMaxAttempts,
		PollInterval:     cfg.ConfirmPollInterval,
		WatchMaxAttempts: cfg.WatchMaxAttempts,
		Metrics:          metricsCollector,
		Logger:           logger,
	}
	if store != nil {
		inspectorCfg.Recorder = store
	}

	// NATS is optional: without it outcomes are not published and SSE is disabled
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		inspectorCfg.Publisher = natsPublisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Temporal is optional: without it timed out submissions are not watched
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		inspectorCfg.Watcher = temporalClient
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
			"task_queue", cfg.TemporalTaskQueue,
		)
	}

	insp := inspector.New(inspectorCfg)

	// Initialize HTTP server
	var history server.SubmissionStore
	if store != nil {
		history = store
	}
	httpServer := server.New(cfg.ServerAddr, insp, history, ssePublisher, metricsCollector, logger).WithVersion(version)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	current, err := insp.CurrentEndpoint(ctx)
	if err != nil {
		logger.Warn("failed to resolve current endpoint", "error", err)
	}
	logger.Info("server initialized, all dependencies ready",
		"rpc_endpoint", current.URL,
		"network", current.Network,
		"history", store != nil,
		"nats", cfg.NATSURL != "",
		"temporal", cfg.TemporalHost != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupSession registers the configured wallet adapters and connects the first one.
func setupSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*wallet.Session, error) {
	session := wallet.NewSession(logger)

	if cfg.WalletKeypairPath != "" {
		adapter, err := wallet.LoadKeypairAdapter("keypair", cfg.WalletKeypairPath)
		if err != nil {
			return nil, err
		}
		session.Register(adapter)
	}
	if cfg.WalletWatchAddress != "" {
		session.Register(wallet.NewWatchAdapter("watch", solana.MustPublicKeyFromBase58(cfg.WalletWatchAddress)))
	}

	if len(session.Adapters()) == 0 {
		logger.Warn("no wallet configured, submissions will fail until one is connected")
		return session, nil
	}
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
