package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pcdshub/pmps-ui/internal/api"
	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/config"
	"github.com/pcdshub/pmps-ui/internal/logging"
	"github.com/pcdshub/pmps-ui/internal/models"
	"github.com/pcdshub/pmps-ui/internal/observability"
	"github.com/pcdshub/pmps-ui/internal/session"
	"github.com/pcdshub/pmps-ui/internal/storage"
	"github.com/pcdshub/pmps-ui/internal/web"
)

type serveOptions struct {
	configPath string
	line       string
	noWeb      bool
	loopback   bool
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the display server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "pmps-ui.yml", "Server configuration file, created with defaults if missing")
	cmd.Flags().StringVar(&opts.line, "cfg", "LFE", "Line to display; loads <line>_config.yml")
	cmd.Flags().BoolVar(&opts.noWeb, "no-web", false, "Do not serve the embedded operator page")
	cmd.Flags().BoolVar(&opts.loopback, "loopback", false, "Use the in-process loopback gateway instead of the WebSocket bridge")
	return cmd
}

func serve(ctx context.Context, opts serveOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.loopback {
		cfg.Gateway.Loopback = true
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger := logging.New("pmps-ui", cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, os.Stderr)

	table, err := cfg.BeamClassTable()
	if err != nil {
		return fmt.Errorf("failed to load beam-class table: %w", err)
	}
	loadLine := func(name string) (*models.LineConfig, error) {
		return config.LoadLine(config.LinePath(cfg.Storage.LineConfigDir, name))
	}
	// fail fast on a broken line file
	if _, err := loadLine(opts.line); err != nil {
		return err
	}

	metrics, err := observability.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	bus := channel.NewBus(logger)
	bus.OnUpdate(metrics.RecordChannel)
	if err := metrics.ObserveSubscriptions(bus.SubscriptionCount); err != nil {
		return err
	}
	if err := metrics.ObserveQueue(bus.Pending); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		_ = bus.Run(runCtx)
	}()

	var (
		bridge    *api.GatewayBridge
		connected func() bool
	)
	if cfg.Gateway.Loopback {
		channel.NewLoopback(bus)
		connected = func() bool { return true }
		logger.Warn("using the loopback gateway; no IOC traffic will flow")
	} else {
		bridge = api.NewGatewayBridge(bus, cfg.Gateway.OutboundBuffer, logger)
		bus.SetGateway(bridge)
		connected = bridge.Connected
	}

	archive, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	defer archive.Close()
	recorder := storage.NewRecorder(archive, cfg.Processing.ArchiveBatchSize,
		time.Duration(cfg.Processing.ArchiveFlushMillis)*time.Millisecond, metrics, logger)
	bus.OnUpdate(recorder.Tap)
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		if err := recorder.Run(runCtx); err != nil {
			logger.Error("history recorder stopped", "error", err)
		}
	}()
	go storage.Retain(runCtx, archive, time.Duration(cfg.Storage.RetentionHours)*time.Hour, time.Hour, logger)

	sessions := session.NewManager(session.Config{
		Bus:         bus,
		Table:       table,
		Lines:       loadLine,
		Logger:      logger,
		Metrics:     metrics,
		MaxSessions: cfg.Processing.MaxSessions,
	})
	defer sessions.CloseAll()
	go sessions.Run(runCtx,
		time.Duration(cfg.Processing.CleanupIntervalMinutes)*time.Minute,
		time.Duration(cfg.Processing.SessionTimeoutMinutes)*time.Minute)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(logging.Writer(logger.Named("echo")))
	api.SetupMiddleware(e, api.MiddlewareConfig{
		Logger:         logger,
		Metrics:        metrics,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		BodyLimit:      cfg.Server.BodyLimit,
		Gzip:           cfg.Processing.EnableCompression,
		GzipLevel:      cfg.Processing.CompressionLevel,
		CORSOrigins:    corsOrigins(cfg),
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Bus:              bus,
		Sessions:         sessions,
		Table:            table,
		Archive:          archive,
		Metrics:          metrics,
		Logger:           logger,
		Gateway:          bridge,
		GatewayConnected: connected,
		Version:          Version,
		DefaultLine:      opts.line,
		ViewPushRate:     cfg.Processing.ViewPushRate,
		MaxMessageSize:   int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024,
	}))

	embedded := !opts.noWeb && web.HasEmbeddedFiles()
	if embedded {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("failed to register static routes", "error", err)
			embedded = false
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ErrorLog:     logger.Named("http").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	printBanner(opts, cfg, embedded)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- e.StartServer(s)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", "error", err)
		}
	}

	sessions.CloseAll()
	cancel()
	<-recDone
	<-busDone
	return nil
}

func openArchive(cfg *config.AppConfig, logger hclog.Logger) (storage.Archive, error) {
	if !cfg.Storage.EnablePersistence {
		return storage.NewMemoryArchive(0), nil
	}
	path := filepath.Join(cfg.Storage.HistoryDirectory, "history.duckdb")
	archive, err := storage.NewDuckArchive(path, storage.DuckOptions{
		Threads:     cfg.Advanced.DuckDBThreads,
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open history archive: %w", err)
	}
	return archive, nil
}

func corsOrigins(cfg *config.AppConfig) []string {
	if !cfg.Server.EnableCORS {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(cfg.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

func printBanner(opts serveOptions, cfg *config.AppConfig, embedded bool) {
	gateway := "WebSocket bridge (/api/ws/gateway)"
	if cfg.Gateway.Loopback {
		gateway = "loopback"
	}
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           PMPS Diagnostic Server                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Line:       %-45s║\n", opts.line)
	fmt.Printf("║  Gateway:    %-45s║\n", gateway)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", opts.configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	if embedded {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}
}
