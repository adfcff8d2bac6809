package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"softhub/internal/api"
	"softhub/internal/captcha"
	"softhub/internal/config"
	"softhub/internal/gate"
	"softhub/internal/logger"
	"softhub/internal/models"
	"softhub/internal/observability"
	"softhub/internal/origin"
	"softhub/internal/ratelimit"
	"softhub/internal/reconcile"
	"softhub/internal/storage"
	"softhub/internal/token"
	"softhub/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	syncOnce    = flag.Bool("sync-once", false, "Run one reconciliation and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	exampleOut  = flag.String("example-config", "", "Write an example configuration file to this path and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}
	if *exampleOut != "" {
		if err := config.SaveExample(*exampleOut); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize mirror store; running without one is allowed
	mirror, err := initializeMirror(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize mirror store", "error", err)
		os.Exit(1)
	}
	if mirror != nil {
		defer mirror.Close()
	}

	reconciler, err := initializeReconciler(cfg, mirror)
	if err != nil {
		slog.Error("Failed to initialize reconciler", "error", err)
		os.Exit(1)
	}

	if *syncOnce {
		if reconciler == nil {
			slog.Error("Reconciliation requires both a mirror store and an origin")
			os.Exit(1)
		}
		report, err := reconciler.Run(ctx)
		if err != nil {
			slog.Error("Reconciliation failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Reconciliation finished",
			"upserted", report.UpsertedCount,
			"deleted", report.DeletedCount,
			"after", report.AfterCount,
		)
		return
	}

	accessGate, err := initializeGate(cfg)
	if err != nil {
		slog.Error("Failed to initialize access gate", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP handlers; unset dependencies answer 501
	handlerOpts := []api.HandlerOption{
		api.WithSessionCookie(cfg.Security.Captcha.SessionTTL, cfg.Security.Captcha.CookieSecure),
	}
	if mirror != nil {
		handlerOpts = append(handlerOpts, api.WithMirror(mirror))
	}
	if reconciler != nil {
		handlerOpts = append(handlerOpts, api.WithSyncer(reconciler, cfg.Sync.Secret))
	} else {
		handlerOpts = append(handlerOpts, api.WithSyncer(nil, cfg.Sync.Secret))
	}
	handlers := api.NewHandlers(accessGate, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Initialize rate limiter if enabled
	if cfg.Security.RateLimit.Enabled {
		limiter, err := initializeLimiter(ctx, cfg.Security.RateLimit)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()
		routeOpts = append(routeOpts, api.WithRateLimiter(limiter, cfg.Security.RateLimit))
	}

	router := api.SetupRoutes(handlers, routeOpts...)

	// Start the periodic reconciliation if configured
	if reconciler != nil && cfg.Sync.Interval > 0 {
		go reconcile.NewScheduler(reconciler, cfg.Sync.Interval, slog.Default()).Start(ctx)
	}

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	stop()

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeMirror opens the configured mirror store, wrapped with
// instrumentation when metrics or tracing are on. It returns nil, nil when no
// mirror is configured.
func initializeMirror(ctx context.Context, cfg *models.Config) (storage.Mirror, error) {
	mirror, err := storage.New(ctx, cfg.Mirror)
	if errors.Is(err, storage.ErrNotConfigured) {
		slog.Warn("Mirror store not configured; catalog reads, downloads and sync are disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slog.Info("Mirror store ready", "type", cfg.Mirror.Type)

	if !cfg.Metrics.Enabled && !cfg.Observability.Tracing.Enabled {
		return mirror, nil
	}
	instrumented, err := observability.NewInstrumentedMirror(mirror)
	if err != nil {
		mirror.Close()
		return nil, fmt.Errorf("instrument mirror store: %w", err)
	}
	return instrumented, nil
}

// initializeReconciler returns nil, nil when either end of the sync is
// missing.
func initializeReconciler(cfg *models.Config, mirror storage.Mirror) (*reconcile.Reconciler, error) {
	if mirror == nil || cfg.Origin.Type == "" {
		return nil, nil
	}
	src, err := origin.New(cfg.Origin)
	if err != nil {
		return nil, err
	}
	return reconcile.New(src, mirror, reconcile.Config{
		UpsertBatchSize:  cfg.Sync.UpsertBatchSize,
		DeleteBatchSize:  cfg.Sync.DeleteBatchSize,
		BatchesPerSecond: cfg.Sync.BatchesPerSecond,
		Timeout:          cfg.Sync.Timeout,
	}), nil
}

// initializeGate wires the CAPTCHA provider and the ticket signer. A missing
// signing secret leaves download tokens unconfigured rather than failing
// startup.
func initializeGate(cfg *models.Config) (*gate.Gate, error) {
	verifier := captcha.NewTurnstile(cfg.Security.Captcha)
	if !verifier.Configured() {
		slog.Warn("Captcha secret not configured; captcha verification is disabled")
	}

	var signer *token.Signer
	if secret := cfg.Security.Download.SigningSecret; secret != "" {
		s, err := token.NewSigner(secret)
		if err != nil {
			return nil, err
		}
		signer = s
	} else {
		slog.Warn("Download signing secret not configured; download tokens are disabled")
	}

	return gate.New(verifier, signer, gate.Config{
		SessionTTL: cfg.Security.Captcha.SessionTTL,
		TokenTTL:   cfg.Security.Download.TokenTTL,
		Locales:    cfg.Security.Download.Locales,
	}), nil
}

// initializeLimiter builds the rate limiter on the configured backend
func initializeLimiter(ctx context.Context, cfg models.RateLimitConfig) (*ratelimit.Limiter, error) {
	switch cfg.Backend {
	case models.RateLimitBackendRedis:
		store, err := ratelimit.DialRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		slog.Info("Rate limiting enabled", "backend", cfg.Backend, "addr", cfg.Redis.Addr)
		return ratelimit.New(store), nil
	case models.RateLimitBackendMemory, "":
		slog.Info("Rate limiting enabled", "backend", models.RateLimitBackendMemory)
		return ratelimit.New(ratelimit.NewMemoryStore(ratelimit.WithSweepInterval(cfg.SweepInterval))), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}
}
