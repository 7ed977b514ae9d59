package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairwaylabs/coachvoice/internal/config"
	"github.com/fairwaylabs/coachvoice/internal/connectivity"
	"github.com/fairwaylabs/coachvoice/internal/observability"
	"github.com/fairwaylabs/coachvoice/internal/phrase"
	"github.com/fairwaylabs/coachvoice/internal/server"
	"github.com/fairwaylabs/coachvoice/internal/store"
	"github.com/fairwaylabs/coachvoice/internal/synth"
	"github.com/fairwaylabs/coachvoice/internal/warmer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("cache_dir", cfg.CacheDir).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Coach voice cache service starting")

	// Build the cache core; everything is owned here and passed by
	// reference, no ambient globals.
	registry := phrase.NewRegistry(observability.ComponentLogger("registry"))
	registry.Register(phrase.CategoryStatic, phrase.DefaultScript...)

	st, err := store.New(cfg.CacheDir, observability.ComponentLogger("store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open cache store")
	}

	synthClient := synth.NewClient(cfg)
	watcher := connectivity.NewWatcher(cfg)

	w := warmer.New(registry, st, synthClient, watcher, warmer.Options{
		TTL:          cfg.RefreshTTL(),
		ForceRefresh: cfg.ForceRefresh,
		Concurrency:  cfg.WarmConcurrency,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watcher.Run(ctx)
	go refreshLoop(ctx, w, cfg.RefreshTTL())

	// Create HTTP server
	mux := http.NewServeMux()

	api := server.New(registry, w, st)
	api.Routes(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"cache_store": func(ctx context.Context) (bool, error) {
			if _, err := os.Stat(st.Dir()); err != nil {
				return false, err
			}
			return true, nil
		},
		"connectivity": func(ctx context.Context) (bool, error) {
			if !watcher.Connected() {
				return false, fmt.Errorf("synthesis endpoint unreachable")
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. The progress WebSocket needs an
	// unbounded write window, so only the read side is capped.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// refreshLoop warms the cache at startup and then re-checks staleness
// periodically. Offline starts are handled by the warmer itself, which
// defers until connectivity is restored.
func refreshLoop(ctx context.Context, w *warmer.Warmer, ttl time.Duration) {
	w.WarmIfNeeded(ctx)

	interval := ttl / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WarmIfNeeded(ctx)
		}
	}
}
