// Package main is the entry point for mitra-assist, the backend behind the
// ProjectMitra chatbot and code generator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/projectmitra/mitra-assist/internal/cache"
	"github.com/projectmitra/mitra-assist/internal/config"
	"github.com/projectmitra/mitra-assist/internal/logging"
	"github.com/projectmitra/mitra-assist/internal/metrics"
	"github.com/projectmitra/mitra-assist/internal/provider"
	"github.com/projectmitra/mitra-assist/internal/router"
	"github.com/projectmitra/mitra-assist/internal/server"
	"github.com/projectmitra/mitra-assist/internal/telemetry"
)

const serviceName = "mitra-assist"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		// The logger may not exist yet, so this goes straight to stderr.
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// A missing API key fails here, before anything listens.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// One http.Client for all upstream calls so connections are pooled.
	// Its timeout is the only bound on a hung provider.
	upstream := provider.NewClient(provider.ClientConfig{
		BaseURL: cfg.Upstream.BaseURL,
		Origins: provider.NewOrigins(cfg.Upstream.Origins.Allowed, cfg.Upstream.Origins.Default),
		Titles: map[provider.TaskKind]string{
			provider.TaskChat:    cfg.Upstream.Titles.Chat,
			provider.TaskCodeGen: cfg.Upstream.Titles.CodeGen,
		},
	}, &http.Client{Timeout: cfg.Upstream.Timeout}, logger)

	rt := router.New(router.Config{
		Models:      cfg.Upstream.Models,
		Credentials: provider.Credentials{APIKey: cfg.Upstream.APIKey},
	}, upstream,
		router.WithLogger(logger),
		router.WithMetrics(m),
		router.WithTracer(otel.Tracer(serviceName)),
	)
	for i, model := range rt.Models() {
		logger.Info().Int("priority", i).Str("model", model).Msg("registered model")
	}

	deps := server.Deps{
		Router:      rt,
		Metrics:     m,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
	}

	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer rdb.Close()

		rc := cache.NewRedis(rdb, cfg.Cache.TTL)
		if err := rc.Ping(context.Background()); err != nil {
			// The cache is an optimisation; run without it.
			logger.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("redis unreachable, result cache disabled")
		} else {
			deps.Cache = rc
			logger.Info().Str("addr", cfg.Cache.RedisAddr).Dur("ttl", cfg.Cache.TTL).Msg("result cache enabled")
		}
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.New(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return serve(httpServer, cfg.Server, logger)
}

// serve runs srv until SIGINT/SIGTERM, then shuts it down gracefully.
func serve(srv *http.Server, cfg config.ServerConfig, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("mitra-assist listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
