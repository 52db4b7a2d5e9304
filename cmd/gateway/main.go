package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hjongc/simple-llm-chat/internal/config"
	"github.com/hjongc/simple-llm-chat/internal/gateway"
	"github.com/hjongc/simple-llm-chat/internal/httputil"
	"github.com/hjongc/simple-llm-chat/internal/logging"
	"github.com/hjongc/simple-llm-chat/internal/ratelimit"
	"github.com/hjongc/simple-llm-chat/internal/telemetry"
	"github.com/hjongc/simple-llm-chat/internal/upstream"
)

var version = "1.0.0"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		bootLogger.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	loader.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}
	loader.OnReload(func() {
		m := loader.Models()
		logger.Info("models and conversation policy reloaded",
			"default_model", m.DefaultModel,
			"supported_models", len(m.Supported),
		)
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)
	stats := telemetry.NewStats()

	var opts []upstream.Option
	if cb := cfg.Upstream.CircuitBreaker; cb.Enabled {
		breaker := upstream.NewCircuitBreaker(cb.FailureThreshold, cb.RecoveryProbeInterval, func(from, to upstream.CircuitState) {
			metrics.SetCircuitState(int(to))
			logger.Warn("upstream circuit state changed", "from", from.String(), "to", to.String())
		})
		opts = append(opts, upstream.WithCircuitBreaker(breaker))
	}
	client := upstream.NewClient(cfg.Upstream, logger, opts...)
	defer client.Close()

	handler := gateway.NewHandler(
		client,
		upstream.RetryPolicy{
			MaxAttempts: cfg.Upstream.Retry.MaxAttempts,
			BaseDelay:   cfg.Upstream.Retry.BaseDelay,
		},
		loader.Models,
		loader.Conversation,
		metrics,
		logger,
	)
	service := gateway.NewService(version, stats, client.Breaker())

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(stats.Middleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", service.Health)
	r.Get("/stats", service.Stats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var rdb *redis.Client
	if cfg.RateLimit.Enabled {
		rdb = connectRedis(ctx, cfg.Redis, logger)
		if rdb != nil {
			defer rdb.Close()
		}
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimit.Enabled {
			r.Use(ratelimit.Middleware(ratelimit.NewLimiter(rdb), cfg.RateLimit.RequestsPerMinute, metrics, logger))
		}
		r.Post("/v1/chat/completions", handler.ChatCompletions)
		r.Get("/v1/models", handler.ListModels)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting",
			"addr", srv.Addr,
			"version", version,
			"upstream", cfg.Upstream.URL,
			"max_attempts", cfg.Upstream.Retry.MaxAttempts,
			"circuit_breaker", cfg.Upstream.CircuitBreaker.Enabled,
			"rate_limit", cfg.RateLimit.Enabled,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

// connectRedis returns nil when Redis is unreachable; the limiter then fails open.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if cfg.Address == "" {
		logger.Warn("rate limiting enabled without redis address, limiter will allow all requests")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, rate limiter will allow all requests", "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.Address)
	return rdb
}
