package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/peteollama/jamie-gateway/internal/auth"
	"github.com/peteollama/jamie-gateway/internal/cache"
	"github.com/peteollama/jamie-gateway/internal/config"
	"github.com/peteollama/jamie-gateway/internal/gateway"
	"github.com/peteollama/jamie-gateway/internal/providers"
	"github.com/peteollama/jamie-gateway/internal/ratelimit"
	"github.com/peteollama/jamie-gateway/internal/router"
	"github.com/peteollama/jamie-gateway/internal/telemetry"
	"github.com/peteollama/jamie-gateway/internal/usage"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to operator configuration directory")
	stateDir := flag.String("state", "config", "path to admin-mutable state directory")
	flag.Parse()

	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	loader := config.NewLoader(*configDir, *stateDir, slog.Default())
	if err := loader.Load(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// PostgreSQL is optional: without it the sample cache and usage log
	// fall back to Redis / memory / file.
	var dbPool *pgxpool.Pool
	if cfg.Database.Enabled() {
		pool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to create database pool", "error", err)
			os.Exit(1)
		}
		if err := pool.Ping(context.Background()); err != nil {
			logger.Warn("database not reachable, durable storage disabled", "error", err)
			pool.Close()
		} else {
			logger.Info("database connected")
			dbPool = pool
			defer dbPool.Close()
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable, rate limiting disabled", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	ollama := providers.NewOllama(providerSettings(loader, config.ProviderOllama))
	runpod := providers.NewRunPod(providerSettings(loader, config.ProviderRunPod), func() config.RoutingConfig {
		return loader.Config().Routing
	})
	openrouter := providers.NewOpenRouter(providerSettings(loader, config.ProviderOpenRouter))

	registry := router.NewRegistry()
	registry.Register(ollama)
	registry.Register(runpod)
	registry.Register(openrouter)

	health := router.NewHealthTracker(
		cfg.Routing.CircuitBreaker.FailureThreshold,
		cfg.Routing.CircuitBreaker.RecoveryProbeInterval,
	)

	rt := router.New(registry, health, loader.System)
	rt.OnFallback(func(from, to string) {
		metrics.RecordFallback(from, to)
		logger.Warn("provider fallback", "from", from, "to", to)
	})

	sampleCache := buildCache(cfg, dbPool, rdb, ollama, logger)

	recorder := buildRecorder(cfg, dbPool, logger)
	defer recorder.Close()

	handler := gateway.NewHandler(rt, sampleCache, loader, recorder, metrics, version)

	limiter := ratelimit.NewLimiter(rdb)
	rateLimited := ratelimit.Middleware(limiter, func() int {
		return loader.Config().Routing.RateLimitRPM
	}, metrics)

	authenticated := auth.Middleware(func() string {
		return loader.Config().VAPI.Token
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", handler.Health)

	r.Group(func(r chi.Router) {
		r.Use(rateLimited)
		r.Post("/api/chat", handler.Chat)
		r.Get("/api/models", handler.Models)
		r.Get("/api/status", handler.Status)
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticated)
		r.Use(rateLimited)
		r.Post("/vapi/webhook", handler.Webhook)
		r.Post("/vapi/chat/completions", handler.ChatCompletions)
		r.Get("/vapi/personas", handler.Personas)
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/admin/action", handler.Admin)
	})

	if cfg.Telemetry.MetricsPort > 0 {
		go serveMetrics(cfg.Telemetry.MetricsPort, logger)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func providerSettings(loader *config.Loader, name string) func() config.ProviderSettings {
	return func() config.ProviderSettings {
		return loader.System().Providers[name]
	}
}

func buildCache(cfg *config.Config, dbPool *pgxpool.Pool, rdb *redis.Client, embedder cache.Embedder, logger *slog.Logger) *cache.Cache {
	var store cache.Store
	switch {
	case dbPool != nil:
		store = cache.NewPostgresStore(dbPool)
		logger.Info("sample cache backed by postgres")
	case rdb != nil:
		store = cache.NewRedisStore(rdb)
		logger.Info("sample cache backed by redis")
	default:
		store = cache.NewMemoryStore()
		logger.Info("sample cache in memory only")
	}

	var vector *cache.VectorIndex
	if cfg.Vector.URL != "" {
		idx, err := cache.NewVectorIndex(cache.VectorConfig{
			URL:            cfg.Vector.URL,
			APIKey:         cfg.Vector.APIKey,
			Collection:     cfg.Vector.Collection,
			EmbeddingModel: cfg.Vector.EmbeddingModel,
		}, embedder)
		if err != nil {
			logger.Warn("vector index unavailable, using lexical similarity", "error", err)
		} else {
			logger.Info("vector index enabled", "collection", cfg.Vector.Collection)
			vector = idx
		}
	}

	return cache.New(store, vector)
}

func buildRecorder(cfg *config.Config, dbPool *pgxpool.Pool, logger *slog.Logger) usage.Recorder {
	if dbPool != nil {
		return usage.NewPostgresRecorder(dbPool)
	}
	if cfg.Usage.File != "" {
		rec, err := usage.NewFileRecorder(cfg.Usage.File)
		if err != nil {
			logger.Warn("usage file recorder unavailable", "path", cfg.Usage.File, "error", err)
			return usage.Nop{}
		}
		return rec
	}
	return usage.Nop{}
}

func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics listener starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener failed", "error", err)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}
