package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"itinerary-core/internal/adapter/api"
	"itinerary-core/internal/adapter/client"
	"itinerary-core/internal/adapter/store"
	"itinerary-core/internal/config"
	"itinerary-core/internal/domain/repository"
	"itinerary-core/internal/observability"
	"itinerary-core/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

func main() {
	cfg, err := config.Load(".env.dev", ".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis for caching, persistence and quotas
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	genaiClient, err := newGenAIClient(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to init genai client", zap.Error(err))
	}

	service := client.NewGeminiClientFromClient(genaiClient, cfg.LLMModel, cfg.LLMRequestsPerSecond)
	executor := usecase.NewExecutor(service, usecase.ExecutorConfig{
		Model:          cfg.LLMModel,
		FallbackModel:  cfg.LLMFallbackModel,
		MaxRetries:     cfg.LLMMaxRetries,
		BaseDelay:      cfg.LLMBaseDelay,
		AttemptTimeout: cfg.LLMAttemptTimeout,
	}, logger.Named("executor"))

	cache := newResponseCache(ctx, cfg, rdb, logger)
	dispatcher := usecase.NewDispatcher(executor, cache, cfg.CacheTTL, logger.Named("dispatcher"))
	pipeline := usecase.NewPipeline(dispatcher, usecase.PipelineConfig{
		DayBatchSize: cfg.PipelineDayBatchSize,
	}, logger.Named("pipeline"))

	trips, err := newTripStore(ctx, cfg, rdb, genaiClient, logger)
	if err != nil {
		logger.Fatal("failed to init trip store", zap.Error(err))
	}
	limiter := store.NewRedisLimiter(rdb, cfg.GenerationQuota, cfg.QuotaWindow)

	sessions := api.NewSessions(func(sessionID string) *usecase.Coordinator {
		return usecase.NewCoordinator(pipeline, trips, limiter, usecase.CoordinatorConfig{
			SessionID:         sessionID,
			ProgressDebounce:  cfg.ProgressDebounce,
			ErrorResetTimeout: cfg.ErrorResetTimeout,
		}, logger.Named("coordinator"))
	})

	if cfg.SessionIdleTTL > 0 {
		go evictSessions(ctx, sessions, cfg.SessionIdleTTL, logger)
	}

	// Initialize API Layer (Delivery Layer)
	app := fiber.New(fiber.Config{
		AppName: "Itinerary Core",
	})
	handler := api.NewGenerationHandler(sessions, trips, logger.Named("api"))
	api.SetupRouter(app, handler, api.BuildInfo{Version: cfg.AppVersion, Env: cfg.Env})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		sessions.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("itinerary service running", zap.String("port", cfg.Port), zap.String("model", cfg.LLMModel))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func evictSessions(ctx context.Context, sessions *api.Sessions, idle time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Evict(idle); n > 0 {
				logger.Debug("idle sessions evicted", zap.Int("count", n), zap.Int("remaining", sessions.Len()))
			}
		}
	}
}

func newGenAIClient(ctx context.Context, cfg *config.Config) (*genai.Client, error) {
	if cfg.GeminiAPIKey != "" {
		return genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.GoogleProject,
		Location: cfg.GoogleLocation,
		Backend:  genai.BackendVertexAI,
	})
}

func newResponseCache(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) repository.ResponseCache {
	if cfg.CacheBackend == "redis" {
		return store.NewRedisCache(rdb, logger.Named("cache"))
	}

	cache := usecase.NewMemoryCache()
	if cfg.CacheSweep > 0 {
		go func() {
			ticker := time.NewTicker(cfg.CacheSweep)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := cache.Sweep(); n > 0 {
						logger.Debug("expired cache entries removed", zap.Int("count", n))
					}
				}
			}
		}()
	}
	return cache
}

func newTripStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, genaiClient *genai.Client, logger *zap.Logger) (repository.TripStore, error) {
	if cfg.PersistenceBackend != "qdrant" {
		return store.NewRedisTripStore(rdb), nil
	}

	qClient, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.QdrantHost,
		Port: cfg.QdrantPort,
	})
	if err != nil {
		return nil, err
	}
	embedder := client.NewEmbedderFromClient(genaiClient, cfg.LLMEmbeddingModel, int(cfg.QdrantVectorSize))
	trips := store.NewQdrantTripStore(qClient, cfg.QdrantCollection, embedder, logger.Named("qdrant"))
	if err := trips.InitCollection(ctx, cfg.QdrantVectorSize); err != nil {
		return nil, err
	}
	return trips, nil
}
