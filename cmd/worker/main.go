package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/placefinder/querycore/common/arangodb"
	"github.com/placefinder/querycore/common/id"
	"github.com/placefinder/querycore/common/llm"
	"github.com/placefinder/querycore/common/logger"
	"github.com/placefinder/querycore/common/otel"
	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/core/config"
	"github.com/placefinder/querycore/core/db"
	"github.com/placefinder/querycore/core/fallback"
	"github.com/placefinder/querycore/core/ratelimit"
	"github.com/placefinder/querycore/internal/embedding"
	"github.com/placefinder/querycore/internal/filter"
	"github.com/placefinder/querycore/internal/hybrid"
	"github.com/placefinder/querycore/internal/nlp"
	"github.com/placefinder/querycore/internal/pipeline"
	"github.com/placefinder/querycore/internal/queue"
	"github.com/placefinder/querycore/internal/rank"
	"github.com/placefinder/querycore/internal/retriever/keyword"
	"github.com/placefinder/querycore/internal/retriever/semantic"
	"github.com/placefinder/querycore/internal/store"
	"github.com/placefinder/querycore/internal/taxonomy"
	"github.com/placefinder/querycore/internal/telemetrystore"
)

const maxAttempts = 3

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "querycore worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	if !cfg.NLPLLM.Enabled() {
		slog.ErrorContext(ctx, "NLP_LLM_API_KEY is required for query processing")
		os.Exit(1)
	}

	nlpClient, err := llm.New(cfg.NLPLLM)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create NLP model client", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "nlp model client initialized",
		"provider", cfg.NLPLLM.Provider,
		"model", nlpClient.Model())

	embedClient, err := llm.NewOpenAIEmbedder(cfg.Embedding.LLM)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create embedding client", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "embedding client initialized",
		"model", cfg.Embedding.LLM.Model,
		"dimension", cfg.Embedding.Dimension,
		"version", cfg.Embedding.Version)

	if !cfg.ArangoDB.Enabled() {
		slog.ErrorContext(ctx, "ARANGODB_URL is required for the business store")
		os.Exit(1)
	}
	arangoClient, err := arangodb.New(ctx, arangodb.Config{
		URL:      cfg.ArangoDB.URL,
		Username: cfg.ArangoDB.Username,
		Password: cfg.ArangoDB.Password,
		Database: cfg.ArangoDB.Database,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create ArangoDB client", "error", err)
		os.Exit(1)
	}
	if err := arangoClient.EnsureDatabase(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure ArangoDB database", "error", err)
		os.Exit(1)
	}
	if err := arangoClient.EnsureCollections(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure ArangoDB collections", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "arangodb connected", "database", cfg.ArangoDB.Database)

	arangoStore := store.NewArangoStore(arangoClient)
	var businessStore store.BusinessStore = arangoStore
	if cfg.Typesense.Enabled() {
		tsStore := store.NewTypesenseStore(arangoStore, store.TypesenseConfig{
			URL:        cfg.Typesense.URL,
			APIKey:     cfg.Typesense.APIKey,
			Collection: cfg.Typesense.Collection,
		})
		if err := tsStore.EnsureCollection(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ensure typesense collection", "error", err)
			os.Exit(1)
		}
		businessStore = tsStore
		slog.InfoContext(ctx, "typesense connected", "collection", cfg.Typesense.Collection)
	} else {
		slog.InfoContext(ctx, "typesense disabled; keyword scans go to arangodb")
	}

	var appCache cache.Cache
	if cfg.Cache.Enabled() {
		redisCache, err := cache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect cache redis", "error", err)
			os.Exit(1)
		}
		appCache = redisCache
		slog.InfoContext(ctx, "remote cache connected")
	} else {
		appCache = cache.NewMemory()
		slog.InfoContext(ctx, "no cache credentials; using in-process cache")
	}

	limiter := ratelimit.New(ratelimit.Config{
		UserPerHour:   cfg.RateLimit.UserPerHour,
		IPPerHour:     cfg.RateLimit.IPPerHour,
		GlobalPerHour: cfg.RateLimit.GlobalPerHour,
	})
	flog := fallback.NewLog()
	tax := taxonomy.Default()

	analyzer := nlp.New(nlpClient, limiter, flog, tax, nlp.Config{})
	embedder := embedding.New(embedClient, appCache, limiter, flog, embedding.Config{
		Model:     cfg.Embedding.LLM.Model,
		Dimension: cfg.Embedding.Dimension,
		Version:   cfg.Embedding.Version,
	})
	keywordRetriever := keyword.New(businessStore, tax)
	semanticRetriever := semantic.New(businessStore, arangoStore, appCache, semantic.Config{
		Version:               cfg.Embedding.Version,
		Dimension:             cfg.Embedding.Dimension,
		FingerprintComponents: cfg.Pipeline.FingerprintComponents,
	})

	deps := pipeline.Deps{}
	var database *db.DB
	if cfg.DB.Enabled() {
		database, err = db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect telemetry database", "error", err)
			os.Exit(1)
		}
		sink := telemetrystore.New(database)
		if err := sink.EnsureSchema(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ensure telemetry schema", "error", err)
			os.Exit(1)
		}
		deps.Telemetry = sink
		slog.InfoContext(ctx, "telemetry database connected")
	}

	orchestrator := pipeline.New(
		analyzer,
		embedder,
		keywordRetriever,
		semanticRetriever,
		hybrid.New(tax),
		filter.New(tax, filter.Config{StrictCategory: cfg.Pipeline.StrictCategoryFilter}),
		rank.New(),
		appCache,
		flog,
		tax,
		deps,
		pipeline.Config{
			RequestTimeout: cfg.Pipeline.RequestTimeout,
			PageSize:       cfg.Pipeline.PageSize,
		},
	)

	if cfg.Pipeline.RedisURL == "" {
		slog.ErrorContext(ctx, "QUEUE_REDIS_URL is required for the worker")
		os.Exit(1)
	}
	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1,
		Block:        5 * time.Second,
		MaxAttempts:  maxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	processor := queue.NewProcessor(orchestrator, appCache)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go runLoop(ctx, &wg, consumer, processor.Process)

	slog.InfoContext(ctx, "worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutdown signal received, initiating graceful shutdown...")

	cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		wg.Wait()
		close(shutdownComplete)
	}()

	shutdownTimeout := 30 * time.Second
	select {
	case <-shutdownComplete:
		slog.InfoContext(ctx, "graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		slog.WarnContext(ctx, "shutdown timeout exceeded, forcing exit", "timeout", shutdownTimeout)
	}

	limiter.Shutdown()
	analyzer.Shutdown()

	slog.InfoContext(ctx, "closing cache")
	if err := appCache.Close(); err != nil {
		slog.ErrorContext(ctx, "cache close error", "error", err)
	}

	slog.InfoContext(ctx, "closing redis connection")
	if err := redisClient.Close(); err != nil {
		slog.ErrorContext(ctx, "redis close error", "error", err)
	}

	slog.InfoContext(ctx, "closing arangodb connection")
	if err := arangoClient.Close(); err != nil {
		slog.ErrorContext(ctx, "arangodb close error", "error", err)
	}

	if database != nil {
		slog.InfoContext(ctx, "closing telemetry database")
		database.Close()
	}

	if telemetry != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
		shutdownCancel()
	}

	slog.InfoContext(ctx, "shutdown complete")
}

func runLoop(ctx context.Context, wg *sync.WaitGroup, consumer *queue.RedisConsumer, process queue.MessageProcessor) {
	defer wg.Done()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "querycore.worker.loop",
	})

	slog.InfoContext(ctx, "worker loop started")

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "worker loop stopping")
			return
		default:
			messages, err := consumer.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.ErrorContext(ctx, "failed to read from stream", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, msg := range messages {
				if ctx.Err() != nil {
					slog.InfoContext(ctx, "shutdown requested, stopping message processing")
					return
				}

				msgCtx := logger.WithLogFields(ctx, logger.LogFields{
					RequestID: msg.RequestID,
					Component: "querycore.worker.processor",
				})

				if err := processMessageSafe(msgCtx, msg, process); err != nil {
					slog.ErrorContext(msgCtx, "message processing failed", "error", err)
					handleFailure(msgCtx, consumer, msg, err)
					continue
				}

				if err := consumer.Ack(msgCtx, msg); err != nil {
					slog.WarnContext(msgCtx, "failed to ack message", "error", err)
				}
			}
		}
	}
}

func processMessageSafe(ctx context.Context, msg queue.Message, process queue.MessageProcessor) (err error) {
	start := time.Now()

	defer func() {
		duration := time.Since(start)

		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "panic recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
				"duration_ms", duration.Milliseconds())
			err = fmt.Errorf("panic: %v", rec)
			return
		}

		if err == nil {
			slog.InfoContext(ctx, "message processed successfully",
				"duration_ms", duration.Milliseconds())
		}
	}()

	return process(ctx, msg)
}

func handleFailure(ctx context.Context, consumer *queue.RedisConsumer, msg queue.Message, err error) {
	retryable := fallback.Retryable(fallback.Classify(err)) || llm.IsRetryable(ctx, err)

	willRequeue := retryable && msg.Attempt < maxAttempts
	willDLQ := !retryable || msg.Attempt >= maxAttempts

	slog.InfoContext(ctx, "handling message failure",
		"error", err,
		"retryable", retryable,
		"attempt", msg.Attempt,
		"max_attempts", maxAttempts,
		"will_requeue", willRequeue,
		"will_dlq", willDLQ)

	if willDLQ {
		if dlqErr := consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	if requeueErr := consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue", "error", requeueErr)
	}
}

const banner = `
  ██████╗ ██╗   ██╗███████╗██████╗ ██╗   ██╗ ██████╗ ██████╗ ██████╗ ███████╗
 ██╔═══██╗██║   ██║██╔════╝██╔══██╗╚██╗ ██╔╝██╔════╝██╔═══██╗██╔══██╗██╔════╝
 ██║   ██║██║   ██║█████╗  ██████╔╝ ╚████╔╝ ██║     ██║   ██║██████╔╝█████╗
 ██║▄▄ ██║██║   ██║██╔══╝  ██╔══██╗  ╚██╔╝  ██║     ██║   ██║██╔══██╗██╔══╝
 ╚██████╔╝╚██████╔╝███████╗██║  ██║   ██║   ╚██████╗╚██████╔╝██║  ██║███████╗
  ╚══▀▀═╝  ╚═════╝ ╚══════╝╚═╝  ╚═╝   ╚═╝    ╚═════╝ ╚═════╝ ╚═╝  ╚═╝╚══════╝
`
