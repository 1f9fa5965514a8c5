// Command query runs one search through the pipeline from the terminal,
// for local development against a live ArangoDB/model setup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/placefinder/querycore/common/arangodb"
	"github.com/placefinder/querycore/common/id"
	"github.com/placefinder/querycore/common/llm"
	"github.com/placefinder/querycore/common/logger"
	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/core/config"
	"github.com/placefinder/querycore/core/fallback"
	"github.com/placefinder/querycore/core/ratelimit"
	"github.com/placefinder/querycore/internal/embedding"
	"github.com/placefinder/querycore/internal/filter"
	"github.com/placefinder/querycore/internal/hybrid"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/nlp"
	"github.com/placefinder/querycore/internal/pipeline"
	"github.com/placefinder/querycore/internal/rank"
	"github.com/placefinder/querycore/internal/retriever/keyword"
	"github.com/placefinder/querycore/internal/retriever/semantic"
	"github.com/placefinder/querycore/internal/store"
	"github.com/placefinder/querycore/internal/taxonomy"
)

func main() {
	queryFlag := flag.String("q", "", "search query (required)")
	userFlag := flag.String("user", "", "user id for rate limiting and profile lookup")
	ipFlag := flag.String("ip", "", "caller ip for rate limiting")
	filtersFlag := flag.String("filters", "", "JSON-encoded search filters")
	flag.Parse()

	if *queryFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: query -q \"coffee shops near me\" [-user id] [-ip addr] [-filters json]")
		os.Exit(2)
	}

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	orchestrator, cleanup, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var filters model.SearchFilters
	if *filtersFlag != "" {
		if err := json.Unmarshal([]byte(*filtersFlag), &filters); err != nil {
			fmt.Fprintf(os.Stderr, "filters: %v\n", err)
			os.Exit(2)
		}
	}

	resp, err := orchestrator.ProcessQuery(ctx, pipeline.Request{
		Query:   *queryFlag,
		UserID:  *userFlag,
		IP:      *ipFlag,
		Filters: filters,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query rejected: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to render response", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func buildOrchestrator(ctx context.Context, cfg config.Config) (*pipeline.Orchestrator, func(), error) {
	if !cfg.NLPLLM.Enabled() {
		return nil, nil, fmt.Errorf("NLP_LLM_API_KEY is required")
	}
	if !cfg.ArangoDB.Enabled() {
		return nil, nil, fmt.Errorf("ARANGODB_URL is required")
	}

	nlpClient, err := llm.New(cfg.NLPLLM)
	if err != nil {
		return nil, nil, fmt.Errorf("nlp client: %w", err)
	}
	embedClient, err := llm.NewOpenAIEmbedder(cfg.Embedding.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding client: %w", err)
	}

	arangoClient, err := arangodb.New(ctx, arangodb.Config{
		URL:      cfg.ArangoDB.URL,
		Username: cfg.ArangoDB.Username,
		Password: cfg.ArangoDB.Password,
		Database: cfg.ArangoDB.Database,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("arangodb: %w", err)
	}
	if err := arangoClient.EnsureDatabase(ctx); err != nil {
		return nil, nil, fmt.Errorf("arangodb database: %w", err)
	}

	arangoStore := store.NewArangoStore(arangoClient)
	var businessStore store.BusinessStore = arangoStore
	if cfg.Typesense.Enabled() {
		businessStore = store.NewTypesenseStore(arangoStore, store.TypesenseConfig{
			URL:        cfg.Typesense.URL,
			APIKey:     cfg.Typesense.APIKey,
			Collection: cfg.Typesense.Collection,
		})
	}

	var appCache cache.Cache
	if cfg.Cache.Enabled() {
		appCache, err = cache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: %w", err)
		}
	} else {
		appCache = cache.NewMemory()
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

	orchestrator := pipeline.New(
		analyzer,
		embedder,
		keyword.New(businessStore, tax),
		semantic.New(businessStore, arangoStore, appCache, semantic.Config{
			Version:               cfg.Embedding.Version,
			Dimension:             cfg.Embedding.Dimension,
			FingerprintComponents: cfg.Pipeline.FingerprintComponents,
		}),
		hybrid.New(tax),
		filter.New(tax, filter.Config{StrictCategory: cfg.Pipeline.StrictCategoryFilter}),
		rank.New(),
		appCache,
		flog,
		tax,
		pipeline.Deps{},
		pipeline.Config{
			RequestTimeout: cfg.Pipeline.RequestTimeout,
			PageSize:       cfg.Pipeline.PageSize,
		},
	)

	cleanup := func() {
		limiter.Shutdown()
		analyzer.Shutdown()
		_ = appCache.Close()
		_ = arangoClient.Close()
	}
	return orchestrator, cleanup, nil
}
