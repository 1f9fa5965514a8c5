// Package pipeline is the query-processing orchestrator: one ProcessQuery
// call walks sanitize → cache probe → analyze → locate → embed → retrieve →
// merge → filter → rank, recording per-step telemetry and converting every
// stage failure into a degraded-but-useful continuation. Only query
// validation short-circuits.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/placefinder/querycore/common/id"
	"github.com/placefinder/querycore/common/logger"
	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/core/fallback"
	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/internal/embedding"
	"github.com/placefinder/querycore/internal/filter"
	"github.com/placefinder/querycore/internal/hybrid"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/nlp"
	"github.com/placefinder/querycore/internal/rank"
	"github.com/placefinder/querycore/internal/retriever/keyword"
	"github.com/placefinder/querycore/internal/retriever/semantic"
	"github.com/placefinder/querycore/internal/taxonomy"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPageSize       = 20
	defaultRetrieveLimit  = 50
)

// Request is the process_query input.
type Request struct {
	Query   string
	UserID  string
	IP      string
	Filters model.SearchFilters

	// Location is the session-supplied device geolocation, used when
	// neither an explicit entity nor a profile location resolves.
	Location *model.ResolvedLocation
}

type Config struct {
	RequestTimeout time.Duration
	PageSize       int
	RetrieveLimit  int
	Weights        hybrid.Weights
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.RetrieveLimit <= 0 {
		c.RetrieveLimit = defaultRetrieveLimit
	}
	return c
}

// Orchestrator wires the stages together. Construct with New; all shared
// state lives in the injected components, never in package globals.
type Orchestrator struct {
	analyzer  *nlp.Analyzer
	embedder  *embedding.Provider
	keyword   *keyword.Retriever
	semantic  *semantic.Retriever
	merger    *hybrid.Merger
	filters   *filter.Stage
	ranker    *rank.Ranker
	cache     cache.Cache
	flog      *fallback.Log
	tax       *taxonomy.Taxonomy
	geocoder  Geocoder
	profiles  ProfileStore
	ipLocator IPLocator
	telemetry TelemetrySink
	cfg       Config
}

// Deps carries the optional collaborators so New's signature stays flat.
type Deps struct {
	Geocoder  Geocoder
	Profiles  ProfileStore
	IPLocator IPLocator
	Telemetry TelemetrySink
}

func New(
	analyzer *nlp.Analyzer,
	embedder *embedding.Provider,
	keywordRetriever *keyword.Retriever,
	semanticRetriever *semantic.Retriever,
	merger *hybrid.Merger,
	filterStage *filter.Stage,
	ranker *rank.Ranker,
	c cache.Cache,
	flog *fallback.Log,
	tax *taxonomy.Taxonomy,
	deps Deps,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		analyzer:  analyzer,
		embedder:  embedder,
		keyword:   keywordRetriever,
		semantic:  semanticRetriever,
		merger:    merger,
		filters:   filterStage,
		ranker:    ranker,
		cache:     c,
		flog:      flog,
		tax:       tax,
		geocoder:  deps.Geocoder,
		profiles:  deps.Profiles,
		ipLocator: deps.IPLocator,
		telemetry: deps.Telemetry,
		cfg:       cfg.withDefaults(),
	}
}

// cachedResponse is the serialized form of the end-to-end results cache.
type cachedResponse struct {
	Results  []model.RankedBusiness `json:"results"`
	Total    int                    `json:"total"`
	Analysis model.QueryAnalysis    `json:"analysis"`
}

// ProcessQuery runs the full pipeline. The only returned error is an
// invalid query; every other failure degrades and is reported inside
// Performance.Errors.
func (o *Orchestrator) ProcessQuery(ctx context.Context, req Request) (*model.SearchResponse, error) {
	start := time.Now()
	requestID := strconv.FormatInt(id.New(), 10)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	userID := req.UserID
	var userPtr *string
	if userID != "" {
		userPtr = &userID
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID: requestID,
		UserID:    userPtr,
		IP:        req.IP,
		Component: "querycore.pipeline",
	})

	perf := newPerfRecorder(requestID, start)

	// Step 1: validate & sanitize. The one fail-fast path.
	stepStart := time.Now()
	query := sanitizeQuery(req.Query)
	if query == "" {
		err := pipelineerr.New(pipelineerr.KindInvalidQuery, "sanitize", errors.New("query is empty after sanitization"))
		perf.step("sanitize", stepStart, false, err)
		return nil, err
	}
	perf.step("sanitize", stepStart, false, nil)

	slog.InfoContext(ctx, "processing query", "query", logger.Truncate(query, 120))

	queryHash := cache.HashHex(query, req.Filters.CanonicalString())

	// Step 2: full-result cache probe.
	stepStart = time.Now()
	if resp := o.probeResultCache(ctx, queryHash); resp != nil {
		perf.step("cache_probe", stepStart, true, nil)
		perf.countCacheHit()
		resp.Performance = perf.finish(len(resp.Results))
		o.recordTelemetry(requestID, queryHash, resp)
		return resp, nil
	}
	perf.step("cache_probe", stepStart, false, nil)

	// Step 3: normalize the query string for retrieval.
	stepStart = time.Now()
	normalizedQuery, ok := taxonomy.NormalizeBusinessName(query, true)
	if !ok {
		normalizedQuery = query
	}
	perf.step("normalize", stepStart, false, nil)

	// Step 4: NLP analysis (three sub-tasks, all-settle), with the
	// analysis cache consulted first and a heuristic fallback after.
	analysis := o.analyzeStep(ctx, perf, query, queryHash, nlp.Principal{UserID: req.UserID, IP: req.IP})

	// Step 5: entity-derived filters. A price word in the query becomes a
	// price filter unless the session already set one. (Entity
	// normalization itself is folded into the analyzer; cached analyses
	// arrive already normalized.)
	if len(req.Filters.Prices) == 0 {
		for _, p := range analysis.Entities.Prices {
			price := model.PriceRange(p)
			if model.ValidPriceRange(price) {
				req.Filters.Prices = append(req.Filters.Prices, price)
			}
		}
	}

	// Step 6: resolve location. A "near me" query that resolves nothing is
	// a non-fatal error; retrieval proceeds unanchored.
	stepStart = time.Now()
	analysis.Location = o.resolveLocation(ctx, req, analysis)
	var locErr error
	if analysis.Location == nil && isNearMeQuery(query) {
		locErr = pipelineerr.New(pipelineerr.KindInvalidQuery, "resolve_location",
			errors.New("location required for a near-me query but none could be resolved"))
	}
	perf.step("resolve_location", stepStart, false, locErr)

	// Step 7: embed.
	vector := o.embedStep(ctx, perf, normalizedQuery, req)

	// Step 8: retrieve (keyword ∥ semantic → merge).
	items := o.retrieveStep(ctx, perf, normalizedQuery, vector, analysis, req.Filters)

	// Step 9: filter.
	stepStart = time.Now()
	filtered := o.filters.Apply(items, req.Filters, analysis)
	perf.step("filter", stepStart, false, nil)

	// Step 10: rank.
	stepStart = time.Now()
	ranked := o.ranker.Rank(filtered, analysis.Location, keyword.ExtractKeywords(normalizedQuery))
	perf.step("rank", stepStart, false, nil)

	total := len(ranked)
	if len(ranked) > o.cfg.PageSize {
		ranked = ranked[:o.cfg.PageSize]
	}
	if ranked == nil {
		ranked = []model.RankedBusiness{}
	}

	if err := ctx.Err(); err != nil {
		perf.addError("pipeline", pipelineerr.New(pipelineerr.KindTimeout, "pipeline", err))
	}

	resp := &model.SearchResponse{
		Results:  ranked,
		Total:    total,
		Analysis: analysis,
	}
	resp.Performance = perf.finish(len(ranked))

	// Step 11: write caches asynchronously; never block the response.
	o.writeCachesAsync(queryHash, resp)
	o.recordTelemetry(requestID, queryHash, resp)

	slog.InfoContext(ctx, "query processed",
		"results", len(ranked),
		"total", total,
		"errors", len(resp.Performance.Errors),
		"duration_ms", resp.Performance.TotalMS)

	return resp, nil
}

// probeResultCache returns a response only when all three per-query
// sections are present, per the full-cache fast path contract.
func (o *Orchestrator) probeResultCache(ctx context.Context, queryHash string) *model.SearchResponse {
	raw, ok := o.cache.Get(ctx, cache.QueryKey(queryHash, cache.SectionResults))
	if !ok {
		return nil
	}
	if _, ok := o.cache.Get(ctx, cache.QueryKey(queryHash, cache.SectionAnalysis)); !ok {
		return nil
	}
	if _, ok := o.cache.Get(ctx, cache.QueryKey(queryHash, cache.SectionEmbedding)); !ok {
		return nil
	}

	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil
	}
	if cached.Results == nil {
		cached.Results = []model.RankedBusiness{}
	}
	return &model.SearchResponse{
		Results:  cached.Results,
		Total:    cached.Total,
		Analysis: cached.Analysis,
	}
}

func (o *Orchestrator) analyzeStep(ctx context.Context, perf *perfRecorder, query, queryHash string, principal nlp.Principal) model.QueryAnalysis {
	stepStart := time.Now()

	analysisKey := cache.QueryKey(queryHash, cache.SectionAnalysis)
	if raw, ok := o.cache.Get(ctx, analysisKey); ok {
		var cached model.QueryAnalysis
		if err := json.Unmarshal(raw, &cached); err == nil {
			perf.countCacheHit()
			perf.step("analyze", stepStart, true, nil)
			return cached
		}
	}

	sc := logger.StartSpan(ctx, "pipeline.analyze")
	result := o.analyzer.AnalyzeQuery(sc.Context(), query, principal)
	sc.End()

	perf.countModelCalls(result.ModelCalls)
	var firstErr error
	for i, err := range result.Errors {
		if i == 0 {
			firstErr = err
		} else {
			perf.addError("analyze", err)
		}
	}
	perf.step("analyze", stepStart, false, firstErr)

	analysis := result.Analysis

	// Heuristic category fallback: when the classifier contributed
	// nothing, a lexical category hit is better than "general".
	if analysis.Category == taxonomy.GeneralCategoryID && analysis.CategoryConfidence == 0 {
		if ids := o.tax.ExtractCategoryIDs(query); len(ids) > 0 {
			if root := o.tax.RootOf(ids[0]); root != "" {
				analysis.Category = root
				analysis.CategoryConfidence = 0.5
			}
		}
	}

	return analysis
}

func (o *Orchestrator) embedStep(ctx context.Context, perf *perfRecorder, normalizedQuery string, req Request) []float32 {
	stepStart := time.Now()

	sc := logger.StartSpan(ctx, "pipeline.embed")
	vector, called, err := o.embedder.EmbedQuery(sc.Context(), normalizedQuery, req.UserID, req.IP)
	sc.End()

	if called {
		perf.countModelCalls(1)
	} else if err == nil {
		perf.countCacheHit()
	}

	if err != nil {
		// Degraded path: zero vector, keyword-only retrieval.
		perf.step("embed", stepStart, false, err)
		return o.embedder.ZeroVector()
	}
	perf.step("embed", stepStart, !called, nil)
	return vector
}

// retrieveStep fans out the two retrievers and merges. With a zero vector
// the semantic side short-circuits to an empty contribution, which makes
// the degraded path identical to keyword-only retrieval.
func (o *Orchestrator) retrieveStep(ctx context.Context, perf *perfRecorder, normalizedQuery string, vector []float32, analysis model.QueryAnalysis, filters model.SearchFilters) []hybrid.Item {
	stepStart := time.Now()

	semFilters := semantic.Filters{
		CategoryID: analysis.AuthoritativeCategory(),
	}
	if semFilters.CategoryID == taxonomy.GeneralCategoryID {
		semFilters.CategoryID = ""
	}
	if filters.Category != "" {
		semFilters.CategoryID = filters.Category
	}
	if analysis.Location != nil {
		semFilters.City = analysis.Location.City
		if isNearMeQuery(normalizedQuery) || len(analysis.Entities.Locations) == 0 {
			lat, lng := analysis.Location.Lat, analysis.Location.Lng
			semFilters.Lat = &lat
			semFilters.Lng = &lng
			if filters.MaxDistanceM > 0 {
				semFilters.RadiusKM = filters.MaxDistanceM / 1000
			}
		}
	}

	var (
		wg         sync.WaitGroup
		keywordRes []keyword.Result
		semRes     []semantic.Result
		keywordErr error
		semErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := logger.StartSpan(ctx, "pipeline.retrieve_keyword")
		defer sc.End()
		keywordRes, keywordErr = o.keyword.Retrieve(sc.Context(), normalizedQuery, o.cfg.RetrieveLimit)
	}()
	go func() {
		defer wg.Done()
		sc := logger.StartSpan(ctx, "pipeline.retrieve_semantic")
		defer sc.End()
		semRes, semErr = o.semantic.Retrieve(sc.Context(), vector, semFilters, o.cfg.RetrieveLimit)
	}()
	wg.Wait()

	if keywordErr != nil {
		o.flog.Record("retrieve_keyword", fallback.Classify(keywordErr), keywordErr)
		perf.addError("retrieve_keyword", keywordErr)
	}
	if semErr != nil {
		o.flog.Record("retrieve_semantic", fallback.Classify(semErr), semErr)
		perf.addError("retrieve_semantic", semErr)
	}

	items := o.merger.Merge(semRes, keywordRes, o.cfg.Weights, analysis.AuthoritativeCategory())
	perf.step("retrieve", stepStart, false, nil)
	return items
}

// writeCachesAsync stores the analysis and full-result sections without
// blocking the response. The query vector itself is cached by the embedding
// provider under its own key; here the embedding section only gets a marker
// entry, written on every run, so the three-section fast-path check passes.
func (o *Orchestrator) writeCachesAsync(queryHash string, resp *model.SearchResponse) {
	analysisCopy := resp.Analysis
	payload := cachedResponse{
		Results:  resp.Results,
		Total:    resp.Total,
		Analysis: analysisCopy,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if raw, err := json.Marshal(analysisCopy); err == nil {
			o.cache.Set(ctx, cache.QueryKey(queryHash, cache.SectionAnalysis), raw, cache.TTLAnalysis)
		}
		if raw, err := json.Marshal(payload); err == nil {
			o.cache.Set(ctx, cache.QueryKey(queryHash, cache.SectionResults), raw, cache.TTLResults)
		}
		o.cache.Set(ctx, cache.QueryKey(queryHash, cache.SectionEmbedding), []byte("1"), cache.TTLEmbedding)
	}()
}

func (o *Orchestrator) recordTelemetry(requestID, queryHash string, resp *model.SearchResponse) {
	if o.telemetry == nil {
		return
	}
	rec := RequestRecord{
		RequestID:   requestID,
		QueryHash:   queryHash,
		ResultCount: len(resp.Results),
		Performance: resp.Performance,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.telemetry.Record(ctx, rec)
	}()
}

// FallbackEntries exposes the recent degraded-path log for operators.
func (o *Orchestrator) FallbackEntries() []fallback.Entry {
	return o.flog.Entries()
}
