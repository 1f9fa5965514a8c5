// Package nlp is the query-understanding stage: intent detection, category
// classification, and entity extraction against an external language model,
// memoized in-process and admitted through the shared rate limiter.
package nlp

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/placefinder/querycore/common/llm"
	"github.com/placefinder/querycore/core/fallback"
	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/core/ratelimit"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/taxonomy"
)

const (
	memoTTL         = 24 * time.Hour
	defaultCallTime = 10 * time.Second
	defaultWaitTime = 5 * time.Second
	maxRetries      = 3
	initialBackoff  = time.Second

	// lowCategoryConfidence collapses the result to the general root.
	lowCategoryConfidence = 0.3
)

// Principal identifies the caller for rate-limit bucketing.
type Principal struct {
	UserID string
	IP     string
}

// CategoryResult is the classifier's output after taxonomy normalization.
type CategoryResult struct {
	ID           string
	Confidence   float64
	Alternatives []string
}

type Config struct {
	CallTimeout    time.Duration
	WaitTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTime
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = defaultWaitTime
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = maxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = initialBackoff
	}
	return c
}

// AnalyzeResult bundles the analysis with what it cost to produce.
type AnalyzeResult struct {
	Analysis   model.QueryAnalysis
	ModelCalls int
	Errors     []error
}

// Analyzer owns the three NLP operations and their memo maps. Construct
// with New and Shutdown when done; state is per-instance, never ambient.
type Analyzer struct {
	client  llm.Client
	limiter *ratelimit.Limiter
	flog    *fallback.Log
	tax     *taxonomy.Taxonomy
	cfg     Config

	mu    sync.Mutex
	memos map[string]memoEntry

	// now is swappable for tests.
	now func() time.Time
}

type memoEntry struct {
	value     any
	expiresAt time.Time
}

func New(client llm.Client, limiter *ratelimit.Limiter, flog *fallback.Log, tax *taxonomy.Taxonomy, cfg Config) *Analyzer {
	return &Analyzer{
		client:  client,
		limiter: limiter,
		flog:    flog,
		tax:     tax,
		cfg:     cfg.withDefaults(),
		memos:   make(map[string]memoEntry),
		now:     time.Now,
	}
}

// Shutdown drops the memo maps. The limiter is shared and not stopped here.
func (a *Analyzer) Shutdown() {
	a.mu.Lock()
	a.memos = make(map[string]memoEntry)
	a.mu.Unlock()
}

// AnalyzeQuery runs intent, category, and entity extraction concurrently
// with an all-settle join: a failed sub-task contributes its default and a
// recorded error, never a cancelled sibling.
func (a *Analyzer) AnalyzeQuery(ctx context.Context, query string, p Principal) AnalyzeResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result AnalyzeResult
	)

	result.Analysis = model.QueryAnalysis{
		Intent:   model.IntentSearch,
		Category: taxonomy.GeneralCategoryID,
		Entities: model.Entities{
			Locations:     []string{},
			BusinessNames: []string{},
			Times:         []string{},
			Prices:        []string{},
			Features:      []string{},
		},
	}

	record := func(called bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		if called {
			result.ModelCalls++
		}
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		intent, confidence, called, err := a.DetectIntent(ctx, query, p)
		record(called, err)
		if err != nil {
			return
		}
		mu.Lock()
		result.Analysis.Intent = intent
		result.Analysis.IntentConfidence = confidence
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		category, called, err := a.ClassifyCategory(ctx, query, p)
		record(called, err)
		if err != nil {
			return
		}
		mu.Lock()
		result.Analysis.Category = category.ID
		result.Analysis.CategoryConfidence = category.Confidence
		result.Analysis.CategoryAlternatives = category.Alternatives
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		entities, called, err := a.ExtractEntities(ctx, query, p)
		record(called, err)
		if err != nil {
			return
		}
		mu.Lock()
		result.Analysis.Entities = entities
		mu.Unlock()
	}()
	wg.Wait()

	result.Analysis.Confidence = 0.3*result.Analysis.IntentConfidence +
		0.4*result.Analysis.CategoryConfidence +
		0.3*result.Analysis.Entities.Confidence

	if result.Analysis.CategoryConfidence < 0.5 {
		slog.InfoContext(ctx, "low-confidence category classification",
			"category", result.Analysis.Category,
			"confidence", result.Analysis.CategoryConfidence)
	}

	return result
}

// DetectIntent classifies the query into one of the six intent tokens.
// The bool reports whether a model call was made (false on memo hits).
func (a *Analyzer) DetectIntent(ctx context.Context, query string, p Principal) (model.Intent, float64, bool, error) {
	key := memoKey("intent", query)
	if cached, ok := a.memoGet(key); ok {
		resp := cached.(intentResponse)
		return model.Intent(resp.Intent), resp.Confidence, false, nil
	}

	var resp intentResponse
	err := a.call(ctx, p, "detect_intent", llm.Request{
		SystemPrompt: intentSystemPrompt,
		UserPrompt:   userPrompt(query),
		SchemaName:   "query_intent",
		Schema:       intentSchema,
		MaxTokens:    200,
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		return model.IntentUnknown, 0, true, err
	}

	if !model.ValidIntent(resp.Intent) {
		resp.Intent = string(model.IntentUnknown)
	}
	resp.Confidence = clamp01(resp.Confidence)
	a.memoSet(key, resp)
	return model.Intent(resp.Intent), resp.Confidence, true, nil
}

// ClassifyCategory maps the query to a root taxonomy category. The raw
// model label goes through the taxonomy normalizer; unresolvable labels and
// low-confidence results collapse to the reserved general root.
func (a *Analyzer) ClassifyCategory(ctx context.Context, query string, p Principal) (CategoryResult, bool, error) {
	key := memoKey("category", query)
	if cached, ok := a.memoGet(key); ok {
		return cached.(CategoryResult), false, nil
	}

	var resp categoryResponse
	err := a.call(ctx, p, "classify_category", llm.Request{
		SystemPrompt: categorySystemPrompt(a.tax.RootIDs()),
		UserPrompt:   userPrompt(query),
		SchemaName:   "query_category",
		Schema:       categorySchema,
		MaxTokens:    300,
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		return CategoryResult{}, true, err
	}

	result := CategoryResult{Confidence: clamp01(resp.Confidence)}

	id, ok := a.tax.NormalizeCategory(resp.Category)
	if !ok || result.Confidence < lowCategoryConfidence {
		id = taxonomy.GeneralCategoryID
	}
	result.ID = id

	seen := map[string]bool{id: true}
	for _, alt := range resp.Alternatives {
		if len(result.Alternatives) == 3 {
			break
		}
		altID, ok := a.tax.NormalizeCategory(alt)
		if !ok || seen[altID] {
			continue
		}
		seen[altID] = true
		result.Alternatives = append(result.Alternatives, altID)
	}

	a.memoSet(key, result)
	return result, true, nil
}

// ExtractEntities pulls the entity lists out of the query, normalizing each
// through the C1 normalizers and deduplicating preserving first occurrence.
func (a *Analyzer) ExtractEntities(ctx context.Context, query string, p Principal) (model.Entities, bool, error) {
	key := memoKey("entities", query)
	if cached, ok := a.memoGet(key); ok {
		return cached.(model.Entities), false, nil
	}

	var resp entitiesResponse
	err := a.call(ctx, p, "extract_entities", llm.Request{
		SystemPrompt: entitiesSystemPrompt,
		UserPrompt:   userPrompt(query),
		SchemaName:   "query_entities",
		Schema:       entitiesSchema,
		MaxTokens:    400,
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		return model.Entities{}, true, err
	}

	entities := model.Entities{
		Locations:     normalizeList(resp.Locations, normalizeLocation),
		BusinessNames: normalizeList(resp.BusinessNames, normalizeBusinessName),
		Times:         normalizeList(resp.Times, normalizePlain),
		Prices:        normalizeList(resp.Prices, normalizePrice),
		Features:      normalizeList(resp.Features, normalizePlain),
		Confidence:    clamp01(resp.Confidence),
	}

	a.memoSet(key, entities)
	return entities, true, nil
}

// call admits through the rate limiter, then runs the model call under the
// per-call timeout with backoff on retryable failures.
func (a *Analyzer) call(ctx context.Context, p Principal, op string, req llm.Request, result any) error {
	if err := a.limiter.WaitForSlot(ctx, p.UserID, p.IP, a.cfg.WaitTimeout); err != nil {
		a.flog.Record(op, fallback.ClassRateLimit, err)
		return pipelineerr.New(pipelineerr.KindRateLimitTimeout, op, err)
	}

	_, err := fallback.RetryWithBackoff(ctx, func(ctx context.Context) (*llm.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
		return a.client.Chat(callCtx, req, result)
	}, a.cfg.MaxRetries, a.cfg.InitialBackoff)
	if err != nil {
		a.flog.Record(op, fallback.Classify(err), err)
		return pipelineerr.New(pipelineerr.KindModelUnavailable, op, err)
	}
	return nil
}

func (a *Analyzer) memoGet(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.memos[key]
	if !ok || a.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (a *Analyzer) memoSet(key string, value any) {
	a.mu.Lock()
	a.memos[key] = memoEntry{value: value, expiresAt: a.now().Add(memoTTL)}
	a.mu.Unlock()
}

func memoKey(task, query string) string {
	return task + ":" + strings.ToLower(strings.TrimSpace(query))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func normalizeList(in []string, normalize func(string) (string, bool)) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, raw := range in {
		value, ok := normalize(raw)
		if !ok || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}

func normalizeLocation(s string) (string, bool) {
	return taxonomy.NormalizeLocationName(s)
}

func normalizeBusinessName(s string) (string, bool) {
	// Entity values are candidate business names; keep the shape checks.
	return taxonomy.NormalizeBusinessName(s, false)
}

func normalizePrice(s string) (string, bool) {
	price, ok := taxonomy.NormalizePriceRange(s)
	if !ok {
		return "", false
	}
	return string(price), true
}

func normalizePlain(s string) (string, bool) {
	cleaned := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
	return cleaned, cleaned != ""
}
