// Package keyword is the lexical retriever: two candidate passes over the
// business store (free-text scan and taxonomy category fetch) scored by
// exact/prefix/word-boundary text matching plus category relevance.
package keyword

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/store"
	"github.com/placefinder/querycore/internal/taxonomy"
)

const (
	// maxBoost caps the per-item query-keyword bonus.
	maxBoost = 0.25

	// storeRetries covers transient store failures within the stage.
	storeRetries = 3
)

// stopPrepositions are stripped before keyword extraction so "in Mumbai"
// contributes "mumbai", not "in".
var stopPrepositions = map[string]bool{
	"in": true, "near": true, "at": true, "around": true,
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"best": true, "top": true, "good": true, "find": true, "show": true,
	"place": true, "places": true, "where": true, "what": true, "how": true,
	"some": true, "any": true, "near": true, "nearby": true, "open": true,
}

// Result is one scored lexical candidate. TextScore and CategoryRelevance
// are kept separate so the hybrid merger can recompute the combination
// under an authority override.
type Result struct {
	Business model.Business

	// Relevance is the final combined lexical score in [0,1].
	Relevance float64

	// TextScore is the pre-category 0.6*name + 0.2*description + bonus.
	TextScore float64

	// CategoryRelevance is 0.7 exact, 0.4 parent, 0.3 any-taxonomy, 0 none.
	CategoryRelevance float64

	// MatchedCategoryID is the query category that produced
	// CategoryRelevance, empty when none matched.
	MatchedCategoryID string
}

type Retriever struct {
	store store.BusinessStore
	tax   *taxonomy.Taxonomy
}

func New(s store.BusinessStore, tax *taxonomy.Taxonomy) *Retriever {
	return &Retriever{store: s, tax: tax}
}

// Retrieve runs both candidate passes and scores the merged set. Store
// failures retry up to three times; exhaustion returns an empty partial
// with a StoreUnavailable error rather than aborting the pipeline.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]Result, error) {
	start := time.Now()

	cleaned := strings.ToLower(strings.TrimSpace(query))
	keywords := ExtractKeywords(query)
	categoryIDs := r.tax.ExtractCategoryIDs(query)

	candidates, err := r.collectCandidates(ctx, keywords, categoryIDs, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, b := range candidates {
		scored := r.score(b, cleaned, keywords, categoryIDs)
		if scored.Relevance > 0 {
			results = append(results, scored)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		if results[i].Business.Name != results[j].Business.Name {
			return results[i].Business.Name < results[j].Business.Name
		}
		return results[i].Business.ID < results[j].Business.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}

	slog.DebugContext(ctx, "keyword retrieval completed",
		"keywords", len(keywords),
		"categories", len(categoryIDs),
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// collectCandidates merges the name/description/category scan with the
// per-category fetches, deduplicated by id with the name pass winning.
func (r *Retriever) collectCandidates(ctx context.Context, keywords, categoryIDs []string, limit int) ([]model.Business, error) {
	var out []model.Business
	seen := make(map[string]bool)

	if len(keywords) > 0 {
		scanned, err := r.withStoreRetry(ctx, func(ctx context.Context) ([]model.Business, error) {
			return r.store.ScanWithContains(ctx,
				[]string{store.FieldName, store.FieldDescription, store.FieldCategory},
				keywords,
				[]model.Status{model.StatusActive},
				limit*2)
		})
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindStoreUnavailable, "retrieve_keyword", err)
		}
		for _, b := range scanned {
			if !seen[b.ID] {
				seen[b.ID] = true
				out = append(out, b)
			}
		}
	}

	for _, categoryID := range categoryIDs {
		fetched, err := r.withStoreRetry(ctx, func(ctx context.Context) ([]model.Business, error) {
			return r.store.QueryByCategoryAndCity(ctx, categoryID, "", limit)
		})
		if err != nil {
			// The name pass may already have candidates; a failed
			// category fetch degrades rather than aborts.
			slog.WarnContext(ctx, "category pass failed",
				"category", categoryID, "error", err)
			continue
		}
		for _, b := range fetched {
			if !seen[b.ID] {
				seen[b.ID] = true
				out = append(out, b)
			}
		}
	}

	return out, nil
}

func (r *Retriever) withStoreRetry(ctx context.Context, op func(context.Context) ([]model.Business, error)) ([]model.Business, error) {
	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("store query failed after %d attempts: %w", storeRetries, lastErr)
}

// score computes the lexical relevance of one candidate.
func (r *Retriever) score(b model.Business, cleanedQuery string, keywords, categoryIDs []string) Result {
	name := b.NormalizedName
	if name == "" {
		name, _ = taxonomy.NormalizeBusinessName(b.Name, true)
	}
	description := strings.ToLower(b.Description)

	nameMatch := MatchText(name, cleanedQuery, keywords)
	descMatch := MatchText(description, cleanedQuery, keywords)
	bonus := Boost(keywords, name, description)

	text := 0.6*nameMatch + 0.2*descMatch + bonus

	catRel, matchedID := r.categoryRelevance(b, categoryIDs)
	relevance := CombineWithCategory(text, catRel)

	return Result{
		Business:          b,
		Relevance:         relevance,
		TextScore:         text,
		CategoryRelevance: catRel,
		MatchedCategoryID: matchedID,
	}
}

// categoryRelevance scores the best query-category hit against the
// business's category pair: exact id 0.7, parent id 0.4, shared root 0.3.
func (r *Retriever) categoryRelevance(b model.Business, categoryIDs []string) (float64, string) {
	best := 0.0
	matched := ""
	for _, id := range categoryIDs {
		score := 0.0
		switch {
		case id == b.CategoryID || id == b.SubcategoryID:
			score = 0.7
		case r.tax.RootOf(id) == b.CategoryID || r.tax.IsParentOf(b.CategoryID, id):
			score = 0.4
		case r.tax.RootOf(id) != "" && r.tax.RootOf(id) == r.tax.RootOf(b.CategoryID):
			score = 0.3
		}
		if score > best {
			best = score
			matched = id
		}
	}
	return best, matched
}

// CombineWithCategory folds the category signal into the text score:
// authoritative-strength category hits dominate, mid-strength hits blend,
// weak hits only ever raise the floor.
func CombineWithCategory(text, categoryRelevance float64) float64 {
	var combined float64
	switch {
	case categoryRelevance >= 0.7:
		combined = categoryRelevance + 0.2*text
	case categoryRelevance >= 0.4:
		combined = maxFloat(text, 0.7*categoryRelevance+0.3*text)
	default:
		combined = maxFloat(text, categoryRelevance)
	}
	if combined > 1 {
		return 1
	}
	return combined
}

// ExtractKeywords splits the query into scoring keywords: stop-prepositions
// stripped, short and stop-listed words dropped unless protected by a
// recognized multi-word phrase.
func ExtractKeywords(query string) []string {
	lower := strings.ToLower(strings.TrimSpace(query))

	protected := make(map[string]bool)
	for _, phrase := range taxonomy.MultiWordPhrases() {
		if strings.Contains(lower, phrase) {
			for _, w := range strings.Fields(phrase) {
				protected[w] = true
			}
		}
	}

	var keywords []string
	seen := make(map[string]bool)
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?;:'\"()")
		if word == "" || seen[word] {
			continue
		}
		if stopPrepositions[word] && !protected[word] {
			continue
		}
		if (len(word) < 3 || stopWords[word]) && !protected[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

// MatchText grades how well a field matches the query: exact 1.0, prefix
// 0.9, reverse-prefix 0.8, all keywords as whole words 0.7, all keywords as
// substrings 0.5, query substring 0.3, any keyword substring 0.2.
func MatchText(field, query string, keywords []string) float64 {
	if field == "" || query == "" {
		return 0
	}

	switch {
	case field == query:
		return 1.0
	case strings.HasPrefix(field, query):
		return 0.9
	case strings.HasPrefix(query, field):
		return 0.8
	}

	if len(keywords) > 0 {
		allWhole := true
		allPartial := true
		anyPartial := false
		for _, kw := range keywords {
			if !containsWholeWord(field, kw) {
				allWhole = false
			}
			if strings.Contains(field, kw) {
				anyPartial = true
			} else {
				allPartial = false
			}
		}
		if allWhole {
			return 0.7
		}
		if allPartial {
			return 0.5
		}
		if strings.Contains(field, query) {
			return 0.3
		}
		if anyPartial {
			return 0.2
		}
	} else if strings.Contains(field, query) {
		return 0.3
	}

	return 0
}

// Boost is the query-keyword bonus: 0.15 per whole-word hit in the name,
// 0.10 for a substring hit, 0.05 for a description hit, capped at 0.25.
// The ranker reuses it for the keyword-in-name boost.
func Boost(keywords []string, name, description string) float64 {
	boost := 0.0
	for _, kw := range keywords {
		if len(kw) < 3 {
			continue
		}
		if containsWholeWord(name, kw) {
			boost += 0.15
		} else if strings.Contains(name, kw) {
			boost += 0.10
		}
		if strings.Contains(description, kw) {
			boost += 0.05
		}
	}
	if boost > maxBoost {
		return maxBoost
	}
	return boost
}

func containsWholeWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
