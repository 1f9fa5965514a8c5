// Package semantic is the dense-vector retriever: select a bounded
// candidate set by category/region, fetch stored vectors concurrently,
// score by cosine similarity, and filter by radius.
package semantic

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/placefinder/querycore/common"
	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/internal/geo"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/store"
)

const (
	defaultMaxCandidates = 200
	defaultBatchSize     = 32
	defaultFingerprint   = 10
	fetchConcurrency     = 8
	storeRetries         = 3
)

// Result is one scored semantic candidate. Similarity is raw cosine in
// [-1,1]; the hybrid merger shifts it to [0,1].
type Result struct {
	Business   model.Business `json:"business"`
	Similarity float64        `json:"similarity"`
}

// Filters narrows the candidate set before similarity scoring.
type Filters struct {
	CategoryID string
	City       string
	Lat        *float64
	Lng        *float64
	RadiusKM   float64
}

type Config struct {
	// Version selects which stored business vectors to read.
	Version string

	// Dimension both sides of every similarity pair must have.
	Dimension int

	// MaxCandidates bounds CPU regardless of how many businesses match.
	MaxCandidates int

	// BatchSize sizes the similarity micro-batches.
	BatchSize int

	// FingerprintComponents is how many leading query-vector components
	// feed the similarity cache key.
	FingerprintComponents int
}

func (c Config) withDefaults() Config {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = defaultMaxCandidates
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FingerprintComponents <= 0 {
		c.FingerprintComponents = defaultFingerprint
	}
	return c
}

type Retriever struct {
	businesses store.BusinessStore
	vectors    store.VectorStore
	cache      cache.Cache
	cfg        Config
}

func New(businesses store.BusinessStore, vectors store.VectorStore, c cache.Cache, cfg Config) *Retriever {
	return &Retriever{
		businesses: businesses,
		vectors:    vectors,
		cache:      c,
		cfg:        cfg.withDefaults(),
	}
}

// Retrieve scores the candidate set against the query vector. A zero query
// vector short-circuits to an empty contribution, the declared degraded
// path when embedding was unavailable.
func (r *Retriever) Retrieve(ctx context.Context, queryVector []float32, f Filters, limit int) ([]Result, error) {
	if isZeroVector(queryVector) {
		return nil, nil
	}
	if len(queryVector) != r.cfg.Dimension {
		err := fmt.Errorf("query vector dimension %d, configured %d", len(queryVector), r.cfg.Dimension)
		return nil, pipelineerr.New(pipelineerr.KindDimensionMismatch, "retrieve_semantic", err)
	}

	start := time.Now()

	resultKey := r.similarityKey(queryVector, f)
	if raw, ok := r.cache.Get(ctx, resultKey); ok {
		var cached []Result
		if err := json.Unmarshal(raw, &cached); err == nil {
			if len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		}
	}

	candidates, err := r.selectCandidates(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}

	scored := r.scoreCandidates(ctx, queryVector, candidates, f)

	if f.Lat != nil && f.Lng != nil && f.RadiusKM > 0 {
		kept := scored[:0]
		for _, res := range scored {
			loc := res.Business.Location
			if !loc.HasCoordinates() {
				continue
			}
			d := geo.HaversineM(*f.Lat, *f.Lng, *loc.Lat, *loc.Lng)
			if d <= f.RadiusKM*1000 {
				kept = append(kept, res)
			}
		}
		scored = kept
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Business.ID < scored[j].Business.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if raw, err := json.Marshal(scored); err == nil {
		r.cache.Set(ctx, resultKey, raw, cache.TTLSimilarity)
	}

	slog.DebugContext(ctx, "semantic retrieval completed",
		"candidates", len(candidates),
		"results", len(scored),
		"duration_ms", time.Since(start).Milliseconds())
	return scored, nil
}

// selectCandidates picks the bounded business set to score, cached for ten
// minutes under the category + coarse-coordinates key.
func (r *Retriever) selectCandidates(ctx context.Context, f Filters) ([]model.Business, error) {
	key := r.candidatesKey(f)
	if raw, ok := r.cache.Get(ctx, key); ok {
		var cached []model.Business
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	var (
		businesses []model.Business
		err        error
	)
	switch {
	case f.CategoryID != "":
		businesses, err = r.withRetry(ctx, func(ctx context.Context) ([]model.Business, error) {
			return r.businesses.QueryByCategoryAndCity(ctx, f.CategoryID, f.City, r.cfg.MaxCandidates)
		})
	case f.City != "":
		businesses, err = r.withRetry(ctx, func(ctx context.Context) ([]model.Business, error) {
			return r.businesses.QueryByCity(ctx, f.City, r.cfg.MaxCandidates)
		})
	default:
		businesses, err = r.listVectorBusinesses(ctx)
	}
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindStoreUnavailable, "retrieve_semantic", err)
	}

	if raw, err := json.Marshal(businesses); err == nil {
		r.cache.Set(ctx, key, raw, cache.TTLCandidates)
	}
	return businesses, nil
}

func (r *Retriever) listVectorBusinesses(ctx context.Context) ([]model.Business, error) {
	ids, err := r.withRetryIDs(ctx, func(ctx context.Context) ([]string, error) {
		return r.businesses.ListVectorBusinessIDs(ctx, r.cfg.Version)
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > r.cfg.MaxCandidates {
		ids = ids[:r.cfg.MaxCandidates]
	}

	out := make([]model.Business, 0, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, fetchConcurrency)

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			b, err := r.businesses.GetBusiness(ctx, id)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					slog.WarnContext(ctx, "candidate business fetch failed", "business_id", id, "error", err)
				}
				return
			}
			mu.Lock()
			out = append(out, *b)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	// Concurrent fetch order is arbitrary; restore a stable projection.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// scoreCandidates fetches vectors and computes cosine similarity in
// concurrent micro-batches. Per-candidate failures are logged and omitted;
// dimension mismatches are dropped.
func (r *Retriever) scoreCandidates(ctx context.Context, queryVector []float32, candidates []model.Business, f Filters) []Result {
	locationFiltered := f.Lat != nil && f.Lng != nil && f.RadiusKM > 0

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
	)

	for batchStart := 0; batchStart < len(candidates); batchStart += r.cfg.BatchSize {
		batchEnd := batchStart + r.cfg.BatchSize
		if batchEnd > len(candidates) {
			batchEnd = len(candidates)
		}
		batch := candidates[batchStart:batchEnd]

		wg.Add(1)
		go func(batch []model.Business) {
			defer wg.Done()
			for _, b := range batch {
				if locationFiltered && !b.Location.HasCoordinates() {
					continue
				}

				vector, err := r.vectors.GetVector(ctx, b.ID, r.cfg.Version)
				if err != nil {
					if !errors.Is(err, store.ErrNotFound) {
						slog.WarnContext(ctx, "vector fetch failed, skipping candidate",
							"business_id", b.ID, "error", err)
					}
					continue
				}
				if len(vector) != r.cfg.Dimension {
					slog.WarnContext(ctx, "stored vector dimension mismatch, dropping candidate",
						"business_id", b.ID,
						"dimension", len(vector),
						"configured", r.cfg.Dimension)
					continue
				}

				similarity, ok := cosine(queryVector, vector)
				if !ok {
					continue
				}

				mu.Lock()
				results = append(results, Result{Business: b, Similarity: similarity})
				mu.Unlock()
			}
		}(batch)
	}
	wg.Wait()

	return results
}

func (r *Retriever) withRetry(ctx context.Context, op func(context.Context) ([]model.Business, error)) ([]model.Business, error) {
	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("store query failed after %d attempts: %w", storeRetries, lastErr)
}

func (r *Retriever) withRetryIDs(ctx context.Context, op func(context.Context) ([]string, error)) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < storeRetries; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("store query failed after %d attempts: %w", storeRetries, lastErr)
}

// candidatesKey is semantic:candidates:cat:{id}:loc:{lat2},{lng2}:rad:{km}
// with coordinates coarsened to two decimals.
func (r *Retriever) candidatesKey(f Filters) string {
	cat := f.CategoryID
	if cat == "" {
		cat = "-"
	}
	loc := "-"
	if f.Lat != nil && f.Lng != nil {
		loc = fmt.Sprintf("%.2f,%.2f", *f.Lat, *f.Lng)
	} else if f.City != "" {
		slug, err := common.Slugify(f.City, "")
		if err == nil {
			loc = slug
		}
	}
	return fmt.Sprintf("semantic:candidates:cat:%s:loc:%s:rad:%.0f", cat, loc, f.RadiusKM)
}

// similarityKey fingerprints the leading query-vector components plus the
// filters. Fingerprint collisions are benign because the filters are part
// of the key and the entry is a cache, not a source of truth.
func (r *Retriever) similarityKey(queryVector []float32, f Filters) string {
	n := r.cfg.FingerprintComponents
	if n > len(queryVector) {
		n = len(queryVector)
	}

	h := fnv.New64a()
	buf := make([]byte, 4)
	for _, v := range queryVector[:n] {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}

	filterParts := []string{
		f.CategoryID,
		strings.ToLower(f.City),
		fmt.Sprintf("%.0f", f.RadiusKM),
	}
	if f.Lat != nil && f.Lng != nil {
		filterParts = append(filterParts, fmt.Sprintf("%.2f,%.2f", *f.Lat, *f.Lng))
	}
	filterHash := cache.HashHex(filterParts...)

	return fmt.Sprintf("semantic:similarity:%016x:%s", h.Sum64(), filterHash)
}

// cosine returns the similarity and whether the pair was scorable (zero
// norms are not).
func cosine(a []float32, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
