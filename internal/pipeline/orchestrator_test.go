package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/placefinder/querycore/common/llm"
	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/core/fallback"
	"github.com/placefinder/querycore/core/pipelineerr"
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
	"github.com/placefinder/querycore/internal/taxonomy"
)

func coord(v float64) *float64 { return &v }

func fixtureBusinesses() []model.Business {
	now := time.Now()
	mk := func(id, name, category, sub, city string, lat, lng, rating float64, price model.PriceRange) model.Business {
		normalized, _ := taxonomy.NormalizeBusinessName(name, true)
		return model.Business{
			ID:               id,
			Name:             name,
			NormalizedName:   normalized,
			CategoryID:       category,
			SubcategoryID:    sub,
			Location:         model.Location{City: city, Lat: coord(lat), Lng: coord(lng)},
			Rating:           rating,
			ReviewCount:      120,
			PriceRange:       price,
			Status:           model.StatusActive,
			Verified:         true,
			CreatedAt:        now.Add(-60 * 24 * time.Hour),
			UpdatedAt:        now.Add(-2 * 24 * time.Hour),
			EmbeddingVersion: "v1",
		}
	}

	return []model.Business{
		mk("cafe-mumbai-1", "Blue Tokai Coffee", "food", "cafe", "Mumbai", 19.08, 72.88, 4.6, model.PriceModerate),
		mk("cafe-mumbai-2", "Third Wave Coffee", "food", "cafe", "Mumbai", 19.06, 72.86, 4.3, model.PriceModerate),
		mk("cafe-blr-1", "Roastery Coffee House", "food", "cafe", "Bangalore", 12.97, 77.59, 4.5, model.PriceModerate),
		mk("resto-blr-1", "Cheap Eats Italiano", "food", "restaurant_fine", "Bangalore", 12.96, 77.60, 4.1, model.PriceBudget),
		mk("resto-blr-2", "Bella Napoli", "food", "restaurant_fine", "Bangalore", 12.98, 77.58, 4.4, model.PriceExpensive),
		mk("gym-mumbai-1", "Iron Paradise Gym", "fitness", "gym", "Mumbai", 19.07, 72.87, 4.2, model.PriceModerate),
		mk("starbucks-1", "Starbucks Koregaon Park", "food", "cafe", "Pune", 18.54, 73.89, 4.0, model.PriceExpensive),
	}
}

func fixtureVectors(businesses []model.Business) map[string][]float32 {
	vectors := make(map[string][]float32)
	for _, b := range businesses {
		switch b.CategoryID {
		case "food":
			vectors[b.ID] = []float32{0.9, 0.1, 0, 0}
		case "fitness":
			vectors[b.ID] = []float32{0, 0.9, 0.1, 0}
		}
	}
	return vectors
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx          context.Context
		llmClient    *mockLLM
		embedClient  *mockEmbedder
		businesses   *mockBusinessStore
		vectors      *mockVectorStore
		profiles     *mockProfileStore
		sink         *mockSink
		memCache     *cache.MemoryCache
		limiter      *ratelimit.Limiter
		orchestrator *pipeline.Orchestrator
	)

	build := func() *pipeline.Orchestrator {
		tax := taxonomy.Default()
		flog := fallback.NewLog()

		analyzer := nlp.New(llmClient, limiter, flog, tax, nlp.Config{
			CallTimeout:    time.Second,
			WaitTimeout:    50 * time.Millisecond,
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
		})
		embedder := embedding.New(embedClient, memCache, limiter, flog, embedding.Config{
			Model:          "test-embed",
			Dimension:      4,
			Version:        "v1",
			CallTimeout:    time.Second,
			WaitTimeout:    50 * time.Millisecond,
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
		})
		keywordRetriever := keyword.New(businesses, tax)
		semanticRetriever := semantic.New(businesses, vectors, memCache, semantic.Config{
			Version:   "v1",
			Dimension: 4,
		})

		return pipeline.New(
			analyzer,
			embedder,
			keywordRetriever,
			semanticRetriever,
			hybrid.New(tax),
			filter.New(tax, filter.Config{}),
			rank.New(),
			memCache,
			flog,
			tax,
			pipeline.Deps{Profiles: profiles, Telemetry: sink},
			pipeline.Config{RequestTimeout: 5 * time.Second, PageSize: 20},
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		llmClient = happyAnalysisLLM()
		embedClient = &mockEmbedder{}
		fleet := fixtureBusinesses()
		businesses = &mockBusinessStore{businesses: fleet}
		vectors = &mockVectorStore{vectors: fixtureVectors(fleet)}
		profiles = &mockProfileStore{}
		sink = &mockSink{}
		memCache = cache.NewMemory()
		limiter = ratelimit.New(ratelimit.Config{})
	})

	AfterEach(func() {
		limiter.Shutdown()
		memCache.Close()
	})

	It("rejects unusable queries with an invalid-query error", func() {
		orchestrator = build()

		_, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "   <>{}  "})
		Expect(err).To(HaveOccurred())
		Expect(pipelineerr.KindOf(err)).To(Equal(pipelineerr.KindInvalidQuery))
	})

	Describe("coffee shops near me with a profile location", func() {
		BeforeEach(func() {
			profiles.getFn = func(_ context.Context, userID string) (*pipeline.ProfileLocation, error) {
				return &pipeline.ProfileLocation{
					Lat: 19.0760, Lng: 72.8777, City: "Mumbai",
					LastUpdated: time.Now().Add(-24 * time.Hour),
				}, nil
			}
			orchestrator = build()
		})

		It("resolves the profile location and restricts results to the city", func() {
			resp, err := orchestrator.ProcessQuery(ctx, pipeline.Request{
				Query:  "coffee shops near me",
				UserID: "u1",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.Analysis.Intent).To(Equal(model.IntentSearch))
			Expect(resp.Analysis.Location).NotTo(BeNil())
			Expect(resp.Analysis.Location.Source).To(Equal(model.LocationSourceProfile))
			Expect(resp.Analysis.Location.City).To(Equal("Mumbai"))
			Expect(resp.Analysis.Entities.Locations).To(BeEmpty())

			Expect(resp.Results).NotTo(BeEmpty())
			Expect(len(resp.Results)).To(BeNumerically("<=", 20))
			for _, r := range resp.Results {
				Expect(r.Business.Location.City).To(Equal("Mumbai"))
				Expect(r.DistanceM).NotTo(BeNil())
			}
			Expect(resp.Performance.Errors).To(BeEmpty())
		})
	})

	Describe("city-scoped query with a price word", func() {
		It("derives the price filter and keeps only budget businesses in the city", func() {
			orchestrator = build()

			resp, err := orchestrator.ProcessQuery(ctx, pipeline.Request{
				Query: "cheap italian restaurants in Bangalore",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.Analysis.Entities.Locations).To(Equal([]string{"Bangalore"}))
			Expect(resp.Analysis.Entities.Prices).To(Equal([]string{"$"}))
			Expect(resp.Analysis.Location).NotTo(BeNil())
			Expect(resp.Analysis.Location.Source).To(Equal(model.LocationSourceExplicit))
			Expect(resp.Analysis.Location.City).To(Equal("Bangalore"))

			Expect(resp.Results).NotTo(BeEmpty())
			for _, r := range resp.Results {
				Expect(r.Business.Location.City).To(Equal("Bangalore"))
				Expect(r.Business.PriceRange).To(Equal(model.PriceBudget))
				Expect(r.Business.Status).To(Equal(model.StatusActive))
			}
		})
	})

	Describe("anonymous proper-noun query", func() {
		It("finds the named business through the keyword side", func() {
			orchestrator = build()

			resp, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "Starbucks"})
			Expect(err).NotTo(HaveOccurred())

			Expect(resp.Analysis.Entities.BusinessNames).To(Equal([]string{"starbucks"}))
			Expect(resp.Results).NotTo(BeEmpty())
			Expect(resp.Results[0].Business.Name).To(ContainSubstring("Starbucks"))
			Expect(resp.Total).To(BeNumerically(">=", len(resp.Results)))
		})
	})

	Describe("model outage", func() {
		BeforeEach(func() {
			llmClient = &mockLLM{
				chatFn: func(context.Context, llm.Request, any) (*llm.Response, error) {
					return nil, errors.New("ThrottlingException: rate exceeded")
				},
			}
			orchestrator = build()
		})

		It("falls back to heuristic analysis and flags partial results", func() {
			resp, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "coffee shops"})
			Expect(err).NotTo(HaveOccurred())

			// Heuristic category from the lexical scan stands in for the
			// classifier.
			Expect(resp.Analysis.Intent).To(Equal(model.IntentSearch))
			Expect(resp.Analysis.Category).To(Equal("food"))

			// Keyword retrieval still finds matches.
			Expect(resp.Results).NotTo(BeEmpty())

			Expect(resp.Performance.Errors).NotTo(BeEmpty())
			Expect(resp.Performance.PartialResults).To(BeTrue())
		})
	})

	Describe("embedding outage", func() {
		It("degrades to exactly the keyword-only result list", func() {
			embedClient.embedFn = func(context.Context, string, string) ([]float32, error) {
				return nil, errors.New("request timed out")
			}
			orchestrator = build()
			degraded, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "coffee in Mumbai"})
			Expect(err).NotTo(HaveOccurred())
			Expect(degraded.Performance.Errors).NotTo(BeEmpty())

			// A separate orchestrator whose semantic store has no vectors
			// is keyword-only by construction.
			vectors.vectors = map[string][]float32{}
			memCache.Close()
			memCache = cache.NewMemory()
			orchestrator = build()
			keywordOnly, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "coffee in Mumbai"})
			Expect(err).NotTo(HaveOccurred())

			Expect(resultIDs(degraded)).To(Equal(resultIDs(keywordOnly)))
		})
	})

	Describe("result caching", func() {
		It("serves the second identical request from cache", func() {
			orchestrator = build()

			first, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "coffee shops"})
			Expect(err).NotTo(HaveOccurred())

			// Cache writes are async; give them a beat.
			Eventually(func() bool {
				resp, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "coffee shops"})
				Expect(err).NotTo(HaveOccurred())
				return resp.Performance.CacheHits > 0 && resp.Performance.ModelCalls == 0
			}, time.Second, 20*time.Millisecond).Should(BeTrue())

			second, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "coffee shops"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resultIDs(second)).To(Equal(resultIDs(first)))
		})
	})

	Describe("telemetry", func() {
		It("records one request record per call", func() {
			orchestrator = build()

			_, err := orchestrator.ProcessQuery(ctx, pipeline.Request{Query: "coffee shops"})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				sink.mu.Lock()
				defer sink.mu.Unlock()
				return len(sink.records)
			}, time.Second, 10*time.Millisecond).Should(Equal(1))
		})
	})
})

func resultIDs(resp *model.SearchResponse) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.Business.ID
	}
	return ids
}
