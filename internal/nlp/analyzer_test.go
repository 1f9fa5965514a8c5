package nlp_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/placefinder/querycore/common/llm"
	"github.com/placefinder/querycore/core/fallback"
	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/core/ratelimit"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/nlp"
	"github.com/placefinder/querycore/internal/taxonomy"
)

// mockLLM routes each schema name to a canned JSON payload, the same
// function-field idiom the service mocks use.
type mockLLM struct {
	chatFn func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	calls  atomic.Int64
}

func (m *mockLLM) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.calls.Add(1)
	if m.chatFn != nil {
		return m.chatFn(ctx, req, result)
	}
	return &llm.Response{}, nil
}

func (m *mockLLM) Model() string { return "mock" }

func respond(payload string, result any) (*llm.Response, error) {
	if err := json.Unmarshal([]byte(payload), result); err != nil {
		return nil, err
	}
	return &llm.Response{PromptTokens: 10, CompletionTokens: 5}, nil
}

func routeBySchema(intent, category, entities string) func(context.Context, llm.Request, any) (*llm.Response, error) {
	return func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
		switch req.SchemaName {
		case "query_intent":
			return respond(intent, result)
		case "query_category":
			return respond(category, result)
		case "query_entities":
			return respond(entities, result)
		default:
			return nil, errors.New("unexpected schema " + req.SchemaName)
		}
	}
}

var _ = Describe("Analyzer", func() {
	var (
		client   *mockLLM
		limiter  *ratelimit.Limiter
		analyzer *nlp.Analyzer
		ctx      context.Context
	)

	newAnalyzer := func() *nlp.Analyzer {
		return nlp.New(client, limiter, fallback.NewLog(), taxonomy.Default(), nlp.Config{
			CallTimeout: time.Second,
			WaitTimeout: 50 * time.Millisecond,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLM{}
		limiter = ratelimit.New(ratelimit.Config{})
	})

	AfterEach(func() {
		limiter.Shutdown()
	})

	Describe("AnalyzeQuery", func() {
		It("combines the three sub-tasks and their confidences", func() {
			client.chatFn = routeBySchema(
				`{"intent":"search","confidence":1.0}`,
				`{"category":"food","confidence":0.9,"alternatives":["cafe"]}`,
				`{"locations":["bombay"],"business_names":[],"times":[],"prices":["cheap"],"features":[],"confidence":0.8}`,
			)
			analyzer = newAnalyzer()

			result := analyzer.AnalyzeQuery(ctx, "cheap restaurants in bombay", nlp.Principal{})

			Expect(result.Errors).To(BeEmpty())
			Expect(result.ModelCalls).To(Equal(3))
			Expect(result.Analysis.Intent).To(Equal(model.IntentSearch))
			Expect(result.Analysis.Category).To(Equal("food"))
			Expect(result.Analysis.Entities.Locations).To(Equal([]string{"Mumbai"}))
			Expect(result.Analysis.Entities.Prices).To(Equal([]string{"$"}))
			Expect(result.Analysis.Confidence).To(BeNumerically("~", 0.3*1.0+0.4*0.9+0.3*0.8, 1e-9))
		})

		It("fills defaults when one sub-task fails and keeps the others", func() {
			client.chatFn = func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
				switch req.SchemaName {
				case "query_intent":
					return nil, errors.New("access denied")
				case "query_category":
					return respond(`{"category":"fitness","confidence":0.85,"alternatives":[]}`, result)
				case "query_entities":
					return respond(`{"locations":[],"business_names":[],"times":[],"prices":[],"features":[],"confidence":0.7}`, result)
				default:
					return nil, errors.New("unexpected")
				}
			}
			analyzer = newAnalyzer()

			result := analyzer.AnalyzeQuery(ctx, "where to work out", nlp.Principal{})

			Expect(result.Errors).To(HaveLen(1))
			Expect(pipelineerr.KindOf(result.Errors[0])).To(Equal(pipelineerr.KindModelUnavailable))
			// Siblings were not cancelled.
			Expect(result.Analysis.Category).To(Equal("fitness"))
			Expect(result.Analysis.Entities.Confidence).To(Equal(0.7))
			// Failed intent contributed its default.
			Expect(result.Analysis.Intent).To(Equal(model.IntentSearch))
			Expect(result.Analysis.IntentConfidence).To(BeZero())
		})
	})

	Describe("DetectIntent", func() {
		It("rejects tokens outside the enum", func() {
			client.chatFn = routeBySchema(`{"intent":"purchase","confidence":0.9}`, "", "")
			analyzer = newAnalyzer()

			intent, _, called, err := analyzer.DetectIntent(ctx, "buy things", nlp.Principal{})
			Expect(err).NotTo(HaveOccurred())
			Expect(called).To(BeTrue())
			Expect(intent).To(Equal(model.IntentUnknown))
		})

		It("memoizes by lower-cased trimmed query", func() {
			client.chatFn = routeBySchema(`{"intent":"search","confidence":0.9}`, "", "")
			analyzer = newAnalyzer()

			_, _, called, err := analyzer.DetectIntent(ctx, "Coffee Shops", nlp.Principal{})
			Expect(err).NotTo(HaveOccurred())
			Expect(called).To(BeTrue())

			_, _, called, err = analyzer.DetectIntent(ctx, "  coffee shops  ", nlp.Principal{})
			Expect(err).NotTo(HaveOccurred())
			Expect(called).To(BeFalse())
			Expect(client.calls.Load()).To(Equal(int64(1)))
		})
	})

	Describe("ClassifyCategory", func() {
		It("maps raw model labels through the taxonomy normalizer", func() {
			client.chatFn = routeBySchema("", `{"category":"restaurants & food","confidence":0.9,"alternatives":["cafes","gyms"]}`, "")
			analyzer = newAnalyzer()

			result, _, err := analyzer.ClassifyCategory(ctx, "hungry", nlp.Principal{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ID).To(Equal("food"))
			// "cafes" folds to the food root, already the primary; only
			// fitness survives as an alternative.
			Expect(result.Alternatives).To(Equal([]string{"fitness"}))
		})

		It("collapses low confidence to the general root", func() {
			client.chatFn = routeBySchema("", `{"category":"food","confidence":0.2,"alternatives":[]}`, "")
			analyzer = newAnalyzer()

			result, _, err := analyzer.ClassifyCategory(ctx, "hmm", nlp.Principal{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ID).To(Equal(taxonomy.GeneralCategoryID))
		})
	})

	Describe("ExtractEntities", func() {
		It("normalizes and dedupes preserving first occurrence", func() {
			client.chatFn = routeBySchema("", "", `{
				"locations":["bombay","Mumbai","bengaluru"],
				"business_names":["Starbucks™"],
				"times":["  Open Now "],
				"prices":["cheap","budget"],
				"features":["WiFi"],
				"confidence":0.9}`)
			analyzer = newAnalyzer()

			entities, _, err := analyzer.ExtractEntities(ctx, "q", nlp.Principal{})
			Expect(err).NotTo(HaveOccurred())
			Expect(entities.Locations).To(Equal([]string{"Mumbai", "Bangalore"}))
			Expect(entities.BusinessNames).To(Equal([]string{"starbucks"}))
			Expect(entities.Times).To(Equal([]string{"open now"}))
			Expect(entities.Prices).To(Equal([]string{"$"}))
			Expect(entities.Features).To(Equal([]string{"wifi"}))
		})
	})

	Describe("rate limiting", func() {
		It("returns a rate-limit timeout error when no slot frees in time", func() {
			client.chatFn = routeBySchema(`{"intent":"search","confidence":0.9}`, "", "")
			limiter = ratelimit.New(ratelimit.Config{UserPerHour: 1, IPPerHour: 1, GlobalPerHour: 1})
			analyzer = newAnalyzer()

			_, _, _, err := analyzer.DetectIntent(ctx, "first", nlp.Principal{UserID: "u1"})
			Expect(err).NotTo(HaveOccurred())

			_, _, _, err = analyzer.DetectIntent(ctx, "second", nlp.Principal{UserID: "u1"})
			Expect(pipelineerr.KindOf(err)).To(Equal(pipelineerr.KindRateLimitTimeout))
		})
	})
})
