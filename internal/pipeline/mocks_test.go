package pipeline_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/placefinder/querycore/common/llm"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/pipeline"
	"github.com/placefinder/querycore/internal/store"
)

type mockLLM struct {
	chatFn func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
}

func (m *mockLLM) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	if m.chatFn != nil {
		return m.chatFn(ctx, req, result)
	}
	return &llm.Response{}, nil
}

func (m *mockLLM) Model() string { return "mock" }

// happyAnalysisLLM answers the three NLP schemas with sensible defaults
// derived from the query text itself.
func happyAnalysisLLM() *mockLLM {
	return &mockLLM{
		chatFn: func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
			lower := strings.ToLower(req.UserPrompt)
			var payload string
			switch req.SchemaName {
			case "query_intent":
				payload = `{"intent":"search","confidence":0.95}`
			case "query_category":
				switch {
				case strings.Contains(lower, "coffee"):
					payload = `{"category":"cafe","confidence":0.9,"alternatives":[]}`
				case strings.Contains(lower, "restaurant"):
					payload = `{"category":"food","confidence":0.9,"alternatives":[]}`
				case strings.Contains(lower, "work out"):
					payload = `{"category":"fitness","confidence":0.85,"alternatives":[]}`
				default:
					payload = `{"category":"general","confidence":0.2,"alternatives":[]}`
				}
			case "query_entities":
				locations := "[]"
				prices := "[]"
				names := "[]"
				if strings.Contains(lower, "bangalore") {
					locations = `["Bangalore"]`
				}
				if strings.Contains(lower, "cheap") {
					prices = `["cheap"]`
				}
				if strings.Contains(lower, "starbucks") {
					names = `["Starbucks"]`
				}
				payload = `{"locations":` + locations + `,"business_names":` + names +
					`,"times":[],"prices":` + prices + `,"features":[],"confidence":0.9}`
			}
			if err := json.Unmarshal([]byte(payload), result); err != nil {
				return nil, err
			}
			return &llm.Response{PromptTokens: 5, CompletionTokens: 5}, nil
		},
	}
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, model, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, model, text)
	}
	return []float32{1, 0, 0, 0}, nil
}

// mockBusinessStore serves a fixed fleet of businesses with the simple
// matching semantics the real adapters provide.
type mockBusinessStore struct {
	businesses []model.Business
}

func (m *mockBusinessStore) byID(id string) (*model.Business, bool) {
	for i := range m.businesses {
		if m.businesses[i].ID == id {
			return &m.businesses[i], true
		}
	}
	return nil, false
}

func (m *mockBusinessStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	b, ok := m.byID(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (m *mockBusinessStore) QueryByCategoryAndCity(_ context.Context, categoryID, city string, limit int) ([]model.Business, error) {
	var out []model.Business
	for _, b := range m.businesses {
		if b.Status != model.StatusActive {
			continue
		}
		if b.CategoryID != categoryID && b.SubcategoryID != categoryID {
			continue
		}
		if city != "" && !strings.EqualFold(b.Location.City, city) {
			continue
		}
		out = append(out, b)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockBusinessStore) QueryByCity(_ context.Context, city string, limit int) ([]model.Business, error) {
	var out []model.Business
	for _, b := range m.businesses {
		if b.Status == model.StatusActive && strings.EqualFold(b.Location.City, city) {
			out = append(out, b)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockBusinessStore) ScanWithContains(_ context.Context, fields []string, terms []string, statuses []model.Status, limit int) ([]model.Business, error) {
	allowed := map[model.Status]bool{}
	for _, st := range statuses {
		allowed[st] = true
	}

	var out []model.Business
	for _, b := range m.businesses {
		if len(allowed) > 0 && !allowed[b.Status] {
			continue
		}
		haystack := strings.ToLower(b.Name + " " + b.NormalizedName + " " + b.Description + " " + b.CategoryID + " " + b.SubcategoryID)
		for _, t := range terms {
			if strings.Contains(haystack, strings.ToLower(t)) {
				out = append(out, b)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockBusinessStore) ListVectorBusinessIDs(_ context.Context, version string) ([]string, error) {
	var ids []string
	for _, b := range m.businesses {
		if b.EmbeddingVersion == version {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

type mockVectorStore struct {
	vectors map[string][]float32
}

func (m *mockVectorStore) GetVector(_ context.Context, businessID, _ string) ([]float32, error) {
	v, ok := m.vectors[businessID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

type mockProfileStore struct {
	getFn func(ctx context.Context, userID string) (*pipeline.ProfileLocation, error)
}

func (m *mockProfileStore) GetUserLocation(ctx context.Context, userID string) (*pipeline.ProfileLocation, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, nil
}

type mockSink struct {
	mu      sync.Mutex
	records []pipeline.RequestRecord
}

func (m *mockSink) Record(_ context.Context, rec pipeline.RequestRecord) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}
