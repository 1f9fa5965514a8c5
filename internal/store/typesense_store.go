package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"github.com/placefinder/querycore/internal/model"
)

type TypesenseConfig struct {
	URL        string
	APIKey     string
	Collection string
}

// TypesenseStore decorates a BusinessStore with a full-text
// ScanWithContains backed by a Typesense collection. Everything else
// delegates to the wrapped store, which stays the source of truth; the
// index holds only the searchable projection.
type TypesenseStore struct {
	base       BusinessStore
	client     *typesense.Client
	collection string
}

func NewTypesenseStore(base BusinessStore, cfg TypesenseConfig) *TypesenseStore {
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)
	return &TypesenseStore{
		base:       base,
		client:     client,
		collection: cfg.Collection,
	}
}

// EnsureCollection creates the search collection if absent. Re-creating an
// existing collection is not an error.
func (s *TypesenseStore) EnsureCollection(ctx context.Context) error {
	schema := &api.CollectionSchema{
		Name: s.collection,
		Fields: []api.Field{
			{Name: "name", Type: "string"},
			{Name: "description", Type: "string", Optional: pointer.True()},
			{Name: "category", Type: "string", Facet: pointer.True()},
			{Name: "city", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "status", Type: "string", Facet: pointer.True()},
		},
	}

	if _, err := s.client.Collections().Create(ctx, schema); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create typesense collection %s: %w", s.collection, err)
	}

	slog.InfoContext(ctx, "typesense collection created", "collection", s.collection)
	return nil
}

func (s *TypesenseStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	return s.base.GetBusiness(ctx, id)
}

func (s *TypesenseStore) QueryByCategoryAndCity(ctx context.Context, categoryID, city string, limit int) ([]model.Business, error) {
	return s.base.QueryByCategoryAndCity(ctx, categoryID, city, limit)
}

func (s *TypesenseStore) QueryByCity(ctx context.Context, city string, limit int) ([]model.Business, error) {
	return s.base.QueryByCity(ctx, city, limit)
}

func (s *TypesenseStore) ListVectorBusinessIDs(ctx context.Context, version string) ([]string, error) {
	return s.base.ListVectorBusinessIDs(ctx, version)
}

// ScanWithContains runs one multi-field search per the requested fields and
// resolves hits back to canonical business records from the base store.
func (s *TypesenseStore) ScanWithContains(ctx context.Context, fields []string, terms []string, statuses []model.Status, limit int) ([]model.Business, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if len(statuses) == 0 {
		statuses = []model.Status{model.StatusActive}
	}

	queryBy := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case FieldName:
			queryBy = append(queryBy, "name")
		case FieldDescription:
			queryBy = append(queryBy, "description")
		case FieldCategory:
			queryBy = append(queryBy, "category")
		}
	}
	if len(queryBy) == 0 {
		return nil, nil
	}

	statusTokens := make([]string, len(statuses))
	for i, st := range statuses {
		statusTokens[i] = string(st)
	}

	start := time.Now()
	result, err := s.client.Collection(s.collection).Documents().Search(ctx, &api.SearchCollectionParams{
		Q:        pointer.String(strings.Join(terms, " ")),
		QueryBy:  pointer.String(strings.Join(queryBy, ",")),
		FilterBy: pointer.String("status:[" + strings.Join(statusTokens, ",") + "]"),
		PerPage:  pointer.Int(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("typesense search: %w", err)
	}

	var out []model.Business
	if result.Hits != nil {
		for _, hit := range *result.Hits {
			if hit.Document == nil {
				continue
			}
			id, _ := (*hit.Document)["id"].(string)
			if id == "" {
				continue
			}
			business, err := s.base.GetBusiness(ctx, id)
			if err != nil {
				slog.WarnContext(ctx, "search hit missing from base store", "business_id", id, "error", err)
				continue
			}
			out = append(out, *business)
		}
	}

	slog.DebugContext(ctx, "typesense scan completed",
		"terms", len(terms),
		"hits", len(out),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}
