package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/placefinder/querycore/common/arangodb"
	"github.com/placefinder/querycore/internal/model"
)

// businessDoc is the ArangoDB document shape. The stored vector lives on
// the business document itself, read back through the VectorStore view.
type businessDoc struct {
	Key            string              `json:"_key"`
	Name           string              `json:"name"`
	NormalizedName string              `json:"normalized_name,omitempty"`
	Description    string              `json:"description,omitempty"`
	CategoryID     string              `json:"category_id"`
	SubcategoryID  string              `json:"subcategory_id,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
	Location       model.Location      `json:"location"`
	Phone          string              `json:"phone,omitempty"`
	Email          string              `json:"email,omitempty"`
	Website        string              `json:"website,omitempty"`
	Rating         float64             `json:"rating"`
	ReviewCount    int                 `json:"review_count"`
	PriceRange     model.PriceRange    `json:"price_range,omitempty"`
	Amenities      []string            `json:"amenities,omitempty"`
	Hours          map[string]model.DayHours `json:"hours,omitempty"`
	Status         model.Status        `json:"status"`
	Verified       bool                `json:"verified"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`

	Embedding        []float32 `json:"embedding,omitempty"`
	EmbeddingVersion string    `json:"embedding_version,omitempty"`
}

func (d businessDoc) toModel() model.Business {
	return model.Business{
		ID:               d.Key,
		Name:             d.Name,
		NormalizedName:   d.NormalizedName,
		Description:      d.Description,
		CategoryID:       d.CategoryID,
		SubcategoryID:    d.SubcategoryID,
		Tags:             d.Tags,
		Location:         d.Location,
		Phone:            d.Phone,
		Email:            d.Email,
		Website:          d.Website,
		Rating:           d.Rating,
		ReviewCount:      d.ReviewCount,
		PriceRange:       d.PriceRange,
		Amenities:        d.Amenities,
		Hours:            d.Hours,
		Status:           d.Status,
		Verified:         d.Verified,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		EmbeddingVersion: d.EmbeddingVersion,
	}
}

// ArangoStore implements BusinessStore and VectorStore over the shared
// arangodb client. Queries filter to active businesses at the index; the
// filter stage re-checks status for the scan path where callers pass their
// own status set.
type ArangoStore struct {
	client arangodb.Client
}

func NewArangoStore(client arangodb.Client) *ArangoStore {
	return &ArangoStore{client: client}
}

func (s *ArangoStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	var doc businessDoc
	if err := s.client.ReadDocument(ctx, arangodb.CollectionBusinesses, id, &doc); err != nil {
		if errors.Is(err, arangodb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get business %s: %w", id, err)
	}
	doc.Key = id
	b := doc.toModel()
	return &b, nil
}

const queryByCategoryAndCityAQL = `
FOR b IN businesses
  FILTER b.status == "active"
  FILTER b.category_id == @category OR b.subcategory_id == @category
  FILTER @city == "" OR LOWER(b.location.city) == LOWER(@city)
  LIMIT @limit
  RETURN b`

func (s *ArangoStore) QueryByCategoryAndCity(ctx context.Context, categoryID, city string, limit int) ([]model.Business, error) {
	return s.queryBusinesses(ctx, queryByCategoryAndCityAQL, map[string]any{
		"category": categoryID,
		"city":     city,
		"limit":    limit,
	})
}

const queryByCityAQL = `
FOR b IN businesses
  FILTER b.status == "active"
  FILTER LOWER(b.location.city) == LOWER(@city)
  LIMIT @limit
  RETURN b`

func (s *ArangoStore) QueryByCity(ctx context.Context, city string, limit int) ([]model.Business, error) {
	return s.queryBusinesses(ctx, queryByCityAQL, map[string]any{
		"city":  city,
		"limit": limit,
	})
}

const scanWithContainsAQL = `
FOR b IN businesses
  FILTER b.status IN @statuses
  FILTER LENGTH(
    FOR t IN @terms
      FILTER (@useName AND CONTAINS(LOWER(b.normalized_name != null ? b.normalized_name : b.name), t))
          OR (@useDescription AND CONTAINS(LOWER(b.description != null ? b.description : ""), t))
          OR (@useCategory AND (CONTAINS(LOWER(b.category_id), t) OR CONTAINS(LOWER(b.subcategory_id != null ? b.subcategory_id : ""), t)))
      RETURN 1
  ) > 0
  LIMIT @limit
  RETURN b`

func (s *ArangoStore) ScanWithContains(ctx context.Context, fields []string, terms []string, statuses []model.Status, limit int) ([]model.Business, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if len(statuses) == 0 {
		statuses = []model.Status{model.StatusActive}
	}

	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	statusStrings := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrings[i] = string(st)
	}

	use := func(field string) bool {
		for _, f := range fields {
			if f == field {
				return true
			}
		}
		return false
	}

	return s.queryBusinesses(ctx, scanWithContainsAQL, map[string]any{
		"terms":          lowered,
		"statuses":       statusStrings,
		"useName":        use(FieldName),
		"useDescription": use(FieldDescription),
		"useCategory":    use(FieldCategory),
		"limit":          limit,
	})
}

const listVectorIDsAQL = `
FOR b IN businesses
  FILTER b.embedding_version == @version AND b.embedding != null
  RETURN b._key`

func (s *ArangoStore) ListVectorBusinessIDs(ctx context.Context, version string) ([]string, error) {
	cursor, err := s.client.Query(ctx, listVectorIDsAQL, map[string]any{"version": version})
	if err != nil {
		return nil, fmt.Errorf("list vector ids: %w", err)
	}
	defer cursor.Close()

	var ids []string
	for cursor.HasMore() {
		var id string
		if _, err := cursor.ReadDocument(ctx, &id); err != nil {
			return nil, fmt.Errorf("read vector id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetVector reads the embedding stored on the business document. A missing
// document, a version mismatch, or an absent embedding all read as
// ErrNotFound; the semantic retriever logs and skips.
func (s *ArangoStore) GetVector(ctx context.Context, businessID, version string) ([]float32, error) {
	var doc businessDoc
	if err := s.client.ReadDocument(ctx, arangodb.CollectionBusinesses, businessID, &doc); err != nil {
		if errors.Is(err, arangodb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get vector %s: %w", businessID, err)
	}
	if doc.EmbeddingVersion != version || len(doc.Embedding) == 0 {
		return nil, ErrNotFound
	}
	return doc.Embedding, nil
}

func (s *ArangoStore) queryBusinesses(ctx context.Context, aql string, bindVars map[string]any) ([]model.Business, error) {
	start := time.Now()

	cursor, err := s.client.Query(ctx, aql, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query businesses: %w", err)
	}
	defer cursor.Close()

	var out []model.Business
	for cursor.HasMore() {
		var doc businessDoc
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("read business document: %w", err)
		}
		out = append(out, doc.toModel())
	}

	slog.DebugContext(ctx, "business query completed",
		"results", len(out),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}
