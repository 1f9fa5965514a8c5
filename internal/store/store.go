// Package store declares the collaborator interfaces the pipeline reads
// through, plus the concrete ArangoDB and Typesense adapters used in
// deployments and local development. The core never writes businesses;
// every operation here is a read.
package store

import (
	"context"
	"errors"

	"github.com/placefinder/querycore/internal/model"
)

// ErrNotFound is returned for missing businesses and vectors. Callers that
// tolerate absence match on it with errors.Is.
var ErrNotFound = errors.New("not found")

// BusinessStore is the business-record collaborator.
type BusinessStore interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	QueryByCategoryAndCity(ctx context.Context, categoryID, city string, limit int) ([]model.Business, error)
	QueryByCity(ctx context.Context, city string, limit int) ([]model.Business, error)

	// ScanWithContains returns businesses where any of terms appears in
	// any of fields (subset of name, description, category), restricted
	// to the given statuses.
	ScanWithContains(ctx context.Context, fields []string, terms []string, statuses []model.Status, limit int) ([]model.Business, error)

	// ListVectorBusinessIDs enumerates ids that carry a stored vector for
	// the given embedding version.
	ListVectorBusinessIDs(ctx context.Context, version string) ([]string, error)
}

// VectorStore is the stored-embedding collaborator.
type VectorStore interface {
	// GetVector returns the stored vector for a business at the given
	// version, or ErrNotFound.
	GetVector(ctx context.Context, businessID, version string) ([]float32, error)
}

// Scan field names accepted by ScanWithContains.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldCategory    = "category"
)
