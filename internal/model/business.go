// Package model holds the request-scoped value types the pipeline stages
// pass between each other. Businesses are transient copies owned by the
// external store; nothing here is persisted by the core.
package model

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
)

type PriceRange string

const (
	PriceBudget    PriceRange = "$"
	PriceModerate  PriceRange = "$$"
	PriceExpensive PriceRange = "$$$"
	PriceLuxury    PriceRange = "$$$$"
)

// ValidPriceRange reports whether p is one of the four tokens.
func ValidPriceRange(p PriceRange) bool {
	switch p {
	case PriceBudget, PriceModerate, PriceExpensive, PriceLuxury:
		return true
	default:
		return false
	}
}

// Location is the structured address of a business. Lat/Lng are pointers
// because many records have an address but no usable coordinates.
type Location struct {
	Address    string   `json:"address,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	Country    string   `json:"country,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	Timezone   string   `json:"timezone,omitempty"`
}

// HasCoordinates reports whether both coordinates are present.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// DayHours is one weekday's opening window. Closed days carry Closed=true
// and empty open/close strings.
type DayHours struct {
	Open   string `json:"open,omitempty"`
	Close  string `json:"close,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

type Business struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	NormalizedName string   `json:"normalized_name,omitempty"`
	Description    string   `json:"description,omitempty"`
	CategoryID     string   `json:"category_id"`
	SubcategoryID  string   `json:"subcategory_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`

	Location Location `json:"location"`

	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`

	Rating      float64    `json:"rating"`
	ReviewCount int        `json:"review_count"`
	PriceRange  PriceRange `json:"price_range,omitempty"`
	Amenities   []string   `json:"amenities,omitempty"`

	Hours map[string]DayHours `json:"hours,omitempty"`

	Status   Status `json:"status"`
	Verified bool   `json:"verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EmbeddingVersion string `json:"embedding_version,omitempty"`
}

// City returns the best-effort city for dedup keys and city filters.
func (b Business) City() string {
	return b.Location.City
}
