package pipeline

import (
	"context"
	"time"

	"github.com/placefinder/querycore/internal/model"
)

// Geocoder reverse-geocodes coordinates into an address, used to attach a
// city name to profile locations that lack one. Optional.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}

type GeocodeResult struct {
	City      string `json:"city"`
	State     string `json:"state"`
	Country   string `json:"country"`
	Formatted string `json:"formatted"`
}

// ProfileStore looks up a user's saved location. Optional.
type ProfileStore interface {
	GetUserLocation(ctx context.Context, userID string) (*ProfileLocation, error)
}

type ProfileLocation struct {
	Lat         float64
	Lng         float64
	Address     string
	City        string
	LastUpdated time.Time
}

// IPLocator coarsely locates a request IP. Optional; the weakest source in
// the resolution priority chain.
type IPLocator interface {
	Locate(ctx context.Context, ip string) (*ProfileLocation, error)
}

// TelemetrySink receives the completed-request record. Implementations
// must not block; the orchestrator calls it fire-and-forget.
type TelemetrySink interface {
	Record(ctx context.Context, rec RequestRecord)
}

// RequestRecord is what the sink persists per completed process_query call.
type RequestRecord struct {
	RequestID   string
	QueryHash   string
	ResultCount int
	Performance model.Performance
}
