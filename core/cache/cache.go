// Package cache provides the read-through/write-through KV layer the
// pipeline memoizes into. Two backends exist: Redis when a URL is
// configured, and an in-process map otherwise. Callers never see backend
// failures; a failed Get is a miss, a failed Set is dropped.
package cache

import (
	"context"
	"time"
)

// TTLs by purpose. Advisory in the sense that the backend may evict
// earlier, never later: an expired entry must not be served.
const (
	TTLAnalysis   = 30 * time.Minute
	TTLEmbedding  = 30 * 24 * time.Hour
	TTLResults    = 5 * time.Minute
	TTLCandidates = 10 * time.Minute
	TTLSimilarity = 30 * time.Minute
	TTLGeocode    = 24 * time.Hour
)

// Cache is the pipeline-facing contract. Keys are human-readable
// colon-delimited strings; values are opaque serialized records.
type Cache interface {
	// Get returns the value and true on a hit. Backend failures and
	// expired entries both read as a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key with a ttl. Best-effort: errors are
	// logged internally and never surface to the caller.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// ScanAndDelete removes every key matching a glob pattern and
	// returns how many were deleted.
	ScanAndDelete(ctx context.Context, pattern string) (int, error)

	// Close releases backend resources and stops background cleanup.
	Close() error
}
