// Package telemetrystore persists completed-request telemetry to Postgres
// for operational analysis. Write-only: the pipeline never reads it back,
// never blocks on it, and runs fine without it.
package telemetrystore

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/placefinder/querycore/core/db"
	"github.com/placefinder/querycore/internal/pipeline"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS search_telemetry (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	query_hash TEXT NOT NULL,
	result_count INT NOT NULL,
	model_calls INT NOT NULL,
	cache_hits INT NOT NULL,
	partial_results BOOLEAN NOT NULL,
	total_ms BIGINT NOT NULL,
	steps JSONB NOT NULL,
	errors JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertSQL = `
INSERT INTO search_telemetry
	(request_id, query_hash, result_count, model_calls, cache_hits, partial_results, total_ms, steps, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Store implements pipeline.TelemetrySink over a pgx pool.
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// EnsureSchema creates the telemetry table when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Pool().Exec(ctx, createTableSQL)
	return err
}

// Record inserts one row. Failures are logged and swallowed; telemetry
// must never surface into the request path.
func (s *Store) Record(ctx context.Context, rec pipeline.RequestRecord) {
	steps, err := json.Marshal(rec.Performance.Steps)
	if err != nil {
		steps = []byte("[]")
	}
	errs, err := json.Marshal(rec.Performance.Errors)
	if err != nil || rec.Performance.Errors == nil {
		errs = []byte("[]")
	}

	_, err = s.db.Pool().Exec(ctx, insertSQL,
		rec.RequestID,
		rec.QueryHash,
		rec.ResultCount,
		rec.Performance.ModelCalls,
		rec.Performance.CacheHits,
		rec.Performance.PartialResults,
		rec.Performance.TotalMS,
		steps,
		errs,
	)
	if err != nil {
		slog.WarnContext(ctx, "telemetry insert failed", "error", err)
	}
}
