package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/placefinder/querycore/common/logger"
	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/pipeline"
)

// Processor turns queued query messages into pipeline runs and publishes
// each response under the message's result key, giving callers a
// non-blocking invocation path next to the synchronous ProcessQuery.
type Processor struct {
	orchestrator *pipeline.Orchestrator
	cache        cache.Cache
}

func NewProcessor(orchestrator *pipeline.Orchestrator, c cache.Cache) *Processor {
	return &Processor{orchestrator: orchestrator, cache: c}
}

// Process handles one message. A pipeline error (invalid query) is
// terminal: the error payload is published and the message is not
// retried, since those failures are deterministic.
func (p *Processor) Process(ctx context.Context, msg Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID: msg.RequestID,
		Component: "querycore.queue.processor",
	})

	var filters model.SearchFilters
	if msg.Filters != "" {
		if err := json.Unmarshal([]byte(msg.Filters), &filters); err != nil {
			return fmt.Errorf("parsing filters: %w", err)
		}
	}

	start := time.Now()
	resp, err := p.orchestrator.ProcessQuery(ctx, pipeline.Request{
		Query:   msg.Query,
		UserID:  msg.UserID,
		IP:      msg.IP,
		Filters: filters,
	})
	if err != nil {
		p.publishError(ctx, msg, err)
		slog.WarnContext(ctx, "queued query rejected", "error", err)
		return nil
	}

	p.publishResponse(ctx, msg, resp)
	slog.InfoContext(ctx, "queued query processed",
		"results", len(resp.Results),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) publishResponse(ctx context.Context, msg Message, resp *model.SearchResponse) {
	if msg.ResultKey == "" {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to serialize response", "error", err)
		return
	}
	p.cache.Set(ctx, msg.ResultKey, raw, cache.TTLResults)
}

func (p *Processor) publishError(ctx context.Context, msg Message, procErr error) {
	if msg.ResultKey == "" {
		return
	}
	payload := map[string]string{"error": procErr.Error()}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	p.cache.Set(ctx, msg.ResultKey, raw, cache.TTLResults)
}
