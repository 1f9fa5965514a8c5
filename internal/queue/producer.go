package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/placefinder/querycore/common/logger"
)

// QueryMessage is one enqueued search request. ResultKey is the cache key
// the worker publishes the response under, so callers can poll for it.
type QueryMessage struct {
	RequestID string
	Query     string
	UserID    string
	IP        string
	Filters   string // canonical JSON of model.SearchFilters
	ResultKey string
	TraceID   *string
	Attempt   int
}

type Producer interface {
	Enqueue(ctx context.Context, msg QueryMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg QueryMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID: msg.RequestID,
		Component: "querycore.queue.producer",
	})

	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type":  string(TaskTypeSearchQuery),
		"request_id": msg.RequestID,
		"query":      msg.Query,
		"attempt":    attempt,
	}
	if msg.UserID != "" {
		fields["user_id"] = msg.UserID
	}
	if msg.IP != "" {
		fields["ip"] = msg.IP
	}
	if msg.Filters != "" {
		fields["filters"] = msg.Filters
	}
	if msg.ResultKey != "" {
		fields["result_key"] = msg.ResultKey
	}

	traceIDStr := ""
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
		traceIDStr = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 1_000_000,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue query (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued search query",
		"attempt", attempt,
		"trace_id", traceIDStr,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
