// Package fallback converts collaborator failures into degraded-but-useful
// results: classify the failure, retry the retryable classes with
// exponential backoff, and substitute the stage's declared fallback value
// when retries exhaust. The pipeline never throws for control flow; this
// package is the single place failures become values.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/core/ratelimit"
)

type Class string

const (
	ClassTimeout          Class = "timeout"
	ClassRateLimit        Class = "rate_limit"
	ClassTransientNetwork Class = "transient_network"
	ClassAPIError         Class = "api_error"
	ClassUnknown          Class = "unknown"
)

// Classify buckets an error by message and sentinel matching. The string
// patterns mirror what the model providers actually emit.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, ratelimit.ErrWaitTimeout) {
		return ClassRateLimit
	}

	switch pipelineerr.KindOf(err) {
	case pipelineerr.KindTimeout:
		return ClassTimeout
	case pipelineerr.KindRateLimitTimeout:
		return ClassRateLimit
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return ClassTimeout
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return ClassRateLimit
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "eof"):
		return ClassTransientNetwork
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") || strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "bad request"):
		return ClassAPIError
	default:
		return ClassUnknown
	}
}

// Retryable reports whether a class is worth another attempt.
func Retryable(class Class) bool {
	switch class {
	case ClassTimeout, ClassRateLimit, ClassTransientNetwork:
		return true
	default:
		return false
	}
}

// WithFallback runs op; on failure it records the failure and returns
// fallbackValue together with the original error so the orchestrator can
// surface it as non-fatal.
func WithFallback[T any](ctx context.Context, log *Log, stage string, op func(context.Context) (T, error), fallbackValue T) (T, error) {
	value, err := op(ctx)
	if err == nil {
		return value, nil
	}

	class := Classify(err)
	log.Record(stage, class, err)
	slog.WarnContext(ctx, "stage failed, substituting fallback",
		"stage", stage,
		"class", string(class),
		"error", err)
	return fallbackValue, err
}

// RetryWithBackoff retries op while the failure class is retryable, doubling
// the delay each attempt. The last error is returned on exhaustion; context
// cancellation stops immediately.
func RetryWithBackoff[T any](ctx context.Context, op func(context.Context) (T, error), maxRetries int, initialDelay time.Duration) (T, error) {
	var zero T
	var lastErr error

	delay := initialDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			break
		}
		if !Retryable(Classify(err)) {
			break
		}

		slog.DebugContext(ctx, "retrying after failure",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", err)
	}

	return zero, lastErr
}

// Entry is one recorded failure.
type Entry struct {
	Time    time.Time
	Stage   string
	Class   Class
	Message string
}

const logCapacity = 1000

// Log is a bounded ring buffer of recent failures, kept so operators can
// inspect what degraded without scraping log output.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool

	// now is swappable for tests.
	now func() time.Time
}

func NewLog() *Log {
	return &Log{
		entries: make([]Entry, logCapacity),
		now:     time.Now,
	}
}

func (l *Log) Record(stage string, class Class, err error) {
	if l == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	l.mu.Lock()
	l.entries[l.next] = Entry{Time: l.now(), Stage: stage, Class: class, Message: msg}
	l.next = (l.next + 1) % logCapacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Entries returns recorded failures oldest-first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]Entry(nil), l.entries[:l.next]...)
	}
	out := make([]Entry, 0, logCapacity)
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}
