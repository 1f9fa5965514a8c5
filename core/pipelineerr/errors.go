// Package pipelineerr declares the behavioral error categories the pipeline
// stages and the fallback harness share. Stages wrap collaborator failures
// into one of these kinds; the orchestrator records kinds into telemetry and
// decides which fallback to take off the kind alone.
package pipelineerr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidQuery      Kind = "invalid_query"
	KindRateLimitTimeout  Kind = "rate_limit_timeout"
	KindModelUnavailable  Kind = "model_unavailable"
	KindDimensionMismatch Kind = "embedding_dimension_mismatch"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// Error carries the kind plus the pipeline stage that produced it.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and stage. A nil err is allowed; the kind itself
// is the signal.
func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf classifies any error into a Kind. Unwrapped foreign errors are
// KindInternal; context deadline errors are KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is lets errors.Is match on bare kinds via Sentinel.
func (e *Error) Is(target error) bool {
	s, ok := target.(sentinel)
	return ok && s.kind == e.Kind
}

type sentinel struct{ kind Kind }

func (s sentinel) Error() string { return string(s.kind) }

// Sentinel returns an error value matching every *Error of the given kind,
// for use with errors.Is at call sites that only care about the category.
func Sentinel(kind Kind) error { return sentinel{kind: kind} }

// Critical reports whether a kind should flip an empty-result response into
// a partial-success at the caller boundary. Validation failures are client
// errors, not partial results.
func Critical(kind Kind) bool {
	switch kind {
	case KindModelUnavailable, KindStoreUnavailable, KindTimeout, KindInternal:
		return true
	default:
		return false
	}
}
