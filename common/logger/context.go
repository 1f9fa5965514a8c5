package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. Fields flow through context enrichment so a request's
// query id, user id, and current stage are attached to every log line
// without being threaded through every function signature.
type LogFields struct {
	RequestID string  // per-request correlation id (common/id snowflake value, formatted)
	UserID    *string // principal id, when the caller is authenticated
	IP        string  // caller IP, used by the rate limiter bucket too
	Stage     string  // current pipeline stage name, e.g. "nlp_analyze"
	Component string  // OTel semantic-convention style component name
}

// WithLogFields enriches context with structured log fields. Multiple calls
// merge fields, with newer non-empty values taking precedence. Context
// timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context. Returns an empty
// LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.RequestID != "" {
		result.RequestID = next.RequestID
	}
	if next.UserID != nil {
		result.UserID = next.UserID
	}
	if next.IP != "" {
		result.IP = next.IP
	}
	if next.Stage != "" {
		result.Stage = next.Stage
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long raw query strings.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
