// Package llm provides a provider-agnostic structured-completion client used
// by the NLP analyzer (intent/category/entity extraction) and by any other
// stage that needs a model to return JSON conforming to a declared schema.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
)

// Client is implemented once per model provider. Every implementation must
// return JSON that unmarshals into result; callers never see provider-specific
// response shapes.
type Client interface {
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	Model() string
}

// Request describes one structured-completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

// Response carries usage accounting for telemetry; the decoded value is
// written into Request's result argument directly.
type Response struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider selects which backend Client implementation New constructs.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

func (c Config) Enabled() bool {
	return c.APIKey != ""
}

// New constructs the Client for cfg.Provider, defaulting to OpenAI when
// unset so existing single-provider deployments keep working.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderOpenAI, "":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// GenerateSchema reflects a Go struct into the JSON Schema shape both
// provider adapters expect for structured output.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func Temp(t float64) *float64 {
	return &t
}

// IsRetryable classifies an error from either provider into a retry
// decision. Context cancellation and deadline expiry never retry; throttling
// (429) and server errors (5xx) do; other provider API errors are client
// errors and do not. Any other error is treated as a network failure and
// retries.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry", "status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable",
				"status_code", apiErr.StatusCode, "error_type", apiErr.Type, "error_code", apiErr.Code)
			return false
		}
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		switch {
		case anthropicErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", anthropicErr.StatusCode)
			return true
		case anthropicErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry", "status_code", anthropicErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable", "status_code", anthropicErr.StatusCode)
			return false
		}
	}

	slog.WarnContext(ctx, "llm network error, will retry", "error", err)
	return true
}
