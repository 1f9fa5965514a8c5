// Package embedding produces the fixed-dimension query vector the semantic
// retriever scores against, cached for 30 days and admitted through the
// shared rate limiter.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/core/fallback"
	"github.com/placefinder/querycore/core/pipelineerr"
	"github.com/placefinder/querycore/core/ratelimit"
)

const (
	defaultCallTime = 10 * time.Second
	defaultWaitTime = 5 * time.Second
	maxRetries      = 3
	initialBackoff  = time.Second
)

// Client is the raw embedding-model collaborator.
type Client interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

type Config struct {
	// Model is the provider-side embedding model id.
	Model string

	// Dimension is the deploy-time constant every vector must match.
	Dimension int

	// Version tags cache keys so a model swap can't serve stale vectors.
	Version string

	CallTimeout    time.Duration
	WaitTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTime
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = defaultWaitTime
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = maxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = initialBackoff
	}
	return c
}

// Provider is the C6 component: cache, admit, call, validate, cache.
type Provider struct {
	client  Client
	cache   cache.Cache
	limiter *ratelimit.Limiter
	flog    *fallback.Log
	cfg     Config
}

func New(client Client, c cache.Cache, limiter *ratelimit.Limiter, flog *fallback.Log, cfg Config) *Provider {
	return &Provider{
		client:  client,
		cache:   c,
		limiter: limiter,
		flog:    flog,
		cfg:     cfg.withDefaults(),
	}
}

// Dimension returns the configured vector dimension.
func (p *Provider) Dimension() int {
	return p.cfg.Dimension
}

// ZeroVector is the advertised fallback when embedding cannot be obtained;
// the semantic retriever short-circuits on it.
func (p *Provider) ZeroVector() []float32 {
	return make([]float32, p.cfg.Dimension)
}

// EmbedQuery returns the query vector, from cache when possible. The bool
// reports whether a model call was made.
func (p *Provider) EmbedQuery(ctx context.Context, text, userID, ip string) ([]float32, bool, error) {
	key := p.cacheKey(text)

	if raw, ok := p.cache.Get(ctx, key); ok {
		var vector []float32
		if err := json.Unmarshal(raw, &vector); err == nil && len(vector) == p.cfg.Dimension {
			return vector, false, nil
		}
		// Corrupt or wrong-dimension entry; drop it and re-embed.
		_ = p.cache.Delete(ctx, key)
	}

	if err := p.limiter.WaitForSlot(ctx, userID, ip, p.cfg.WaitTimeout); err != nil {
		p.flog.Record("embed_query", fallback.ClassRateLimit, err)
		return nil, false, pipelineerr.New(pipelineerr.KindRateLimitTimeout, "embed_query", err)
	}

	vector, err := fallback.RetryWithBackoff(ctx, func(ctx context.Context) ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		return p.client.Embed(callCtx, p.cfg.Model, text)
	}, p.cfg.MaxRetries, p.cfg.InitialBackoff)
	if err != nil {
		p.flog.Record("embed_query", fallback.Classify(err), err)
		return nil, true, pipelineerr.New(pipelineerr.KindModelUnavailable, "embed_query", err)
	}

	if len(vector) != p.cfg.Dimension {
		err := fmt.Errorf("embedding dimension %d, configured %d", len(vector), p.cfg.Dimension)
		return nil, true, pipelineerr.New(pipelineerr.KindDimensionMismatch, "embed_query", err)
	}

	if raw, err := json.Marshal(vector); err == nil {
		p.cache.Set(ctx, key, raw, cache.TTLEmbedding)
	} else {
		slog.WarnContext(ctx, "failed to serialize embedding for cache", "error", err)
	}

	return vector, true, nil
}

func (p *Provider) cacheKey(text string) string {
	return "embedding:" + p.cfg.Version + ":" + cache.HashHex(text)
}
