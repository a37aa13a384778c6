// Package cache implements the similarity-based response cache consulted
// before any paid provider call. A sufficiently similar past exchange
// short-circuits the request with the stored agent response.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/peteollama/jamie-gateway/internal/config"
)

// Cache scores incoming messages against stored samples. When a vector
// index is configured it is consulted first; otherwise (or on any vector
// error) a linear lexical scan runs. Scoring failures are cache misses,
// never request failures.
type Cache struct {
	store  Store
	vector *VectorIndex
}

func New(store Store, vector *VectorIndex) *Cache {
	return &Cache{store: store, vector: vector}
}

// Hit is a successful cache lookup.
type Hit struct {
	Sample Sample
	Score  float64
}

// Lookup returns the best stored response scoring at or above cfg's
// threshold, or ok=false on a miss. cfg is the caller-resolved caching
// config for the request's provider and model, so per-model overrides
// bind here.
func (c *Cache) Lookup(ctx context.Context, message string, cfg config.CachingConfig) (Hit, bool) {
	if !cfg.Enabled || message == "" {
		return Hit{}, false
	}

	if c.vector != nil {
		s, score, found, err := c.vector.Lookup(ctx, message)
		if err != nil {
			slog.Warn("vector cache lookup failed, falling back to lexical scan", "error", err)
		} else if found && score >= cfg.Threshold {
			return Hit{Sample: s, Score: score}, true
		} else {
			// Vector index answered authoritatively; no lexical rescan.
			return Hit{}, false
		}
	}

	samples, err := c.store.Samples(ctx)
	if err != nil {
		slog.Warn("cache sample scan failed, treating as miss", "error", err)
		return Hit{}, false
	}

	best := Hit{Score: -1}
	for _, s := range samples {
		if score := lexicalScore(message, s); score > best.Score {
			best = Hit{Sample: s, Score: score}
		}
	}
	if best.Score >= cfg.Threshold && best.Score >= 0 {
		return best, true
	}
	return Hit{}, false
}

// Record appends a successful live exchange and applies cfg's eviction
// limits. Failures are logged and swallowed; caching is never allowed to
// fail a request.
func (c *Cache) Record(ctx context.Context, userMessage, agentResponse string, cfg config.CachingConfig) {
	if !cfg.Enabled || userMessage == "" || agentResponse == "" {
		return
	}

	s := NewSample(userMessage, agentResponse)
	if err := c.store.Append(ctx, s); err != nil {
		slog.Warn("cache append failed", "error", err)
		return
	}
	if c.vector != nil {
		if err := c.vector.Index(ctx, s); err != nil {
			slog.Warn("vector index failed", "error", err)
		}
	}

	maxAge := time.Duration(cfg.MaxAgeHours) * time.Hour
	if removed, err := c.store.Prune(ctx, maxAge, cfg.MaxResponses); err != nil {
		slog.Warn("cache prune failed", "error", err)
	} else if removed > 0 {
		slog.Debug("cache pruned", "removed", removed)
	}
}

// Size reports the number of stored samples, best effort.
func (c *Cache) Size(ctx context.Context) int {
	samples, err := c.store.Samples(ctx)
	if err != nil {
		return -1
	}
	return len(samples)
}
