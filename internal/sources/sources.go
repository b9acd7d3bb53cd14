// Package sources contains one adapter per external trend source. Every
// adapter converts its upstream response into a uniform []core.RawTrend;
// parsing quirks and score formulas stay at this boundary and never leak
// into the aggregator.
package sources

import (
	"context"
	"fmt"
	"time"

	"trendwatch/internal/cache"
	"trendwatch/internal/core"
)

// Adapter is the uniform capability every source implements.
type Adapter interface {
	// Name identifies the source for logging and fusion.
	Name() core.Source
	// Fetch returns up to limit raw trends. Implementations honor ctx
	// cancellation and return typed errors; callers treat any error as a
	// soft failure.
	Fetch(ctx context.Context, limit int) ([]core.RawTrend, error)
}

// ParseError reports an unexpected upstream payload shape.
type ParseError struct {
	Source core.Source
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: field %q: %v", e.Source, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// APIError reports an application-level upstream failure (quota, auth).
type APIError struct {
	API      string
	Endpoint string
	Code     int
	Err      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: %s: code %d: %v", e.API, e.Endpoint, e.Code, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// cachedAdapter memoizes another adapter's Fetch through a cache backend.
type cachedAdapter struct {
	inner Adapter
	fetch func(context.Context, int) ([]core.RawTrend, error)
}

// Cached wraps an adapter so repeated fetches within ttl are served from
// the backend. The key binds the source name and the limit argument.
func Cached(a Adapter, ttl time.Duration, backend cache.Backend) Adapter {
	name := "sources." + string(a.Name()) + ".fetch"
	return &cachedAdapter{
		inner: a,
		fetch: cache.Wrap(name, ttl, backend, a.Fetch),
	}
}

func (c *cachedAdapter) Name() core.Source { return c.inner.Name() }

func (c *cachedAdapter) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	return c.fetch(ctx, limit)
}

// dedupeKeepBestRank removes duplicate keywords within one adapter call,
// keeping the entry with the best (lowest non-zero) rank. Rank 0 means
// "unranked" and loses to any ranked entry.
func dedupeKeepBestRank(trends []core.RawTrend) []core.RawTrend {
	best := make(map[string]int, len(trends)) // normalized key -> index into out
	out := make([]core.RawTrend, 0, len(trends))

	for _, tr := range trends {
		key := core.NormalizeKeyword(tr.Keyword)
		if key == "" {
			continue
		}
		idx, seen := best[key]
		if !seen {
			best[key] = len(out)
			out = append(out, tr)
			continue
		}
		if better(tr.Rank, out[idx].Rank) {
			out[idx] = tr
		}
	}
	return out
}

func better(candidate, current int) bool {
	if candidate == 0 {
		return false
	}
	return current == 0 || candidate < current
}

// clampLimit normalizes a caller-supplied limit against a default.
func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

// truncate shortens s to at most n runes, appending an ellipsis marker.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
