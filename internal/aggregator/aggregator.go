// Package aggregator fans out to every configured source adapter, fuses
// the raw observations into one ranked keyword list and derives the
// combined portal projection. Individual source failures are soft; the
// aggregate fails only when every source does.
package aggregator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trendwatch/internal/core"
	"trendwatch/internal/sources"
)

// ErrAllSourcesFailed is returned when no adapter produced any trends.
var ErrAllSourcesFailed = errors.New("all sources failed")

// flatScore stands in for sources that rank but do not score. Scoreless
// observations all contribute the same weight so breadth across sources,
// not one portal's position, drives the fused ranking.
const flatScore = 50

// Config bounds one aggregation pass.
type Config struct {
	MaxRetries     int           // attempts per adapter
	RetryDelay     time.Duration // base backoff between adapter attempts
	AdapterTimeout time.Duration // budget per attempt
	Timeout        time.Duration // budget for the whole pass
	TopCap         int           // max fused keywords kept
	PerSourceLimit int           // limit passed to each adapter
	MinSources     int           // portal-combine source floor
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.TopCap <= 0 {
		c.TopCap = 100
	}
	if c.PerSourceLimit <= 0 {
		c.PerSourceLimit = 50
	}
	if c.MinSources <= 0 {
		c.MinSources = 2
	}
	return c
}

// Result is the outcome of one aggregation pass. Raw keeps the flattened
// observations in adapter order; deriving projections from it instead of
// RawIndex keeps their output deterministic.
type Result struct {
	Fused        []core.FusedKeyword
	Raw          []core.RawTrend
	RawIndex     map[string][]core.RawTrend
	SourceErrors map[core.Source]error
	Timestamp    time.Time
}

// Aggregator runs collection passes over a fixed adapter set.
type Aggregator struct {
	adapters []sources.Adapter
	cfg      Config
	log      zerolog.Logger
}

func New(adapters []sources.Adapter, cfg Config, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		adapters: adapters,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "aggregator").Logger(),
	}
}

// Aggregate collects from every adapter concurrently and fuses the
// results. Output is deterministic for a given set of adapter responses:
// observations are flattened in configured adapter order regardless of
// which goroutine finished first.
func (a *Aggregator) Aggregate(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	perAdapter := make([][]core.RawTrend, len(a.adapters))
	errs := make([]error, len(a.adapters))

	var g errgroup.Group
	for i, adapter := range a.adapters {
		g.Go(func() error {
			perAdapter[i], errs[i] = a.fetchWithRetry(ctx, adapter)
			return nil
		})
	}
	g.Wait()

	now := time.Now()
	result := &Result{
		RawIndex:     make(map[string][]core.RawTrend),
		SourceErrors: make(map[core.Source]error),
		Timestamp:    now,
	}

	var raw []core.RawTrend
	failed := 0
	for i, adapter := range a.adapters {
		if errs[i] != nil {
			failed++
			result.SourceErrors[adapter.Name()] = errs[i]
			a.log.Warn().Str("source", string(adapter.Name())).Err(errs[i]).Msg("source failed")
			continue
		}
		raw = append(raw, perAdapter[i]...)
	}

	if len(a.adapters) > 0 && failed == len(a.adapters) {
		return nil, ErrAllSourcesFailed
	}

	result.Raw = raw
	result.Fused = fuse(raw, a.cfg.TopCap, now)
	for _, tr := range raw {
		key := core.NormalizeKeyword(tr.Keyword)
		result.RawIndex[key] = append(result.RawIndex[key], tr)
	}

	a.log.Info().
		Int("sources_ok", len(a.adapters)-failed).
		Int("sources_failed", failed).
		Int("raw", len(raw)).
		Int("fused", len(result.Fused)).
		Msg("aggregation pass complete")
	return result, nil
}

func (a *Aggregator) fetchWithRetry(ctx context.Context, adapter sources.Adapter) ([]core.RawTrend, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.AdapterTimeout)
		trends, err := adapter.Fetch(attemptCtx, a.cfg.PerSourceLimit)
		cancel()
		if err == nil {
			return trends, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		a.log.Warn().
			Str("source", string(adapter.Name())).
			Int("attempt", attempt+1).
			Int("max", a.cfg.MaxRetries).
			Err(err).
			Msg("adapter fetch failed")
	}
	return nil, lastErr
}

// fuse groups raw observations by normalized keyword, sums per-source
// contributions and ranks the result. Scoreless observations contribute
// flatScore. The sort key is score times source count, descending; ties
// keep first-appearance order.
func fuse(raw []core.RawTrend, topCap int, now time.Time) []core.FusedKeyword {
	type entry struct {
		fused   core.FusedKeyword
		seenSrc map[core.Source]bool
		seenURL map[string]bool
	}

	index := make(map[string]*entry)
	var order []string

	for _, tr := range raw {
		key := core.NormalizeKeyword(tr.Keyword)
		if key == "" {
			continue
		}
		e, ok := index[key]
		if !ok {
			e = &entry{
				fused: core.FusedKeyword{
					Keyword:       tr.Keyword,
					PerSourceRank: make(map[core.Source]int),
					Timestamp:     now,
				},
				seenSrc: make(map[core.Source]bool),
				seenURL: make(map[string]bool),
			}
			index[key] = e
			order = append(order, key)
		}

		e.fused.Score += contribution(tr.Score)
		if !e.seenSrc[tr.Source] {
			e.seenSrc[tr.Source] = true
			e.fused.Sources = append(e.fused.Sources, tr.Source)
		}
		if tr.Rank > 0 {
			if prev, ok := e.fused.PerSourceRank[tr.Source]; !ok || tr.Rank < prev {
				e.fused.PerSourceRank[tr.Source] = tr.Rank
			}
		}
		if tr.URL != "" && !e.seenURL[tr.URL] {
			e.seenURL[tr.URL] = true
			e.fused.URLs = append(e.fused.URLs, tr.URL)
		}
	}

	fused := make([]core.FusedKeyword, 0, len(order))
	for _, key := range order {
		fused = append(fused, index[key].fused)
	}

	sortFused(fused)
	if len(fused) > topCap {
		fused = fused[:topCap]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

func contribution(score int) int {
	if score <= 0 {
		return flatScore
	}
	return score
}
