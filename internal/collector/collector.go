// Package collector owns the refresh lifecycle: the periodic aggregation
// loop, on-demand refreshes, the published snapshot and its persistence
// across restarts. Exactly one refresh runs at a time; concurrent
// requests coalesce onto the in-flight pass.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trendwatch/internal/aggregator"
	"trendwatch/internal/core"
	"trendwatch/internal/insight"
	"trendwatch/internal/stream"
)

// Controller states.
const (
	StateIdle       = "idle"
	StateRefreshing = "refreshing"
	StateStopping   = "stopping"
	StateStopped    = "stopped"
)

const (
	broadcastHotLimit   = 10
	broadcastTopicLimit = 5
	clusterInputLimit   = 20
)

// ErrStopping rejects refresh requests that arrive once shutdown began.
var ErrStopping = errors.New("collector is stopping")

// Config bounds the refresh loop.
type Config struct {
	Interval       time.Duration // period between automatic refreshes
	StaleThreshold time.Duration // max age of a restored snapshot before forcing a refresh
	ShutdownGrace  time.Duration // how long Stop waits for an in-flight refresh
	SnapshotPath   string        // where the snapshot is persisted, empty disables persistence
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = time.Hour
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

// Status is a point-in-time view of the controller for the status API.
type Status struct {
	State        string            `json:"state"`
	LastUpdate   time.Time         `json:"last_update"`
	KeywordCount int               `json:"keyword_count"`
	TopicCount   int               `json:"topic_count"`
	RefreshCount int64             `json:"refresh_count"`
	LastError    string            `json:"last_error,omitempty"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
}

// Controller drives the pipeline. The clusterer and hub are optional;
// without a clusterer snapshots carry no topics, without a hub nothing
// is pushed.
type Controller struct {
	agg       *aggregator.Aggregator
	clusterer insight.Clusterer
	hub       *stream.Hub
	cfg       Config
	log       zerolog.Logger

	snapshot     atomic.Pointer[core.Snapshot]
	state        atomic.Value // string
	refreshCount atomic.Int64

	mu       sync.Mutex
	inflight chan struct{}
	lastSnap *core.Snapshot
	lastErr  error
	srcErrs  map[string]string
	raw      []core.RawTrend

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

func New(agg *aggregator.Aggregator, clusterer insight.Clusterer, hub *stream.Hub, cfg Config, log zerolog.Logger) *Controller {
	c := &Controller{
		agg:       agg,
		clusterer: clusterer,
		hub:       hub,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "collector").Logger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.state.Store(StateIdle)
	return c
}

// Snapshot returns the current published snapshot, nil before the first
// successful refresh. Callers must treat it as read-only.
func (c *Controller) Snapshot() *core.Snapshot { return c.snapshot.Load() }

// RawTrends returns the raw observations behind the published snapshot,
// flattened in adapter order. Empty when the snapshot was restored from
// disk rather than refreshed.
func (c *Controller) RawTrends() []core.RawTrend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// Status reports the controller state for the status endpoint.
func (c *Controller) Status() Status {
	st := Status{
		State:        c.state.Load().(string),
		RefreshCount: c.refreshCount.Load(),
	}
	if snap := c.snapshot.Load(); snap != nil {
		st.LastUpdate = snap.Timestamp
		st.KeywordCount = len(snap.HotKeywords)
		st.TopicCount = len(snap.Topics)
	}
	c.mu.Lock()
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if len(c.srcErrs) > 0 {
		st.SourceErrors = make(map[string]string, len(c.srcErrs))
		for k, v := range c.srcErrs {
			st.SourceErrors[k] = v
		}
	}
	c.mu.Unlock()
	return st
}

// Bootstrap restores the persisted snapshot and refreshes synchronously
// when nothing usable was restored. A restored snapshot older than the
// stale threshold counts as unusable, but is still published so clients
// see data while the refresh runs.
func (c *Controller) Bootstrap(ctx context.Context) {
	restored := c.restore()
	if restored != nil {
		c.snapshot.Store(restored)
	}

	age := time.Duration(0)
	if restored != nil {
		age = time.Since(restored.Timestamp)
	}
	if restored != nil && age <= c.cfg.StaleThreshold {
		c.log.Info().Time("timestamp", restored.Timestamp).Msg("restored fresh snapshot, skipping initial refresh")
		return
	}
	if restored != nil {
		c.log.Info().Dur("age", age).Msg("restored snapshot is stale, refreshing")
	}
	if _, err := c.RefreshNow(ctx); err != nil {
		c.log.Error().Err(err).Msg("initial refresh failed")
	}
}

// Run executes the periodic loop until Stop is called or ctx ends.
func (c *Controller) Run(ctx context.Context) {
	c.started.Store(true)
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.RefreshNow(ctx); err != nil {
				c.log.Error().Err(err).Msg("scheduled refresh failed")
			}
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RefreshNow runs one refresh, or joins the in-flight one. All callers
// of a coalesced pass receive the same snapshot and error. Once Stop has
// begun no new refresh starts; callers get the current snapshot back.
func (c *Controller) RefreshNow(ctx context.Context) (*core.Snapshot, error) {
	if st := c.state.Load().(string); st == StateStopping || st == StateStopped {
		return c.snapshot.Load(), ErrStopping
	}

	c.mu.Lock()
	if ch := c.inflight; ch != nil {
		c.mu.Unlock()
		select {
		case <-ch:
			c.mu.Lock()
			snap, err := c.lastSnap, c.lastErr
			c.mu.Unlock()
			return snap, err
		case <-ctx.Done():
			return c.snapshot.Load(), ctx.Err()
		}
	}
	ch := make(chan struct{})
	c.inflight = ch
	c.mu.Unlock()

	snap, err := c.refresh(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.lastSnap, c.lastErr = snap, err
	c.mu.Unlock()
	close(ch)
	return snap, err
}

func (c *Controller) refresh(ctx context.Context) (*core.Snapshot, error) {
	c.state.Store(StateRefreshing)
	// Leave the state alone if Stop overwrote it mid-refresh.
	defer c.state.CompareAndSwap(StateRefreshing, StateIdle)
	started := time.Now()

	result, err := c.agg.Aggregate(ctx)
	if err != nil {
		// The previous snapshot stays published; stale data beats none.
		c.recordSourceErrors(nil)
		if errors.Is(err, aggregator.ErrAllSourcesFailed) {
			c.log.Error().Msg("refresh failed, keeping previous snapshot")
		}
		return c.snapshot.Load(), err
	}
	c.recordSourceErrors(result.SourceErrors)
	c.mu.Lock()
	c.raw = result.Raw
	c.mu.Unlock()

	snap := &core.Snapshot{
		HotKeywords: result.Fused,
		Topics:      c.cluster(ctx, result.Fused),
		RawIndex:    result.RawIndex,
		Timestamp:   result.Timestamp,
	}

	c.snapshot.Store(snap)
	c.refreshCount.Add(1)
	c.persist(snap)
	c.broadcast(snap)

	c.log.Info().
		Int("keywords", len(snap.HotKeywords)).
		Int("topics", len(snap.Topics)).
		Dur("took", time.Since(started)).
		Msg("refresh complete")
	return snap, nil
}

// cluster derives topics from the top fused keywords. Clustering is best
// effort: any failure yields an empty topic list.
func (c *Controller) cluster(ctx context.Context, fused []core.FusedKeyword) []core.Topic {
	if c.clusterer == nil || len(fused) == 0 {
		return nil
	}

	n := len(fused)
	if n > clusterInputLimit {
		n = clusterInputLimit
	}
	keywords := make([]string, 0, n)
	for _, f := range fused[:n] {
		keywords = append(keywords, f.Keyword)
	}

	topics, err := c.clusterer.ClusterTopics(ctx, keywords)
	if err != nil {
		c.log.Warn().Err(err).Msg("clustering failed, publishing without topics")
		return nil
	}
	return topics
}

func (c *Controller) broadcast(snap *core.Snapshot) {
	if c.hub == nil {
		return
	}
	hot := snap.HotKeywords
	if len(hot) > broadcastHotLimit {
		hot = hot[:broadcastHotLimit]
	}
	topics := snap.Topics
	if len(topics) > broadcastTopicLimit {
		topics = topics[:broadcastTopicLimit]
	}
	c.hub.Broadcast(stream.Update{
		Event: "trends_update",
		Data: map[string]any{
			"hot_keywords": hot,
			"topics":       topics,
			"timestamp":    snap.Timestamp,
		},
	})
}

func (c *Controller) recordSourceErrors(errs map[core.Source]error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(errs) == 0 {
		c.srcErrs = nil
		return
	}
	c.srcErrs = make(map[string]string, len(errs))
	for src, err := range errs {
		c.srcErrs[string(src)] = err.Error()
	}
}

// Stop ends the loop, waits up to the shutdown grace for an in-flight
// refresh and persists the final snapshot.
func (c *Controller) Stop() {
	c.state.Store(StateStopping)
	c.once.Do(func() { close(c.stop) })

	if c.started.Load() {
		select {
		case <-c.done:
		case <-time.After(c.cfg.ShutdownGrace):
			c.log.Warn().Msg("shutdown grace elapsed before loop exit")
		}
	}

	c.mu.Lock()
	inflight := c.inflight
	c.mu.Unlock()
	if inflight != nil {
		select {
		case <-inflight:
		case <-time.After(c.cfg.ShutdownGrace):
			c.log.Warn().Msg("shutdown grace elapsed with refresh in flight")
		}
	}

	if snap := c.snapshot.Load(); snap != nil {
		c.persist(snap)
	}
	c.state.Store(StateStopped)
	c.log.Info().Msg("collector stopped")
}

// persist writes the snapshot to disk without its raw index, which is
// rebuilt on the next refresh and only bloats the file.
func (c *Controller) persist(snap *core.Snapshot) {
	if c.cfg.SnapshotPath == "" {
		return
	}
	slim := *snap
	slim.RawIndex = nil

	data, err := json.MarshalIndent(&slim, "", "  ")
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode snapshot")
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.SnapshotPath), 0o755); err != nil {
		c.log.Warn().Err(err).Msg("failed to create snapshot directory")
		return
	}
	tmp := c.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.log.Warn().Err(err).Msg("failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, c.cfg.SnapshotPath); err != nil {
		c.log.Warn().Err(err).Msg("failed to replace snapshot")
	}
}

// restore loads the persisted snapshot, nil when absent or unreadable.
func (c *Controller) restore() *core.Snapshot {
	if c.cfg.SnapshotPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cfg.SnapshotPath)
	if err != nil {
		return nil
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn().Err(err).Msg("ignoring corrupt snapshot file")
		return nil
	}
	if snap.Timestamp.IsZero() {
		return nil
	}
	return &snap
}
