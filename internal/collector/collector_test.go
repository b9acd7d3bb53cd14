package collector

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trendwatch/internal/aggregator"
	"trendwatch/internal/core"
	"trendwatch/internal/logger"
	"trendwatch/internal/sources"
	"trendwatch/internal/stream"
)

type scriptedAdapter struct {
	mu     sync.Mutex
	calls  atomic.Int32
	block  chan struct{} // when set, Fetch waits here
	err    error
	trends []core.RawTrend
}

func (s *scriptedAdapter) Name() core.Source { return core.SourceNaver }

func (s *scriptedAdapter) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.trends, nil
}

func (s *scriptedAdapter) setError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fakeClusterer struct {
	topics []core.Topic
	err    error
	calls  atomic.Int32
}

func (f *fakeClusterer) ClusterTopics(ctx context.Context, keywords []string) ([]core.Topic, error) {
	f.calls.Add(1)
	return f.topics, f.err
}

func (f *fakeClusterer) GenerateHooks(ctx context.Context, topic string, keywords []string) ([]string, error) {
	return nil, nil
}

func testAggregator(adapter sources.Adapter) *aggregator.Aggregator {
	return aggregator.New([]sources.Adapter{adapter}, aggregator.Config{
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
		AdapterTimeout: 2 * time.Second,
		Timeout:        5 * time.Second,
	}, logger.Get())
}

func sampleTrends() []core.RawTrend {
	return []core.RawTrend{
		{Keyword: "환율", Source: core.SourceNaver, Rank: 1},
		{Keyword: "태풍", Source: core.SourceNaver, Rank: 2},
	}
}

func testConfig(dir string) Config {
	return Config{
		Interval:       time.Hour,
		StaleThreshold: time.Hour,
		ShutdownGrace:  time.Second,
		SnapshotPath:   filepath.Join(dir, "api_cache.json"),
	}
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	cl := &fakeClusterer{topics: []core.Topic{{Topic: "경제", Keywords: []string{"환율"}}}}
	c := New(testAggregator(adapter), cl, nil, testConfig(t.TempDir()), logger.Get())

	snap, err := c.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("RefreshNow failed: %v", err)
	}
	if snap == nil || len(snap.HotKeywords) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Topics) != 1 || snap.Topics[0].Topic != "경제" {
		t.Errorf("expected clustered topics, got %+v", snap.Topics)
	}
	if c.Snapshot() != snap {
		t.Error("published snapshot must be the refresh result")
	}

	st := c.Status()
	if st.RefreshCount != 1 || st.KeywordCount != 2 || st.TopicCount != 1 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends(), block: make(chan struct{})}
	c := New(testAggregator(adapter), nil, nil, testConfig(t.TempDir()), logger.Get())

	const callers = 8
	results := make([]*core.Snapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.RefreshNow(context.Background())
		}(i)
	}

	// Let every caller reach the controller before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(adapter.block)
	wg.Wait()

	if got := adapter.calls.Load(); got != 1 {
		t.Fatalf("expected 1 underlying fetch for %d callers, got %d", callers, got)
	}
	for i, snap := range results {
		if snap == nil || snap != results[0] {
			t.Fatalf("caller %d got a different snapshot: %v", i, snap)
		}
	}
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	c := New(testAggregator(adapter), nil, nil, testConfig(t.TempDir()), logger.Get())

	first, err := c.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	adapter.setError(errors.New("portal down"))
	snap, err := c.RefreshNow(context.Background())
	if !errors.Is(err, aggregator.ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}
	if snap != first || c.Snapshot() != first {
		t.Error("previous snapshot must stay published after a failed refresh")
	}

	st := c.Status()
	if st.LastError == "" {
		t.Error("expected last error recorded in status")
	}
	if st.RefreshCount != 1 {
		t.Errorf("failed refresh must not count, got %d", st.RefreshCount)
	}
}

func TestClustererFailureDegradesToNoTopics(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	cl := &fakeClusterer{err: errors.New("quota exhausted")}
	c := New(testAggregator(adapter), cl, nil, testConfig(t.TempDir()), logger.Get())

	snap, err := c.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("refresh must survive clusterer failure: %v", err)
	}
	if len(snap.Topics) != 0 {
		t.Errorf("expected no topics, got %+v", snap.Topics)
	}
	if len(snap.HotKeywords) != 2 {
		t.Errorf("keywords must still be published, got %d", len(snap.HotKeywords))
	}
}

func TestRefreshBroadcastsUpdate(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	hub := stream.NewHub(4, logger.Get())
	id, updates := hub.Subscribe()
	defer hub.Unsubscribe(id)

	c := New(testAggregator(adapter), nil, hub, testConfig(t.TempDir()), logger.Get())
	if _, err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow failed: %v", err)
	}

	select {
	case u := <-updates:
		if u.Event != "trends_update" {
			t.Errorf("expected trends_update, got %q", u.Event)
		}
		payload, ok := u.Data.(map[string]any)
		if !ok {
			t.Fatalf("unexpected payload type %T", u.Data)
		}
		if _, ok := payload["hot_keywords"]; !ok {
			t.Error("payload missing hot_keywords")
		}
	case <-time.After(time.Second):
		t.Fatal("no update broadcast after refresh")
	}
}

func TestRefreshNowRejectedAfterStop(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	c := New(testAggregator(adapter), nil, nil, testConfig(t.TempDir()), logger.Get())

	first, err := c.RefreshNow(context.Background())
	if err != nil {
		t.Fatalf("RefreshNow failed: %v", err)
	}
	c.Stop()

	snap, err := c.RefreshNow(context.Background())
	if !errors.Is(err, ErrStopping) {
		t.Fatalf("expected ErrStopping after shutdown, got %v", err)
	}
	if snap != first {
		t.Error("rejected refresh must return the current snapshot")
	}
	if got := adapter.calls.Load(); got != 1 {
		t.Errorf("no new fetch may start after Stop, got %d", got)
	}
	if st := c.Status(); st.State != StateStopped {
		t.Errorf("expected stopped state, got %s", st.State)
	}
}

func TestRawTrendsFollowAdapterOrder(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	c := New(testAggregator(adapter), nil, nil, testConfig(t.TempDir()), logger.Get())

	if len(c.RawTrends()) != 0 {
		t.Fatal("expected no raw trends before the first refresh")
	}
	if _, err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow failed: %v", err)
	}

	raw := c.RawTrends()
	if len(raw) != 2 || raw[0].Keyword != "환율" || raw[1].Keyword != "태풍" {
		t.Errorf("expected adapter-ordered raw observations, got %+v", raw)
	}
}

func TestBootstrapRestoresFreshSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	snap := core.Snapshot{
		HotKeywords: []core.FusedKeyword{{Keyword: "환율", Rank: 1}},
		Timestamp:   time.Now().Add(-time.Minute),
	}
	data, _ := json.Marshal(snap)
	if err := os.WriteFile(cfg.SnapshotPath, data, 0o644); err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}

	adapter := &scriptedAdapter{trends: sampleTrends()}
	c := New(testAggregator(adapter), nil, nil, cfg, logger.Get())
	c.Bootstrap(context.Background())

	if got := adapter.calls.Load(); got != 0 {
		t.Errorf("fresh snapshot must skip the initial refresh, got %d fetches", got)
	}
	if s := c.Snapshot(); s == nil || s.HotKeywords[0].Keyword != "환율" {
		t.Errorf("restored snapshot not published: %+v", s)
	}
}

func TestBootstrapRefreshesWhenStale(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	snap := core.Snapshot{
		HotKeywords: []core.FusedKeyword{{Keyword: "옛날 키워드", Rank: 1}},
		Timestamp:   time.Now().Add(-2 * time.Hour),
	}
	data, _ := json.Marshal(snap)
	if err := os.WriteFile(cfg.SnapshotPath, data, 0o644); err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}

	adapter := &scriptedAdapter{trends: sampleTrends()}
	c := New(testAggregator(adapter), nil, nil, cfg, logger.Get())
	c.Bootstrap(context.Background())

	if got := adapter.calls.Load(); got != 1 {
		t.Errorf("stale snapshot must trigger a refresh, got %d fetches", got)
	}
	if s := c.Snapshot(); s == nil || s.HotKeywords[0].Keyword == "옛날 키워드" {
		t.Errorf("expected refreshed snapshot, got %+v", s)
	}
}

func TestBootstrapWithoutFileRefreshes(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	c := New(testAggregator(adapter), nil, nil, testConfig(t.TempDir()), logger.Get())
	c.Bootstrap(context.Background())

	if got := adapter.calls.Load(); got != 1 {
		t.Errorf("expected initial refresh without a snapshot file, got %d fetches", got)
	}
}

func TestPersistAndRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	adapter := &scriptedAdapter{trends: sampleTrends()}
	c := New(testAggregator(adapter), nil, nil, cfg, logger.Get())
	if _, err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow failed: %v", err)
	}

	// A second controller restores what the first persisted.
	c2 := New(testAggregator(&scriptedAdapter{err: errors.New("down")}), nil, nil, cfg, logger.Get())
	c2.Bootstrap(context.Background())
	s := c2.Snapshot()
	if s == nil || len(s.HotKeywords) != 2 {
		t.Fatalf("expected restored snapshot, got %+v", s)
	}
	if s.RawIndex != nil {
		t.Error("raw index must not be persisted")
	}
}

func TestRunAndStop(t *testing.T) {
	adapter := &scriptedAdapter{trends: sampleTrends()}
	cfg := testConfig(t.TempDir())
	cfg.Interval = 20 * time.Millisecond
	c := New(testAggregator(adapter), nil, nil, cfg, logger.Get())

	go c.Run(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && adapter.calls.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if adapter.calls.Load() < 2 {
		t.Fatal("periodic refreshes did not run")
	}

	c.Stop()
	if st := c.Status(); st.State != StateStopped {
		t.Errorf("expected stopped state, got %s", st.State)
	}
	if _, err := os.Stat(cfg.SnapshotPath); err != nil {
		t.Errorf("expected snapshot persisted on shutdown: %v", err)
	}
}
