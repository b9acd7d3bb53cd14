package query

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"trendwatch/internal/aggregator"
	"trendwatch/internal/collector"
	"trendwatch/internal/core"
	"trendwatch/internal/logger"
	"trendwatch/internal/sources"
)

type staticAdapter struct {
	trends []core.RawTrend
}

func (s *staticAdapter) Name() core.Source { return core.SourceNaver }

func (s *staticAdapter) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	return s.trends, nil
}

func newService(t *testing.T, trends []core.RawTrend) *Service {
	t.Helper()
	agg := aggregator.New([]sources.Adapter{&staticAdapter{trends: trends}}, aggregator.Config{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, logger.Get())
	ctrl := collector.New(agg, nil, nil, collector.Config{Interval: time.Hour}, logger.Get())
	if _, err := ctrl.RefreshNow(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}
	return New(ctrl, nil, nil)
}

func seedTrends() []core.RawTrend {
	return []core.RawTrend{
		{Keyword: "환율", Source: core.SourceNaver, Rank: 1, URL: "https://s/1"},
		{Keyword: "태풍", Source: core.SourceNaver, Rank: 2},
		{Keyword: "금리", Source: core.SourceNaver, Rank: 3},
	}
}

func TestHotKeywordsLimit(t *testing.T) {
	s := newService(t, seedTrends())

	hot, ts := s.HotKeywords(2)
	if len(hot) != 2 {
		t.Fatalf("expected 2 keywords, got %d", len(hot))
	}
	if ts.IsZero() {
		t.Error("expected snapshot timestamp")
	}

	all, _ := s.HotKeywords(0)
	if len(all) != 3 {
		t.Errorf("expected unlimited with n=0, got %d", len(all))
	}
}

func TestKeywordDetails(t *testing.T) {
	s := newService(t, []core.RawTrend{
		{Keyword: "환율", Source: core.SourceNaver, Rank: 1, URL: "https://s/1",
			Metadata: core.Metadata{"search_count": "5만"}},
		{Keyword: "환율", Source: core.SourceNews, Score: 78, URL: "https://s/1",
			Metadata: core.Metadata{"press": "연합뉴스"}},
		{Keyword: "환율", Source: core.SourceNews, Score: 60, URL: "https://s/2"},
		{Keyword: "태풍", Source: core.SourceNaver, Rank: 2},
	})

	d, ok := s.KeywordDetails("  환율 ")
	if !ok {
		t.Fatal("expected lookup to succeed through normalization")
	}
	if d.Keyword != "  환율 " || d.RelatedCount != 3 {
		t.Errorf("unexpected details: %+v", d)
	}
	if !reflect.DeepEqual(d.URLs, []string{"https://s/1", "https://s/2"}) {
		t.Errorf("expected deduplicated URLs, got %v", d.URLs)
	}
	if !reflect.DeepEqual(d.Sources, []core.Source{core.SourceNaver, core.SourceNews}) {
		t.Errorf("unexpected sources: %v", d.Sources)
	}
	// Raw scores only: the scoreless portal hit adds nothing here.
	if d.TotalScore != 138 {
		t.Errorf("expected raw score sum 138, got %d", d.TotalScore)
	}
	if d.Metadata["search_count"] != "5만" || d.Metadata["press"] != "연합뉴스" {
		t.Errorf("expected merged metadata, got %v", d.Metadata)
	}

	if _, ok := s.KeywordDetails("없는 키워드"); ok {
		t.Error("unknown keyword must report absent")
	}
}

func TestKeywordDetailsBeyondTopCap(t *testing.T) {
	agg := aggregator.New([]sources.Adapter{&staticAdapter{trends: seedTrends()}}, aggregator.Config{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		TopCap:     1,
	}, logger.Get())
	ctrl := collector.New(agg, nil, nil, collector.Config{Interval: time.Hour}, logger.Get())
	if _, err := ctrl.RefreshNow(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}
	s := New(ctrl, nil, nil)

	if hot, _ := s.HotKeywords(0); len(hot) != 1 {
		t.Fatalf("expected cap of 1, got %d", len(hot))
	}
	// The keyword fell off the ranked list but its raw records remain.
	d, ok := s.KeywordDetails("금리")
	if !ok || d.RelatedCount != 1 {
		t.Errorf("expected capped-out keyword to resolve, got %v %+v", ok, d)
	}
}

func TestTopicLookupMissesOnEmptySnapshot(t *testing.T) {
	s := newService(t, seedTrends())
	if _, ok := s.Topic("topic_1"); ok {
		t.Error("expected no topics without a clusterer")
	}
}

func TestHistoryDelegatesToProvider(t *testing.T) {
	s := newService(t, seedTrends())
	points := s.History("환율", 7)
	if len(points) != 7 {
		t.Fatalf("expected 7 points, got %d", len(points))
	}
}

func TestStatusReflectsSnapshot(t *testing.T) {
	s := newService(t, seedTrends())
	st := s.Status()
	if st.KeywordCount != 3 || st.RefreshCount != 1 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestBookmarksLifecycle(t *testing.T) {
	b := NewBookmarks()

	first := b.Add("환율", "주시")
	if first.ID == "" || first.Keyword != "환율" {
		t.Fatalf("unexpected bookmark: %+v", first)
	}

	// Same keyword updates in place instead of duplicating.
	again := b.Add("환율 ", "메모 변경")
	if again.ID != first.ID || again.Memo != "메모 변경" {
		t.Errorf("expected in-place update, got %+v", again)
	}

	b.Add("태풍", "")
	list := b.List()
	if len(list) != 2 || list[0].Keyword != "환율" || list[1].Keyword != "태풍" {
		t.Errorf("unexpected list: %+v", list)
	}

	if !b.Remove(first.ID) {
		t.Error("expected removal of existing bookmark")
	}
	if b.Remove(first.ID) {
		t.Error("second removal must report absent")
	}
	if len(b.List()) != 1 {
		t.Errorf("expected 1 bookmark left, got %d", len(b.List()))
	}
}

func TestBookmarksSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmarks.json")

	b := NewBookmarksFile(path)
	b.Add("환율", "주시")
	removed := b.Add("태풍", "")
	b.Remove(removed.ID)

	reopened := NewBookmarksFile(path)
	list := reopened.List()
	if len(list) != 1 || list[0].Keyword != "환율" || list[0].Memo != "주시" {
		t.Fatalf("unexpected restored bookmarks: %+v", list)
	}

	// A corrupt file starts empty instead of failing.
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := NewBookmarksFile(path).List(); len(got) != 0 {
		t.Errorf("expected empty store from corrupt file, got %+v", got)
	}
}
