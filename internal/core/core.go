package core

import (
	"strings"
	"time"
)

// Source identifies where a raw trend observation came from.
type Source string

const (
	SourceYouTube         Source = "youtube"     // YouTube most-popular listing
	SourceNaver           Source = "naver"       // Naver realtime hot searches
	SourceDaum            Source = "daum"        // Daum realtime hot searches
	SourceZum             Source = "zum"         // Zum realtime hot searches
	SourceNate            Source = "nate"        // Nate realtime hot searches
	SourceNews            Source = "news"        // Yonhap wire-news RSS
	SourceNaverNews       Source = "naver_news"  // Naver news ranking page
	SourceDaumNews        Source = "daum_news"   // Daum news ranking page
	SourceGoogleTrends    Source = "google"      // Google Trends daily RSS
	SourceGoogleRealtime  Source = "google_rt"   // Google Trends realtime listing
)

// PortalSources lists the hot-search portals eligible for the combined
// portal projection.
var PortalSources = []Source{SourceNaver, SourceDaum, SourceZum, SourceNate}

// Metadata is the open key/value mapping attached to a raw trend.
// Values are restricted to what encoding/json produces: primitives,
// []any and nested map[string]any.
type Metadata map[string]any

// RawTrend is one raw observation from one source. The keyword keeps its
// original casing; NormalizeKeyword produces the form used for equality.
type RawTrend struct {
	Keyword     string    `json:"keyword"`            // Raw keyword text as observed
	Source      Source    `json:"source"`             // Source identity
	Score       int       `json:"score"`              // Non-negative source score (0 = scoreless)
	URL         string    `json:"url,omitempty"`      // Optional link to the underlying item
	Rank        int       `json:"rank,omitempty"`     // Optional 1-based rank within the source (0 = unranked)
	Delta       int       `json:"delta,omitempty"`    // Optional rank movement reported by the source
	Metadata    Metadata  `json:"metadata,omitempty"` // Open per-source metadata
	CollectedAt time.Time `json:"collected_at"`       // When the observation was made
}

// FusedKeyword is one entry in the ranked aggregation output.
type FusedKeyword struct {
	Keyword       string         `json:"keyword"`                   // Canonical display form (first seen)
	Sources       []Source       `json:"sources"`                   // Sources the keyword appeared in, first-seen order
	Score         int            `json:"score"`                     // Fused score (sum of per-source contributions)
	Rank          int            `json:"rank"`                      // 1-based rank after the global sort
	PerSourceRank map[Source]int `json:"source_ranks,omitempty"`    // Rank the keyword held within each source
	URLs          []string       `json:"urls,omitempty"`            // Deduplicated URLs, first-appearance order
	Timestamp     time.Time      `json:"timestamp"`                 // Refresh timestamp
}

// HasSource reports whether the keyword was observed in the given source.
func (f FusedKeyword) HasSource(s Source) bool {
	for _, have := range f.Sources {
		if have == s {
			return true
		}
	}
	return false
}

// Topic is a semantic cluster of hot keywords with marketing hook copy.
type Topic struct {
	ID        string    `json:"id"`          // Stable within a snapshot, e.g. "topic_1"
	Topic     string    `json:"topic"`       // Human-readable label
	Keywords  []string  `json:"keywords"`    // Display forms of the clustered keywords
	Hooks     []string  `json:"hook_copies"` // Short hook phrases, best first
	CreatedAt time.Time `json:"created_at"`  // When the cluster was produced
}

// Snapshot is the immutable publication unit: ranked keywords, topics and
// the raw-record index from one successful refresh. Published snapshots are
// replaced whole; callers must not mutate them.
type Snapshot struct {
	HotKeywords []FusedKeyword        `json:"hot_keywords"`
	Topics      []Topic               `json:"topics"`
	RawIndex    map[string][]RawTrend `json:"raw_index,omitempty"` // NormalizeKeyword(kw) -> observations
	Timestamp   time.Time             `json:"timestamp"`
}

// NormalizeKeyword returns the case-folded, whitespace-collapsed form of a
// keyword used for cross-source equality. Display always uses the raw form.
func NormalizeKeyword(keyword string) string {
	return strings.Join(strings.Fields(strings.ToLower(keyword)), " ")
}
