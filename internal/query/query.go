// Package query is the read side: it answers every API question from
// the currently published snapshot without touching the collectors.
package query

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"trendwatch/internal/collector"
	"trendwatch/internal/core"
	"trendwatch/internal/history"
	"trendwatch/internal/stream"
)

// Details is the full view of one keyword, aggregated over every raw
// observation behind it: all links, the sources it appeared in, the sum
// of raw scores and the merged per-source metadata.
type Details struct {
	Keyword      string        `json:"keyword"`
	URLs         []string      `json:"urls"`
	Sources      []core.Source `json:"sources"`
	TotalScore   int           `json:"total_score"`
	Metadata     core.Metadata `json:"metadata"`
	RelatedCount int           `json:"related_count"`
}

// Status extends the collector status with transport-level figures.
type Status struct {
	collector.Status
	Subscribers int   `json:"subscribers"`
	DroppedPush int64 `json:"dropped_push,omitempty"`
}

// Service serves reads over the published snapshot.
type Service struct {
	ctrl    *collector.Controller
	hub     *stream.Hub
	history history.Provider
}

func New(ctrl *collector.Controller, hub *stream.Hub, hist history.Provider) *Service {
	if hist == nil {
		hist = &history.Mock{}
	}
	return &Service{ctrl: ctrl, hub: hub, history: hist}
}

// HotKeywords returns the top n fused keywords and the snapshot time.
// Before the first refresh both are zero values.
func (s *Service) HotKeywords(n int) ([]core.FusedKeyword, time.Time) {
	snap := s.ctrl.Snapshot()
	if snap == nil {
		return nil, time.Time{}
	}
	hot := snap.HotKeywords
	if n > 0 && len(hot) > n {
		hot = hot[:n]
	}
	return hot, snap.Timestamp
}

// Topics returns up to n topics and the snapshot time.
func (s *Service) Topics(n int) ([]core.Topic, time.Time) {
	snap := s.ctrl.Snapshot()
	if snap == nil {
		return nil, time.Time{}
	}
	topics := snap.Topics
	if n > 0 && len(topics) > n {
		topics = topics[:n]
	}
	return topics, snap.Timestamp
}

// Topic looks a topic up by its snapshot-scoped id.
func (s *Service) Topic(id string) (core.Topic, bool) {
	snap := s.ctrl.Snapshot()
	if snap == nil {
		return core.Topic{}, false
	}
	for _, t := range snap.Topics {
		if t.ID == id {
			return t, true
		}
	}
	return core.Topic{}, false
}

// KeywordDetails resolves a keyword by its normalized form against the
// raw-record index, so keywords trimmed out of the ranked list by the
// top cap still resolve. TotalScore sums the raw scores as observed;
// scoreless items add nothing here, unlike in the fused ranking.
func (s *Service) KeywordDetails(keyword string) (Details, bool) {
	snap := s.ctrl.Snapshot()
	if snap == nil {
		return Details{}, false
	}
	obs := snap.RawIndex[core.NormalizeKeyword(keyword)]
	if len(obs) == 0 {
		return Details{}, false
	}

	d := Details{
		Keyword:      keyword,
		Metadata:     core.Metadata{},
		RelatedCount: len(obs),
	}
	seenSrc := make(map[core.Source]bool)
	seenURL := make(map[string]bool)
	for _, tr := range obs {
		if tr.URL != "" && !seenURL[tr.URL] {
			seenURL[tr.URL] = true
			d.URLs = append(d.URLs, tr.URL)
		}
		if !seenSrc[tr.Source] {
			seenSrc[tr.Source] = true
			d.Sources = append(d.Sources, tr.Source)
		}
		d.TotalScore += tr.Score
		for k, v := range tr.Metadata {
			d.Metadata[k] = v
		}
	}
	return d, true
}

// History returns the keyword's popularity series, oldest first.
func (s *Service) History(keyword string, days int) []history.Point {
	return s.history.KeywordHistory(keyword, days)
}

// RefreshNow triggers an immediate refresh, joining any in-flight pass.
func (s *Service) RefreshNow(ctx context.Context) (*core.Snapshot, error) {
	return s.ctrl.RefreshNow(ctx)
}

// Status combines collector and push-stream state.
func (s *Service) Status() Status {
	st := Status{Status: s.ctrl.Status()}
	if s.hub != nil {
		st.Subscribers = s.hub.Count()
		st.DroppedPush = s.hub.Dropped()
	}
	return st
}

// Bookmark is one saved keyword.
type Bookmark struct {
	ID        string    `json:"id"`
	Keyword   string    `json:"keyword"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Bookmarks is a saved-keyword store guarded by a lock. With a backing
// file every mutation is flushed to disk; without one bookmarks live for
// the process lifetime only.
type Bookmarks struct {
	mu    sync.RWMutex
	items map[string]Bookmark
	order []string
	path  string
}

func NewBookmarks() *Bookmarks {
	return &Bookmarks{items: make(map[string]Bookmark)}
}

// NewBookmarksFile builds a store backed by a JSON file, restoring any
// previously saved bookmarks. An unreadable file starts empty.
func NewBookmarksFile(path string) *Bookmarks {
	b := NewBookmarks()
	b.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		return b
	}
	var saved []Bookmark
	if err := json.Unmarshal(data, &saved); err != nil {
		return b
	}
	for _, bm := range saved {
		if bm.ID == "" || bm.Keyword == "" {
			continue
		}
		b.items[bm.ID] = bm
		b.order = append(b.order, bm.ID)
	}
	return b
}

// flush writes the store to its backing file. Best effort; callers hold
// the write lock.
func (b *Bookmarks) flush() {
	if b.path == "" {
		return
	}
	out := make([]Bookmark, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.items[id])
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, b.path)
}

// Add saves a keyword and returns the stored bookmark. Saving the same
// keyword twice updates the memo instead of duplicating.
func (b *Bookmarks) Add(keyword, memo string) Bookmark {
	key := core.NormalizeKeyword(keyword)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.order {
		if core.NormalizeKeyword(b.items[id].Keyword) == key {
			bm := b.items[id]
			bm.Memo = memo
			b.items[id] = bm
			b.flush()
			return bm
		}
	}

	bm := Bookmark{
		ID:        uuid.NewString(),
		Keyword:   keyword,
		Memo:      memo,
		CreatedAt: time.Now(),
	}
	b.items[bm.ID] = bm
	b.order = append(b.order, bm.ID)
	b.flush()
	return bm
}

// List returns all bookmarks in insertion order.
func (b *Bookmarks) List() []Bookmark {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Bookmark, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.items[id])
	}
	return out
}

// Remove deletes a bookmark by id, reporting whether it existed.
func (b *Bookmarks) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[id]; !ok {
		return false
	}
	delete(b.items, id)
	for i, have := range b.order {
		if have == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.flush()
	return true
}
