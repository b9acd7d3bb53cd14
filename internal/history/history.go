// Package history serves per-keyword popularity series. No upstream
// currently exposes real historical volume, so the default provider
// synthesizes a deterministic series; the interface keeps the HTTP
// surface stable for when a real backend exists.
package history

import (
	"hash/fnv"
	"time"
)

// Point is one day in a keyword's series.
type Point struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Score int    `json:"score"`
}

// Provider returns the last `days` days of popularity for a keyword,
// oldest first.
type Provider interface {
	KeywordHistory(keyword string, days int) []Point
}

// Mock is the deterministic default provider. The same keyword and date
// always produce the same score, so charts are stable across requests.
type Mock struct {
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (m *Mock) KeywordHistory(keyword string, days int) []Point {
	if days <= 0 {
		days = 7
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	today := now()
	points := make([]Point, 0, days)
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, -(days - 1 - i)).Format("2006-01-02")
		// The base ramps up toward today so charts trend upward.
		points = append(points, Point{
			Date:  date,
			Score: 50 + i*10 + jitter(keyword+date),
		})
	}
	return points
}

// jitter derives a stable 0..19 offset from the keyword and date.
func jitter(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % 20)
}
