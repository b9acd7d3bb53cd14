package history

import (
	"reflect"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func TestMockHistoryDeterministic(t *testing.T) {
	m := &Mock{Now: fixedNow}

	a := m.KeywordHistory("환율", 7)
	b := m.KeywordHistory("환율", 7)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same keyword and day must produce the same series")
	}
	if len(a) != 7 {
		t.Fatalf("expected 7 points, got %d", len(a))
	}
	if a[0].Date != "2026-08-18" || a[6].Date != "2026-08-24" {
		t.Errorf("expected oldest-first dates, got %s .. %s", a[0].Date, a[6].Date)
	}

	other := m.KeywordHistory("태풍", 7)
	if reflect.DeepEqual(a, other) {
		t.Error("different keywords should not share a series")
	}
}

func TestMockHistoryRampsTowardToday(t *testing.T) {
	m := &Mock{Now: fixedNow}
	a := m.KeywordHistory("환율", 7)
	// Base climbs 10 per day; the 0..19 jitter cannot flip a 60-point rise.
	if a[6].Score <= a[0].Score {
		t.Errorf("series must ramp up toward today, got %d .. %d", a[0].Score, a[6].Score)
	}
}

func TestMockHistoryScoreBounds(t *testing.T) {
	m := &Mock{Now: fixedNow}
	for _, p := range m.KeywordHistory("테스트 키워드", 7) {
		// Base runs 50..110 plus a 0..19 offset.
		if p.Score < 50 || p.Score > 129 {
			t.Errorf("score %d on %s out of bounds", p.Score, p.Date)
		}
	}
}

func TestMockHistoryDefaultDays(t *testing.T) {
	m := &Mock{Now: fixedNow}
	if got := len(m.KeywordHistory("환율", 0)); got != 7 {
		t.Errorf("expected default of 7 days, got %d", got)
	}
}
