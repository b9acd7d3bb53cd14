package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"trendwatch/internal/core"
)

func TestUpdateAppliesFetchedData(t *testing.T) {
	m := NewModel("http://localhost:5000")

	next, _ := m.Update(fetchedMsg{
		keywords: []core.FusedKeyword{
			{Keyword: "환율", Rank: 1, Score: 130, Sources: []core.Source{core.SourceNaver}},
		},
		topics:     []core.Topic{{Topic: "경제", Keywords: []string{"환율"}}},
		lastUpdate: "2026-08-24T15:00:00Z",
	})
	updated := next.(Model)

	if updated.loading {
		t.Error("expected loading cleared after fetch")
	}
	view := updated.View()
	if !strings.Contains(view, "환율") || !strings.Contains(view, "130") {
		t.Errorf("keyword view missing data:\n%s", view)
	}
}

func TestUpdateKeepsDataOnError(t *testing.T) {
	m := NewModel("http://localhost:5000")
	next, _ := m.Update(fetchedMsg{
		keywords: []core.FusedKeyword{{Keyword: "환율", Rank: 1}},
	})
	m = next.(Model)

	next, _ = m.Update(fetchedMsg{err: errors.New("connection refused")})
	m = next.(Model)

	if len(m.keywords) != 1 {
		t.Error("previous data must survive a failed poll")
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("error must be shown")
	}
}

func TestTabSwitchesView(t *testing.T) {
	m := NewModel("http://localhost:5000")
	next, _ := m.Update(fetchedMsg{
		topics: []core.Topic{{Topic: "경제", Keywords: []string{"환율"}, Hooks: []string{"지금 확인"}}},
	})
	m = next.(Model)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.tab != tabTopics {
		t.Fatalf("expected topics tab, got %v", m.tab)
	}
	if !strings.Contains(m.View(), "경제") {
		t.Error("topic view missing data")
	}
}

func TestQuitKey(t *testing.T) {
	m := NewModel("http://localhost:5000")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("expected tea.Quit, got %T", msg)
	}
}
