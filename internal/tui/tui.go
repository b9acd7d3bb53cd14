// Package tui is a terminal dashboard over the HTTP API: live hot
// keywords and topics with manual refresh. It talks to a running serve
// instance instead of embedding its own collectors.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trendwatch/internal/core"
)

const pollInterval = 30 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	rankStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Width(4)

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

type tab int

const (
	tabKeywords tab = iota
	tabTopics
)

type fetchedMsg struct {
	keywords   []core.FusedKeyword
	topics     []core.Topic
	lastUpdate string
	err        error
}

type tickMsg time.Time

// Model is the dashboard state.
type Model struct {
	baseURL    string
	client     *http.Client
	tab        tab
	keywords   []core.FusedKeyword
	topics     []core.Topic
	lastUpdate string
	err        error
	loading    bool
	width      int
}

func NewModel(baseURL string) Model {
	return Model{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		loading: true,
		width:   80,
	}
}

// Run starts the dashboard against the given API base URL.
func Run(baseURL string) error {
	p := tea.NewProgram(NewModel(baseURL), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "t":
			if m.tab == tabKeywords {
				m.tab = tabTopics
			} else {
				m.tab = tabKeywords
			}
			return m, nil
		case "r":
			m.loading = true
			return m, m.requestRefresh
		}

	case tickMsg:
		return m, tea.Batch(m.fetch, tick())

	case fetchedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.keywords = msg.keywords
			m.topics = msg.topics
			m.lastUpdate = msg.lastUpdate
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("trendwatch"))
	b.WriteString("  ")
	if m.loading {
		b.WriteString(dimStyle.Render("loading..."))
	} else if m.lastUpdate != "" {
		b.WriteString(dimStyle.Render("updated " + m.lastUpdate))
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n\n")
	}

	switch m.tab {
	case tabKeywords:
		b.WriteString(m.keywordView())
	case tabTopics:
		b.WriteString(m.topicView())
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("tab: switch view | r: refresh | q: quit"))
	return b.String()
}

func (m Model) keywordView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("실시간 인기 키워드"))
	b.WriteString("\n\n")

	if len(m.keywords) == 0 {
		b.WriteString(dimStyle.Render("no keywords yet"))
		return b.String()
	}
	for _, kw := range m.keywords {
		b.WriteString(rankStyle.Render(fmt.Sprintf("%d.", kw.Rank)))
		b.WriteString(" " + kw.Keyword + "  ")
		b.WriteString(scoreStyle.Render(fmt.Sprintf("%d", kw.Score)))
		b.WriteString("  ")
		names := make([]string, 0, len(kw.Sources))
		for _, s := range kw.Sources {
			names = append(names, string(s))
		}
		b.WriteString(sourceStyle.Render("[" + strings.Join(names, ", ") + "]"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) topicView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("토픽 클러스터"))
	b.WriteString("\n\n")

	if len(m.topics) == 0 {
		b.WriteString(dimStyle.Render("no topics yet"))
		return b.String()
	}
	for _, t := range m.topics {
		b.WriteString(headerStyle.Render("# " + t.Topic))
		b.WriteString("\n")
		b.WriteString("  " + strings.Join(t.Keywords, ", "))
		b.WriteString("\n")
		for _, hook := range t.Hooks {
			b.WriteString(dimStyle.Render("  > " + hook))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

type apiEnvelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	LastUpdate string          `json:"last_update"`
}

func (m Model) fetch() tea.Msg {
	var msg fetchedMsg

	env, err := m.getEnvelope("/api/keywords/hot?n=20")
	if err != nil {
		return fetchedMsg{err: err}
	}
	if err := json.Unmarshal(env.Data, &msg.keywords); err != nil {
		return fetchedMsg{err: err}
	}
	msg.lastUpdate = env.LastUpdate

	env, err = m.getEnvelope("/api/topics?n=5")
	if err != nil {
		return fetchedMsg{err: err}
	}
	if err := json.Unmarshal(env.Data, &msg.topics); err != nil {
		return fetchedMsg{err: err}
	}
	return msg
}

func (m Model) requestRefresh() tea.Msg {
	resp, err := m.client.Post(m.baseURL+"/api/refresh", "application/json", nil)
	if err != nil {
		return fetchedMsg{err: err}
	}
	resp.Body.Close()
	// Give the refresh a moment before pulling the new snapshot.
	time.Sleep(2 * time.Second)
	return m.fetch()
}

func (m Model) getEnvelope(path string) (*apiEnvelope, error) {
	resp, err := m.client.Get(m.baseURL + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("api error: %s", env.Error)
	}
	return &env, nil
}
