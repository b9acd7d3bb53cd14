package sources

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"trendwatch/internal/core"
	"trendwatch/internal/fetch"
)

const defaultPortalLimit = 20

// NaverRealtime reads the realtime search keywords republished by
// signal.bz. Naver removed its own realtime chart, so this mirror is the
// canonical feed for the naver source.
type NaverRealtime struct {
	client *fetch.Client
	url    string
	log    zerolog.Logger
}

func NewNaverRealtime(client *fetch.Client, log zerolog.Logger) *NaverRealtime {
	return &NaverRealtime{
		client: client,
		url:    "https://api.signal.bz/news/realtime",
		log:    log.With().Str("source", string(core.SourceNaver)).Logger(),
	}
}

func (n *NaverRealtime) Name() core.Source { return core.SourceNaver }

func (n *NaverRealtime) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultPortalLimit)

	resp, err := n.client.Get(ctx, n.url, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Top20 []struct {
			Keyword     string `json:"keyword"`
			SearchCount int    `json:"search_count"`
			RankChange  int    `json:"rank_change"`
		} `json:"top20"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &ParseError{Source: core.SourceNaver, Field: "top20", Err: err}
	}

	now := time.Now()
	trends := make([]core.RawTrend, 0, limit)
	for i, item := range payload.Top20 {
		if i >= limit {
			break
		}
		keyword := strings.TrimSpace(item.Keyword)
		if keyword == "" {
			continue
		}
		trends = append(trends, core.RawTrend{
			Keyword:     keyword,
			Source:      core.SourceNaver,
			Rank:        i + 1,
			Delta:       item.RankChange,
			Metadata:    core.Metadata{"search_count": item.SearchCount},
			CollectedAt: now,
		})
	}

	n.log.Debug().Int("count", len(trends)).Msg("collected realtime keywords")
	return dedupeKeepBestRank(trends), nil
}

// DaumRealtime scrapes the hot issue box on the Daum front page.
type DaumRealtime struct {
	client *fetch.Client
	url    string
	log    zerolog.Logger
}

func NewDaumRealtime(client *fetch.Client, log zerolog.Logger) *DaumRealtime {
	return &DaumRealtime{
		client: client,
		url:    "https://www.daum.net/",
		log:    log.With().Str("source", string(core.SourceDaum)).Logger(),
	}
}

func (d *DaumRealtime) Name() core.Source { return core.SourceDaum }

func (d *DaumRealtime) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultPortalLimit)

	resp, err := d.client.Get(ctx, d.url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, &ParseError{Source: core.SourceDaum, Field: "document", Err: err}
	}

	now := time.Now()
	var trends []core.RawTrend
	doc.Find(".list_mini .rank_cont").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(trends) >= limit {
			return false
		}
		link := s.Find(".link_issue")
		keyword := strings.TrimSpace(link.Text())
		if keyword == "" {
			return true
		}
		tr := core.RawTrend{
			Keyword:     keyword,
			Source:      core.SourceDaum,
			Rank:        len(trends) + 1,
			Delta:       parseDelta(s.Find(".rank_result").Text()),
			CollectedAt: now,
		}
		if href, ok := link.Attr("href"); ok {
			tr.URL = href
		}
		trends = append(trends, tr)
		return true
	})

	d.log.Debug().Int("count", len(trends)).Msg("collected realtime keywords")
	return dedupeKeepBestRank(trends), nil
}

// ZumRealtime scrapes the issue keyword list on the Zum search home.
type ZumRealtime struct {
	client *fetch.Client
	url    string
	log    zerolog.Logger
}

func NewZumRealtime(client *fetch.Client, log zerolog.Logger) *ZumRealtime {
	return &ZumRealtime{
		client: client,
		url:    "https://zum.com/",
		log:    log.With().Str("source", string(core.SourceZum)).Logger(),
	}
}

func (z *ZumRealtime) Name() core.Source { return core.SourceZum }

func (z *ZumRealtime) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultPortalLimit)

	resp, err := z.client.Get(ctx, z.url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, &ParseError{Source: core.SourceZum, Field: "document", Err: err}
	}

	now := time.Now()
	var trends []core.RawTrend
	doc.Find(".list_of_issue li").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(trends) >= limit {
			return false
		}
		keyword := strings.TrimSpace(s.Find("a strong").Text())
		if keyword == "" {
			keyword = strings.TrimSpace(s.Find("a").First().Text())
		}
		if keyword == "" {
			return true
		}
		tr := core.RawTrend{
			Keyword:     keyword,
			Source:      core.SourceZum,
			Rank:        len(trends) + 1,
			Delta:       parseDelta(s.Find(".rate").Text()),
			CollectedAt: now,
		}
		if href, ok := s.Find("a").First().Attr("href"); ok {
			tr.URL = href
		}
		trends = append(trends, tr)
		return true
	})

	z.log.Debug().Int("count", len(trends)).Msg("collected realtime keywords")
	return dedupeKeepBestRank(trends), nil
}

// NateRealtime scrapes the ranked keyword list on the Nate front page.
type NateRealtime struct {
	client *fetch.Client
	url    string
	log    zerolog.Logger
}

func NewNateRealtime(client *fetch.Client, log zerolog.Logger) *NateRealtime {
	return &NateRealtime{
		client: client,
		url:    "https://www.nate.com/",
		log:    log.With().Str("source", string(core.SourceNate)).Logger(),
	}
}

func (n *NateRealtime) Name() core.Source { return core.SourceNate }

func (n *NateRealtime) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultPortalLimit)

	resp, err := n.client.Get(ctx, n.url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, &ParseError{Source: core.SourceNate, Field: "document", Err: err}
	}

	now := time.Now()
	var trends []core.RawTrend
	doc.Find(".kwd_list li").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(trends) >= limit {
			return false
		}
		link := s.Find("a.kwd")
		keyword := strings.TrimSpace(link.Text())
		if keyword == "" {
			return true
		}
		tr := core.RawTrend{
			Keyword:     keyword,
			Source:      core.SourceNate,
			Rank:        len(trends) + 1,
			Delta:       parseDelta(s.Find(".kwd_status").Text()),
			CollectedAt: now,
		}
		if href, ok := link.Attr("href"); ok {
			tr.URL = href
		}
		trends = append(trends, tr)
		return true
	})

	n.log.Debug().Int("count", len(trends)).Msg("collected realtime keywords")
	return dedupeKeepBestRank(trends), nil
}

// parseDelta extracts a signed rank movement from portal markup text such
// as "상승 3", "▲2", "↓ 1" or "NEW". Unparseable text means no movement.
func parseDelta(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	sign := 0
	switch {
	case strings.ContainsAny(text, "▲↑+") || strings.Contains(text, "상승"):
		sign = 1
	case strings.ContainsAny(text, "▼↓-") || strings.Contains(text, "하락"):
		sign = -1
	}

	digits := strings.Builder{}
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil || sign == 0 {
		return 0
	}
	return sign * n
}
