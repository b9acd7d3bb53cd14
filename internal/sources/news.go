package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"trendwatch/internal/core"
	"trendwatch/internal/fetch"
)

const defaultNewsLimit = 30

// rssFeed mirrors the subset of RSS 2.0 the wire feeds emit.
type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// yonhapFeeds maps a category name to its Yonhap RSS feed.
var yonhapFeeds = map[string]string{
	"all":      "https://www.yna.co.kr/rss/news.xml",
	"politics": "https://www.yna.co.kr/rss/politics.xml",
	"economy":  "https://www.yna.co.kr/rss/economy.xml",
	"society":  "https://www.yna.co.kr/rss/society.xml",
	"culture":  "https://www.yna.co.kr/rss/culture.xml",
}

// YonhapRSS reads the Yonhap wire feed. Position in the feed is the only
// signal, so items decay linearly: the first headline scores 80, each
// later one 2 less, floored at 0.
type YonhapRSS struct {
	client   *fetch.Client
	category string
	log      zerolog.Logger
}

func NewYonhapRSS(client *fetch.Client, category string, log zerolog.Logger) *YonhapRSS {
	if _, ok := yonhapFeeds[category]; !ok {
		category = "all"
	}
	return &YonhapRSS{
		client:   client,
		category: category,
		log:      log.With().Str("source", string(core.SourceNews)).Logger(),
	}
}

func (y *YonhapRSS) Name() core.Source { return core.SourceNews }

func (y *YonhapRSS) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultNewsLimit)

	resp, err := y.client.Get(ctx, yonhapFeeds[y.category], nil)
	if err != nil {
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(resp.Body, &feed); err != nil {
		return nil, &ParseError{Source: core.SourceNews, Field: "rss", Err: err}
	}

	now := time.Now()
	trends := make([]core.RawTrend, 0, limit)
	for i, item := range feed.Channel.Items {
		if len(trends) >= limit {
			break
		}
		keyword := headlineKeyword(item.Title)
		if keyword == "" {
			continue
		}
		trends = append(trends, core.RawTrend{
			Keyword: keyword,
			Source:  core.SourceNews,
			Score:   decayScore(i, 80, 2),
			URL:     item.Link,
			Rank:    i + 1,
			Metadata: core.Metadata{
				"title":        strings.TrimSpace(item.Title),
				"description":  truncate(strings.TrimSpace(item.Description), 200),
				"published_at": item.PubDate,
				"category":     y.category,
			},
			CollectedAt: now,
		})
	}

	y.log.Debug().Int("count", len(trends)).Str("category", y.category).Msg("collected headlines")
	return dedupeKeepBestRank(trends), nil
}

// NaverNewsRanking scrapes the most-viewed boxes on the Naver news
// ranking page.
type NaverNewsRanking struct {
	client *fetch.Client
	url    string
	log    zerolog.Logger
}

func NewNaverNewsRanking(client *fetch.Client, log zerolog.Logger) *NaverNewsRanking {
	return &NaverNewsRanking{
		client: client,
		url:    "https://news.naver.com/main/ranking/popularDay.naver",
		log:    log.With().Str("source", string(core.SourceNaverNews)).Logger(),
	}
}

func (n *NaverNewsRanking) Name() core.Source { return core.SourceNaverNews }

func (n *NaverNewsRanking) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultNewsLimit)

	resp, err := n.client.Get(ctx, n.url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, &ParseError{Source: core.SourceNaverNews, Field: "document", Err: err}
	}

	now := time.Now()
	var trends []core.RawTrend
	doc.Find(".rankingnews_box li").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(trends) >= limit {
			return false
		}
		link := s.Find(".list_title")
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}

		meta := core.Metadata{"title": title}
		if press := strings.TrimSpace(s.Closest(".rankingnews_box").Find(".rankingnews_name").Text()); press != "" {
			meta["press"] = press
		}
		if lead := strings.TrimSpace(s.Find(".list_lead").Text()); lead != "" {
			meta["description"] = truncate(lead, 200)
		}
		if src, ok := s.Find(".list_img img").Attr("src"); ok {
			meta["thumbnail"] = src
		}
		if at := strings.TrimSpace(s.Find(".list_time").Text()); at != "" {
			meta["published_at"] = at
		}

		tr := core.RawTrend{
			Keyword:     headlineKeyword(title),
			Source:      core.SourceNaverNews,
			Score:       decayScore(len(trends), 80, 2),
			Rank:        len(trends) + 1,
			Metadata:    meta,
			CollectedAt: now,
		}
		if href, ok := link.Attr("href"); ok {
			tr.URL = absoluteURL(n.url, href)
		}
		if tr.Keyword == "" {
			return true
		}
		trends = append(trends, tr)
		return true
	})

	n.log.Debug().Int("count", len(trends)).Msg("collected ranking headlines")
	return dedupeKeepBestRank(trends), nil
}

// DaumNewsRanking scrapes the most-viewed list on the Daum news ranking
// page.
type DaumNewsRanking struct {
	client *fetch.Client
	url    string
	log    zerolog.Logger
}

func NewDaumNewsRanking(client *fetch.Client, log zerolog.Logger) *DaumNewsRanking {
	return &DaumNewsRanking{
		client: client,
		url:    "https://news.daum.net/ranking/popular",
		log:    log.With().Str("source", string(core.SourceDaumNews)).Logger(),
	}
}

func (d *DaumNewsRanking) Name() core.Source { return core.SourceDaumNews }

func (d *DaumNewsRanking) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultNewsLimit)

	resp, err := d.client.Get(ctx, d.url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Text()))
	if err != nil {
		return nil, &ParseError{Source: core.SourceDaumNews, Field: "document", Err: err}
	}

	now := time.Now()
	var trends []core.RawTrend
	doc.Find(".list_news2 li").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(trends) >= limit {
			return false
		}
		link := s.Find(".tit_thumb a")
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}

		meta := core.Metadata{"title": title}
		if press := strings.TrimSpace(s.Find(".info_news").Text()); press != "" {
			meta["press"] = press
		}
		if desc := strings.TrimSpace(s.Find(".desc_thumb").Text()); desc != "" {
			meta["description"] = truncate(desc, 200)
		}
		if src, ok := s.Find("img.thumb_g").Attr("src"); ok {
			meta["thumbnail"] = src
		}

		tr := core.RawTrend{
			Keyword:     headlineKeyword(title),
			Source:      core.SourceDaumNews,
			Score:       decayScore(len(trends), 80, 2),
			Rank:        len(trends) + 1,
			Metadata:    meta,
			CollectedAt: now,
		}
		if href, ok := link.Attr("href"); ok {
			tr.URL = href
		}
		if tr.Keyword == "" {
			return true
		}
		trends = append(trends, tr)
		return true
	})

	d.log.Debug().Int("count", len(trends)).Msg("collected ranking headlines")
	return dedupeKeepBestRank(trends), nil
}

// newsSearchSeeds are the query terms used against the Naver search API.
// Later seeds mark stronger editorial signals, so their hits score higher.
var newsSearchSeeds = []string{"속보", "단독", "긴급", "이슈", "화제"}

// NaverNewsSearch queries the Naver open API for breaking-news style
// seed terms. Requires client credentials; construct only when both are
// configured.
type NaverNewsSearch struct {
	client       *fetch.Client
	url          string
	clientID     string
	clientSecret string
	log          zerolog.Logger
}

func NewNaverNewsSearch(client *fetch.Client, clientID, clientSecret string, log zerolog.Logger) *NaverNewsSearch {
	return &NaverNewsSearch{
		client:       client,
		url:          "https://openapi.naver.com/v1/search/news.json",
		clientID:     clientID,
		clientSecret: clientSecret,
		log:          log.With().Str("source", string(core.SourceNaverNews)).Logger(),
	}
}

func (n *NaverNewsSearch) Name() core.Source { return core.SourceNaverNews }

func (n *NaverNewsSearch) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultNewsLimit)
	perSeed := limit / len(newsSearchSeeds)
	if perSeed < 1 {
		perSeed = 1
	}

	now := time.Now()
	var trends []core.RawTrend
	for seedIdx, seed := range newsSearchSeeds {
		if len(trends) >= limit {
			break
		}
		items, err := n.search(ctx, seed, perSeed)
		if err != nil {
			// One seed failing should not lose the others.
			n.log.Warn().Str("seed", seed).Err(err).Msg("seed query failed")
			continue
		}
		for _, item := range items {
			keyword := headlineKeyword(stripSearchMarkup(item.Title))
			if keyword == "" {
				continue
			}
			trends = append(trends, core.RawTrend{
				Keyword: keyword,
				Source:  core.SourceNaverNews,
				Score:   50 + seedIdx*10,
				URL:     item.Link,
				Metadata: core.Metadata{
					"title":        stripSearchMarkup(item.Title),
					"description":  truncate(stripSearchMarkup(item.Description), 200),
					"published_at": item.PubDate,
					"seed":         seed,
				},
				CollectedAt: now,
			})
		}
	}
	if len(trends) > limit {
		trends = trends[:limit]
	}

	n.log.Debug().Int("count", len(trends)).Msg("collected search headlines")
	return dedupeKeepBestRank(trends), nil
}

type naverSearchItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	PubDate     string `json:"pubDate"`
}

func (n *NaverNewsSearch) search(ctx context.Context, query string, display int) ([]naverSearchItem, error) {
	resp, err := n.client.Get(ctx, n.url, &fetch.Options{
		Params: url.Values{
			"query":   {query},
			"display": {fmt.Sprint(display)},
			"sort":    {"date"},
		},
		Headers: map[string]string{
			"X-Naver-Client-Id":     n.clientID,
			"X-Naver-Client-Secret": n.clientSecret,
		},
	})
	if err != nil {
		var netErr *fetch.NetworkError
		if errors.As(err, &netErr) && (netErr.Status == 401 || netErr.Status == 403) {
			return nil, &APIError{API: "naver", Endpoint: n.url, Code: netErr.Status, Err: err}
		}
		return nil, err
	}

	var payload struct {
		Items []naverSearchItem `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &ParseError{Source: core.SourceNaverNews, Field: "items", Err: err}
	}
	return payload.Items, nil
}

var searchTagPattern = regexp.MustCompile(`<[^>]+>`)

var searchEntityReplacer = strings.NewReplacer(
	"&quot;", `"`,
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&apos;", "'",
	"&#39;", "'",
)

// stripSearchMarkup removes the <b> highlighting and entity escapes the
// search API embeds in titles and descriptions.
func stripSearchMarkup(s string) string {
	return strings.TrimSpace(searchEntityReplacer.Replace(searchTagPattern.ReplaceAllString(s, "")))
}

// headlineKeyword reduces a headline to its keyword form: the text before
// any parenthesized byline, trimmed to 30 runes.
func headlineKeyword(title string) string {
	title = strings.TrimSpace(title)
	if idx := strings.IndexAny(title, "(["); idx > 0 {
		title = strings.TrimSpace(title[:idx])
	}
	return truncate(title, 30)
}

// decayScore scores the item at position idx as base minus step per
// position, floored at 0.
func decayScore(idx, base, step int) int {
	score := base - step*idx
	if score < 0 {
		return 0
	}
	return score
}

// absoluteURL resolves href against base when href is relative.
func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
