package sources

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trendwatch/internal/core"
	"trendwatch/internal/fetch"
)

const defaultTrendsLimit = 20

// GoogleTrendsDaily reads the daily trending-searches RSS for one geo.
// The feed is ordered by search volume, so position maps to score: the
// top entry gets 100, each later one 5 less, floored at 0.
type GoogleTrendsDaily struct {
	client *fetch.Client
	url    string
	log    zerolog.Logger
}

func NewGoogleTrendsDaily(client *fetch.Client, geo string, log zerolog.Logger) *GoogleTrendsDaily {
	if geo == "" {
		geo = "KR"
	}
	return &GoogleTrendsDaily{
		client: client,
		url:    "https://trends.google.com/trends/trendingsearches/daily/rss?geo=" + geo,
		log:    log.With().Str("source", string(core.SourceGoogleTrends)).Logger(),
	}
}

func (g *GoogleTrendsDaily) Name() core.Source { return core.SourceGoogleTrends }

func (g *GoogleTrendsDaily) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultTrendsLimit)

	resp, err := g.client.Get(ctx, g.url, nil)
	if err != nil {
		return nil, err
	}

	var feed struct {
		XMLName xml.Name `xml:"rss"`
		Channel struct {
			Items []struct {
				Title   string `xml:"title"`
				Traffic string `xml:"approx_traffic"`
				Link    string `xml:"link"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(resp.Body, &feed); err != nil {
		return nil, &ParseError{Source: core.SourceGoogleTrends, Field: "rss", Err: err}
	}

	now := time.Now()
	trends := make([]core.RawTrend, 0, limit)
	for i, item := range feed.Channel.Items {
		if len(trends) >= limit {
			break
		}
		keyword := strings.TrimSpace(item.Title)
		if keyword == "" {
			continue
		}
		tr := core.RawTrend{
			Keyword:     keyword,
			Source:      core.SourceGoogleTrends,
			Score:       decayScore(i, 100, 5),
			URL:         item.Link,
			Rank:        i + 1,
			CollectedAt: now,
		}
		if item.Traffic != "" {
			tr.Metadata = core.Metadata{"approx_traffic": item.Traffic}
		}
		trends = append(trends, tr)
	}

	g.log.Debug().Int("count", len(trends)).Msg("collected daily trends")
	return dedupeKeepBestRank(trends), nil
}

// PageFetcher renders a script-heavy page and extracts the text of every
// node matched by selector, in document order. The realtime trends
// listing needs this because the plain HTML carries no data.
type PageFetcher interface {
	RenderAndExtract(ctx context.Context, url, selector string) ([]string, error)
}

// GoogleTrendsRealtime reads the realtime trending listing through a
// PageFetcher. Entries carry no volume figure, so rank is converted with
// the same projection used for portal ranks: 21 minus rank, floored at 1.
type GoogleTrendsRealtime struct {
	fetcher PageFetcher
	url     string
	log     zerolog.Logger
}

func NewGoogleTrendsRealtime(fetcher PageFetcher, geo string, log zerolog.Logger) *GoogleTrendsRealtime {
	if geo == "" {
		geo = "KR"
	}
	return &GoogleTrendsRealtime{
		fetcher: fetcher,
		url:     "https://trends.google.com/trending?geo=" + geo,
		log:     log.With().Str("source", string(core.SourceGoogleRealtime)).Logger(),
	}
}

func (g *GoogleTrendsRealtime) Name() core.Source { return core.SourceGoogleRealtime }

func (g *GoogleTrendsRealtime) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultTrendsLimit)

	titles, err := g.fetcher.RenderAndExtract(ctx, g.url, `[jsname="oKdM2c"] .mZ3RIc`)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	trends := make([]core.RawTrend, 0, limit)
	for _, title := range titles {
		if len(trends) >= limit {
			break
		}
		keyword := strings.TrimSpace(title)
		if keyword == "" {
			continue
		}
		rank := len(trends) + 1
		trends = append(trends, core.RawTrend{
			Keyword:     keyword,
			Source:      core.SourceGoogleRealtime,
			Score:       rankScore(rank),
			Rank:        rank,
			CollectedAt: now,
		})
	}

	g.log.Debug().Int("count", len(trends)).Msg("collected realtime trends")
	return dedupeKeepBestRank(trends), nil
}

// rankScore converts a 1-based rank into a score: 21 minus rank, never
// below 1. Rank 0 means unranked and also maps to 1.
func rankScore(rank int) int {
	if rank <= 0 {
		return 1
	}
	score := 21 - rank
	if score < 1 {
		return 1
	}
	return score
}
