package sources

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"trendwatch/internal/core"
)

const defaultYouTubeLimit = 20

// YouTube reads the most-popular chart for one region through the Data
// API. View counts are the score signal, scaled down so a million-view
// video lands near 100.
type YouTube struct {
	svc    *youtube.Service
	region string
	log    zerolog.Logger
}

// NewYouTube builds the adapter. Extra options are mainly for tests
// (endpoint and client overrides).
func NewYouTube(ctx context.Context, apiKey, region string, log zerolog.Logger, extra ...option.ClientOption) (*YouTube, error) {
	if apiKey == "" {
		return nil, errors.New("youtube: api key required")
	}
	if region == "" {
		region = "KR"
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, extra...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &YouTube{
		svc:    svc,
		region: region,
		log:    log.With().Str("source", string(core.SourceYouTube)).Logger(),
	}, nil
}

func (y *YouTube) Name() core.Source { return core.SourceYouTube }

func (y *YouTube) Fetch(ctx context.Context, limit int) ([]core.RawTrend, error) {
	limit = clampLimit(limit, defaultYouTubeLimit)

	call := y.svc.Videos.List([]string{"snippet", "statistics"}).
		Chart("mostPopular").
		RegionCode(y.region).
		MaxResults(int64(limit)).
		Context(ctx)

	resp, err := call.Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{API: "youtube", Endpoint: "videos.list", Code: apiErr.Code, Err: err}
		}
		return nil, err
	}

	now := time.Now()
	trends := make([]core.RawTrend, 0, len(resp.Items))
	for i, item := range resp.Items {
		if item.Snippet == nil {
			continue
		}
		keyword := item.Snippet.Title
		if keyword == "" {
			continue
		}

		var views uint64
		if item.Statistics != nil {
			views = item.Statistics.ViewCount
		}
		meta := core.Metadata{
			"channel":      item.Snippet.ChannelTitle,
			"views":        views,
			"description":  truncate(item.Snippet.Description, 200),
			"published_at": item.Snippet.PublishedAt,
		}
		if thumb := bestThumbnail(item.Snippet.Thumbnails); thumb != "" {
			meta["thumbnail"] = thumb
		}

		trends = append(trends, core.RawTrend{
			Keyword:     keyword,
			Source:      core.SourceYouTube,
			Score:       int(views / 10000),
			URL:         "https://www.youtube.com/watch?v=" + item.Id,
			Rank:        i + 1,
			Metadata:    meta,
			CollectedAt: now,
		})
	}

	y.log.Debug().Int("count", len(trends)).Str("region", y.region).Msg("collected popular videos")
	return dedupeKeepBestRank(trends), nil
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, cand := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if cand != nil && cand.Url != "" {
			return cand.Url
		}
	}
	return ""
}
