package handlers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"trendwatch/internal/aggregator"
	"trendwatch/internal/cache"
	"trendwatch/internal/collector"
	"trendwatch/internal/config"
	"trendwatch/internal/fetch"
	"trendwatch/internal/insight"
	"trendwatch/internal/logger"
	"trendwatch/internal/sources"
)

// Per-source-family cache TTLs. Portals move fastest, chart APIs
// slowest.
const (
	portalTTL  = 5 * time.Minute
	newsTTL    = 15 * time.Minute
	youtubeTTL = 30 * time.Minute
	gtrendsTTL = 30 * time.Minute
)

func newFetchClient(cfg *config.Config) *fetch.Client {
	return fetch.NewClient(
		fetch.WithMaxRetries(cfg.HTTP.MaxRetries),
		fetch.WithRetryDelay(cfg.HTTP.RetryDelay),
		fetch.WithTimeout(cfg.HTTP.Timeout),
		fetch.WithProxy(cfg.HTTP.Proxy),
	)
}

// sourceSelection picks which adapter families a run collects from.
type sourceSelection struct {
	Portal  bool
	News    bool
	YouTube bool
	GTrends bool
}

func allSources() sourceSelection {
	return sourceSelection{Portal: true, News: true, YouTube: true, GTrends: true}
}

func (s sourceSelection) any() bool {
	return s.Portal || s.News || s.YouTube || s.GTrends
}

// cacheBackends splits read-through caching by source speed: portals
// churn by the minute and stay in memory, the slower families survive
// restarts on disk. Either backend may be nil to fetch fresh.
type cacheBackends struct {
	Portal cache.Backend
	Slow   cache.Backend
}

// buildAdapters assembles every adapter the selection and configuration
// allow. Credentialed sources are skipped, not failed, when their keys
// are absent.
func buildAdapters(ctx context.Context, cfg *config.Config, client *fetch.Client, sel sourceSelection, backends cacheBackends, log zerolog.Logger) []sources.Adapter {
	cached := func(a sources.Adapter, ttl time.Duration, backend cache.Backend) sources.Adapter {
		if backend == nil {
			return a
		}
		return sources.Cached(a, ttl, backend)
	}

	var adapters []sources.Adapter

	if sel.Portal {
		adapters = append(adapters,
			cached(sources.NewNaverRealtime(client, log), portalTTL, backends.Portal),
			cached(sources.NewDaumRealtime(client, log), portalTTL, backends.Portal),
			cached(sources.NewZumRealtime(client, log), portalTTL, backends.Portal),
			cached(sources.NewNateRealtime(client, log), portalTTL, backends.Portal),
		)
	}

	if sel.News {
		adapters = append(adapters,
			cached(sources.NewYonhapRSS(client, cfg.Sources.NewsCategory, log), newsTTL, backends.Slow),
			cached(sources.NewNaverNewsRanking(client, log), newsTTL, backends.Slow),
			cached(sources.NewDaumNewsRanking(client, log), newsTTL, backends.Slow),
		)
		if cfg.Sources.NaverClientID != "" && cfg.Sources.NaverClientSecret != "" {
			adapters = append(adapters, cached(
				sources.NewNaverNewsSearch(client, cfg.Sources.NaverClientID, cfg.Sources.NaverClientSecret, log),
				newsTTL, backends.Slow))
		} else {
			log.Info().Msg("naver search credentials absent, skipping naver news search")
		}
	}

	if sel.GTrends {
		adapters = append(adapters,
			cached(sources.NewGoogleTrendsDaily(client, cfg.Sources.YouTubeRegion, log), gtrendsTTL, backends.Slow))
	}

	if sel.YouTube {
		if cfg.Sources.YouTubeAPIKey != "" {
			yt, err := sources.NewYouTube(ctx, cfg.Sources.YouTubeAPIKey, cfg.Sources.YouTubeRegion, log)
			if err != nil {
				log.Warn().Err(err).Msg("youtube adapter unavailable")
			} else {
				adapters = append(adapters, cached(yt, youtubeTTL, backends.Slow))
			}
		} else {
			log.Info().Msg("youtube api key absent, skipping youtube")
		}
	}

	return adapters
}

func aggregatorConfig(cfg *config.Config) aggregator.Config {
	return aggregator.Config{
		MaxRetries:     cfg.Aggregation.MaxRetries,
		RetryDelay:     cfg.Aggregation.RetryDelay,
		AdapterTimeout: cfg.Aggregation.AdapterTimeout,
		Timeout:        cfg.Aggregation.Timeout,
		TopCap:         cfg.Aggregation.TopCap,
		PerSourceLimit: cfg.Aggregation.PerSourceLimit,
		MinSources:     cfg.Aggregation.MinSources,
	}
}

func collectorConfig(cfg *config.Config) collector.Config {
	return collector.Config{
		Interval:       cfg.Refresh.Interval,
		StaleThreshold: cfg.Refresh.StaleThreshold,
		ShutdownGrace:  cfg.Refresh.ShutdownGrace,
		SnapshotPath:   cfg.Refresh.SnapshotPath,
	}
}

// buildClusterer returns nil when insight is not configured; the
// pipeline then publishes keywords without topics.
func buildClusterer(ctx context.Context, cfg *config.Config, log zerolog.Logger) *insight.Gemini {
	if cfg.Insight.GeminiAPIKey == "" {
		log.Info().Msg("gemini api key absent, topic clustering disabled")
		return nil
	}
	g, err := insight.NewGemini(ctx, cfg.Insight.GeminiAPIKey, cfg.Insight.Model, cfg.Insight.HookCount, log)
	if err != nil {
		log.Warn().Err(err).Msg("clusterer unavailable, topic clustering disabled")
		return nil
	}
	return g
}

func componentLogger() zerolog.Logger { return logger.Get() }
