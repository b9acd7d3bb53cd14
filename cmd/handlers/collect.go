package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trendwatch/internal/aggregator"
	"trendwatch/internal/cache"
	"trendwatch/internal/collector"
	"trendwatch/internal/core"
	"trendwatch/internal/export"
	"trendwatch/internal/insight"
	"trendwatch/internal/logger"
)

var (
	collectFormat  string
	collectOutput  string
	collectPretty  bool
	collectNoTopic bool
	collectVerbose bool

	collectPortal  bool
	collectNews    bool
	collectYouTube bool
	collectGTrends bool
	collectAll     bool

	collectCombine    bool
	collectMinSources int
	collectRegion     string
	collectCategory   string
	collectLimit      int

	collectDaemon   bool
	collectInterval time.Duration
	collectRuns     int
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run aggregation passes and write the result",
	Long: `Collect fetches the selected sources, fuses the results and writes the
snapshot to stdout or a file. By default it runs once, for cron jobs and
ad-hoc inspection; with --daemon it loops on an interval and rewrites the
output each pass.`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().StringVarP(&collectFormat, "format", "f", "json", "output format (json, csv, xlsx)")
	collectCmd.Flags().StringVarP(&collectOutput, "output", "o", "", "output file (default stdout)")
	collectCmd.Flags().BoolVar(&collectPretty, "pretty", false, "indent JSON output")
	collectCmd.Flags().BoolVar(&collectNoTopic, "no-topics", false, "skip topic clustering")
	collectCmd.Flags().BoolVarP(&collectVerbose, "verbose", "v", false, "debug logging")

	collectCmd.Flags().BoolVar(&collectPortal, "portal", false, "collect portal realtime keywords")
	collectCmd.Flags().BoolVar(&collectNews, "news", false, "collect news headlines")
	collectCmd.Flags().BoolVar(&collectYouTube, "youtube", false, "collect trending videos")
	collectCmd.Flags().BoolVar(&collectGTrends, "google-trends", false, "collect google trends")
	collectCmd.Flags().BoolVar(&collectAll, "all", false, "collect every source (default when no family flag is set)")

	collectCmd.Flags().BoolVar(&collectCombine, "portal-combine", false, "rank by portal agreement instead of fused score")
	collectCmd.Flags().IntVar(&collectMinSources, "min-sources", 0, "portals required to keep a combined keyword (overrides config)")
	collectCmd.Flags().StringVar(&collectRegion, "region", "", "youtube/google-trends region code (overrides config)")
	collectCmd.Flags().StringVar(&collectCategory, "category", "", "yonhap news category (overrides config)")
	collectCmd.Flags().IntVar(&collectLimit, "limit", 0, "per-source keyword limit (overrides config)")

	collectCmd.Flags().BoolVar(&collectDaemon, "daemon", false, "keep collecting on an interval")
	collectCmd.Flags().DurationVar(&collectInterval, "interval", 0, "daemon pass interval (default refresh.interval)")
	collectCmd.Flags().IntVar(&collectRuns, "runs", 0, "stop the daemon after N passes (0 = unlimited)")

	rootCmd.AddCommand(collectCmd)
}

func collectSelection() sourceSelection {
	sel := sourceSelection{
		Portal:  collectPortal,
		News:    collectNews,
		YouTube: collectYouTube,
		GTrends: collectGTrends,
	}
	if collectAll || !sel.any() {
		return allSources()
	}
	return sel
}

func runCollect(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(collectFormat)
	if err != nil {
		return err
	}
	if format == export.FormatXLSX && collectOutput == "" {
		return errors.New("xlsx output requires --output")
	}
	if collectCombine && !collectSelection().Portal {
		return errors.New("--portal-combine needs portal sources enabled")
	}
	if collectVerbose {
		logger.Init("debug", cfg.Logging.Format)
	}

	ctx := cmd.Context()
	log := componentLogger()
	client := newFetchClient(cfg)

	aggCfg := aggregatorConfig(cfg)
	if collectMinSources > 0 {
		aggCfg.MinSources = collectMinSources
	}
	if collectLimit > 0 {
		aggCfg.PerSourceLimit = collectLimit
	}
	if collectRegion != "" {
		cfg.Sources.YouTubeRegion = collectRegion
	}
	if collectCategory != "" {
		cfg.Sources.NewsCategory = collectCategory
	}

	// One-shot passes fetch every source fresh; the daemon keeps a memory
	// cache so fast passes do not hammer slow sources.
	backends := cacheBackends{}
	if collectDaemon {
		mem := cache.NewMemory(cfg.Cache.MemoryTTL)
		backends = cacheBackends{Portal: mem, Slow: mem}
	}

	adapters := buildAdapters(ctx, cfg, client, collectSelection(), backends, log)
	agg := aggregator.New(adapters, aggCfg, log)

	var clusterer insight.Clusterer
	if !collectNoTopic {
		if g := buildClusterer(ctx, cfg, log); g != nil {
			defer g.Close()
			clusterer = g
		}
	}

	ctrl := collector.New(agg, clusterer, nil, collector.Config{
		Interval:      cfg.Refresh.Interval,
		ShutdownGrace: cfg.Refresh.ShutdownGrace,
		// Collect runs do not touch the serve snapshot file.
	}, log)

	pass := func(ctx context.Context) error {
		snap, err := ctrl.RefreshNow(ctx)
		if err != nil {
			return err
		}
		if collectCombine {
			snap = combinedSnapshot(snap, ctrl.RawTrends(), aggCfg.MinSources, aggCfg.TopCap)
		}
		if err := writeSnapshot(snap, format); err != nil {
			return err
		}
		log.Info().
			Int("keywords", len(snap.HotKeywords)).
			Int("topics", len(snap.Topics)).
			Str("format", string(format)).
			Msg("collection complete")
		return nil
	}

	if !collectDaemon {
		if err := pass(ctx); err != nil {
			return oneShotError(err)
		}
		return nil
	}
	return runCollectDaemon(ctx, pass, log)
}

// oneShotError maps a failed pass to the collection exit code only when
// aggregation itself produced nothing; output errors keep the generic
// code.
func oneShotError(err error) error {
	if errors.Is(err, aggregator.ErrAllSourcesFailed) {
		return fmt.Errorf("%w: %v", errAllSourcesDown, err)
	}
	return err
}

// runCollectDaemon loops pass on the interval until the run budget or a
// signal stops it. Failed passes are logged, not fatal.
func runCollectDaemon(ctx context.Context, pass func(context.Context) error, log zerolog.Logger) error {
	interval := collectInterval
	if interval <= 0 {
		interval = cfg.Refresh.Interval
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runs := 0
	for {
		if err := pass(ctx); err != nil {
			log.Error().Err(err).Msg("collection pass failed")
		}
		runs++
		if collectRuns > 0 && runs >= collectRuns {
			log.Info().Int("runs", runs).Msg("run budget reached, stopping")
			return nil
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("daemon stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// combinedSnapshot replaces the fused ranking with the portal-agreement
// ranking. raw must be the adapter-ordered observation list so display
// forms and tie ranks come out the same on identical input.
func combinedSnapshot(snap *core.Snapshot, raw []core.RawTrend, minSources, cap int) *core.Snapshot {
	return &core.Snapshot{
		HotKeywords: aggregator.CombinePortals(raw, minSources, cap, snap.Timestamp),
		Topics:      snap.Topics,
		RawIndex:    snap.RawIndex,
		Timestamp:   snap.Timestamp,
	}
}

func writeSnapshot(snap *core.Snapshot, format export.Format) error {
	var out io.Writer = os.Stdout
	if collectOutput != "" {
		f, err := os.Create(collectOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := export.Write(out, snap, format, collectPretty); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
