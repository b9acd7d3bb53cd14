package handlers

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"trendwatch/internal/aggregator"
	"trendwatch/internal/cache"
	"trendwatch/internal/collector"
	"trendwatch/internal/history"
	"trendwatch/internal/insight"
	"trendwatch/internal/query"
	"trendwatch/internal/server"
	"trendwatch/internal/stream"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the aggregation loop and the HTTP/WebSocket API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	log := componentLogger()
	client := newFetchClient(cfg)

	// Portals live in memory, the slower families survive restarts on
	// disk. One sweeper per backend keeps expired entries from piling up.
	memCache := cache.NewMemory(cfg.Cache.MemoryTTL)
	fileCache, err := cache.NewFile(cfg.Cache.Dir, cfg.Cache.FileTTL)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	for _, backend := range []cache.Backend{memCache, fileCache} {
		sweeper := cache.NewSweeper(backend, cfg.Cache.CleanupInterval)
		defer sweeper.Stop()
	}

	adapters := buildAdapters(ctx, cfg, client, allSources(), cacheBackends{Portal: memCache, Slow: fileCache}, log)
	agg := aggregator.New(adapters, aggregatorConfig(cfg), log)

	var clusterer insight.Clusterer
	if g := buildClusterer(ctx, cfg, log); g != nil {
		defer g.Close()
		clusterer = g
	}

	hub := stream.NewHub(8, log)
	ctrl := collector.New(agg, clusterer, hub, collectorConfig(cfg), log)
	ctrl.Bootstrap(ctx)
	go ctrl.Run(ctx)

	svc := query.New(ctrl, hub, &history.Mock{})
	bookmarks := query.NewBookmarksFile(filepath.Join(filepath.Dir(cfg.Refresh.SnapshotPath), "bookmarks.json"))
	addr := listenAddr(cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, svc, bookmarks, hub, clusterer, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		ctrl.Stop()
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Refresh.ShutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	cancel()
	ctrl.Stop()
	return nil
}

func listenAddr(host string, port int) string {
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
