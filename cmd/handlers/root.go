// Package handlers wires the trendwatch CLI: a one-shot collect
// command, the long-running serve command and a terminal dashboard.
package handlers

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trendwatch/internal/config"
	"trendwatch/internal/logger"
)

// Exit codes. Collection-specific failures get their own code so cron
// wrappers can tell "bad config" from "every source was down".
const (
	ExitOK         = 0
	ExitConfig     = 1
	ExitCollection = 2
)

// errAllSourcesDown marks a total collection failure for exit-code
// mapping.
var errAllSourcesDown = errors.New("collection produced no data")

var (
	cfgFile   string
	logLevel  string
	logFormat string
	cfg       *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "trendwatch",
	Short: "Real-time trend aggregation across portals, news, video and search",
	Long: `trendwatch collects trending keywords from Korean portals, wire news,
YouTube and Google Trends, fuses them into one ranked list and optionally
clusters them into topics with hook copy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .trendwatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, errAllSourcesDown) {
			return ExitCollection
		}
		return ExitConfig
	}
	return ExitOK
}
