package handlers

import (
	"github.com/spf13/cobra"

	"trendwatch/internal/tui"
)

var tuiAPI string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open a terminal dashboard against a running serve instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(tuiAPI)
	},
}

func init() {
	tuiCmd.Flags().StringVar(&tuiAPI, "api", "http://localhost:5000", "base URL of the trendwatch API")
	rootCmd.AddCommand(tuiCmd)
}
