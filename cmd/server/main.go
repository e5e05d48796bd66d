package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/meetstream/internal/logging"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "meetstream",
	Short:        "Real-time meeting stream ingestion server",
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	logging.Init()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("meetstream failed")
		os.Exit(1)
	}
}
