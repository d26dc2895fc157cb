// Package commands wires the kppcrawl subcommands: app crawling, website
// scraping, and the offline passes over the captured corpus.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruiyi-1/KPP-Test/internal/config"
)

var (
	configPath *string
	verbose    *bool
)

var rootCmd = &cobra.Command{
	Use:           "kppcrawl",
	Short:         "kppcrawl extracts the KPP question bank from its app and website surfaces.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if env := os.Getenv("LOG_LEVEL"); env != "" {
			if parsed, err := zerolog.ParseLevel(env); err == nil {
				level = parsed
			}
		}
		if *verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
	},
}

func init() {
	configPath = rootCmd.PersistentFlags().StringP("config", "c", "", "YAML profile layered over the built-in defaults")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func profile() (config.Profile, error) {
	return config.Load(*configPath)
}

func componentLogger(comp string) zerolog.Logger {
	return log.With().Str("comp", comp).Logger()
}
