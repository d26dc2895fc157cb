package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruiyi-1/KPP-Test/internal/browser"
	"github.com/ruiyi-1/KPP-Test/internal/webbank"
)

var scrapeSection *string

func init() {
	scrapeSection = scrapeCmd.Flags().String("section", "", "scrape only this section (a, b or c)")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--section <name>]",
	Short: "Scrapes the practice-test website and probes revealed answers in a live browser.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := profile()
		if err != nil {
			return err
		}
		fetcher := webbank.NewFetcher(cfg.Web, componentLogger("webfetch"))

		// Without a working browser the scrape still runs, it just cannot
		// reveal answers.
		var prober webbank.AnswerProber
		launcher, err := browser.NewLauncher(cfg.Web, componentLogger("browser"))
		if err != nil {
			log.Warn().Err(err).Msg("browser unavailable, scraping without answer probing")
		} else {
			defer launcher.Close()
			p, err := launcher.NewProber()
			if err != nil {
				return fmt.Errorf("browser context: %w", err)
			}
			prober = p
		}

		scraper := webbank.NewScraper(cfg, fetcher, prober, componentLogger("webbank"))
		_, err = scraper.Run(cmd.Context(), *scrapeSection)
		return err
	},
}
