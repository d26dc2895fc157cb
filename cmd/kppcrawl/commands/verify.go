package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruiyi-1/KPP-Test/internal/store"
	"github.com/ruiyi-1/KPP-Test/internal/verify"
)

var verifyOut *string

func init() {
	verifyOut = verifyCmd.Flags().StringP("out", "o", "", "report path, empty uses the profile's report file")
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [-o <report.txt>]",
	Short: "Checks corpus integrity and writes a text report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := profile()
		if err != nil {
			return err
		}
		records, err := loadShards(cfg)
		if err != nil {
			return err
		}

		report := verify.New(cfg, componentLogger("verify")).Check(records)
		text := report.Render()
		fmt.Println(text)

		out := *verifyOut
		if out == "" {
			out = cfg.Paths.ReportFile
		}
		if err := store.WriteBytes(out, []byte(text)); err != nil {
			return err
		}
		log.Info().Str("path", out).Bool("clean", report.Clean()).Msg("report written")
		return nil
	},
}
