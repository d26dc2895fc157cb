package commands

import (
	"github.com/spf13/cobra"

	"github.com/ruiyi-1/KPP-Test/internal/clean"
)

func init() {
	rootCmd.AddCommand(cleanCmd)
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Normalizes captured records and moves Chinese text into the translation sidecar.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := profile()
		if err != nil {
			return err
		}
		_, err = clean.New(cfg, componentLogger("clean")).Run(cmd.Context())
		return err
	},
}
