package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ruiyi-1/KPP-Test/internal/annotate"
)

var annotateDump *string

func init() {
	annotateDump = annotateCmd.Flags().String("dump", "window_dump.xml", "uiautomator XML dump matching the frame")
	rootCmd.AddCommand(annotateCmd)
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <frame.png>",
	Short: "Draws the dump's element boxes onto a frame capture for locator debugging.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := annotate.File(*annotateDump, args[0], componentLogger("annotate"))
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}
