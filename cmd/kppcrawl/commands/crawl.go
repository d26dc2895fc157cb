package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ruiyi-1/KPP-Test/internal/crawl"
	"github.com/ruiyi-1/KPP-Test/internal/device"
	"github.com/ruiyi-1/KPP-Test/internal/store"
)

var (
	crawlPartition *string
	crawlMaxItems  *int
	crawlDevice    *string
	crawlReset     *bool
)

func init() {
	crawlPartition = crawlCmd.Flags().StringP("partition", "p", "", "partition to start from (A, B or C); empty resumes the checkpoint")
	crawlMaxItems = crawlCmd.Flags().IntP("max-items", "n", 0, "stop after this many new records, 0 means no limit")
	crawlDevice = crawlCmd.Flags().StringP("device", "d", "", "adb device serial")
	crawlReset = crawlCmd.Flags().Bool("reset", false, "clear the checkpoint before crawling")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [-p <partition>] [-n <max>] [-d <serial>] [--reset]",
	Short: "Drives the question bank app over adb and captures one record per question.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := profile()
		if err != nil {
			return err
		}
		if *crawlDevice != "" {
			cfg.Device.Serial = *crawlDevice
		}

		bridge := device.NewADB(cfg, componentLogger("adb"))
		if err := bridge.Check(cmd.Context()); err != nil {
			return fmt.Errorf("device check: %w", err)
		}

		checkpoint := store.NewCheckpoint(cfg.Paths.CheckpointFile, componentLogger("checkpoint"))
		if *crawlReset {
			if err := checkpoint.Reset(); err != nil {
				return err
			}
		}
		records := store.NewRecords(cfg.Paths.QuestionsDir, componentLogger("records"))
		images := store.NewImages(cfg.Paths.ImagesDir, componentLogger("images"))

		machine := crawl.New(cfg, bridge, records, images, checkpoint, componentLogger("crawl"))
		_, err = machine.Run(cmd.Context(), crawl.Options{
			StartPartition: *crawlPartition,
			MaxItems:       *crawlMaxItems,
		})
		return err
	},
}
