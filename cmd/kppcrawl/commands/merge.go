package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/reconcile"
	"github.com/ruiyi-1/KPP-Test/internal/store"
)

func init() {
	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Folds every captured shard into the canonical deduplicated dataset.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := profile()
		if err != nil {
			return err
		}
		records, err := loadShards(cfg)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return errors.New("nothing to merge, no captured records found")
		}

		ds, remap := reconcile.Merge(records, componentLogger("reconcile"))
		if err := store.SaveDataset(cfg.Paths.DatasetFile, ds); err != nil {
			return err
		}

		// The sidecar follows the dataset into canonical id space so both
		// stay keyed alike.
		tr, err := store.LoadTranslations(cfg.Paths.TranslationsFile)
		if err != nil {
			return err
		}
		if len(tr.Questions) > 0 {
			rekeyed := reconcile.RekeyTranslations(tr, remap)
			if err := store.SaveTranslations(cfg.Paths.TranslationsFile, rekeyed); err != nil {
				return err
			}
		}

		log.Info().Str("path", cfg.Paths.DatasetFile).Int("questions", ds.Total).Msg("canonical dataset written")
		return nil
	},
}

// loadShards gathers the pre-merge corpus: the app capture shards plus
// every web section dataset present on disk.
func loadShards(cfg config.Profile) ([]question.Record, error) {
	records, err := store.NewRecords(cfg.Paths.QuestionsDir, componentLogger("records")).List()
	if err != nil {
		return nil, err
	}
	for _, section := range cfg.Web.Sections {
		path := filepath.Join(cfg.Paths.WebOutputDir, fmt.Sprintf("section-%s.json", section.Name))
		ds, err := store.LoadDataset(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		records = append(records, ds.Questions...)
	}
	return records, nil
}
