// Package clean normalizes stored records in place. Captures from the app
// are bilingual: Chinese runs sit inline with the English text. Cleaning
// moves the Chinese into the translation sidecar, collapses whitespace,
// and rewrites only the records that still validate, so a damaged capture
// never gets worse by being cleaned.
package clean

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/store"
	"github.com/ruiyi-1/KPP-Test/internal/textmatch"
)

// Summary is what one cleaning pass accomplished.
type Summary struct {
	Cleaned      int // records rewritten
	Invalid      int // records skipped, left untouched on disk
	Translations int // sidecar entries written or refreshed
}

type Cleaner struct {
	cfg     config.Profile
	records *store.Records
	logger  zerolog.Logger
}

func New(cfg config.Profile, logger zerolog.Logger) *Cleaner {
	return &Cleaner{
		cfg:     cfg,
		records: store.NewRecords(cfg.Paths.QuestionsDir, logger.With().Str("comp", "records").Logger()),
		logger:  logger,
	}
}

// Run cleans every stored record. The sidecar is loaded first and only
// extended, so entries from earlier passes survive records that have no
// Chinese left in them.
func (c *Cleaner) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	recs, err := c.records.List()
	if err != nil {
		return sum, err
	}
	translations, err := store.LoadTranslations(c.cfg.Paths.TranslationsFile)
	if err != nil {
		return sum, err
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		cleaned, tr := Record(rec)
		if err := cleaned.Validate(); err != nil {
			c.logger.Warn().Err(err).Str("id", rec.ID).Msg("record invalid after cleaning, left as is")
			sum.Invalid++
			continue
		}
		if missing := missingAssets(cleaned); len(missing) > 0 {
			c.logger.Warn().Strs("missing", missing).Str("id", rec.ID).Msg("record references missing images, left as is")
			sum.Invalid++
			continue
		}
		if err := c.records.Save(cleaned); err != nil {
			return sum, err
		}
		sum.Cleaned++
		if !tr.Empty() {
			translations.Questions[rec.ID] = tr
			sum.Translations++
		}
	}
	if len(translations.Questions) > 0 {
		if err := store.SaveTranslations(c.cfg.Paths.TranslationsFile, translations); err != nil {
			return sum, err
		}
	}
	c.logger.Info().
		Int("cleaned", sum.Cleaned).
		Int("invalid", sum.Invalid).
		Int("translations", sum.Translations).
		Msg("cleaning finished")
	return sum, nil
}

// Record cleans one record without touching disk: Chinese runs move out of
// the question and option texts into the returned translation, and what
// stays behind is collapsed. The translation is empty for monolingual
// records.
func Record(rec question.Record) (question.Record, question.Translation) {
	out := rec
	var tr question.Translation
	out.Text, tr.Question = textmatch.SplitCJK(rec.Text)
	out.Options = make([]question.Option, len(rec.Options))
	for i, opt := range rec.Options {
		cleaned := opt
		var cjk string
		cleaned.Text, cjk = textmatch.SplitCJK(opt.Text)
		if cjk != "" {
			if tr.Options == nil {
				tr.Options = make(map[string]string)
			}
			tr.Options[opt.Label] = cjk
		}
		out.Options[i] = cleaned
	}
	return out, tr
}

func missingAssets(rec question.Record) []string {
	var missing []string
	for _, p := range rec.Images {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	for _, opt := range rec.Options {
		if opt.HasImage && opt.Image != "" {
			if _, err := os.Stat(opt.Image); err != nil {
				missing = append(missing, opt.Image)
			}
		}
	}
	return missing
}
