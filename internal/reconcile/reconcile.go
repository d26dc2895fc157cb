// Package reconcile merges partition shards into the canonical dataset:
// content duplicates dropped, dense sequential ids assigned, and a remap
// produced for rekeying sidecar data that still uses capture-time ids.
package reconcile

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/textmatch"
)

// IDRemap maps capture-time record ids to canonical dataset ids. Dropped
// duplicates have no entry; their sidecar data falls away with them.
type IDRemap map[string]string

// Digest fingerprints a record's content for dedup: the normalized
// question text and option texts, joined in label order with "|". Image
// paths and answers stay out of the digest, they differ between captures
// of the same question.
func Digest(rec question.Record) string {
	opts := make([]question.Option, len(rec.Options))
	copy(opts, rec.Options)
	sort.Slice(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })
	parts := make([]string, 0, len(opts)+1)
	parts = append(parts, textmatch.Normalize(rec.Text))
	for _, opt := range opts {
		parts = append(parts, textmatch.Normalize(opt.Text))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Merge collapses records into one canonical dataset. Survivors keep
// their content but take dense sequential ids, assigned in (partition,
// ordinal) order of first-seen records; later records with an already
// seen digest are dropped and logged.
func Merge(records []question.Record, logger zerolog.Logger) (question.Dataset, IDRemap) {
	sorted := make([]question.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := strings.ToUpper(sorted[i].Partition), strings.ToUpper(sorted[j].Partition)
		if pi != pj {
			return pi < pj
		}
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	var ds question.Dataset
	remap := make(IDRemap, len(sorted))
	keepers := make(map[string]string, len(sorted)) // digest -> surviving capture id
	for _, rec := range sorted {
		digest := Digest(rec)
		if keeper, ok := keepers[digest]; ok {
			logger.Info().
				Str("dropped", rec.ID).
				Str("kept", keeper).
				Msg("duplicate question dropped")
			continue
		}
		keepers[digest] = rec.ID
		canonical := question.CanonicalID(len(ds.Questions) + 1)
		remap[rec.ID] = canonical
		out := rec
		out.ID = canonical
		ds.Questions = append(ds.Questions, out)
	}
	ds.Total = len(ds.Questions)
	logger.Info().
		Int("in", len(records)).
		Int("out", ds.Total).
		Int("duplicates", len(records)-ds.Total).
		Msg("merge finished")
	return ds, remap
}

// RekeyTranslations rewrites a sidecar keyed by capture ids onto the
// canonical ids. Entries for records the merge dropped disappear.
func RekeyTranslations(tr question.Translations, remap IDRemap) question.Translations {
	out := question.Translations{Questions: make(map[string]question.Translation)}
	for oldID, t := range tr.Questions {
		if newID, ok := remap[oldID]; ok {
			out.Questions[newID] = t
		}
	}
	return out
}
