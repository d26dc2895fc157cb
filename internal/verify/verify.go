// Package verify is the read-only integrity pass over the collected
// corpus: missing image assets, anomalous image reuse across different
// questions, incomplete records, imagery disagreement between captures
// with the same content digest, and orphaned assets on disk. Findings
// never block a merge; they are reported for a human to judge.
package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/reconcile"
	"github.com/ruiyi-1/KPP-Test/internal/textmatch"
)

// MissingAsset is a referenced image with no file behind it.
type MissingAsset struct {
	QuestionID string
	Option     string // option label, empty for question imagery
	Path       string
}

// ImageReuse is one image referenced by records whose text differs.
// Legitimate shared imagery exists, but counts beyond the configured
// threshold usually mean the extractor misnamed crops.
type ImageReuse struct {
	Path      string
	Refs      int
	Questions int // distinct normalized text prefixes
	Examples  []string
	Excessive bool
}

// Incomplete is a record failing the structural expectations.
type Incomplete struct {
	ID     string
	Issues []string
}

// DigestConflict marks captures with identical content whose imagery
// disagrees. One of them was extracted wrong.
type DigestConflict struct {
	Digest    string
	Field     string // "question images" or "option <label> image"
	Questions []string
}

// Report is the outcome of one verification pass.
type Report struct {
	Records       int
	ImageRefs     int
	UniqueImages  int
	MissingAssets []MissingAsset
	Reuse         []ImageReuse
	Incomplete    []Incomplete
	Conflicts     []DigestConflict
	Orphans       []string
}

// Clean reports whether the pass found nothing to complain about.
func (r Report) Clean() bool {
	return len(r.MissingAssets) == 0 && len(r.Reuse) == 0 &&
		len(r.Incomplete) == 0 && len(r.Conflicts) == 0 && len(r.Orphans) == 0
}

type Checker struct {
	cfg    config.Profile
	logger zerolog.Logger
}

func New(cfg config.Profile, logger zerolog.Logger) *Checker {
	return &Checker{cfg: cfg, logger: logger}
}

type imageRef struct {
	id   string
	text string // normalized prefix of the referencing question
}

// Check runs every integrity check over the given records. The corpus is
// usually the pre-merge shards, where prospective duplicates still
// coexist and can be compared against each other.
func (c *Checker) Check(records []question.Record) Report {
	report := Report{Records: len(records)}
	usage := make(map[string][]imageRef)
	seenIDs := make(map[string]bool, len(records))

	for _, rec := range records {
		report.Incomplete = appendIncomplete(report.Incomplete, rec, seenIDs)
		prefix := textPrefix(rec.Text)
		for _, p := range rec.Images {
			report.ImageRefs++
			usage[p] = append(usage[p], imageRef{id: rec.ID, text: prefix})
			if !assetExists(p) {
				report.MissingAssets = append(report.MissingAssets, MissingAsset{QuestionID: rec.ID, Path: p})
			}
		}
		for _, opt := range rec.Options {
			if opt.Image == "" {
				continue
			}
			report.ImageRefs++
			usage[opt.Image] = append(usage[opt.Image], imageRef{id: rec.ID, text: prefix})
			if !assetExists(opt.Image) {
				report.MissingAssets = append(report.MissingAssets, MissingAsset{QuestionID: rec.ID, Option: opt.Label, Path: opt.Image})
			}
		}
	}
	report.UniqueImages = len(usage)
	report.Reuse = c.findReuse(usage)
	report.Conflicts = findDigestConflicts(records)
	report.Orphans = c.findOrphans(usage)

	c.logger.Info().
		Int("records", report.Records).
		Int("missing", len(report.MissingAssets)).
		Int("reused", len(report.Reuse)).
		Int("incomplete", len(report.Incomplete)).
		Int("conflicts", len(report.Conflicts)).
		Int("orphans", len(report.Orphans)).
		Msg("verification finished")
	return report
}

func appendIncomplete(out []Incomplete, rec question.Record, seenIDs map[string]bool) []Incomplete {
	var issues []string
	if strings.TrimSpace(rec.Text) == "" {
		issues = append(issues, "missing question text")
	}
	if len(rec.Options) < 2 {
		issues = append(issues, fmt.Sprintf("only %d options", len(rec.Options)))
	}
	if rec.CorrectAnswer == nil {
		issues = append(issues, "no correct answer")
	} else if !rec.AnswerValid() {
		issues = append(issues, fmt.Sprintf("answer %s not among options", *rec.CorrectAnswer))
	}
	if seenIDs[rec.ID] {
		issues = append(issues, "duplicate id")
	}
	seenIDs[rec.ID] = true
	if len(issues) == 0 {
		return out
	}
	return append(out, Incomplete{ID: rec.ID, Issues: issues})
}

func (c *Checker) findReuse(usage map[string][]imageRef) []ImageReuse {
	var out []ImageReuse
	for path, refs := range usage {
		if len(refs) < 2 {
			continue
		}
		distinct := make(map[string]bool)
		for _, r := range refs {
			distinct[r.text] = true
		}
		if len(distinct) < 2 {
			continue
		}
		reuse := ImageReuse{
			Path:      path,
			Refs:      len(refs),
			Questions: len(distinct),
			Excessive: len(refs) > c.cfg.Limits.ImageReuseThreshold,
		}
		for _, r := range refs {
			if len(reuse.Examples) == 5 {
				break
			}
			reuse.Examples = append(reuse.Examples, fmt.Sprintf("%s: %s", r.id, r.text))
		}
		out = append(out, reuse)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Refs != out[j].Refs {
			return out[i].Refs > out[j].Refs
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// findDigestConflicts groups records by content digest and checks that
// each group agrees on its imagery, per role and per option label. Paths
// compare by lowercased base name, the directories legitimately differ
// between crawl sources.
func findDigestConflicts(records []question.Record) []DigestConflict {
	groups := make(map[string][]question.Record)
	for _, rec := range records {
		d := reconcile.Digest(rec)
		groups[d] = append(groups[d], rec)
	}
	var out []DigestConflict
	for digest, group := range groups {
		if len(group) < 2 {
			continue
		}
		ids := make([]string, 0, len(group))
		qimgs := make(map[string]bool)
		optImgs := make(map[string]map[string]bool)
		for _, rec := range group {
			ids = append(ids, rec.ID)
			qimgs[imageSet(rec.Images)] = true
			for _, opt := range rec.Options {
				if opt.Image == "" {
					continue
				}
				if optImgs[opt.Label] == nil {
					optImgs[opt.Label] = make(map[string]bool)
				}
				optImgs[opt.Label][strings.ToLower(filepath.Base(opt.Image))] = true
			}
		}
		sort.Strings(ids)
		if len(qimgs) > 1 {
			out = append(out, DigestConflict{Digest: digest, Field: "question images", Questions: ids})
		}
		labels := make([]string, 0, len(optImgs))
		for label := range optImgs {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			if len(optImgs[label]) > 1 {
				out = append(out, DigestConflict{Digest: digest, Field: fmt.Sprintf("option %s image", label), Questions: ids})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Digest != out[j].Digest {
			return out[i].Digest < out[j].Digest
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// findOrphans walks the crop store for image files nothing references.
func (c *Checker) findOrphans(usage map[string][]imageRef) []string {
	var orphans []string
	err := filepath.Walk(c.cfg.Paths.ImagesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png", ".jpg", ".jpeg", ".gif":
		default:
			return nil
		}
		if _, ok := usage[path]; !ok {
			orphans = append(orphans, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Str("dir", c.cfg.Paths.ImagesDir).Msg("orphan scan incomplete")
	}
	sort.Strings(orphans)
	return orphans
}

func imageSet(paths []string) string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.ToLower(filepath.Base(p)))
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func assetExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func textPrefix(s string) string {
	normalized := textmatch.Normalize(s)
	r := []rune(normalized)
	if len(r) <= 50 {
		return normalized
	}
	return string(r[:50])
}
