package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

// WebProgress tracks which set pages a scrape has finished, so an
// interrupted run resumes at the first unfinished set.
type WebProgress struct {
	CompletedSets  []string `json:"completed_sets"`
	LastQuestionID string   `json:"last_question_id,omitempty"`
}

// Done reports whether url was completed by an earlier run.
func (p WebProgress) Done(url string) bool {
	for _, done := range p.CompletedSets {
		if done == url {
			return true
		}
	}
	return false
}

// MarkDone records url as completed. Marking twice is harmless.
func (p *WebProgress) MarkDone(url string) {
	if p.Done(url) {
		return
	}
	p.CompletedSets = append(p.CompletedSets, url)
}

// WebProgressFile reads and writes the scrape progress. Like the crawl
// checkpoint, loading never fails: damage means starting over, not
// refusing to run.
type WebProgressFile struct {
	path   string
	logger zerolog.Logger
}

func NewWebProgressFile(path string, logger zerolog.Logger) *WebProgressFile {
	return &WebProgressFile{path: path, logger: logger}
}

// Load returns the persisted progress, or empty progress when the file
// is missing or malformed.
func (f *WebProgressFile) Load() WebProgress {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn().Err(err).Str("path", f.path).Msg("web progress unreadable, starting fresh")
		}
		return WebProgress{}
	}
	var progress WebProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("web progress malformed, starting fresh")
		return WebProgress{}
	}
	return progress
}

// Save persists the progress atomically.
func (f *WebProgressFile) Save(progress WebProgress) error {
	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("encode web progress: %w", err)
	}
	if err := writeFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("save web progress: %w", err)
	}
	f.logger.Debug().Int("sets", len(progress.CompletedSets)).Msg("web progress saved")
	return nil
}
