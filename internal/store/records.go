package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/question"
)

// Records is the per-question file store. Files are named from the record
// id, so the presence of a file is the idempotency check for a position:
// a record is either fully on disk or absent, never half written.
type Records struct {
	dir    string
	logger zerolog.Logger
}

func NewRecords(dir string, logger zerolog.Logger) *Records {
	return &Records{dir: dir, logger: logger}
}

func (r *Records) path(partition string, ordinal int) string {
	return filepath.Join(r.dir, question.RecordID(partition, ordinal)+".json")
}

// Exists reports whether a record for (partition, ordinal) is already on
// disk. Crawls consult this before touching the page so resumed runs skip
// captured questions without re-probing them.
func (r *Records) Exists(partition string, ordinal int) bool {
	_, err := os.Stat(r.path(partition, ordinal))
	return err == nil
}

// Save validates and persists one record atomically.
func (r *Records) Save(rec question.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if err := writeFileAtomic(r.path(rec.Partition, rec.Ordinal), data); err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	r.logger.Debug().Str("id", rec.ID).Msg("record saved")
	return nil
}

// Load reads a single record back.
func (r *Records) Load(partition string, ordinal int) (question.Record, error) {
	var rec question.Record
	data, err := os.ReadFile(r.path(partition, ordinal))
	if err != nil {
		return rec, fmt.Errorf("load record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode record %s: %w", question.RecordID(partition, ordinal), err)
	}
	return rec, nil
}

// List reads every record in the store, sorted by partition and then by
// numeric ordinal. Files that fail to decode are skipped with a warning
// so one damaged capture cannot block a merge.
func (r *Records) List() ([]question.Record, error) {
	paths, err := filepath.Glob(filepath.Join(r.dir, "part-*-question-*.json"))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	records := make([]question.Record, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", p).Msg("record unreadable, skipped")
			continue
		}
		var rec question.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.Warn().Err(err).Str("path", p).Msg("record malformed, skipped")
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Partition != records[j].Partition {
			return records[i].Partition < records[j].Partition
		}
		return records[i].Ordinal < records[j].Ordinal
	})
	return records, nil
}
