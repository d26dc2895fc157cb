// Package question defines the persistent shapes shared by the extractor,
// the stores, reconciliation and verification: one captured record per
// question, the merged canonical dataset, and the translation sidecar.
package question

import (
	"fmt"
	"strings"
	"time"
)

// Labels are the option glyphs in presentation order.
var Labels = []string{"A", "B", "C", "D"}

// Option is one answer choice of a record.
type Option struct {
	Label    string `json:"label"`
	Text     string `json:"text"`
	HasImage bool   `json:"has_image"`
	Image    string `json:"image,omitempty"`
}

// Record is one captured question. Partition plus Ordinal identify it within
// a crawl; ID is derived from them and never changes after capture. A nil
// CorrectAnswer means feedback never revealed itself within the probing
// budget, which is a legitimate outcome.
type Record struct {
	ID              string    `json:"id"`
	Partition       string    `json:"part"`
	Ordinal         int       `json:"question_number"`
	Text            string    `json:"question_text"`
	Images          []string  `json:"question_images"`
	Options         []Option  `json:"options"`
	CorrectAnswer   *string   `json:"correct_answer"`
	HasImageOptions bool      `json:"has_image_options"`
	HasImages       bool      `json:"has_question_images"`
	CapturedAt      time.Time `json:"timestamp"`
}

// RecordID returns the stable identifier for a (partition, ordinal) capture,
// e.g. "part-a-question-003".
func RecordID(partition string, ordinal int) string {
	return fmt.Sprintf("part-%s-question-%03d", strings.ToLower(partition), ordinal)
}

// CanonicalID returns the dataset-wide identifier assigned after dedup,
// e.g. "question-001".
func CanonicalID(n int) string {
	return fmt.Sprintf("question-%03d", n)
}

// ImageKind distinguishes the two crop roles of a capture.
type ImageKind string

const (
	QuestionImage ImageKind = "q-image"
	OptionImage   ImageKind = "opt-image"
)

// ImageName returns the deterministic asset filename for the idx-th (1-based)
// image of the given kind, e.g. "part-a-question-003-q-image-01.png".
func ImageName(partition string, ordinal int, kind ImageKind, idx int) string {
	return fmt.Sprintf("%s-%s-%02d.png", RecordID(partition, ordinal), kind, idx)
}

// OptionLabels returns the labels in option order.
func (r Record) OptionLabels() []string {
	labels := make([]string, 0, len(r.Options))
	for _, opt := range r.Options {
		labels = append(labels, opt.Label)
	}
	return labels
}

// AnswerValid reports whether CorrectAnswer, when set, names one of the
// record's options. A nil answer is always valid.
func (r Record) AnswerValid() bool {
	if r.CorrectAnswer == nil {
		return true
	}
	want := strings.ToUpper(strings.TrimSpace(*r.CorrectAnswer))
	for _, opt := range r.Options {
		if strings.ToUpper(strings.TrimSpace(opt.Label)) == want {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants every stored record must hold.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("question: record missing id")
	}
	if r.Partition == "" {
		return fmt.Errorf("question %s: missing partition", r.ID)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("question %s: empty question text", r.ID)
	}
	if len(r.Options) < 2 {
		return fmt.Errorf("question %s: %d options, need at least 2", r.ID, len(r.Options))
	}
	seen := make(map[string]bool, len(r.Options))
	for i, opt := range r.Options {
		label := strings.ToUpper(strings.TrimSpace(opt.Label))
		if label == "" {
			return fmt.Errorf("question %s: option %d missing label", r.ID, i)
		}
		if seen[label] {
			return fmt.Errorf("question %s: duplicate option label %s", r.ID, label)
		}
		seen[label] = true
		if opt.HasImage && opt.Image == "" {
			return fmt.Errorf("question %s: option %s marked as image but has no path", r.ID, label)
		}
	}
	if r.CorrectAnswer != nil {
		answer := strings.ToUpper(strings.TrimSpace(*r.CorrectAnswer))
		valid := false
		for _, l := range Labels {
			if answer == l {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("question %s: answer %q outside %v", r.ID, *r.CorrectAnswer, Labels)
		}
		if !r.AnswerValid() {
			return fmt.Errorf("question %s: answer %s not among options %v", r.ID, answer, r.OptionLabels())
		}
	}
	return nil
}

// Dataset is the merged canonical output: dense sequential ids, duplicates
// collapsed.
type Dataset struct {
	Total     int      `json:"total"`
	Questions []Record `json:"questions"`
}

// Translation holds the sidecar strings for one question.
type Translation struct {
	Question string            `json:"question,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// Empty reports whether the translation carries no strings at all.
func (t Translation) Empty() bool {
	return t.Question == "" && len(t.Options) == 0
}

// Translations is the sidecar document keyed by record id. Rekeying after a
// merge goes through the reconciliation id remap.
type Translations struct {
	Questions map[string]Translation `json:"questions"`
}
