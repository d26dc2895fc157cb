package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ruiyi-1/KPP-Test/internal/question"
)

// SaveDataset writes the merged dataset document atomically.
func SaveDataset(path string, ds question.Dataset) error {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	return nil
}

// LoadDataset reads a dataset document back.
func LoadDataset(path string) (question.Dataset, error) {
	var ds question.Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("load dataset: %w", err)
	}
	if err := json.Unmarshal(data, &ds); err != nil {
		return ds, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	return ds, nil
}

// SaveTranslations writes the translation sidecar atomically.
func SaveTranslations(path string, tr question.Translations) error {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("encode translations: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("save translations: %w", err)
	}
	return nil
}

// LoadTranslations reads the translation sidecar. A missing file yields an
// empty document, since a crawl without bilingual questions never writes one.
func LoadTranslations(path string) (question.Translations, error) {
	tr := question.Translations{Questions: make(map[string]question.Translation)}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tr, nil
		}
		return tr, fmt.Errorf("load translations: %w", err)
	}
	if err := json.Unmarshal(data, &tr); err != nil {
		return tr, fmt.Errorf("decode translations %s: %w", path, err)
	}
	if tr.Questions == nil {
		tr.Questions = make(map[string]question.Translation)
	}
	return tr, nil
}
