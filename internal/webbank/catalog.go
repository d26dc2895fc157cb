// Package webbank scrapes the practice-test website that mirrors the app's
// question bank. Set pages are fetched statically for extraction; correct
// answers need a live click in a browser, so probing is delegated to an
// AnswerProber. Output is one dataset document per section, shaped exactly
// like the app-side merge so both feed the same reconciliation.
package webbank

import (
	"fmt"
	"strings"

	"github.com/ruiyi-1/KPP-Test/internal/config"
)

// SetRef identifies one quiz set page of a section.
type SetRef struct {
	Section string // lowercase section letter, "a"
	Slug    string // catalog slug, "set-1" or "road-signs"
}

// ID is the stable prefix for everything scraped from this set,
// e.g. "section-a-set-1". Question ids append "-q<n>".
func (s SetRef) ID() string {
	return fmt.Sprintf("section-%s-%s", s.Section, s.Slug)
}

// URL resolves the set page address. Numbered sets live under the site's
// long-form path segment ("section-a-question-set-1"); named sets such as
// road-signs use their slug directly.
func (s SetRef) URL(base string) string {
	seg := s.Slug
	if strings.HasPrefix(s.Slug, "set-") {
		seg = fmt.Sprintf("section-%s-question-%s", s.Section, s.Slug)
	}
	return fmt.Sprintf("%s/section-%s/%s/", strings.TrimRight(base, "/"), s.Section, seg)
}

// SectionSets expands one configured section into its set references.
func SectionSets(section config.WebSection) []SetRef {
	name := strings.ToLower(strings.TrimSpace(section.Name))
	refs := make([]SetRef, 0, len(section.Sets))
	for _, slug := range section.Sets {
		refs = append(refs, SetRef{Section: name, Slug: slug})
	}
	return refs
}
