// Package locate resolves actionable elements against a UI snapshot. Every
// role runs an ordered strategy chain; the first strategy producing a
// candidate with a non-empty bounding box wins. Lookups never fail hard:
// "not found" is an explicit empty result the caller treats as retryable.
package locate

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
	"github.com/ruiyi-1/KPP-Test/internal/textmatch"
)

// Finder holds the tuned bands and keyword sets the strategies filter by.
type Finder struct {
	cfg    config.Profile
	logger zerolog.Logger
}

func New(cfg config.Profile, logger zerolog.Logger) *Finder {
	return &Finder{cfg: cfg, logger: logger}
}

// Labeled is an option control with its resolved glyph.
type Labeled struct {
	Label   string
	Element snapshot.Element
}

// Next resolves the forward-navigation control. Keyword scan first, then a
// fuzzy pass including symbolic arrows, then a positional guess in the
// bottom-right quadrant.
func (f *Finder) Next(s *snapshot.Snapshot) (snapshot.Element, bool) {
	if el, ok := f.keywordScan(s, f.cfg.Keywords.Next); ok {
		return el, true
	}
	if el, ok := f.fuzzyScan(s, f.cfg.Keywords.NextFuzzy); ok {
		return el, true
	}
	return f.quadrantScan(s, false)
}

// Previous resolves the backward-navigation control. Same chain as Next with
// the positional guess flipped to the bottom-left quadrant.
func (f *Finder) Previous(s *snapshot.Snapshot) (snapshot.Element, bool) {
	if el, ok := f.keywordScan(s, f.cfg.Keywords.Previous); ok {
		return el, true
	}
	if el, ok := f.fuzzyScan(s, f.cfg.Keywords.Previous); ok {
		return el, true
	}
	return f.quadrantScan(s, true)
}

// keywordScan returns the first clickable element with bounds whose combined
// label and text contains one of the keywords.
func (f *Finder) keywordScan(s *snapshot.Snapshot, keywords []string) (snapshot.Element, bool) {
	for _, el := range s.Elements {
		if !textmatch.ContainsAny(el.CombinedText(), keywords) {
			continue
		}
		if el.Clickable && el.HasBounds() {
			return el, true
		}
	}
	return snapshot.Element{}, false
}

// fuzzyScan tries each keyword in turn, preferring clickable matches over
// merely-bounded ones within a keyword before moving to the next.
func (f *Finder) fuzzyScan(s *snapshot.Snapshot, keywords []string) (snapshot.Element, bool) {
	for _, kw := range keywords {
		var bounded snapshot.Element
		var haveBounded bool
		for _, el := range s.Elements {
			if !textmatch.FuzzyMatch(el.CombinedText(), []string{kw}) {
				continue
			}
			if !el.HasBounds() {
				continue
			}
			if el.Clickable {
				f.logger.Debug().Str("keyword", kw).Int("index", el.Index).Msg("fuzzy match")
				return el, true
			}
			if !haveBounded {
				bounded, haveBounded = el, true
			}
		}
		if haveBounded {
			f.logger.Debug().Str("keyword", kw).Int("index", bounded.Index).Msg("fuzzy match without clickable")
			return bounded, true
		}
	}
	return snapshot.Element{}, false
}

// quadrantScan picks the bottom-most clickable element in the horizontal half
// directional controls sit in, ordering candidates by (y, -x) so the corner
// element wins.
func (f *Finder) quadrantScan(s *snapshot.Snapshot, left bool) (snapshot.Element, bool) {
	minY := int(float64(f.cfg.Screen.Height) * f.cfg.Bands.NextYFrac)
	splitX := int(float64(f.cfg.Screen.Width) * f.cfg.Bands.NextXFrac)

	var best snapshot.Element
	found := false
	for _, el := range s.Elements {
		if !el.Clickable || !el.HasBounds() {
			continue
		}
		if el.Bounds.Y1 <= minY {
			continue
		}
		if left {
			if el.Bounds.X1 >= splitX {
				continue
			}
		} else if el.Bounds.X1 <= splitX {
			continue
		}
		if !found || beats(el.Bounds, best.Bounds) {
			best, found = el, true
		}
	}
	if found {
		f.logger.Debug().
			Int("index", best.Index).
			Int("y", best.Bounds.Y1).
			Int("x", best.Bounds.X1).
			Msg("positional fallback for directional control")
	}
	return best, found
}

/// beats orders candidates by (y, -x) lexicographically, maximum first: the
// lowest element in the quadrant wins.
func beats(a, b snapshot.Rect) bool {
	if a.Y1 != b.Y1 {
		return a.Y1 > b.Y1
	}
	return a.X1 < b.X1
}

// Options returns the wide clickable elements inside the options band, in
// top-to-bottom order, capped at the option budget. Elements naming
// navigation or section controls are excluded.
func (f *Finder) Options(s *snapshot.Snapshot) []snapshot.Element {
	var out []snapshot.Element
	minWidth := int(float64(f.cfg.Screen.Width) * f.cfg.Bands.OptionMinWidthFrac)
	for _, el := range s.Elements {
		if !el.Clickable || !el.HasBounds() {
			continue
		}
		if textmatch.ContainsAny(el.CombinedText(), f.cfg.Keywords.OptionExclusions) {
			continue
		}
		y := el.Bounds.Y1
		if y <= f.cfg.Bands.OptionsTopY || y >= f.cfg.Bands.OptionsBottomY {
			continue
		}
		if el.Bounds.Width() <= minWidth {
			continue
		}
		out = append(out, el)
	}
	sortByTop(out)
	return capped(out, f.cfg.Limits.MaxOptions)
}

// LooseOptions is the permissive variant used as a page signal only: any
// clickable below the header carrying enough text to be an answer row.
func (f *Finder) LooseOptions(s *snapshot.Snapshot) []snapshot.Element {
	var out []snapshot.Element
	for _, el := range s.Elements {
		if !el.Clickable || !el.HasBounds() {
			continue
		}
		if el.Bounds.Y1 <= f.cfg.Bands.LooseOptionMinY {
			continue
		}
		text := strings.TrimSpace(el.Text)
		label := strings.TrimSpace(el.Label)
		textual := text != "" && (utf8.RuneCountInString(text) > 5 || startsLetter(text))
		if !textual && utf8.RuneCountInString(label) <= 10 {
			continue
		}
		out = append(out, el)
	}
	sortByTop(out)
	return capped(out, f.cfg.Limits.MaxOptions)
}

// startsLetter reports whether either of the first two runes is a letter.
func startsLetter(s string) bool {
	seen := 0
	for _, r := range s {
		if seen >= 2 {
			break
		}
		if unicode.IsLetter(r) {
			return true
		}
		seen++
	}
	return false
}

// LabeledOptions resolves the option controls with their glyphs. Explicitly
// glyph-marked elements inside the glyph band win; otherwise the generic
// options scan runs and glyphs are assigned in top-to-bottom order.
func (f *Finder) LabeledOptions(s *snapshot.Snapshot) []Labeled {
	var out []Labeled
	for _, el := range s.Elements {
		if !el.Clickable || !el.HasBounds() {
			continue
		}
		y := el.Bounds.Y1
		if y <= f.cfg.Bands.GlyphTopY || y >= f.cfg.Bands.GlyphBottomY {
			continue
		}
		if label, ok := glyphOf(el); ok {
			out = append(out, Labeled{Label: label, Element: el})
		}
	}
	if len(out) == 0 {
		for i, el := range f.Options(s) {
			if i >= len(question.Labels) {
				break
			}
			out = append(out, Labeled{Label: question.Labels[i], Element: el})
		}
		if len(out) > 0 {
			f.logger.Debug().Int("count", len(out)).Msg("options resolved positionally, glyphs assigned top to bottom")
		}
	}
	sortLabeledByTop(out)
	return out
}

// glyphOf extracts the option glyph an element is marked with: the bare
// glyph in either attribute, or a "A."/"A " prefix, or the glyph standing
// alone mid-text. Glyphs render uppercase, so matching is case-sensitive.
func glyphOf(el snapshot.Element) (string, bool) {
	label := strings.TrimSpace(el.Label)
	text := strings.TrimSpace(el.Text)
	for _, g := range question.Labels {
		if label == g || text == g {
			return g, true
		}
	}
	combined := strings.TrimSpace(el.CombinedText())
	for _, g := range question.Labels {
		if strings.HasPrefix(combined, g+".") || strings.HasPrefix(combined, g+" ") ||
			strings.Contains(" "+combined+" ", " "+g+" ") {
			return g, true
		}
	}
	return "", false
}

// EntryPoint resolves the control that expands the section list, preferring
// matches on the primary keyword.
func (f *Finder) EntryPoint(s *snapshot.Snapshot) (snapshot.Element, bool) {
	keywords := f.cfg.Keywords.EntryPoint
	if len(keywords) == 0 {
		return snapshot.Element{}, false
	}
	var fallback snapshot.Element
	var haveFallback bool
	for _, el := range s.Elements {
		if !el.Clickable || !el.HasBounds() {
			continue
		}
		if !textmatch.ContainsAny(el.CombinedText(), keywords) {
			continue
		}
		if textmatch.ContainsAny(el.CombinedText(), keywords[:1]) {
			return el, true
		}
		if !haveFallback {
			fallback, haveFallback = el, true
		}
	}
	return fallback, haveFallback
}

// PartEntry resolves the control that enters a partition. Candidates naming
// an excluded concern are skipped, and a match rendered above the safety
// threshold is rejected as a lookalike, not accepted.
func (f *Finder) PartEntry(s *snapshot.Snapshot, partition string) (snapshot.Element, bool) {
	patterns := f.cfg.Keywords.PartNames[partition]
	if len(patterns) == 0 {
		return snapshot.Element{}, false
	}
	for _, el := range s.Elements {
		combined := el.CombinedText()
		if textmatch.ContainsAny(combined, f.cfg.Keywords.PartExclusions) {
			continue
		}
		if !textmatch.ContainsAny(combined, patterns) {
			continue
		}
		if !el.HasBounds() || (!el.Clickable && !el.Focusable) {
			continue
		}
		_, cy := el.Bounds.Center()
		if cy < f.cfg.Bands.PartEntryMinY {
			f.logger.Warn().
				Str("partition", partition).
				Int("center_y", cy).
				Int("threshold", f.cfg.Bands.PartEntryMinY).
				Str("content", strings.TrimSpace(combined)).
				Msg("rejected section control above safety threshold")
			continue
		}
		return el, true
	}
	return snapshot.Element{}, false
}

// LanguageOption resolves the row for a language by name. A matching element
// that is not itself clickable delegates to its nearest clickable ancestor.
// For English a positional guess remains: the middle clickable row of the
// language band.
func (f *Finder) LanguageOption(s *snapshot.Snapshot, name string) (snapshot.Element, bool) {
	for _, el := range s.Elements {
		if !textmatch.ContainsAny(el.CombinedText(), []string{name}) {
			continue
		}
		if el.Clickable && el.HasBounds() {
			return el, true
		}
		if anc, ok := s.ClickableAncestor(el.Index, f.cfg.Limits.AncestorDepth); ok {
			return anc, true
		}
	}
	if !strings.EqualFold(name, "english") {
		return snapshot.Element{}, false
	}
	var rows []snapshot.Element
	for _, el := range s.Elements {
		if !el.Clickable || !el.HasBounds() {
			continue
		}
		y := el.Bounds.Y1
		if y <= f.cfg.Bands.LanguageRowTopY || y >= f.cfg.Bands.LanguageRowBottomY {
			continue
		}
		content := strings.TrimSpace(el.CombinedText())
		if !strings.Contains(strings.ToLower(content), "english") && utf8.RuneCountInString(content) >= 3 {
			continue
		}
		rows = append(rows, el)
	}
	if len(rows) < 2 {
		return snapshot.Element{}, false
	}
	sortByTop(rows)
	mid := rows[len(rows)/2]
	f.logger.Debug().Int("rows", len(rows)).Int("index", mid.Index).Msg("language row picked positionally")
	return mid, true
}

// AdIndicator reports an ad overlay: any element naming an ad marker in the
// top zone. Directional controls sharing a marker word are not indicators.
func (f *Finder) AdIndicator(s *snapshot.Snapshot) (snapshot.Element, bool) {
	for _, el := range s.Elements {
		if !textmatch.ContainsAny(el.CombinedText(), f.cfg.Keywords.AdMarkers) {
			continue
		}
		if !el.HasBounds() {
			continue
		}
		if textmatch.ContainsAny(el.CombinedText(), f.cfg.Keywords.Next) {
			continue
		}
		if el.Bounds.Y1 < f.cfg.Bands.AdCloseMaxY {
			return el, true
		}
	}
	return snapshot.Element{}, false
}

// AdClose resolves the control that dismisses an ad, trying close keywords
// in configured order. Restricted to the top zone and never a Next control,
// the two can share words like "skip".
func (f *Finder) AdClose(s *snapshot.Snapshot) (snapshot.Element, bool) {
	for _, kw := range f.cfg.Keywords.AdClose {
		for _, el := range s.Elements {
			if !textmatch.ContainsAny(el.CombinedText(), []string{kw}) {
				continue
			}
			if !el.HasBounds() {
				continue
			}
			if textmatch.ContainsAny(el.CombinedText(), f.cfg.Keywords.Next) {
				continue
			}
			if el.Bounds.Y1 < f.cfg.Bands.AdCloseMaxY {
				return el, true
			}
		}
	}
	return snapshot.Element{}, false
}

func sortByTop(els []snapshot.Element) {
	sort.SliceStable(els, func(i, j int) bool { return els[i].Bounds.Y1 < els[j].Bounds.Y1 })
}

func sortLabeledByTop(ls []Labeled) {
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].Element.Bounds.Y1 < ls[j].Element.Bounds.Y1 })
}

func capped(els []snapshot.Element, n int) []snapshot.Element {
	if n > 0 && len(els) > n {
		return els[:n]
	}
	return els
}
