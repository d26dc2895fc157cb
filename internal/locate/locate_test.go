package locate

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
)

func newFinder() *Finder {
	return New(config.Default(), zerolog.Nop())
}

func rect(x1, y1, x2, y2 int) snapshot.Rect {
	return snapshot.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func el(idx int, label, text string, clickable bool, bounds snapshot.Rect) snapshot.Element {
	return snapshot.Element{Index: idx, Parent: -1, Label: label, Text: text, Clickable: clickable, Bounds: bounds}
}

func snap(els ...snapshot.Element) *snapshot.Snapshot {
	return &snapshot.Snapshot{Elements: els}
}

func TestNextKeywordScan(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "Question text here", false, rect(0, 400, 1276, 600)),
		el(1, "Next", "", true, rect(100, 2600, 300, 2700)),
	)
	got, ok := f.Next(s)
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)
	x, y := got.Bounds.Center()
	assert.Equal(t, 200, x)
	assert.Equal(t, 2650, y)
}

func TestNextSkipsUnclickableKeywordMatch(t *testing.T) {
	f := newFinder()
	// The bare "Next" caption is not clickable; the fuzzy pass still finds
	// it by preferring clickable matches and falling back to bounded ones.
	s := snap(
		el(0, "Next", "", false, rect(100, 2600, 300, 2700)),
	)
	got, ok := f.Next(s)
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
}

func TestNextFuzzyArrow(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "→", true, rect(1000, 2600, 1200, 2700)),
	)
	got, ok := f.Next(s)
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
}

func TestNextPositionalFallback(t *testing.T) {
	f := newFinder()
	// No directional keywords anywhere: the bottom-most clickable in the
	// right half wins, ties on y broken by smaller x.
	s := snap(
		el(0, "", "", true, rect(700, 2000, 900, 2100)),
		el(1, "", "", true, rect(900, 2600, 1100, 2700)),
		el(2, "", "", true, rect(650, 2600, 850, 2700)),
		el(3, "", "", true, rect(100, 2700, 300, 2800)), // left half, ignored
	)
	got, ok := f.Next(s)
	require.True(t, ok)
	assert.Equal(t, 2, got.Index)
}

func TestPreviousPositionalFallback(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "", true, rect(100, 2600, 300, 2700)),
		el(1, "", "", true, rect(900, 2600, 1100, 2700)), // right half, ignored
	)
	got, ok := f.Previous(s)
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
}

func TestOptionsScan(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "What does this sign mean", false, rect(100, 400, 1176, 600)),
		el(1, "", "B option row rendered second", true, rect(50, 1400, 1200, 1500)),
		el(2, "", "A option row rendered first", true, rect(50, 1100, 1200, 1250)),
		el(3, "", "Next", true, rect(50, 1600, 1200, 1700)),   // excluded keyword
		el(4, "", "narrow", true, rect(50, 1800, 400, 1900)),  // too narrow
		el(5, "", "too high on screen", true, rect(50, 700, 1200, 790)),
	)
	got := f.Options(s)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
}

func TestLooseOptions(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "plenty of option text", true, rect(50, 900, 1200, 1000)),
		el(1, "", "12", true, rect(50, 1100, 1200, 1200)),  // no letters, too short
		el(2, "", "above the floor", true, rect(50, 150, 1200, 190)),
		el(3, "a descriptive accessibility label", "", true, rect(50, 1300, 1200, 1400)),
		el(4, "", "not clickable either", false, rect(50, 1500, 1200, 1600)),
	)
	got := f.LooseOptions(s)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 3, got[1].Index)
}

func TestLabeledOptionsGlyphBand(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "B", "", true, rect(50, 2100, 1200, 2200)),
		el(1, "A", "", true, rect(50, 1900, 1200, 2000)),
		el(2, "", "C. Give way to traffic", true, rect(50, 2300, 1200, 2400)),
		el(3, "D", "", true, rect(50, 700, 1200, 800)), // outside glyph band
	)
	got := f.LabeledOptions(s)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Label)
	assert.Equal(t, 1, got[0].Element.Index)
	assert.Equal(t, "B", got[1].Label)
	assert.Equal(t, 0, got[1].Element.Index)
	assert.Equal(t, "C", got[2].Label)
	assert.Equal(t, 2, got[2].Element.Index)
}

func TestLabeledOptionsPositionalFallback(t *testing.T) {
	f := newFinder()
	// Nothing glyph-marked: wide clickables get glyphs assigned in
	// top-to-bottom order.
	s := snap(
		el(0, "", "slow down and prepare to stop", true, rect(50, 1400, 1200, 1500)),
		el(1, "", "speed up and overtake quickly", true, rect(50, 1100, 1200, 1200)),
	)
	got := f.LabeledOptions(s)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Label)
	assert.Equal(t, 1, got[0].Element.Index)
	assert.Equal(t, "B", got[1].Label)
	assert.Equal(t, 0, got[1].Element.Index)
}

func TestPartEntry(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "Tukar Bahasa Part A", "", true, rect(100, 1700, 1100, 1900)), // excluded concern
		el(1, "Part A", "", true, rect(100, 800, 1100, 900)),                // above safety threshold
		el(2, "Part A", "", true, rect(100, 1700, 1100, 1900)),
	)
	got, ok := f.PartEntry(s, "A")
	require.True(t, ok)
	assert.Equal(t, 2, got.Index)

	_, ok = f.PartEntry(s, "B")
	assert.False(t, ok)
}

func TestPartEntryFocusableCounts(t *testing.T) {
	f := newFinder()
	s := snap(snapshot.Element{
		Index: 0, Parent: -1, Label: "B 部分", Focusable: true,
		Bounds: rect(100, 1900, 1100, 2100),
	})
	got, ok := f.PartEntry(s, "B")
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
}

func TestEntryPointPrefersPrimaryKeyword(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "练习", "", true, rect(100, 900, 1100, 1000)),
		el(1, "Exercise", "", true, rect(100, 1100, 1100, 1200)),
	)
	got, ok := f.EntryPoint(s)
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)

	// With only the secondary keyword present, it still resolves.
	got, ok = f.EntryPoint(snap(el(0, "练习", "", true, rect(100, 900, 1100, 1000))))
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
}

func TestLanguageOptionDirect(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "English", true, rect(100, 1400, 1100, 1500)),
	)
	got, ok := f.LanguageOption(s, "English")
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
}

func TestLanguageOptionClickableAncestor(t *testing.T) {
	f := newFinder()
	row := snapshot.Element{Index: 0, Parent: -1, Clickable: true, Bounds: rect(50, 1350, 1200, 1500)}
	caption := snapshot.Element{Index: 1, Parent: 0, Text: "中文", Bounds: rect(100, 1400, 400, 1450)}
	got, ok := f.LanguageOption(snap(row, caption), "中文")
	require.True(t, ok)
	assert.Equal(t, 0, got.Index)
}

func TestLanguageOptionPositionalMiddleRow(t *testing.T) {
	f := newFinder()
	// Rows carry no text at all; for English the middle clickable of the
	// language band is assumed.
	s := snap(
		el(0, "", "", true, rect(100, 1350, 1100, 1420)),
		el(1, "", "", true, rect(100, 1450, 1100, 1520)),
		el(2, "", "", true, rect(100, 1550, 1100, 1620)),
	)
	got, ok := f.LanguageOption(s, "English")
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)

	// Other languages get no positional guess.
	_, ok = f.LanguageOption(s, "中文")
	assert.False(t, ok)
}

func TestAdIndicator(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "Skip intro", false, rect(1100, 100, 1250, 180)),
	)
	_, ok := f.AdIndicator(s)
	assert.True(t, ok)

	// A Next control sharing a marker word is not an ad.
	_, ok = f.AdIndicator(snap(el(0, "", "Skip to next", true, rect(1100, 100, 1250, 180))))
	assert.False(t, ok)

	// Markers below the top zone are page content, not ad chrome.
	_, ok = f.AdIndicator(snap(el(0, "", "Close", true, rect(100, 900, 400, 1000))))
	assert.False(t, ok)
}

func TestAdCloseKeywordOrder(t *testing.T) {
	f := newFinder()
	s := snap(
		el(0, "", "Close", true, rect(100, 100, 300, 180)),
		el(1, "", "跳过", true, rect(1100, 100, 1250, 180)),
	)
	// Keyword precedence outranks document order.
	got, ok := f.AdClose(s)
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)

	_, ok = f.AdClose(snap(el(0, "", "no chrome here", true, rect(100, 100, 300, 180))))
	assert.False(t, ok)
}
