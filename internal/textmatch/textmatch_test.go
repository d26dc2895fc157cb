package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapse(t *testing.T) {
	assert.Equal(t, "a b c", Collapse("  a\n\nb\t c "))
	assert.Equal(t, "", Collapse("   \n\t"))
}

func TestNormalize(t *testing.T) {
	// Whitespace and punctuation variants collapse to the same key.
	assert.Equal(t, Normalize("Stop sign means?"), Normalize("  stop   sign\nmeans "))
	assert.Equal(t, "when in doubt slow down", Normalize("When in doubt, slow down!"))
}

func TestContainsAny(t *testing.T) {
	keywords := []string{"next", "下一"}
	assert.True(t, ContainsAny("Tap NEXT to continue", keywords))
	assert.True(t, ContainsAny("下一页", keywords))
	assert.False(t, ContainsAny("previous", keywords))
	assert.False(t, ContainsAny("", keywords))
	assert.False(t, ContainsAny("anything", []string{""}))
}

func TestEqualsAny(t *testing.T) {
	assert.True(t, EqualsAny(" A ", []string{"a", "b"}))
	assert.False(t, EqualsAny("AB", []string{"a", "b"}))
	assert.False(t, EqualsAny("", []string{""}))
}

func TestFuzzyMatch(t *testing.T) {
	keywords := []string{"Next", "下一页", ">", "→"}
	assert.True(t, FuzzyMatch("NEXT", keywords), "containment after lowering")
	assert.True(t, FuzzyMatch("Nxet", keywords), "transposition stays above the floor")
	assert.True(t, FuzzyMatch(">", keywords), "symbolic exact")
	assert.False(t, FuzzyMatch("previous", keywords))
	assert.False(t, FuzzyMatch("", keywords))
}

func TestParseCounter(t *testing.T) {
	cur, total, ok := ParseCounter("3/250")
	assert.True(t, ok)
	assert.Equal(t, 3, cur)
	assert.Equal(t, 250, total)

	cur, total, ok = ParseCounter(" 12 / 150 ")
	assert.True(t, ok)
	assert.Equal(t, 12, cur)
	assert.Equal(t, 150, total)

	// Counters embedded in prose do not count, only the bare form does.
	_, _, ok = ParseCounter("Question 12 / 150 remaining")
	assert.False(t, ok)
	_, _, ok = ParseCounter("a/b")
	assert.False(t, ok)
	_, _, ok = ParseCounter("no counter here")
	assert.False(t, ok)
}

func TestSplitCJK(t *testing.T) {
	rest, cjk := SplitCJK("2 tahun 2 years 两年")
	assert.Equal(t, "2 tahun 2 years", rest)
	assert.Equal(t, "两年", cjk)

	rest, cjk = SplitCJK("plain english only")
	assert.Equal(t, "plain english only", rest)
	assert.Equal(t, "", cjk)

	assert.True(t, HasCJK("停车 stop"))
	assert.False(t, HasCJK("stop"))
}

func TestStripGlyphPrefix(t *testing.T) {
	assert.Equal(t, "Slow down", StripGlyphPrefix("A. Slow down", "A"))
	assert.Equal(t, "Slow down", StripGlyphPrefix("A Slow down", "A"))
	assert.Equal(t, "Slow down", StripGlyphPrefix("Slow down", "A"))
	assert.Equal(t, "", StripGlyphPrefix("A.", "A"))
	assert.Equal(t, "", StripGlyphPrefix("A", "A"))
}
