// Package textmatch provides the normalization and keyword-matching
// primitives shared by the page classifier, element locator and
// reconciliation digests. All matching is case-insensitive; callers pass
// keyword sets from configuration rather than literals.
package textmatch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	cjkRegex        = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+`)
	counterRegex    = regexp.MustCompile(`^\s*(\d+)\s*/\s*(\d+)\s*$`)
	punctStripper   = strings.NewReplacer("?", "", "!", "", ".", "", ",", "")
)

// Collapse trims s and folds every run of whitespace into a single space.
func Collapse(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Normalize lowercases s, strips common sentence punctuation and collapses
// whitespace. Two strings that normalize equal are treated as the same
// content by the dedup digest and the image-reuse checks.
func Normalize(s string) string {
	return Collapse(punctStripper.Replace(strings.ToLower(s)))
}

// ContainsAny reports whether s contains any of the keywords,
// case-insensitively. Empty keywords never match.
func ContainsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// EqualsAny reports whether s, trimmed and lowercased, equals one of the
// keywords.
func EqualsAny(s string, keywords []string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return false
	}
	for _, kw := range keywords {
		if trimmed == strings.ToLower(kw) {
			return true
		}
	}
	return false
}

// similarityFloor is the Jaro-Winkler score below which two labels are not
// considered the same control.
const similarityFloor = 0.84

// FuzzyMatch reports whether s names the same control as one of the
// keywords. Containment wins immediately; otherwise the Jaro-Winkler
// similarity must clear the floor. Single-rune keywords such as ">" or "→"
// only match by containment, distance is meaningless at that length.
func FuzzyMatch(s string, keywords []string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return false
	}
	for _, kw := range keywords {
		kwLower := strings.ToLower(strings.TrimSpace(kw))
		if kwLower == "" {
			continue
		}
		if strings.Contains(trimmed, kwLower) {
			return true
		}
		if len([]rune(kwLower)) < 2 {
			continue
		}
		if matchr.JaroWinkler(trimmed, kwLower, false) >= similarityFloor {
			return true
		}
	}
	return false
}

// ParseCounter parses s as an "<n>/<m>" progress counter, e.g. "3/250".
// The whole string must be the counter; surrounding prose disqualifies it.
func ParseCounter(s string) (current, total int, ok bool) {
	m := counterRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	current, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return current, total, true
}

// HasCJK reports whether s contains at least one CJK ideograph.
func HasCJK(s string) bool {
	return cjkRegex.MatchString(s)
}

// SplitCJK separates a bilingual capture into its non-CJK remainder and the
// concatenation of its CJK runs, both collapsed. The remainder keeps the
// record text; the CJK part feeds the translation sidecar.
func SplitCJK(s string) (rest, cjk string) {
	if s == "" {
		return "", ""
	}
	runs := cjkRegex.FindAllString(s, -1)
	if len(runs) == 0 {
		return Collapse(s), ""
	}
	return Collapse(cjkRegex.ReplaceAllString(s, "")), strings.Join(runs, " ")
}

// StripGlyphPrefix removes a leading "<label>. " or "<label> " option-glyph
// prefix from s, if present. The label comparison is case-sensitive, option
// glyphs are always rendered uppercase.
func StripGlyphPrefix(s, label string) string {
	if label == "" {
		return s
	}
	trimmed := strings.TrimSpace(s)
	for _, prefix := range []string{label + ". ", label + " "} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	if trimmed == label+"." || trimmed == label {
		return ""
	}
	return trimmed
}
