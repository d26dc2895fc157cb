package webbank

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const (
	questionBlock = "div.wpvq-question"
	answerRow     = "div.wpvq-answer"
	questionLabel = "div.wpvq-question-label"
	captionLabel  = "label.vq-css-label"
	minBodyRunes  = 10
	dedupRunes    = 50
	// adAncestors is how many levels above a quiz block still count when
	// matching ad markers. Ad networks wrap injected blocks a few divs deep.
	adAncestors = 3
)

// Candidate is one quiz block lifted off a set page, before labeling,
// image download and answer probing turn it into a record. Position is
// the block's raw index among all quiz blocks in the DOM, including the
// ones extraction drops, so a live-page prober addressing by position
// sees the same numbering.
type Candidate struct {
	DataID    string
	Position  int
	Text      string
	Options   []CandidateOption
	ImageURLs []string
}

// CandidateOption is one answer row: caption text plus an optional image.
type CandidateOption struct {
	Text     string
	ImageURL string
}

// Extractor lifts quiz candidates out of parsed set pages.
type Extractor struct {
	adMarkers []string
	logger    zerolog.Logger
}

func NewExtractor(adMarkers []string, logger zerolog.Logger) *Extractor {
	lowered := make([]string, 0, len(adMarkers))
	for _, m := range adMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lowered = append(lowered, m)
		}
	}
	return &Extractor{adMarkers: lowered, logger: logger}
}

// leading "1." or "3)" numbering on question text
var numberingPrefix = regexp.MustCompile(`^\d+[.)]\s*`)

// Questions returns the valid, deduplicated quiz candidates of one page
// in DOM order. A block survives when it is not an ad, has not been seen
// before, carries a question text of at least ten runes and at least two
// answer rows.
func (e *Extractor) Questions(doc *goquery.Document) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)
	doc.Find(questionBlock).Each(func(i int, sel *goquery.Selection) {
		if e.isAd(sel) {
			e.logger.Debug().Int("position", i).Msg("dropping ad block")
			return
		}
		dataID := strings.TrimSpace(sel.AttrOr("data-questionid", ""))
		text := questionText(sel)
		key := dataID
		if key == "" {
			key = firstRunes(text, dedupRunes)
		}
		if key != "" {
			if seen[key] {
				return
			}
			seen[key] = true
		}
		if utf8.RuneCountInString(text) < minBodyRunes {
			return
		}
		opts := optionRows(sel)
		if len(opts) < 2 {
			return
		}
		out = append(out, Candidate{
			DataID:    dataID,
			Position:  i,
			Text:      text,
			Options:   opts,
			ImageURLs: questionImages(sel),
		})
	})
	return out
}

// isAd checks the block and a few ancestors for ad marker fragments in
// their id or class attributes.
func (e *Extractor) isAd(sel *goquery.Selection) bool {
	node := sel
	for depth := 0; depth <= adAncestors && node.Length() > 0; depth++ {
		id := strings.ToLower(node.AttrOr("id", ""))
		class := strings.ToLower(node.AttrOr("class", ""))
		for _, m := range e.adMarkers {
			if strings.Contains(id, m) || strings.Contains(class, m) {
				return true
			}
		}
		node = node.Parent()
	}
	return false
}

// questionText prefers the plugin's own label div; pages that omit it get
// the block text minus answer rows and explanation. The plugin's own
// numbering prefix is stripped so identical questions on different pages
// compare equal.
func questionText(sel *goquery.Selection) string {
	var text string
	if label := sel.Find(questionLabel).First(); label.Length() > 0 {
		text = label.Text()
	} else {
		clone := sel.Clone()
		clone.Find(answerRow + ", div.wpvq-explaination").Remove()
		text = clone.Text()
	}
	text = collapse(text)
	return strings.TrimSpace(numberingPrefix.ReplaceAllString(text, ""))
}

func optionRows(sel *goquery.Selection) []CandidateOption {
	var opts []CandidateOption
	sel.Find(answerRow).Each(func(_ int, row *goquery.Selection) {
		var text string
		if label := row.Find(captionLabel).First(); label.Length() > 0 {
			text = label.Text()
		} else {
			text = row.Text()
		}
		opt := CandidateOption{Text: collapse(text)}
		if img := row.Find("img").First(); img.Length() > 0 {
			opt.ImageURL = imageSource(img)
		}
		opts = append(opts, opt)
	})
	return opts
}

// questionImages returns the block's illustration URLs, skipping images
// that belong to answer rows.
func questionImages(sel *goquery.Selection) []string {
	var urls []string
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		if img.Closest(answerRow).Length() > 0 {
			return
		}
		if u := imageSource(img); u != "" {
			urls = append(urls, u)
		}
	})
	return urls
}

// imageSource reads src, falling back to the lazy-loader's data-src.
func imageSource(img *goquery.Selection) string {
	if src := strings.TrimSpace(img.AttrOr("src", "")); src != "" {
		return src
	}
	return strings.TrimSpace(img.AttrOr("data-src", ""))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
