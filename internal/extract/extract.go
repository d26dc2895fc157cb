// Package extract turns a question-page snapshot plus its frame capture
// into a question record with cropped image assets. Extraction never
// fabricates data: a page without a matchable question text or with fewer
// than two options fails the attempt, and the caller decides whether to
// retry or skip.
package extract

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/locate"
	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
	"github.com/ruiyi-1/KPP-Test/internal/textmatch"
)

// ErrExtraction marks an attempt that found no usable question content.
var ErrExtraction = errors.New("extraction incomplete")

// Asset is a cropped image region with its deterministic filename. The
// caller persists assets; the extractor never touches the filesystem.
type Asset struct {
	Name  string
	Image image.Image
}

// Extractor resolves page content against the configured bands.
type Extractor struct {
	cfg    config.Profile
	finder *locate.Finder
	logger zerolog.Logger
}

func New(cfg config.Profile, finder *locate.Finder, logger zerolog.Logger) *Extractor {
	return &Extractor{cfg: cfg, finder: finder, logger: logger}
}

// PageOrdinal reads the "<n>/<m>" progress counter from the page header.
func (e *Extractor) PageOrdinal(s *snapshot.Snapshot) (current, total int, ok bool) {
	for _, el := range s.Elements {
		if !el.HasBounds() || el.Bounds.Y1 >= e.cfg.Bands.CounterMaxY {
			continue
		}
		if cur, tot, parsed := textmatch.ParseCounter(el.CombinedText()); parsed {
			return cur, tot, true
		}
	}
	return 0, 0, false
}

// Extract builds the record for (partition, ordinal) from the current page.
// The correct answer is left unset; detection is a separate concern.
func (e *Extractor) Extract(s *snapshot.Snapshot, frame image.Image, partition string, ordinal int) (question.Record, []Asset, error) {
	text := e.questionText(s)
	if text == "" {
		return question.Record{}, nil, fmt.Errorf("extract part %s item %d: no question text: %w", partition, ordinal, ErrExtraction)
	}
	options := e.finder.LabeledOptions(s)
	if len(options) < 2 {
		return question.Record{}, nil, fmt.Errorf("extract part %s item %d: %d options: %w", partition, ordinal, len(options), ErrExtraction)
	}

	record := question.Record{
		ID:         question.RecordID(partition, ordinal),
		Partition:  partition,
		Ordinal:    ordinal,
		Text:       text,
		CapturedAt: time.Now(),
	}
	for _, opt := range options {
		record.Options = append(record.Options, question.Option{
			Label: opt.Label,
			Text:  e.optionText(s, opt),
		})
	}

	questionImgs, optionImgs := e.categorize(e.imageElements(s), options)

	var assets []Asset
	for i, el := range questionImgs {
		crop, ok := cropFrame(frame, el.Bounds)
		if !ok {
			e.logger.Warn().Int("index", el.Index).Msg("question image region empty after clamping")
			continue
		}
		name := question.ImageName(partition, ordinal, question.QuestionImage, i+1)
		assets = append(assets, Asset{Name: name, Image: crop})
		record.Images = append(record.Images, e.assetPath(name))
	}
	var optionPaths []string
	for i, el := range optionImgs {
		crop, ok := cropFrame(frame, el.Bounds)
		if !ok {
			e.logger.Warn().Int("index", el.Index).Msg("option image region empty after clamping")
			continue
		}
		name := question.ImageName(partition, ordinal, question.OptionImage, i+1)
		assets = append(assets, Asset{Name: name, Image: crop})
		optionPaths = append(optionPaths, e.assetPath(name))
	}

	// Option images map to options positionally, both run top to bottom.
	for i := range record.Options {
		if i < len(optionPaths) {
			record.Options[i].HasImage = true
			record.Options[i].Image = optionPaths[i]
		}
	}
	record.HasImageOptions = len(optionPaths) > 0
	record.HasImages = len(record.Images) > 0

	e.logger.Debug().
		Str("id", record.ID).
		Int("options", len(record.Options)).
		Int("question_images", len(record.Images)).
		Int("option_images", len(optionPaths)).
		Msg("extracted question")
	return record, assets, nil
}

func (e *Extractor) assetPath(name string) string {
	return path.Join(e.cfg.Paths.ImagesDir, name)
}

// questionText scans the body band for the top-most wide element with text
// long enough to be the question; a looser band and floor retry once.
func (e *Extractor) questionText(s *snapshot.Snapshot) string {
	b := e.cfg.Bands
	if t := e.scanBody(s, b.BodyTopY, b.BodyBottomY, b.BodyMinWidth, b.BodyMinLength); t != "" {
		return t
	}
	return e.scanBody(s, b.BodyFallbackTopY, b.BodyFallbackBottomY, b.BodyFallbackMinWidth, b.BodyFallbackMinLength)
}

func (e *Extractor) scanBody(s *snapshot.Snapshot, topY, bottomY, minWidth, minLen int) string {
	var best string
	bestY := 0
	found := false
	for _, el := range s.Elements {
		if !el.HasBounds() {
			continue
		}
		y := el.Bounds.Y1
		if y <= topY || y >= bottomY || el.Bounds.Width() <= minWidth {
			continue
		}
		text := strings.TrimSpace(el.Label)
		if text == "" {
			text = strings.TrimSpace(el.Text)
		}
		if utf8.RuneCountInString(text) <= minLen {
			continue
		}
		if !found || y < bestY {
			best, bestY, found = text, y, true
		}
	}
	return textmatch.Collapse(best)
}

// optionText resolves an option's caption: the element's own attributes
// first with the glyph prefix stripped, then descendant text, then the rest
// of the parent's subtree. First non-empty source wins.
func (e *Extractor) optionText(s *snapshot.Snapshot, opt locate.Labeled) string {
	el := opt.Element
	if t := ownText(el.Label, opt.Label); t != "" {
		return textmatch.Collapse(t)
	}
	if t := ownText(el.Text, opt.Label); t != "" {
		return textmatch.Collapse(t)
	}
	for _, idx := range s.Descendants(el.Index) {
		child := s.Elements[idx]
		if t := ownText(child.Text, opt.Label); t != "" {
			return textmatch.Collapse(t)
		}
		if t := ownText(child.Label, opt.Label); t != "" {
			return textmatch.Collapse(t)
		}
	}
	if el.Parent >= 0 {
		candidates := append([]int{el.Parent}, s.Descendants(el.Parent)...)
		for _, idx := range candidates {
			if idx == el.Index {
				continue
			}
			other := s.Elements[idx]
			if t := rawText(other.Text, opt.Label); t != "" {
				return textmatch.Collapse(t)
			}
			if t := rawText(other.Label, opt.Label); t != "" {
				return textmatch.Collapse(t)
			}
		}
	}
	e.logger.Debug().Str("option", opt.Label).Msg("option caption empty")
	return ""
}

// ownText qualifies an attribute of the option element itself: more than
// one rune, not the bare glyph, glyph prefix stripped.
func ownText(attr, glyph string) string {
	trimmed := strings.TrimSpace(attr)
	if utf8.RuneCountInString(trimmed) <= 1 || trimmed == glyph {
		return ""
	}
	return textmatch.StripGlyphPrefix(trimmed, glyph)
}

// rawText qualifies surrounding text without prefix stripping.
func rawText(attr, glyph string) string {
	trimmed := strings.TrimSpace(attr)
	if utf8.RuneCountInString(trimmed) <= 1 || trimmed == glyph {
		return ""
	}
	return trimmed
}

// imageElements returns the image-typed elements large enough to matter,
// top to bottom.
func (e *Extractor) imageElements(s *snapshot.Snapshot) []snapshot.Element {
	var out []snapshot.Element
	for _, el := range s.Elements {
		if !strings.HasSuffix(el.RoleHint, "ImageView") || !el.HasBounds() {
			continue
		}
		if el.Bounds.Width() <= e.cfg.Bands.MinImageSide || el.Bounds.Height() <= e.cfg.Bands.MinImageSide {
			continue
		}
		out = append(out, el)
	}
	sortByTop(out)
	return out
}

// categorize splits images into question and option imagery by vertical
// overlap with the resolved option rows. Non-overlapping images are question
// imagery wherever they sit relative to the split line.
func (e *Extractor) categorize(images []snapshot.Element, options []locate.Labeled) (questionImgs, optionImgs []snapshot.Element) {
	for _, img := range images {
		overlaps := false
		for _, opt := range options {
			if img.Bounds.OverlapsVertically(opt.Element.Bounds) {
				overlaps = true
				break
			}
		}
		if overlaps {
			optionImgs = append(optionImgs, img)
			continue
		}
		questionImgs = append(questionImgs, img)
		if img.Bounds.Y1 >= e.cfg.Bands.ImageSplitY {
			e.logger.Debug().Int("y", img.Bounds.Y1).Msg("image below split line without option overlap, kept as question imagery")
		}
	}
	return questionImgs, optionImgs
}

// cropFrame copies the clamped region out of frame. ok is false when the
// region does not intersect the frame at all.
func cropFrame(frame image.Image, r snapshot.Rect) (image.Image, bool) {
	fb := frame.Bounds()
	x1 := clamp(r.X1, fb.Min.X, fb.Max.X-1)
	y1 := clamp(r.Y1, fb.Min.Y, fb.Max.Y-1)
	x2 := clamp(r.X2, x1+1, fb.Max.X)
	y2 := clamp(r.Y2, y1+1, fb.Max.Y)
	if x2 <= x1 || y2 <= y1 {
		return nil, false
	}
	dst := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	draw.Draw(dst, dst.Bounds(), frame, image.Point{X: x1, Y: y1}, draw.Src)
	return dst, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sortByTop(els []snapshot.Element) {
	sort.SliceStable(els, func(i, j int) bool { return els[i].Bounds.Y1 < els[j].Bounds.Y1 })
}
