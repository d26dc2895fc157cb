// Package snapshot models one observation of the surface under crawl: a
// flattened element tree with geometry and capability flags, normalized from
// a raw uiautomator hierarchy dump. Everything past this boundary works on
// the fixed Element shape, never on raw attributes.
package snapshot

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

// Rect is an element bounding box in screen pixels.
type Rect struct {
	X1, Y1, X2, Y2 int
}

var boundsRegex = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// ParseBounds parses the "[x1,y1][x2,y2]" bounds attribute. A missing or
// malformed attribute yields ok=false, never an error.
func ParseBounds(s string) (Rect, bool) {
	m := boundsRegex.FindStringSubmatch(s)
	if m == nil {
		return Rect{}, false
	}
	vals := make([]int, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Rect{}, false
		}
		vals[i] = v
	}
	return Rect{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}, true
}

func (r Rect) Width() int  { return r.X2 - r.X1 }
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Center returns the tap point for the rectangle.
func (r Rect) Center() (x, y int) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// OverlapsVertically reports whether the Y ranges of r and other intersect.
func (r Rect) OverlapsVertically(other Rect) bool {
	return r.Y1 < other.Y2 && other.Y1 < r.Y2
}

// Intersect clamps r to the given frame rectangle.
func (r Rect) Intersect(frame Rect) Rect {
	out := r
	if out.X1 < frame.X1 {
		out.X1 = frame.X1
	}
	if out.Y1 < frame.Y1 {
		out.Y1 = frame.Y1
	}
	if out.X2 > frame.X2 {
		out.X2 = frame.X2
	}
	if out.Y2 > frame.Y2 {
		out.Y2 = frame.Y2
	}
	return out
}

// Element is one node of the observed tree. Index is its position in
// document order and doubles as the opaque handle; Parent is -1 for roots.
type Element struct {
	Index     int
	Parent    int
	RoleHint  string // widget class reported by the surface
	Label     string // accessibility label (content-desc)
	Text      string
	Bounds    Rect
	Clickable bool
	Focusable bool
}

// CombinedText joins label and text for keyword scans, mirroring how the
// surface renders either field interchangeably.
func (e Element) CombinedText() string {
	if e.Label == "" {
		return e.Text
	}
	if e.Text == "" {
		return e.Label
	}
	return e.Label + " " + e.Text
}

// HasBounds reports whether the element carries a usable bounding box.
func (e Element) HasBounds() bool { return !e.Bounds.Empty() }

// Snapshot is an immutable observation. Elements are in document order.
type Snapshot struct {
	Elements   []Element
	CapturedAt time.Time
}

var errNoNodes = errors.New("hierarchy contains no nodes")

// Parse normalizes a raw uiautomator XML dump into a Snapshot.
func Parse(raw []byte) (*Snapshot, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	snap := &Snapshot{CapturedAt: time.Now()}
	parents := []int{-1}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: parse hierarchy: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "node" {
				continue
			}
			el := Element{
				Index:  len(snap.Elements),
				Parent: parents[len(parents)-1],
			}
			for _, attr := range t.Attr {
				switch attr.Name.Local {
				case "class":
					el.RoleHint = attr.Value
				case "content-desc":
					el.Label = attr.Value
				case "text":
					el.Text = attr.Value
				case "clickable":
					el.Clickable = attr.Value == "true"
				case "focusable":
					el.Focusable = attr.Value == "true"
				case "bounds":
					el.Bounds, _ = ParseBounds(attr.Value)
				}
			}
			snap.Elements = append(snap.Elements, el)
			parents = append(parents, el.Index)
		case xml.EndElement:
			if t.Name.Local == "node" {
				parents = parents[:len(parents)-1]
			}
		}
	}
	if len(snap.Elements) == 0 {
		return nil, fmt.Errorf("snapshot: %w", errNoNodes)
	}
	return snap, nil
}

// ClickableAncestor walks up from the element at idx looking for the nearest
// clickable ancestor with usable bounds, giving up after maxDepth levels.
func (s *Snapshot) ClickableAncestor(idx, maxDepth int) (Element, bool) {
	if idx < 0 || idx >= len(s.Elements) {
		return Element{}, false
	}
	cur := s.Elements[idx].Parent
	for depth := 0; depth < maxDepth && cur >= 0; depth++ {
		el := s.Elements[cur]
		if el.Clickable && el.HasBounds() {
			return el, true
		}
		cur = el.Parent
	}
	return Element{}, false
}

// Descendants returns the indices of all elements under the element at idx,
// in document order.
func (s *Snapshot) Descendants(idx int) []int {
	var out []int
	for i := idx + 1; i < len(s.Elements); i++ {
		anc := s.Elements[i].Parent
		for anc >= 0 && anc != idx {
			anc = s.Elements[anc].Parent
		}
		if anc == idx {
			out = append(out, i)
		}
	}
	return out
}

// Siblings returns the indices of the other children of idx's parent.
func (s *Snapshot) Siblings(idx int) []int {
	if idx < 0 || idx >= len(s.Elements) {
		return nil
	}
	parent := s.Elements[idx].Parent
	var out []int
	for i, el := range s.Elements {
		if i != idx && el.Parent == parent {
			out = append(out, i)
		}
	}
	return out
}
