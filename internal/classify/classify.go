// Package classify decides which page kind a snapshot shows. A fixed,
// ordered predicate list runs until one matches; specific overlays (ads,
// completion) are tested before the generic kinds they can cover. The
// question signals are deliberately loose, a page that merely looks like a
// question page classifies as one.
package classify

import (
	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/locate"
	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
	"github.com/ruiyi-1/KPP-Test/internal/textmatch"
)

// Kind is the classified page kind.
type Kind int

const (
	Unknown Kind = iota
	Home
	LanguageSelect
	PartMenu
	Question
	AdInterstitial
	Completion
)

func (k Kind) String() string {
	switch k {
	case Home:
		return "home"
	case LanguageSelect:
		return "language_select"
	case PartMenu:
		return "part_menu"
	case Question:
		return "question"
	case AdInterstitial:
		return "ad"
	case Completion:
		return "completion"
	default:
		return "unknown"
	}
}

// Classifier evaluates the predicate list against snapshots.
type Classifier struct {
	cfg    config.Profile
	finder *locate.Finder
	logger zerolog.Logger
}

func New(cfg config.Profile, finder *locate.Finder, logger zerolog.Logger) *Classifier {
	return &Classifier{cfg: cfg, finder: finder, logger: logger}
}

// Classify returns the page kind for s. Total and deterministic: the same
// snapshot always yields the same kind, Unknown when nothing matches.
func (c *Classifier) Classify(s *snapshot.Snapshot) Kind {
	kind, signal := c.classify(s)
	c.logger.Debug().Stringer("kind", kind).Str("signal", signal).Msg("classified page")
	return kind
}

func (c *Classifier) classify(s *snapshot.Snapshot) (Kind, string) {
	if _, ok := c.finder.AdIndicator(s); ok {
		return AdInterstitial, "ad marker in top zone"
	}
	if c.anyContains(s, c.cfg.Keywords.Completion) {
		return Completion, "completion keyword"
	}
	if c.countLanguages(s) >= 2 {
		return LanguageSelect, "multiple language names"
	}
	if c.anyContains(s, c.cfg.Keywords.Home) {
		return Home, "home indicator"
	}
	if kind, signal, ok := c.questionSignal(s); ok {
		return kind, signal
	}
	if c.partNamePresent(s) {
		return PartMenu, "partition name"
	}
	// A page that is none of the above but offers a way back is the
	// post-partition summary.
	if c.anyContains(s, c.cfg.Keywords.Back) {
		return Completion, "back control on terminal page"
	}
	return Unknown, "no predicate matched"
}

// questionSignal accepts any one of three independent signals; partial
// occlusion of one must not hide the page.
func (c *Classifier) questionSignal(s *snapshot.Snapshot) (Kind, string, bool) {
	if _, ok := c.finder.Next(s); ok {
		return Question, "next control reachable", true
	}
	if len(c.finder.LooseOptions(s)) >= 2 {
		return Question, "option rows present", true
	}
	for _, el := range s.Elements {
		if _, _, ok := textmatch.ParseCounter(el.CombinedText()); ok {
			return Question, "progress counter", true
		}
	}
	return Unknown, "", false
}

func (c *Classifier) anyContains(s *snapshot.Snapshot, keywords []string) bool {
	for _, el := range s.Elements {
		if textmatch.ContainsAny(el.CombinedText(), keywords) {
			return true
		}
	}
	return false
}

// countLanguages counts how many distinct known language names appear
// anywhere in the snapshot.
func (c *Classifier) countLanguages(s *snapshot.Snapshot) int {
	n := 0
	for _, name := range c.cfg.Keywords.Languages {
		for _, el := range s.Elements {
			if textmatch.ContainsAny(el.CombinedText(), []string{name}) {
				n++
				break
			}
		}
	}
	return n
}

func (c *Classifier) partNamePresent(s *snapshot.Snapshot) bool {
	for _, el := range s.Elements {
		combined := el.CombinedText()
		if textmatch.ContainsAny(combined, c.cfg.Keywords.PartExclusions) {
			continue
		}
		for _, part := range c.cfg.Partitions {
			if textmatch.ContainsAny(combined, c.cfg.Keywords.PartNames[part]) {
				return true
			}
		}
	}
	return false
}
