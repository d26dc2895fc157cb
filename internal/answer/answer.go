// Package answer determines the correct option for a question from the
// color feedback the surface renders. A passive read inspects the current
// frame; if nothing is revealed yet, an active probe taps options to force
// the feedback out. Probing registers a real selection on the live surface,
// so callers run it at most once per question and reuse the selection it
// leaves behind.
package answer

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/locate"
	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
)

// Surface is the minimal interaction the active probe needs: register a tap
// and observe the refreshed page afterwards.
type Surface interface {
	Tap(ctx context.Context, x, y int) error
	Observe(ctx context.Context) (*snapshot.Snapshot, image.Image, error)
}

// Reading is the outcome of one detection pass. More than one affirmative
// option is a data-quality signal: the first is kept, all are reported.
type Reading struct {
	Label       string
	Affirmative []string
}

// Found reports whether any option read affirmative.
func (r Reading) Found() bool { return r.Label != "" }

// Detector runs the passive and active strategies.
type Detector struct {
	cfg    config.Profile
	finder *locate.Finder
	logger zerolog.Logger
}

func New(cfg config.Profile, finder *locate.Finder, logger zerolog.Logger) *Detector {
	return &Detector{cfg: cfg, finder: finder, logger: logger}
}

// Passive samples each option's central patch in frame and returns the
// affirmative options. No side effects.
func (d *Detector) Passive(frame image.Image, options []locate.Labeled) Reading {
	var reading Reading
	for _, opt := range options {
		if !opt.Element.HasBounds() {
			continue
		}
		patch := SamplePatch(frame, opt.Element.Bounds, d.cfg.Colors.PatchSize)
		switch {
		case patch.Green(d.cfg.Colors):
			d.logger.Debug().
				Str("option", opt.Label).
				Int("r", patch.R).Int("g", patch.G).Int("b", patch.B).
				Msg("option reads affirmative")
			if reading.Label == "" {
				reading.Label = opt.Label
			}
			reading.Affirmative = append(reading.Affirmative, opt.Label)
		case patch.Red(d.cfg.Colors):
			d.logger.Debug().
				Str("option", opt.Label).
				Int("r", patch.R).Int("g", patch.G).Int("b", patch.B).
				Msg("option reads negative")
		}
	}
	if len(reading.Affirmative) > 1 {
		d.logger.Warn().
			Strs("options", reading.Affirmative).
			Msg("multiple options read affirmative, keeping the first")
	}
	return reading
}

// Probe taps options in order until one pass of the passive read turns up an
// affirmative option. Each tap is followed by a settle delay before the page
// is observed again. The selection the probe registers on the surface is
// left in place; callers must not probe the same question twice.
func (d *Detector) Probe(ctx context.Context, surface Surface, options []locate.Labeled) (Reading, error) {
	for _, opt := range options {
		if !opt.Element.HasBounds() {
			continue
		}
		x, y := opt.Element.Bounds.Center()
		d.logger.Debug().Str("option", opt.Label).Int("x", x).Int("y", y).Msg("probing option")
		if err := surface.Tap(ctx, x, y); err != nil {
			return Reading{}, fmt.Errorf("probe option %s: %w", opt.Label, err)
		}
		if err := wait(ctx, d.cfg.Timing.ClickSettle); err != nil {
			return Reading{}, err
		}
		snap, frame, err := surface.Observe(ctx)
		if err != nil {
			return Reading{}, fmt.Errorf("observe after probe: %w", err)
		}
		current := d.finder.LabeledOptions(snap)
		if reading := d.Passive(frame, current); reading.Found() {
			return reading, nil
		}
	}
	d.logger.Debug().Int("options", len(options)).Msg("probe exhausted without affirmative feedback")
	return Reading{}, nil
}

// Patch is the averaged color of a sampled square.
type Patch struct {
	R, G, B int
}

// Green applies the affirmative test: green beats both other channels by the
// margin above the floor, or is outright dominant above the high threshold.
func (p Patch) Green(c config.Colors) bool {
	return (p.G > p.R+c.ChannelMargin && p.G > p.B+c.ChannelMargin && p.G > c.GreenFloor) ||
		(p.G > c.GreenHigh && p.G > p.R && p.G > p.B)
}

// Red is the mirrored negative-feedback test.
func (p Patch) Red(c config.Colors) bool {
	return (p.R > p.G+c.ChannelMargin && p.R > p.B+c.ChannelMargin && p.R > c.GreenFloor) ||
		(p.R > c.GreenHigh && p.R > p.G && p.R > p.B)
}

// SamplePatch averages a size x size square around the center of bounds,
// clamped to the frame. A degenerate overlap yields the zero Patch.
func SamplePatch(frame image.Image, bounds snapshot.Rect, size int) Patch {
	fb := frame.Bounds()
	x1 := clamp(bounds.X1, fb.Min.X, fb.Max.X-1)
	y1 := clamp(bounds.Y1, fb.Min.Y, fb.Max.Y-1)
	x2 := clamp(bounds.X2, x1+1, fb.Max.X)
	y2 := clamp(bounds.Y2, y1+1, fb.Max.Y)

	cx := (x1 + x2) / 2
	cy := (y1 + y2) / 2
	half := size / 2
	xStart := clamp(cx-half, fb.Min.X, fb.Max.X)
	yStart := clamp(cy-half, fb.Min.Y, fb.Max.Y)
	xEnd := clamp(cx+half, fb.Min.X, fb.Max.X)
	yEnd := clamp(cy+half, fb.Min.Y, fb.Max.Y)

	var totalR, totalG, totalB, n int
	for x := xStart; x < xEnd; x++ {
		for y := yStart; y < yEnd; y++ {
			r, g, b, _ := frame.At(x, y).RGBA()
			totalR += int(r >> 8)
			totalG += int(g >> 8)
			totalB += int(b >> 8)
			n++
		}
	}
	if n == 0 {
		return Patch{}
	}
	return Patch{R: totalR / n, G: totalG / n, B: totalB / n}
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

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
