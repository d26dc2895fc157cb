package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/ruiyi-1/KPP-Test/internal/answer"
	"github.com/ruiyi-1/KPP-Test/internal/classify"
	"github.com/ruiyi-1/KPP-Test/internal/question"
	"github.com/ruiyi-1/KPP-Test/internal/snapshot"
)

// crawlLanguage is the rendering the crawl runs the app in. Bilingual
// strings still come through and are separated by the cleaning pass.
const crawlLanguage = "English"

// walkBudget bounds how many classify-and-act steps one partition entry
// may take before it counts as failed.
const walkBudget = 5

// runPartition walks one partition to its end. A nil return means the
// partition is done for this run, whether completed or abandoned after
// the failure budget; run-ending conditions come back as errors.
func (m *Machine) runPartition(ctx context.Context, partition string, opts Options, summary *Summary) error {
	if err := m.ensurePartition(ctx, partition); err != nil {
		if runEnding(err) {
			return err
		}
		m.logger.Error().Err(err).Str("partition", partition).Msg("cannot enter partition")
		summary.Failures++
		return nil
	}

	failures := 0    // consecutive failed attempts at the same position
	meaningless := 0 // consecutive polls that were neither Question nor Home

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.MaxItems > 0 && summary.TotalCaptured() >= opts.MaxItems {
			return errMaxItems
		}

		snap, err := m.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.Failures++
			failures++
			m.logger.Warn().Err(err).Int("consecutive", failures).Msg("snapshot poll failed")
			if failures >= m.cfg.Limits.ConsecutiveFailures {
				m.logger.Warn().Str("partition", partition).Msg("failure budget spent, forcing partition switch")
				return nil
			}
			continue
		}

		switch kind := m.classifier.Classify(snap); kind {
		case classify.AdInterstitial:
			m.setPhase(phaseHandlingAd)
			if err := m.handleAd(ctx, snap); err != nil {
				return err
			}
			meaningless = 0
			continue
		case classify.Home, classify.Completion:
			m.logger.Info().Str("partition", partition).Str("page", kind.String()).Msg("partition finished")
			return nil
		case classify.LanguageSelect:
			if err := m.selectLanguage(ctx, snap); err != nil {
				if runEnding(err) {
					return err
				}
				m.logger.Warn().Err(err).Msg("language recovery failed")
			}
			meaningless++
			if meaningless >= 2 {
				return nil
			}
			continue
		case classify.Question:
			meaningless = 0
		default: // PartMenu, Unknown
			meaningless++
			m.logger.Debug().Str("page", kind.String()).Int("consecutive", meaningless).Msg("page is not a question")
			if meaningless >= 2 {
				m.logger.Info().Str("partition", partition).Msg("no question page twice in a row, treating partition as finished")
				return nil
			}
			if err := m.ensurePartition(ctx, partition); err != nil {
				if runEnding(err) {
					return err
				}
				m.logger.Warn().Err(err).Msg("re-entry failed")
			}
			continue
		}

		m.setPhase(phaseInQuestionPage)
		captured, err := m.handleQuestion(ctx, partition, snap, summary)
		if err != nil {
			return err
		}
		if captured {
			failures = 0
			continue
		}
		summary.Failures++
		failures++
		if failures >= m.cfg.Limits.ConsecutiveFailures {
			m.logger.Warn().
				Str("partition", partition).
				Int("failures", failures).
				Msg("failure budget spent, forcing partition switch")
			return nil
		}
	}
}

// handleQuestion runs the detect, extract, advance arc for the question
// on screen. It reports whether the position is covered (captured now or
// already on disk); false with a nil error is a failed attempt that
// counts toward the failure budget.
func (m *Machine) handleQuestion(ctx context.Context, partition string, snap *snapshot.Snapshot, summary *Summary) (bool, error) {
	ordinal := m.state.NextOrdinal(partition)
	pageOrd, pageTotal, counterOK := m.extractor.PageOrdinal(snap)
	if counterOK && pageOrd >= 1 {
		ordinal = pageOrd
	}

	// Idempotent skip: the record exists, so touch the page only enough
	// to get past it. No probing, no extraction.
	if counterOK && m.records.Exists(partition, ordinal) {
		m.logger.Info().Str("id", question.RecordID(partition, ordinal)).Msg("record exists, skipping")
		summary.Skipped++
		if err := m.advance(ctx, false); err != nil {
			if runEnding(err) {
				return false, err
			}
			m.logger.Warn().Err(err).Msg("advance after skip failed")
			return false, nil
		}
		return true, nil
	}

	frame, err := m.captureFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.logger.Warn().Err(err).Msg("frame capture failed")
		if aerr := m.advance(ctx, false); aerr != nil && runEnding(aerr) {
			return false, aerr
		}
		return false, nil
	}

	options := m.finder.LabeledOptions(snap)

	m.setPhase(phaseDetectingAnswer)
	clicked := false
	var reading answer.Reading
	if len(options) > 0 {
		reading = m.detector.Passive(frame, options)
		if !reading.Found() {
			// One active probe per question. Afterwards an option is
			// registered on the surface, which also satisfies the
			// click-before-next gate.
			probed, perr := m.detector.Probe(ctx, surface{m}, options)
			if perr != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				m.logger.Warn().Err(perr).Msg("probe failed, keeping answer unknown")
			} else {
				reading = probed
				clicked = true
			}
		}
	}

	m.setPhase(phaseExtracting)
	record, assets, err := m.extractor.Extract(snap, frame, partition, ordinal)
	if err != nil {
		m.logger.Warn().Err(err).Int("ordinal", ordinal).Msg("extraction failed, advancing past item")
		if aerr := m.advance(ctx, clicked); aerr != nil && runEnding(aerr) {
			return false, aerr
		}
		return false, nil
	}
	if reading.Found() {
		label := reading.Label
		record.CorrectAnswer = &label
	}

	for _, asset := range assets {
		if err := m.images.Save(asset.Name, asset.Image); err != nil {
			return false, fmt.Errorf("save asset: %w", err)
		}
	}
	if err := m.records.Save(record); err != nil {
		return false, err
	}
	m.state.Advance(partition)
	if err := m.checkpoint.Save(m.state); err != nil {
		return false, err
	}
	summary.Captured[partition]++
	m.logger.Info().
		Str("id", record.ID).
		Int("options", len(record.Options)).
		Bool("answer", record.CorrectAnswer != nil).
		Int("page_total", pageTotal).
		Msg("question captured")

	if err := m.advance(ctx, clicked); err != nil {
		if runEnding(err) {
			return true, err
		}
		// The record is safe; the next iteration's skip path retries
		// the advance.
		m.logger.Warn().Err(err).Msg("advance failed")
	}
	return true, nil
}

// advance moves to the next question. The app gates Next on having
// touched an option, so a fresh page gets its first option clicked as a
// no-op selection before Next is pressed.
func (m *Machine) advance(ctx context.Context, clicked bool) error {
	m.setPhase(phaseAdvancing)
	snap, err := m.poll(ctx)
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if !clicked {
		if options := m.finder.LabeledOptions(snap); len(options) > 0 {
			x, y := options[0].Element.Bounds.Center()
			if err := m.tap(ctx, x, y); err != nil {
				return fmt.Errorf("register option: %w", err)
			}
		}
	}
	next, ok := m.finder.Next(snap)
	if !ok {
		return errors.New("next control not found")
	}
	x, y := next.Bounds.Center()
	if err := m.tap(ctx, x, y); err != nil {
		return fmt.Errorf("tap next: %w", err)
	}
	return wait(ctx, m.cfg.Timing.AdvanceSettle)
}

// ensurePartition walks from wherever the app currently is to the first
// question page of partition. One full re-entry is attempted before the
// step counts as failed.
func (m *Machine) ensurePartition(ctx context.Context, partition string) error {
	m.setPhase(phaseEnsurePartition)
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if err = m.walkToPartition(ctx, partition); err == nil {
			m.setPhase(phaseInQuestionPage)
			return nil
		}
		if runEnding(err) {
			return err
		}
		m.logger.Warn().Err(err).Int("attempt", attempt).Str("partition", partition).Msg("partition entry failed")
	}
	return fmt.Errorf("partition %s: %w", partition, err)
}

func (m *Machine) walkToPartition(ctx context.Context, partition string) error {
	for step := 0; step < walkBudget; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := m.poll(ctx)
		if err != nil {
			return err
		}
		// A visible section entry trumps classification: a menu of
		// sections carries enough stray signals to read as a question
		// page.
		if entry, ok := m.finder.PartEntry(snap, partition); ok {
			x, y := entry.Bounds.Center()
			if err := m.tap(ctx, x, y); err != nil {
				return err
			}
			if err := wait(ctx, m.cfg.Timing.AdvanceSettle); err != nil {
				return err
			}
			continue
		}
		switch kind := m.classifier.Classify(snap); kind {
		case classify.Question:
			return nil
		case classify.AdInterstitial:
			if err := m.handleAd(ctx, snap); err != nil {
				return err
			}
		case classify.LanguageSelect:
			if err := m.selectLanguage(ctx, snap); err != nil {
				return err
			}
		case classify.Home:
			entry, ok := m.finder.EntryPoint(snap)
			if !ok {
				return errors.New("home page without an exercise entry")
			}
			x, y := entry.Bounds.Center()
			if err := m.tap(ctx, x, y); err != nil {
				return err
			}
			if err := wait(ctx, m.cfg.Timing.ClickSettle); err != nil {
				return err
			}
		case classify.Completion:
			back, ok := m.finder.Previous(snap)
			if !ok {
				return errors.New("stuck on a completion page with no way back")
			}
			x, y := back.Bounds.Center()
			if err := m.tap(ctx, x, y); err != nil {
				return err
			}
			if err := wait(ctx, m.cfg.Timing.ClickSettle); err != nil {
				return err
			}
		default: // PartMenu without the wanted section, Unknown
			return fmt.Errorf("partition %s entry not found on %s page", partition, kind)
		}
	}
	return fmt.Errorf("no question page within %d steps", walkBudget)
}

// selectLanguage dismisses the language chooser so the crawl keeps
// running in one rendering.
func (m *Machine) selectLanguage(ctx context.Context, snap *snapshot.Snapshot) error {
	row, ok := m.finder.LanguageOption(snap, crawlLanguage)
	if !ok {
		return errors.New("language chooser without a usable row")
	}
	x, y := row.Bounds.Center()
	if err := m.tap(ctx, x, y); err != nil {
		return err
	}
	return wait(ctx, m.cfg.Timing.ClickSettle)
}

// handleAd keeps poking at the interstitial until it clears or the
// timeout elapses. Timeout is run-ending; the caller persists the
// checkpoint and the next invocation resumes past the restart.
func (m *Machine) handleAd(ctx context.Context, snap *snapshot.Snapshot) error {
	m.logger.Info().Msg("interstitial detected, trying to close")
	deadline := time.Now().Add(m.cfg.Timing.AdTimeout)
	for {
		if el, ok := m.finder.AdClose(snap); ok {
			x, y := el.Bounds.Center()
			if err := m.tap(ctx, x, y); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.logger.Warn().Err(err).Msg("ad close tap failed")
			}
		}
		if err := wait(ctx, m.cfg.Timing.AdPoll); err != nil {
			return err
		}
		if fresh, err := m.poll(ctx); err == nil {
			snap = fresh
			if m.classifier.Classify(snap) != classify.AdInterstitial {
				m.logger.Info().Msg("interstitial cleared")
				return nil
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return ErrAdTimeout
		}
	}
}

// surface exposes the machine to the answer detector as the minimal
// observe-and-tap interface it needs for probing.
type surface struct{ m *Machine }

func (s surface) Tap(ctx context.Context, x, y int) error {
	return s.m.tap(ctx, x, y)
}

func (s surface) Observe(ctx context.Context) (*snapshot.Snapshot, image.Image, error) {
	snap, err := s.m.poll(ctx)
	if err != nil {
		return nil, nil, err
	}
	frame, err := s.m.captureFrame(ctx)
	if err != nil {
		return nil, nil, err
	}
	return snap, frame, nil
}

// tap issues a tap through the bridge and waits the settle delay. Every
// action is followed by at least one settle before the next poll is
// trusted.
func (m *Machine) tap(ctx context.Context, x, y int) error {
	if err := m.withRetry(ctx, "tap", func() error {
		return m.bridge.Tap(ctx, x, y)
	}); err != nil {
		return err
	}
	return wait(ctx, m.cfg.Timing.TapSettle)
}

func (m *Machine) poll(ctx context.Context) (*snapshot.Snapshot, error) {
	var snap *snapshot.Snapshot
	err := m.withRetry(ctx, "dump hierarchy", func() error {
		raw, err := m.bridge.DumpHierarchy(ctx)
		if err != nil {
			return err
		}
		parsed, err := snapshot.Parse(raw)
		if err != nil {
			return err
		}
		snap = parsed
		return nil
	})
	return snap, err
}

func (m *Machine) captureFrame(ctx context.Context) (image.Image, error) {
	var frame image.Image
	err := m.withRetry(ctx, "capture frame", func() error {
		data, err := m.bridge.CaptureFrame(ctx)
		if err != nil {
			return err
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return err
		}
		frame = img
		return nil
	})
	return frame, err
}

// withRetry gives transient bridge failures a small fixed budget. The
// bridge itself never retries.
func (m *Machine) withRetry(ctx context.Context, op string, fn func() error) error {
	budget := m.cfg.Limits.BridgeRetries
	var err error
	for attempt := 1; attempt <= budget; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		m.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("bridge call failed")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
