// Package crawl drives the question bank app through the device bridge:
// enter a partition, walk its questions, detect the revealed answer,
// extract a record per question, advance, and checkpoint progress after
// every step that changes it. One machine drives one device, strictly
// sequentially; the app cannot survive concurrent interaction.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/answer"
	"github.com/ruiyi-1/KPP-Test/internal/classify"
	"github.com/ruiyi-1/KPP-Test/internal/config"
	"github.com/ruiyi-1/KPP-Test/internal/device"
	"github.com/ruiyi-1/KPP-Test/internal/extract"
	"github.com/ruiyi-1/KPP-Test/internal/locate"
	"github.com/ruiyi-1/KPP-Test/internal/store"
)

// ErrAdTimeout ends a run that could not get past an interstitial. The
// checkpoint is persisted first, so the next invocation resumes where
// this one gave up.
var ErrAdTimeout = errors.New("ad did not release the screen within the timeout")

// errMaxItems stops the partition loop once the item budget is spent.
var errMaxItems = errors.New("item budget exhausted")

type phase int

const (
	phaseIdle phase = iota
	phaseEnsurePartition
	phaseInQuestionPage
	phaseHandlingAd
	phaseDetectingAnswer
	phaseExtracting
	phaseAdvancing
	phasePartitionComplete
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseEnsurePartition:
		return "ensure_partition"
	case phaseInQuestionPage:
		return "in_question_page"
	case phaseHandlingAd:
		return "handling_ad"
	case phaseDetectingAnswer:
		return "detecting_answer"
	case phaseExtracting:
		return "extracting"
	case phaseAdvancing:
		return "advancing"
	case phasePartitionComplete:
		return "partition_complete"
	case phaseDone:
		return "done"
	}
	return "unknown"
}

// Options narrow a single run.
type Options struct {
	// StartPartition overrides the checkpoint's current partition.
	StartPartition string
	// MaxItems stops the run after this many new records. Zero means
	// no limit; skipped items do not count.
	MaxItems int
}

// Summary is what a finished or aborted run reports.
type Summary struct {
	RunID     string
	Captured  map[string]int
	Skipped   int
	Failures  int
	AdTimeout bool
}

// TotalCaptured sums the new records across partitions.
func (s Summary) TotalCaptured() int {
	total := 0
	for _, n := range s.Captured {
		total += n
	}
	return total
}

// Machine is the navigation state machine. It owns the crawl state for
// the duration of a run and is the sole writer to the record and
// checkpoint stores while running.
type Machine struct {
	cfg        config.Profile
	bridge     device.Bridge
	finder     *locate.Finder
	classifier *classify.Classifier
	detector   *answer.Detector
	extractor  *extract.Extractor
	records    *store.Records
	images     *store.Images
	checkpoint *store.Checkpoint
	logger     zerolog.Logger

	phase phase
	state store.CrawlState
}

func New(cfg config.Profile, bridge device.Bridge, records *store.Records, images *store.Images, checkpoint *store.Checkpoint, logger zerolog.Logger) *Machine {
	finder := locate.New(cfg, logger.With().Str("comp", "locate").Logger())
	return &Machine{
		cfg:        cfg,
		bridge:     bridge,
		finder:     finder,
		classifier: classify.New(cfg, finder, logger.With().Str("comp", "classify").Logger()),
		detector:   answer.New(cfg, finder, logger.With().Str("comp", "answer").Logger()),
		extractor:  extract.New(cfg, finder, logger.With().Str("comp", "extract").Logger()),
		records:    records,
		images:     images,
		checkpoint: checkpoint,
		logger:     logger,
	}
}

// Run crawls partitions from the resume point until the list is
// exhausted, the item budget is spent, or something run-ending happens.
// Progress is on disk before Run returns, whatever the outcome.
func (m *Machine) Run(ctx context.Context, opts Options) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), Captured: make(map[string]int)}
	m.setPhase(phaseIdle)
	m.state = m.checkpoint.Load()
	m.state.RunID = summary.RunID

	start, want := m.startIndex(opts)
	if start < 0 {
		return summary, fmt.Errorf("unknown partition %q", want)
	}
	m.logger.Info().
		Str("run", summary.RunID).
		Str("partition", m.cfg.Partitions[start]).
		Int("already_captured", m.state.Total).
		Msg("crawl starting")

	var runErr error
loop:
	for idx := start; idx < len(m.cfg.Partitions); idx++ {
		partition := m.cfg.Partitions[idx]
		m.state.CurrentPartition = partition
		if err := m.checkpoint.Save(m.state); err != nil {
			runErr = err
			break
		}
		err := m.runPartition(ctx, partition, opts, &summary)
		switch {
		case err == nil:
			m.setPhase(phasePartitionComplete)
			m.logger.Info().
				Str("partition", partition).
				Int("captured", summary.Captured[partition]).
				Msg("partition complete")
		case errors.Is(err, errMaxItems):
			m.logger.Info().Int("max_items", opts.MaxItems).Msg("item budget reached, stopping")
			break loop
		default:
			if errors.Is(err, ErrAdTimeout) {
				summary.AdTimeout = true
			}
			runErr = err
			break loop
		}
	}
	m.setPhase(phaseDone)

	// Whatever ended the run, progress goes to disk before unwinding.
	if err := m.checkpoint.Save(m.state); err != nil && runErr == nil {
		runErr = err
	}
	m.logger.Info().
		Str("run", summary.RunID).
		Interface("per_partition", summary.Captured).
		Int("captured", summary.TotalCaptured()).
		Int("skipped", summary.Skipped).
		Int("failures", summary.Failures).
		Bool("ad_timeout", summary.AdTimeout).
		Msg("run finished")
	return summary, runErr
}

// startIndex resolves where in the partition list this run begins: an
// explicit override first, then the checkpoint, then the top of the list.
func (m *Machine) startIndex(opts Options) (int, string) {
	want := opts.StartPartition
	if want == "" {
		want = m.state.CurrentPartition
	}
	if want == "" {
		return 0, ""
	}
	for i, p := range m.cfg.Partitions {
		if strings.EqualFold(p, want) {
			return i, want
		}
	}
	return -1, want
}

func (m *Machine) setPhase(p phase) {
	if p == m.phase {
		return
	}
	m.logger.Debug().Str("from", m.phase.String()).Str("to", p.String()).Msg("state change")
	m.phase = p
}

// runEnding reports errors that must unwind the whole run rather than
// count against a retry budget.
func runEnding(err error) bool {
	return errors.Is(err, ErrAdTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
