package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// CrawlState is the durable progress of a crawl: where we are and how many
// questions each partition has yielded. It is threaded through the state
// machine by value and persisted after every step that changes progress.
// RunID names the run that last wrote the file; UpdatedAt is stamped on
// every save.
type CrawlState struct {
	CurrentPartition string         `json:"current_partition,omitempty"`
	PerPartition     map[string]int `json:"per_partition_counter"`
	Total            int            `json:"total_counter"`
	RunID            string         `json:"run_id,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewCrawlState returns an empty state with an initialized counter map.
func NewCrawlState() CrawlState {
	return CrawlState{PerPartition: make(map[string]int)}
}

// Counter returns the number of questions captured so far in partition.
func (s CrawlState) Counter(partition string) int {
	return s.PerPartition[partition]
}

// NextOrdinal returns the ordinal the next capture in partition would get.
func (s CrawlState) NextOrdinal(partition string) int {
	return s.Counter(partition) + 1
}

// Advance records one successfully captured question in partition.
func (s *CrawlState) Advance(partition string) {
	if s.PerPartition == nil {
		s.PerPartition = make(map[string]int)
	}
	s.PerPartition[partition]++
	s.Total++
}

// Checkpoint reads and writes the progress file. Loading never fails:
// anything unreadable is reported as a fresh state so an old or damaged
// file can never block a new run.
type Checkpoint struct {
	path   string
	logger zerolog.Logger
}

func NewCheckpoint(path string, logger zerolog.Logger) *Checkpoint {
	return &Checkpoint{path: path, logger: logger}
}

// Load returns the persisted state, or a fresh one when the file is
// missing, malformed, or written by an older layout.
func (c *Checkpoint) Load() CrawlState {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Str("path", c.path).Msg("checkpoint unreadable, starting fresh")
		}
		return NewCrawlState()
	}
	var state CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		c.logger.Warn().Err(err).Str("path", c.path).Msg("checkpoint malformed, starting fresh")
		return NewCrawlState()
	}
	if state.PerPartition == nil {
		state.PerPartition = make(map[string]int)
	}
	for partition, n := range state.PerPartition {
		if n < 0 {
			c.logger.Warn().Str("partition", partition).Int("counter", n).Msg("checkpoint counter negative, starting fresh")
			return NewCrawlState()
		}
	}
	if state.Total < 0 {
		state.Total = 0
	}
	return state
}

// Save persists the state atomically.
func (c *Checkpoint) Save(state CrawlState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := writeFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	c.logger.Debug().Int("total", state.Total).Str("partition", state.CurrentPartition).Msg("checkpoint saved")
	return nil
}

// Reset removes the progress file. A missing file is not an error.
func (c *Checkpoint) Reset() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	c.logger.Info().Str("path", c.path).Msg("checkpoint cleared")
	return nil
}
