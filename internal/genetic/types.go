package genetic

import (
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region registry
// Registry is the novelty set the operators consult and extend.
// TryAdd must be an atomic check-and-insert.
type Registry interface {
	Contains(fp scenario.Fingerprint) bool
	TryAdd(fp scenario.Fingerprint) bool
}

// AllRegistered reports whether every scenario in b is already explored.
// An empty batch is not considered registered.
func AllRegistered(b scenario.Batch, r Registry) bool {
	if len(b) == 0 {
		return false
	}
	for _, p := range b {
		if !r.Contains(p.Fingerprint()) {
			return false
		}
	}
	return true
}

// #endregion registry

// #region mutation-config
// MutationConfig controls one mutation pass.
type MutationConfig struct {
	Rate        float64 // chance an unexplored, valid scenario is mutated
	MaxDelta    float64 // offsets move by at most this much per attempt
	MinDelta    float64 // and by at least this much
	LaneRate    float64 // chance each lane id is re-rolled per attempt
	MaxAttempts int     // rejection-sampling budget per scenario
}

// DefaultMutationConfig returns the settings the search was tuned with.
func DefaultMutationConfig() MutationConfig {
	return MutationConfig{
		Rate:        0.3,
		MaxDelta:    5.0,
		MinDelta:    0.5,
		LaneRate:    0.2,
		MaxAttempts: 10,
	}
}

// #endregion mutation-config

// #region stats
// Stats counts what one MutateBatch call did.
type Stats struct {
	Mutated    int // scenarios replaced by a novel valid candidate
	Forced     int // scenarios mutated because they were explored or invalid
	Fallbacks  int // retry budget exhausted, original kept
	Dropped    int // invalid originals discarded after exhausting retries
	Duplicates int // removed by the within-batch uniqueness pass
	Backfilled int // slots refilled from the input batch
	Sampled    int // slots refilled with freshly sampled scenarios
	Padded     int // slots refilled without a uniqueness guarantee
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Mutated += o.Mutated
	s.Forced += o.Forced
	s.Fallbacks += o.Fallbacks
	s.Dropped += o.Dropped
	s.Duplicates += o.Duplicates
	s.Backfilled += o.Backfilled
	s.Sampled += o.Sampled
	s.Padded += o.Padded
}

// #endregion stats
