package store

import (
	"time"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// #region run-record
// RunRecord is one evolution run.
type RunRecord struct {
	RunID      string
	ParentRun  string // run whose explored fingerprints were preloaded, if any
	ConfigJSON string
	SeedCount  int
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// #endregion run-record

// #region batch-record
// BatchRecord is one population member of one generation.
type BatchRecord struct {
	BatchID    string
	RunID      string
	Generation int
	Member     int
	Params     scenario.Batch
	Dir        string
	Fitness    *float64 // nil until evaluated
	CreatedAt  time.Time
}

// #endregion batch-record

// #region generation-stats
// GenerationStats aggregates evaluated fitness for one generation.
type GenerationStats struct {
	Generation int
	Members    int
	Best       float64
	Average    float64
	Worst      float64
}

// #endregion generation-stats

// #region outcome
// Outcome is one simulated scenario result observed during a run.
type Outcome struct {
	RunID       string
	Fingerprint scenario.Fingerprint
	Params      scenario.Params
	ResultType  string
	CreatedAt   time.Time
}

// #endregion outcome
