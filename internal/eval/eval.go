package eval

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// Metric names.
const (
	MetricBatchSize     = "batch_size"
	MetricLaneBounds    = "lane_bounds"
	MetricStartOverlap  = "start_overlap"
	MetricBatchUnique   = "batch_unique"
	MetricLaneDiversity = "lane_diversity"
)

// #region eval-harness
// Harness validates batches produced by the genetic operators.
type Harness struct {
	tables *lane.Tables
	config Config
}

// NewHarness creates a harness checking against tables.
func NewHarness(tables *lane.Tables, config Config) *Harness {
	return &Harness{tables: tables, config: config}
}

// Run checks batch length, lane bounds, start overlap and fingerprint
// uniqueness. Lane diversity is reported but never fails the batch.
func (h *Harness) Run(batch scenario.Batch) Result {
	var metrics []Metric
	var failReasons []string
	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, Metric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Cardinality
	if h.config.ExpectedSize > 0 {
		check(MetricBatchSize, float64(len(batch)), len(batch) == h.config.ExpectedSize,
			fmt.Sprintf("batch size %d, expected %d", len(batch), h.config.ExpectedSize))
	}

	// 2. Lane tables and 3. start overlap
	var bounds, overlaps int
	for _, p := range batch {
		err := scenario.Validate(p, h.tables)
		switch {
		case errors.Is(err, scenario.ErrStartOverlap):
			overlaps++
		case err != nil:
			bounds++
		}
	}
	check(MetricLaneBounds, float64(bounds), bounds == 0,
		fmt.Sprintf("%d scenarios outside lane tables", bounds))
	check(MetricStartOverlap, float64(overlaps), overlaps == 0,
		fmt.Sprintf("%d scenarios with overlapping start positions", overlaps))

	// 4. Fingerprint uniqueness
	seen := make(map[scenario.Fingerprint]struct{}, len(batch))
	dups := 0
	for _, fp := range batch.Fingerprints() {
		if _, ok := seen[fp]; ok {
			dups++
			continue
		}
		seen[fp] = struct{}{}
	}
	check(MetricBatchUnique, float64(dups), dups == 0,
		fmt.Sprintf("%d duplicate fingerprints", dups))

	// 5. Lane diversity: informational only
	lanes := map[string]struct{}{}
	for _, p := range batch {
		lanes[p.EgoStartLane] = struct{}{}
	}
	diversity := 0.0
	if len(batch) > 0 {
		diversity = float64(len(lanes)) / float64(len(batch))
	}
	metrics = append(metrics, Metric{Name: MetricLaneDiversity, Value: diversity, Pass: diversity >= h.config.MinLaneDiversity})

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}

	return Result{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness
