package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region recorded
// RecordedOracle scores batches offline: a scenario collides iff its
// fingerprint was recorded as a collision.
type RecordedOracle struct {
	collisions map[scenario.Fingerprint]struct{}

	mu    sync.Mutex
	calls int
}

// NewRecordedOracle builds an oracle from the recorded collision scenarios.
func NewRecordedOracle(collisions []scenario.Params) *RecordedOracle {
	set := make(map[scenario.Fingerprint]struct{}, len(collisions))
	for _, p := range collisions {
		set[p.Fingerprint()] = struct{}{}
	}
	return &RecordedOracle{collisions: set}
}

// Evaluate returns the fraction of batch recorded as collisions.
func (o *RecordedOracle) Evaluate(ctx context.Context, batch scenario.Batch) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()

	if len(batch) == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrNoResults)
	}
	hits := 0
	for _, p := range batch {
		if _, ok := o.collisions[p.Fingerprint()]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(batch)), nil
}

// Calls returns how many evaluations were requested.
func (o *RecordedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// Known returns the number of distinct recorded collisions.
func (o *RecordedOracle) Known() int {
	return len(o.collisions)
}

// #endregion recorded
