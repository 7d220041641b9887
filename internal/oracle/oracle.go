// Package oracle adapts simulation back-ends to the fitness function the
// evolution engine consumes.
package oracle

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// ErrNoResults reports a missing, empty or unreadable result set. Callers
// treat it as fitness 0 rather than a failed run.
var ErrNoResults = errors.New("oracle: no results")

// Oracle scores a batch with its collision rate in [0,1].
type Oracle interface {
	Evaluate(ctx context.Context, batch scenario.Batch) (float64, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, batch scenario.Batch) (float64, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, batch scenario.Batch) (float64, error) {
	return f(ctx, batch)
}
