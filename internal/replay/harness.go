package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/scenario-miner/internal/evolve"
	"github.com/danielpatrickdp/scenario-miner/internal/genetic"
	"github.com/danielpatrickdp/scenario-miner/internal/novelty"
	"github.com/danielpatrickdp/scenario-miner/internal/oracle"
)

// #region types
// Summary provides aggregate stats from a replay run.
type Summary struct {
	Generations  []evolve.GenerationSummary
	BestFitness  float64
	RegistrySize int
	OracleCalls  int
	Stats        genetic.Stats
	Failures     []string // unmet expectations, empty when passed
}

// Passed reports whether every expectation was met.
func (s Summary) Passed() bool { return len(s.Failures) == 0 }

// #endregion types

// #region replay
// Replay runs the engine over the fixture's seeds with a RecordedOracle built
// from its collisions. Operates entirely in-memory and is deterministic for a
// given fixture.
func Replay(ctx context.Context, f *Fixture, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tables, err := f.Tables()
	if err != nil {
		return Summary{}, fmt.Errorf("fixture lanes: %w", err)
	}
	rng := evolve.NewRand(f.Config.RandomSeed)
	orc := oracle.NewRecordedOracle(f.Collisions)
	reg := novelty.NewRegistry()

	engine := evolve.New(f.Config.ToEngineConfig(), tables, reg, orc, rng, evolve.WithLogger(logger))
	res, err := engine.Run(ctx, f.Seeds)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Generations:  res.Generations,
		BestFitness:  res.Best.Fitness,
		RegistrySize: reg.Len(),
		OracleCalls:  orc.Calls(),
	}
	for _, g := range res.Generations {
		s.Stats.Add(g.Stats)
	}
	s.Failures = Check(s, f.Expected)
	return s, nil
}

// Check compares a summary against expectations.
func Check(s Summary, want FixtureExpected) []string {
	var failures []string
	if s.BestFitness < want.MinBestFitness {
		failures = append(failures, fmt.Sprintf("best fitness %.3f < %.3f", s.BestFitness, want.MinBestFitness))
	}
	if s.RegistrySize < want.MinRegistrySize {
		failures = append(failures, fmt.Sprintf("registry size %d < %d", s.RegistrySize, want.MinRegistrySize))
	}
	if want.MaxFallbacks != nil && s.Stats.Fallbacks > *want.MaxFallbacks {
		failures = append(failures, fmt.Sprintf("fallbacks %d > %d", s.Stats.Fallbacks, *want.MaxFallbacks))
	}
	return failures
}

// #endregion replay
