package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/scenario-miner/internal/materialize"
	"github.com/danielpatrickdp/scenario-miner/internal/results"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// OutcomeSink receives every simulated scenario's result type.
type OutcomeSink interface {
	RecordOutcome(p scenario.Params, resultType string) error
}

// #region simulator
// SimulatorOracle materializes a batch into a scratch directory, runs the
// simulator over it and scores the results CSV. Evaluations are serialized
// because the scratch directory is shared.
type SimulatorOracle struct {
	writer      *materialize.Writer
	runner      Runner
	scenarioDir string
	resultsDir  string
	sink        OutcomeSink
	logger      *slog.Logger

	mu sync.Mutex
}

// NewSimulatorOracle creates an oracle writing scenarios to scenarioDir and
// results files to resultsDir.
func NewSimulatorOracle(writer *materialize.Writer, runner Runner, scenarioDir, resultsDir string, logger *slog.Logger) *SimulatorOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatorOracle{
		writer:      writer,
		runner:      runner,
		scenarioDir: scenarioDir,
		resultsDir:  resultsDir,
		logger:      logger,
	}
}

// WithSink forwards per-scenario outcomes to sink.
func (o *SimulatorOracle) WithSink(sink OutcomeSink) *SimulatorOracle {
	o.sink = sink
	return o
}

// #endregion simulator

// #region evaluate
// Evaluate returns the batch's collision rate. A runner failure is logged and
// whatever results it wrote are still scored. A results file that is missing,
// unreadable or empty yields ErrNoResults wrapping the runner error, if any.
// Only cancellation or an expired deadline is returned as a hard error.
func (o *SimulatorOracle) Evaluate(ctx context.Context, batch scenario.Batch) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := materialize.ClearDir(o.scenarioDir); err != nil {
		return 0, fmt.Errorf("clear scenario dir: %w", err)
	}
	paths, err := o.writer.WriteBatch(o.scenarioDir, batch)
	if err != nil {
		o.logger.Warn("scenarios skipped during materialization", "written", len(paths), "batch", len(batch), "error", err)
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("%w: no scenario could be materialized", ErrNoResults)
	}

	if err := os.MkdirAll(o.resultsDir, 0o755); err != nil {
		return 0, fmt.Errorf("create results dir: %w", err)
	}
	resultsCSV := filepath.Join(o.resultsDir, fmt.Sprintf("results_%s.csv", uuid.New().String()))

	o.logger.Debug("running simulator", "scenarios", len(paths), "results", resultsCSV)
	runErr := o.runner.Run(ctx, o.scenarioDir, resultsCSV)
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("simulator: %w", errors.Join(ctxErr, runErr))
		}
		// test runners exit non-zero when scenarios fail, collisions included
		o.logger.Warn("simulator exited with error, reading results anyway", "results", resultsCSV, "error", runErr)
	}

	rows, err := results.ReadFile(resultsCSV)
	if err != nil {
		o.logger.Warn("results unreadable, scoring batch 0", "results", resultsCSV, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrNoResults, errors.Join(err, runErr))
	}
	if len(rows) == 0 {
		o.logger.Warn("results empty, scoring batch 0", "results", resultsCSV)
		if runErr != nil {
			return 0, fmt.Errorf("%w: %s has no rows: %w", ErrNoResults, resultsCSV, runErr)
		}
		return 0, fmt.Errorf("%w: %s has no rows", ErrNoResults, resultsCSV)
	}

	o.forward(batch, rows)
	rate := results.CollisionRate(rows)
	o.logger.Info("batch simulated", "scenarios", len(rows), "collision_rate", rate)
	return rate, nil
}

// forward maps rows back to scenarios and hands them to the sink. Rows whose
// own parameter columns are unusable are matched by scenario file index.
func (o *SimulatorOracle) forward(batch scenario.Batch, rows []results.Row) {
	if o.sink == nil {
		return
	}
	for _, r := range rows {
		p, ok := r.Params, r.ParamsErr == nil
		if !ok {
			p, ok = paramsByFile(batch, r.ScenarioYAML)
		}
		if !ok {
			o.logger.Warn("outcome not attributable", "scenario_yaml", r.ScenarioYAML)
			continue
		}
		if err := o.sink.RecordOutcome(p, r.ResultType); err != nil {
			o.logger.Warn("record outcome", "error", err)
		}
	}
}

func paramsByFile(batch scenario.Batch, path string) (scenario.Params, bool) {
	var i int
	if _, err := fmt.Sscanf(filepath.Base(path), "scenario_%d.yaml", &i); err != nil {
		return scenario.Params{}, false
	}
	if i < 0 || i >= len(batch) {
		return scenario.Params{}, false
	}
	return batch[i], true
}

// #endregion evaluate
