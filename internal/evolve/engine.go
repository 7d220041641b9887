// Package evolve runs the generational search for collision-producing
// scenarios.
package evolve

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/danielpatrickdp/scenario-miner/internal/eval"
	"github.com/danielpatrickdp/scenario-miner/internal/genetic"
	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/danielpatrickdp/scenario-miner/internal/materialize"
	"github.com/danielpatrickdp/scenario-miner/internal/metrics"
	"github.com/danielpatrickdp/scenario-miner/internal/oracle"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region engine
// Engine owns the population of one run. It is not safe for concurrent use;
// only oracle calls inside Evaluate run in parallel.
type Engine struct {
	cfg      Config
	tables   *lane.Tables
	registry Registry
	oracle   oracle.Oracle
	rng      *rand.Rand
	mutator  *genetic.Mutator
	harness  *eval.Harness

	logger     *slog.Logger
	metrics    *metrics.Metrics
	recorder   Recorder
	archive    *materialize.Writer
	archiveDir string
	runID      string

	generation int
	population []Member
	summaries  []GenerationSummary
	best       Member
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithRecorder persists progress through r.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithRunID sets the run identifier reported in Result.
func WithRunID(id string) Option { return func(e *Engine) { e.runID = id } }

// WithArchive materializes every reproduced batch under dir as
// batch_gen{g}_{i}/scenario_{j}.yaml.
func WithArchive(w *materialize.Writer, dir string) Option {
	return func(e *Engine) {
		e.archive = w
		e.archiveDir = dir
	}
}

// New creates an engine. rng drives sampling, crossover and mutation.
func New(cfg Config, tables *lane.Tables, registry Registry, orc oracle.Oracle, rng *rand.Rand, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		tables:   tables,
		registry: registry,
		oracle:   orc,
		rng:      rng,
		mutator:  genetic.NewMutator(tables, registry, cfg.Mutation, rng),
		harness:  eval.NewHarness(tables, eval.DefaultConfig(cfg.ScenariosPerBatch)),
		logger:   slog.Default(),
		runID:    uuid.New().String(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewRand returns the PCG source a run with the given seed draws from.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

// Generation returns the current generation number, 0 after seeding.
func (e *Engine) Generation() int { return e.generation }

// Population returns a copy of the current population.
func (e *Engine) Population() []Member { return slices.Clone(e.population) }

// #endregion engine

// #region seed
// Seed builds generation 0 from seeds. Each member samples
// ScenariosPerBatch seeds, without replacement when there are enough and with
// replacement otherwise. Every sampled fingerprint is registered before any
// evaluation. Seeds violating the lane tables are discarded.
func (e *Engine) Seed(seeds []scenario.Params) error {
	usable := make([]scenario.Params, 0, len(seeds))
	for i, p := range seeds {
		if err := scenario.Validate(p, e.tables); err != nil {
			e.logger.Warn("seed discarded", "index", i, "error", err)
			continue
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return fmt.Errorf("%w (%d supplied)", ErrNoSeeds, len(seeds))
	}

	n := e.cfg.ScenariosPerBatch
	withReplacement := len(usable) < n
	population := make([]Member, e.cfg.PopulationSize)
	for i := range population {
		batch := make(scenario.Batch, n)
		if withReplacement {
			for j := range batch {
				batch[j] = usable[e.rng.IntN(len(usable))]
			}
		} else {
			for j, k := range e.rng.Perm(len(usable))[:n] {
				batch[j] = usable[k]
			}
		}
		for _, p := range batch {
			e.registry.Add(p.Fingerprint())
		}
		population[i] = Member{ID: uuid.New().String(), Batch: batch}
	}

	e.generation = 0
	e.population = population
	e.summaries = nil
	e.best = Member{}
	e.metrics.SetRegistrySize(e.registry.Len())
	e.logger.Info("population seeded",
		"seeds", len(usable), "members", len(population), "batch", n,
		"with_replacement", withReplacement, "registry", e.registry.Len())

	if e.recorder != nil {
		for i, m := range population {
			e.record("member", e.recorder.RecordMember(0, i, m))
		}
		e.record("seed", e.recorder.RecordSeed(population, len(usable), withReplacement))
	}
	return nil
}

// #endregion seed

// #region evaluate
// Evaluate scores every member not yet evaluated. ErrNoResults scores 0;
// any other oracle error aborts the generation.
func (e *Engine) Evaluate(ctx context.Context) error {
	if len(e.population) == 0 {
		return errors.New("evaluate: population is empty, call Seed first")
	}
	workers := max(e.cfg.Parallelism, 1)
	fitness := make([]float64, len(e.population))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers).WithCancelOnError().WithFirstError()
	for i, m := range e.population {
		if m.Evaluated {
			fitness[i] = m.Fitness
			continue
		}
		p.Go(func(ctx context.Context) error {
			f, err := e.evaluateOne(ctx, m)
			if err != nil {
				return fmt.Errorf("generation %d member %d: %w", e.generation, i, err)
			}
			fitness[i] = f
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	for i := range e.population {
		m := &e.population[i]
		if m.Evaluated {
			continue
		}
		m.Fitness, m.Evaluated = fitness[i], true
		if e.recorder != nil {
			e.record("fitness", e.recorder.RecordFitness(*m))
		}
		if !e.best.Evaluated || m.Fitness > e.best.Fitness {
			e.best = *m
		}
	}
	return nil
}

func (e *Engine) evaluateOne(ctx context.Context, m Member) (float64, error) {
	start := time.Now()
	f, err := e.oracle.Evaluate(ctx, m.Batch)
	switch {
	case errors.Is(err, oracle.ErrNoResults):
		e.metrics.ObserveEvaluation("no_results", time.Since(start))
		e.logger.Warn("no oracle results, fitness 0", "member", m.ID, "error", err)
		return 0, nil
	case err != nil:
		e.metrics.ObserveEvaluation("error", time.Since(start))
		return 0, err
	}
	e.metrics.ObserveEvaluation("ok", time.Since(start))

	if f < 0 || f > 1 {
		e.logger.Warn("fitness outside [0,1], clamped", "member", m.ID, "fitness", f)
		f = min(max(f, 0), 1)
	}
	e.logger.Debug("member evaluated", "member", m.ID, "fitness", f)
	return f, nil
}

// #endregion evaluate

// #region select
// SelectParents returns the two fittest members, fittest first. Ties keep
// population order. A single-member population returns that member twice.
func (e *Engine) SelectParents() (Member, Member) {
	ranked := e.ranked()
	if len(ranked) == 0 {
		return Member{}, Member{}
	}
	if len(ranked) == 1 {
		return ranked[0], ranked[0]
	}
	return ranked[0], ranked[1]
}

func (e *Engine) ranked() []Member {
	ranked := slices.Clone(e.population)
	slices.SortStableFunc(ranked, func(a, b Member) int {
		return cmp.Compare(b.Fitness, a.Fitness)
	})
	return ranked
}

// #endregion select

// #region reproduce
// Reproduce replaces the population with PopulationSize children of the two
// fittest members. Each child is a crossover of the parents; a child made
// entirely of explored scenarios first gets a full-rate mutation pass, and
// every child gets a standard mutation pass.
func (e *Engine) Reproduce() error {
	if len(e.population) == 0 {
		return errors.New("reproduce: population is empty, call Seed first")
	}
	a, b := e.SelectParents()
	summary := e.summarize(a, b)
	if e.recorder != nil {
		e.record("selection", e.recorder.RecordSelection(e.generation, e.population, a, b))
	}
	e.logger.Info("parents selected",
		"generation", e.generation, "parent_a", a.ID, "fitness_a", a.Fitness,
		"parent_b", b.ID, "fitness_b", b.Fitness)

	next := e.generation + 1
	children := make([]Member, e.cfg.PopulationSize)
	for i := range children {
		batch := genetic.Crossover(e.rng, a.Batch, b.Batch, e.cfg.CrossoverRate)

		if genetic.AllRegistered(batch, e.registry) {
			var st genetic.Stats
			batch, st = e.mutator.WithRate(1).MutateBatch(batch)
			summary.Stats.Add(st)
			summary.FullRate++
		}
		batch, st := e.mutator.MutateBatch(batch)
		summary.Stats.Add(st)

		e.validate(next, i, batch)
		children[i] = Member{ID: uuid.New().String(), Batch: batch}
		children[i].Dir = e.materialize(next, i, batch)
		if e.recorder != nil {
			e.record("member", e.recorder.RecordMember(next, i, children[i]))
		}
	}
	summary.RegistrySize = e.registry.Len()

	e.observeStats(summary)
	if e.recorder != nil {
		e.record("reproduction", e.recorder.RecordReproduction(e.generation, summary))
	}
	e.summaries = append(e.summaries, summary)
	e.advance(children)
	return nil
}

// advance replaces the population wholesale and moves to the next generation.
func (e *Engine) advance(children []Member) {
	e.population = children
	e.generation++
}

func (e *Engine) summarize(a, b Member) GenerationSummary {
	s := GenerationSummary{
		Generation: e.generation,
		Parents:    [2]string{a.ID, b.ID},
		BestID:     a.ID,
		Best:       a.Fitness,
		Worst:      a.Fitness,
	}
	var sum float64
	for _, m := range e.population {
		sum += m.Fitness
		s.Worst = min(s.Worst, m.Fitness)
	}
	s.Mean = sum / float64(len(e.population))
	return s
}

func (e *Engine) validate(generation, index int, batch scenario.Batch) {
	res := e.harness.Run(batch)
	if res.Passed {
		return
	}
	for _, m := range res.Metrics {
		if !m.Pass && m.Name != eval.MetricLaneDiversity {
			e.metrics.ValidationFailed(m.Name)
		}
	}
	e.logger.Warn("produced batch failed validation", "generation", generation, "member", index, "reason", res.Reason)
}

// materialize archives batch and returns its directory. Scenarios that fail
// to render are skipped and logged.
func (e *Engine) materialize(generation, index int, batch scenario.Batch) string {
	if e.archive == nil {
		return ""
	}
	dir := materialize.BatchDir(e.archiveDir, generation, index)
	paths, err := e.archive.WriteBatch(dir, batch)
	if err != nil {
		e.logger.Warn("scenarios skipped while archiving", "dir", dir, "written", len(paths), "error", err)
	}
	return dir
}

func (e *Engine) observeStats(s GenerationSummary) {
	e.metrics.ObserveGeneration(s.Best, s.Mean)
	e.metrics.SetRegistrySize(s.RegistrySize)
	st := s.Stats
	for outcome, n := range map[string]int{
		"mutated": st.Mutated, "forced": st.Forced, "fallback": st.Fallbacks, "dropped": st.Dropped,
		"duplicate": st.Duplicates, "backfilled": st.Backfilled, "sampled": st.Sampled, "padded": st.Padded,
	} {
		e.metrics.AddMutations(outcome, n)
	}
	if st.Fallbacks > 0 || st.Padded > 0 {
		e.logger.Info("mutation budget exhausted for some scenarios",
			"generation", s.Generation, "fallbacks", st.Fallbacks, "padded", st.Padded)
	}
}

func (e *Engine) record(what string, err error) {
	if err != nil {
		e.logger.Error("record "+what, "run", e.runID, "error", err)
	}
}

// #endregion reproduce

// #region run
// Run seeds the population and performs Generations rounds of evaluate,
// select and reproduce. The final reproduced population is returned
// unevaluated in Result.Final.
func (e *Engine) Run(ctx context.Context, seeds []scenario.Params) (Result, error) {
	if err := e.Seed(seeds); err != nil {
		return Result{RunID: e.runID}, err
	}
	for g := 0; g < e.cfg.Generations; g++ {
		if err := ctx.Err(); err != nil {
			return e.result(), err
		}
		if err := e.Evaluate(ctx); err != nil {
			return e.result(), err
		}
		if err := e.Reproduce(); err != nil {
			return e.result(), err
		}
		last := e.summaries[len(e.summaries)-1]
		e.logger.Info("generation complete",
			"generation", last.Generation, "best", last.Best, "mean", last.Mean,
			"mutated", last.Stats.Mutated, "fallbacks", last.Stats.Fallbacks, "registry", last.RegistrySize)
	}
	return e.result(), nil
}

func (e *Engine) result() Result {
	return Result{
		RunID:       e.runID,
		Generations: slices.Clone(e.summaries),
		Best:        e.best,
		Final:       slices.Clone(e.population),
	}
}

// #endregion run
