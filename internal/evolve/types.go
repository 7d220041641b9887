package evolve

import (
	"errors"

	"github.com/danielpatrickdp/scenario-miner/internal/genetic"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// ErrNoSeeds is returned when a run has no usable seed scenarios.
var ErrNoSeeds = errors.New("evolve: no seed scenarios")

// #region config
// Config sizes a run.
type Config struct {
	PopulationSize    int
	ScenariosPerBatch int
	Generations       int
	CrossoverRate     float64
	Mutation          genetic.MutationConfig
	Parallelism       int // concurrent oracle evaluations per generation
}

// DefaultConfig returns the stock search settings.
func DefaultConfig() Config {
	return Config{
		PopulationSize:    10,
		ScenariosPerBatch: 10,
		Generations:       2,
		CrossoverRate:     0.5,
		Mutation:          genetic.DefaultMutationConfig(),
		Parallelism:       1,
	}
}

// #endregion config

// #region member
// Member is one population entry. The batch travels with its identity and
// fitness so selection never has to search for a batch's parameters.
type Member struct {
	ID        string
	Batch     scenario.Batch
	Fitness   float64
	Evaluated bool
	Dir       string // archive directory, empty when not materialized
}

// #endregion member

// #region summary
// GenerationSummary describes one evaluated generation and the reproduction
// that followed it.
type GenerationSummary struct {
	Generation   int
	Best         float64
	Mean         float64
	Worst        float64
	BestID       string
	Parents      [2]string
	Stats        genetic.Stats // mutation outcomes producing the next generation
	FullRate     int           // children that needed a full-rate mutation pass
	RegistrySize int
}

// Result is the outcome of Run.
type Result struct {
	RunID       string
	Generations []GenerationSummary
	Best        Member   // highest-fitness evaluated member of the run
	Final       []Member // last reproduced population, not evaluated
}

// #endregion summary

// #region interfaces
// Registry is the novelty registry the engine seeds and the operators extend.
type Registry interface {
	genetic.Registry
	Add(fp scenario.Fingerprint)
	Len() int
}

// Recorder persists run progress. Errors are logged, never fatal.
type Recorder interface {
	RecordSeed(population []Member, seeds int, withReplacement bool) error
	RecordMember(generation, index int, m Member) error
	RecordFitness(m Member) error
	RecordSelection(generation int, population []Member, a, b Member) error
	RecordReproduction(generation int, summary GenerationSummary) error
}

// #endregion interfaces
