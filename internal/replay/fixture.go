package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/scenario-miner/internal/evolve"
	"github.com/danielpatrickdp/scenario-miner/internal/genetic"
	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: the seeds a
// run started from, every scenario observed to collide, and the search
// settings to replay them with.
type Fixture struct {
	Description string            `json:"description"`
	SourceRun   string            `json:"source_run,omitempty"`
	Config      FixtureConfig     `json:"config"`
	Lanes       *FixtureLanes     `json:"lanes,omitempty"`
	Seeds       []scenario.Params `json:"seeds"`
	Collisions  []scenario.Params `json:"collisions"`
	Expected    FixtureExpected   `json:"expected"`
}

// FixtureConfig mirrors evolve.Config with JSON tags.
type FixtureConfig struct {
	PopulationSize    int                   `json:"population_size"`
	ScenariosPerBatch int                   `json:"scenarios_per_batch"`
	Generations       int                   `json:"generations"`
	CrossoverRate     float64               `json:"crossover_rate"`
	Mutation          FixtureMutationConfig `json:"mutation"`
	RandomSeed        uint64                `json:"random_seed"`
}

// FixtureMutationConfig mirrors genetic.MutationConfig with JSON tags.
type FixtureMutationConfig struct {
	Rate        float64 `json:"rate"`
	MaxDelta    float64 `json:"max_delta"`
	MinDelta    float64 `json:"min_delta"`
	LaneRate    float64 `json:"lane_rate"`
	MaxAttempts int     `json:"max_attempts"`
}

// FixtureLanes overrides the default lane tables.
type FixtureLanes struct {
	Start map[string]lane.Bounds `json:"start"`
	Dest  map[string]lane.Bounds `json:"dest"`
}

// FixtureExpected holds the thresholds a replay must meet.
type FixtureExpected struct {
	MinBestFitness  float64 `json:"min_best_fitness"`
	MinRegistrySize int     `json:"min_registry_size"`
	MaxFallbacks    *int    `json:"max_fallbacks,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToEngineConfig converts a FixtureConfig to an evolve.Config. Zero fields
// take the engine defaults.
func (fc *FixtureConfig) ToEngineConfig() evolve.Config {
	cfg := evolve.DefaultConfig()
	if fc.PopulationSize > 0 {
		cfg.PopulationSize = fc.PopulationSize
	}
	if fc.ScenariosPerBatch > 0 {
		cfg.ScenariosPerBatch = fc.ScenariosPerBatch
	}
	if fc.Generations > 0 {
		cfg.Generations = fc.Generations
	}
	if fc.CrossoverRate > 0 {
		cfg.CrossoverRate = fc.CrossoverRate
	}
	if fc.Mutation != (FixtureMutationConfig{}) {
		cfg.Mutation = genetic.MutationConfig{
			Rate:        fc.Mutation.Rate,
			MaxDelta:    fc.Mutation.MaxDelta,
			MinDelta:    fc.Mutation.MinDelta,
			LaneRate:    fc.Mutation.LaneRate,
			MaxAttempts: fc.Mutation.MaxAttempts,
		}
	}
	return cfg
}

// FromEngineConfig converts an evolve.Config for export.
func FromEngineConfig(cfg evolve.Config, seed uint64) FixtureConfig {
	return FixtureConfig{
		PopulationSize:    cfg.PopulationSize,
		ScenariosPerBatch: cfg.ScenariosPerBatch,
		Generations:       cfg.Generations,
		CrossoverRate:     cfg.CrossoverRate,
		Mutation: FixtureMutationConfig{
			Rate:        cfg.Mutation.Rate,
			MaxDelta:    cfg.Mutation.MaxDelta,
			MinDelta:    cfg.Mutation.MinDelta,
			LaneRate:    cfg.Mutation.LaneRate,
			MaxAttempts: cfg.Mutation.MaxAttempts,
		},
		RandomSeed: seed,
	}
}

// Tables returns the fixture's lane tables, or the defaults.
func (f *Fixture) Tables() (*lane.Tables, error) {
	if f.Lanes == nil {
		return lane.Default(), nil
	}
	return lane.NewTables(f.Lanes.Start, f.Lanes.Dest)
}

// #endregion fixture-loader
