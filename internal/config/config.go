// Package config loads run configuration from defaults, a YAML file and
// SCENARIO_* environment variables, in increasing precedence. Command-line
// flags are applied on top by each command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/scenario-miner/internal/evolve"
	"github.com/danielpatrickdp/scenario-miner/internal/genetic"
	"github.com/danielpatrickdp/scenario-miner/internal/lane"
)

// #region types
// Config is the complete configuration of an evolution run.
type Config struct {
	DBPath       string `yaml:"db"`
	OracleAddr   string `yaml:"oracle_addr"` // remote oracle; empty runs the simulator locally
	SeedCSV      string `yaml:"seed_csv"`
	TemplatePath string `yaml:"template"`
	WorkDir      string `yaml:"work_dir"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level"`

	Simulator Simulator `yaml:"simulator"`
	Evolution Evolution `yaml:"evolution"`
	Mutation  Mutation  `yaml:"mutation"`
	Lanes     Lanes     `yaml:"lanes"`
}

// Simulator is the external command run per batch. Args may contain the
// {scenario_dir} and {results_csv} placeholders.
type Simulator struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`
}

// Evolution sizes the search.
type Evolution struct {
	PopulationSize    int     `yaml:"population_size"`
	ScenariosPerBatch int     `yaml:"scenarios_per_batch"`
	Generations       int     `yaml:"generations"`
	CrossoverRate     float64 `yaml:"crossover_rate"`
	Parallelism       int     `yaml:"parallelism"`
	RandomSeed        uint64  `yaml:"random_seed"` // 0 picks a random seed
}

// Mutation mirrors genetic.MutationConfig.
type Mutation struct {
	Rate        float64 `yaml:"rate"`
	MaxDelta    float64 `yaml:"max_delta"`
	MinDelta    float64 `yaml:"min_delta"`
	LaneRate    float64 `yaml:"lane_rate"`
	MaxAttempts int     `yaml:"max_attempts"`
}

// Lanes overrides the lane geometry tables. Empty maps keep the defaults.
type Lanes struct {
	Start map[string]lane.Bounds `yaml:"start"`
	Dest  map[string]lane.Bounds `yaml:"dest"`
}

// #endregion types

// #region defaults
// Default returns the stock configuration.
func Default() Config {
	m := genetic.DefaultMutationConfig()
	return Config{
		DBPath:       "scenario_miner.db",
		SeedCSV:      "results.csv",
		TemplatePath: "template.yaml",
		WorkDir:      "work",
		LogLevel:     "info",
		Evolution: Evolution{
			PopulationSize:    10,
			ScenariosPerBatch: 10,
			Generations:       2,
			CrossoverRate:     0.5,
			Parallelism:       1,
		},
		Mutation: Mutation{
			Rate:        m.Rate,
			MaxDelta:    m.MaxDelta,
			MinDelta:    m.MinDelta,
			LaneRate:    m.LaneRate,
			MaxAttempts: m.MaxAttempts,
		},
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SCENARIO_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	c.DBPath = envOr("SCENARIO_DB", c.DBPath)
	c.OracleAddr = envOr("SCENARIO_ORACLE_ADDR", c.OracleAddr)
	c.SeedCSV = envOr("SCENARIO_SEED_CSV", c.SeedCSV)
	c.TemplatePath = envOr("SCENARIO_TEMPLATE", c.TemplatePath)
	c.WorkDir = envOr("SCENARIO_WORK_DIR", c.WorkDir)
	c.MetricsAddr = envOr("SCENARIO_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("SCENARIO_LOG_LEVEL", c.LogLevel)
	c.Simulator.Command = envOr("SCENARIO_SIMULATOR", c.Simulator.Command)

	ints := []struct {
		key string
		dst *int
	}{
		{"SCENARIO_POP_SIZE", &c.Evolution.PopulationSize},
		{"SCENARIO_BATCH_SIZE", &c.Evolution.ScenariosPerBatch},
		{"SCENARIO_GENERATIONS", &c.Evolution.Generations},
		{"SCENARIO_PARALLELISM", &c.Evolution.Parallelism},
	}
	for _, v := range ints {
		s := getenv(v.key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dst = n
	}
	return nil
}

// #endregion load

// #region validate
// Validate rejects configurations the engine cannot run.
func (c Config) Validate() error {
	var errs []error
	e := c.Evolution
	if e.PopulationSize < 1 {
		errs = append(errs, fmt.Errorf("population_size %d < 1", e.PopulationSize))
	}
	if e.ScenariosPerBatch < 1 {
		errs = append(errs, fmt.Errorf("scenarios_per_batch %d < 1", e.ScenariosPerBatch))
	}
	if e.Generations < 1 {
		errs = append(errs, fmt.Errorf("generations %d < 1", e.Generations))
	}
	if e.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism %d < 1", e.Parallelism))
	}
	for name, r := range map[string]float64{
		"crossover_rate":     e.CrossoverRate,
		"mutation.rate":      c.Mutation.Rate,
		"mutation.lane_rate": c.Mutation.LaneRate,
	} {
		if r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("%s %.3f outside [0,1]", name, r))
		}
	}
	if c.Mutation.MinDelta < 0 || c.Mutation.MinDelta > c.Mutation.MaxDelta {
		errs = append(errs, fmt.Errorf("mutation delta range [%.2f,%.2f] invalid", c.Mutation.MinDelta, c.Mutation.MaxDelta))
	}
	if c.Mutation.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("mutation.max_attempts %d < 1", c.Mutation.MaxAttempts))
	}
	if _, err := c.Tables(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// #endregion validate

// #region accessors
// Tables builds the lane tables, falling back to the defaults per table.
func (c Config) Tables() (*lane.Tables, error) {
	start, dest := c.Lanes.Start, c.Lanes.Dest
	if len(start) == 0 {
		start = lane.DefaultStartLanes()
	}
	if len(dest) == 0 {
		dest = lane.DefaultDestLanes()
	}
	return lane.NewTables(start, dest)
}

// MutationConfig converts to the operator configuration.
func (c Config) MutationConfig() genetic.MutationConfig {
	return genetic.MutationConfig{
		Rate:        c.Mutation.Rate,
		MaxDelta:    c.Mutation.MaxDelta,
		MinDelta:    c.Mutation.MinDelta,
		LaneRate:    c.Mutation.LaneRate,
		MaxAttempts: c.Mutation.MaxAttempts,
	}
}

// EngineConfig converts to the engine configuration.
func (c Config) EngineConfig() evolve.Config {
	return evolve.Config{
		PopulationSize:    c.Evolution.PopulationSize,
		ScenariosPerBatch: c.Evolution.ScenariosPerBatch,
		Generations:       c.Evolution.Generations,
		CrossoverRate:     c.Evolution.CrossoverRate,
		Mutation:          c.MutationConfig(),
		Parallelism:       c.Evolution.Parallelism,
	}
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// #endregion accessors
