package logging

import "time"

// Trigger types.
const (
	TriggerSeed      = "seed"
	TriggerSelection = "selection"
	TriggerMutation  = "mutation"
)

// Decisions.
const (
	DecisionSeeded   = "seeded"
	DecisionSelected = "selected"
	DecisionMutated  = "mutated"
	DecisionRepaired = "repaired"
)

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	RunID       string
	Generation  int
	TriggerType string
	SignalsJSON string
	Decision    string
	Reason      string
	CreatedAt   time.Time
}

// #endregion provenance-entry

// #region selection-record
// SelectionRecord captures the inputs of one parent selection.
// Serialized as JSON into provenance_log.signals_json so the choice can be
// re-derived offline.
type SelectionRecord struct {
	Generation int       `json:"generation"`
	Population []string  `json:"population"` // member ids in evaluation order
	Fitness    []float64 `json:"fitness"`    // aligned with Population

	ParentA  string  `json:"parent_a"`
	ParentB  string  `json:"parent_b"`
	FitnessA float64 `json:"fitness_a"`
	FitnessB float64 `json:"fitness_b"`
}

// MutationRecord summarizes one reproduction step.
type MutationRecord struct {
	Generation   int  `json:"generation"`
	FullRate     bool `json:"full_rate"` // crossover child was entirely explored
	Mutated      int  `json:"mutated"`
	Forced       int  `json:"forced"`
	Fallbacks    int  `json:"fallbacks"`
	Dropped      int  `json:"dropped"`
	Duplicates   int  `json:"duplicates"`
	Refilled     int  `json:"refilled"`
	RegistrySize int  `json:"registry_size"`
}

// SeedRecord captures how generation 0 was drawn.
type SeedRecord struct {
	Seeds           int      `json:"seeds"`
	Members         []string `json:"members"`
	WithReplacement bool     `json:"with_replacement"`
}

// #endregion selection-record
