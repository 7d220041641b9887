package evolve

import (
	"fmt"

	"github.com/danielpatrickdp/scenario-miner/internal/logging"
	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

// #region store-recorder
// StoreRecorder persists a run's members, fitness and decisions to SQLite.
type StoreRecorder struct {
	store *store.Store
	runID string
}

// NewStoreRecorder records into runID, which must already exist.
func NewStoreRecorder(s *store.Store, runID string) *StoreRecorder {
	return &StoreRecorder{store: s, runID: runID}
}

// RecordSeed logs how generation 0 was drawn.
func (r *StoreRecorder) RecordSeed(population []Member, seeds int, withReplacement bool) error {
	rec := logging.SeedRecord{Seeds: seeds, WithReplacement: withReplacement}
	for _, m := range population {
		rec.Members = append(rec.Members, m.ID)
	}
	reason := "sampled without replacement"
	if withReplacement {
		reason = "fewer seeds than batch slots, sampled with replacement"
	}
	return logging.LogRecord(r.store.DB(), logging.ProvenanceEntry{
		RunID:       r.runID,
		Generation:  0,
		TriggerType: logging.TriggerSeed,
		Decision:    logging.DecisionSeeded,
		Reason:      reason,
	}, rec)
}

// RecordMember stores a newly created member.
func (r *StoreRecorder) RecordMember(generation, index int, m Member) error {
	_, err := r.store.SaveBatch(store.BatchRecord{
		BatchID:    m.ID,
		RunID:      r.runID,
		Generation: generation,
		Member:     index,
		Params:     m.Batch,
		Dir:        m.Dir,
	})
	return err
}

// RecordFitness stores an evaluated member's fitness.
func (r *StoreRecorder) RecordFitness(m Member) error {
	return r.store.SetFitness(m.ID, m.Fitness)
}

// RecordSelection logs the parent choice with the full fitness ranking input.
func (r *StoreRecorder) RecordSelection(generation int, population []Member, a, b Member) error {
	rec := logging.SelectionRecord{
		Generation: generation,
		ParentA:    a.ID,
		ParentB:    b.ID,
		FitnessA:   a.Fitness,
		FitnessB:   b.Fitness,
	}
	for _, m := range population {
		rec.Population = append(rec.Population, m.ID)
		rec.Fitness = append(rec.Fitness, m.Fitness)
	}
	return logging.LogRecord(r.store.DB(), logging.ProvenanceEntry{
		RunID:       r.runID,
		Generation:  generation,
		TriggerType: logging.TriggerSelection,
		Decision:    logging.DecisionSelected,
		Reason:      fmt.Sprintf("top two of %d by fitness", len(population)),
	}, rec)
}

// RecordReproduction logs mutation outcomes for the children of generation.
func (r *StoreRecorder) RecordReproduction(generation int, s GenerationSummary) error {
	st := s.Stats
	rec := logging.MutationRecord{
		Generation:   generation,
		FullRate:     s.FullRate > 0,
		Mutated:      st.Mutated,
		Forced:       st.Forced,
		Fallbacks:    st.Fallbacks,
		Dropped:      st.Dropped,
		Duplicates:   st.Duplicates,
		Refilled:     st.Backfilled + st.Sampled + st.Padded,
		RegistrySize: s.RegistrySize,
	}
	decision, reason := logging.DecisionMutated, "all scenarios novel"
	if st.Fallbacks > 0 || st.Dropped > 0 || st.Padded > 0 {
		decision = logging.DecisionRepaired
		reason = fmt.Sprintf("%d fallbacks, %d dropped, %d padded", st.Fallbacks, st.Dropped, st.Padded)
	}
	return logging.LogRecord(r.store.DB(), logging.ProvenanceEntry{
		RunID:       r.runID,
		Generation:  generation,
		TriggerType: logging.TriggerMutation,
		Decision:    decision,
		Reason:      reason,
	}, rec)
}

// #endregion store-recorder
