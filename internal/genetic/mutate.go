package genetic

import (
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region mutator
// Mutator perturbs scenarios under lane-bound, overlap and novelty
// constraints. A Mutator is not safe for concurrent use: its rng is
// unsynchronized. The registry it shares may be.
type Mutator struct {
	tables   *lane.Tables
	registry Registry
	config   MutationConfig
	rng      *rand.Rand
}

// NewMutator creates a mutator drawing from rng.
func NewMutator(tables *lane.Tables, registry Registry, config MutationConfig, rng *rand.Rand) *Mutator {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Mutator{
		tables:   tables,
		registry: registry,
		config:   config,
		rng:      rng,
	}
}

// WithRate returns a mutator sharing m's tables, registry and rng but
// mutating unexplored scenarios with the given probability.
func (m *Mutator) WithRate(rate float64) *Mutator {
	cp := *m
	cp.config.Rate = rate
	return &cp
}

// Config returns the active configuration.
func (m *Mutator) Config() MutationConfig {
	return m.config
}

// #endregion mutator

// #region mutate-batch
// MutateBatch runs one mutation pass over batch and returns a batch of the
// same length with no two scenarios sharing a fingerprint. The one exception
// is a saturated registry combined with fewer distinct valid inputs than
// slots: no novel scenario can be found, so input scenarios are repeated to
// keep the length and Stats.Padded counts the repeats. Output is unique
// whenever Padded is 0.
//
// A scenario is mutated when it is already explored, when it violates the
// lane tables, or with probability Rate. Each mutation is rejection sampling
// with MaxAttempts tries; a candidate is accepted only if it is valid and its
// fingerprint is new to the registry, and acceptance registers it. When the
// budget runs out the original is kept, unless the original itself is
// invalid, in which case the slot is refilled below.
func (m *Mutator) MutateBatch(batch scenario.Batch) (scenario.Batch, Stats) {
	var stats Stats
	mutated := make(scenario.Batch, 0, len(batch))

	for _, p := range batch {
		valid := scenario.Validate(p, m.tables) == nil
		forced := !valid || m.registry.Contains(p.Fingerprint())

		if !forced && m.rng.Float64() >= m.config.Rate {
			mutated = append(mutated, p)
			continue
		}
		if forced {
			stats.Forced++
		}

		if cand, ok := m.mutateOne(p); ok {
			mutated = append(mutated, cand)
			stats.Mutated++
			continue
		}

		if !valid {
			stats.Dropped++
			continue
		}
		stats.Fallbacks++
		mutated = append(mutated, p)
	}

	return m.refill(batch, mutated, &stats), stats
}

// mutateOne tries up to MaxAttempts candidates derived from p.
func (m *Mutator) mutateOne(p scenario.Params) (scenario.Params, bool) {
	for attempt := 0; attempt < m.config.MaxAttempts; attempt++ {
		cand, err := m.perturb(p)
		if err != nil {
			continue
		}
		if cand.SharesStartLane() && lane.StartOverlap(cand.EgoStartS, cand.NPCStartS) {
			continue
		}
		if !m.registry.TryAdd(cand.Fingerprint()) {
			continue
		}
		return cand, true
	}
	return p, false
}

// perturb derives one candidate. Each lane id may be re-rolled first, then
// its offset is moved and clamped into that (possibly new) lane.
func (m *Mutator) perturb(p scenario.Params) (scenario.Params, error) {
	var err error
	c := p

	starts, dests := m.tables.StartIDs(), m.tables.DestIDs()
	if c.EgoStartLane, c.EgoStartS, err = m.mutateGene(c.EgoStartLane, c.EgoStartS, starts, m.tables.LookupStart); err != nil {
		return p, err
	}
	if c.NPCStartLane, c.NPCStartS, err = m.mutateGene(c.NPCStartLane, c.NPCStartS, starts, m.tables.LookupStart); err != nil {
		return p, err
	}
	if c.EgoDestLane, c.EgoDestS, err = m.mutateGene(c.EgoDestLane, c.EgoDestS, dests, m.tables.LookupDest); err != nil {
		return p, err
	}
	if c.NPCDestLane, c.NPCDestS, err = m.mutateGene(c.NPCDestLane, c.NPCDestS, dests, m.tables.LookupDest); err != nil {
		return p, err
	}
	return c, nil
}

func (m *Mutator) mutateGene(id string, s float64, ids []string, lookup func(string) (lane.Bounds, error)) (string, float64, error) {
	if m.rng.Float64() < m.config.LaneRate {
		id = ids[m.rng.IntN(len(ids))]
	}
	b, err := lookup(id)
	if err != nil {
		return id, s, err
	}
	return id, b.Clamp(scenario.Quantize(s + m.delta())), nil
}

// delta is uniform in [-MaxDelta, MaxDelta] with magnitude at least MinDelta.
func (m *Mutator) delta() float64 {
	d := (m.rng.Float64()*2 - 1) * m.config.MaxDelta
	if math.Abs(d) < m.config.MinDelta {
		if d < 0 {
			return -m.config.MinDelta
		}
		return m.config.MinDelta
	}
	return d
}

// #endregion mutate-batch

// #region refill
// refill drops within-batch duplicates and restores the input length. Slots
// are refilled from valid input scenarios first, then from freshly sampled
// novel scenarios. Only when both are exhausted (a saturated registry and
// fewer distinct inputs than slots) are input scenarios repeated.
func (m *Mutator) refill(input, mutated scenario.Batch, stats *Stats) scenario.Batch {
	n := len(input)
	out := make(scenario.Batch, 0, n)
	local := make(map[scenario.Fingerprint]struct{}, n)

	for _, p := range mutated {
		fp := p.Fingerprint()
		if _, dup := local[fp]; dup {
			stats.Duplicates++
			continue
		}
		local[fp] = struct{}{}
		out = append(out, p)
	}

	for i := 0; len(out) < n && i < n; i++ {
		p := input[i]
		fp := p.Fingerprint()
		if _, dup := local[fp]; dup {
			continue
		}
		if scenario.Validate(p, m.tables) != nil {
			continue
		}
		local[fp] = struct{}{}
		out = append(out, p)
		stats.Backfilled++
	}

	for attempt := 0; len(out) < n && attempt < n*m.config.MaxAttempts; attempt++ {
		p := scenario.Sample(m.rng, m.tables)
		fp := p.Fingerprint()
		if _, dup := local[fp]; dup {
			continue
		}
		if scenario.Validate(p, m.tables) != nil || !m.registry.TryAdd(fp) {
			continue
		}
		local[fp] = struct{}{}
		out = append(out, p)
		stats.Sampled++
	}

	for i := 0; len(out) < n; i++ {
		out = append(out, input[i%n])
		stats.Padded++
	}
	return out
}

// #endregion refill
