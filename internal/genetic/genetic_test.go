package genetic

import (
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/danielpatrickdp/scenario-miner/internal/novelty"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
	"github.com/stretchr/testify/require"
)

// #region helpers
// saturatedRegistry behaves as if every reachable fingerprint was explored.
type saturatedRegistry struct{}

func (saturatedRegistry) Contains(scenario.Fingerprint) bool { return true }
func (saturatedRegistry) TryAdd(scenario.Fingerprint) bool   { return false }

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func sampleBatch(t *testing.T, rng *rand.Rand, n int) scenario.Batch {
	t.Helper()
	tables := lane.Default()
	seen := map[scenario.Fingerprint]bool{}
	b := make(scenario.Batch, 0, n)
	for len(b) < n {
		p := scenario.Sample(rng, tables)
		if seen[p.Fingerprint()] {
			continue
		}
		seen[p.Fingerprint()] = true
		b = append(b, p)
	}
	return b
}

func requireUniqueValid(t *testing.T, b scenario.Batch) {
	t.Helper()
	tables := lane.Default()
	seen := map[scenario.Fingerprint]bool{}
	for _, p := range b {
		require.NoError(t, scenario.Validate(p, tables), p.String())
		fp := p.Fingerprint()
		require.False(t, seen[fp], "duplicate scenario %s", p)
		seen[fp] = true
	}
}

// #endregion helpers

// #region crossover-tests
func TestCrossoverLengthFollowsFirstParent(t *testing.T) {
	rng := newRNG(1)
	a := sampleBatch(t, rng, 7)
	b := sampleBatch(t, rng, 3)

	require.Len(t, Crossover(rng, a, b, 0.5), 7)
	require.Len(t, Crossover(rng, b, a, 0.5), 3)
	require.Len(t, Crossover(rng, a, nil, 0.5), 7)
	require.Empty(t, Crossover(rng, nil, b, 0.5))
}

func TestCrossoverRateExtremes(t *testing.T) {
	rng := newRNG(2)
	a := sampleBatch(t, rng, 4)
	b := sampleBatch(t, rng, 2)

	require.Equal(t, a, Crossover(rng, a, b, 1.0))

	fromB := Crossover(rng, a, b, 0.0)
	for i := range fromB {
		require.Equal(t, b[i%len(b)], fromB[i])
	}
}

func TestCrossoverGenesComeFromParents(t *testing.T) {
	rng := newRNG(3)
	a := sampleBatch(t, rng, 10)
	b := sampleBatch(t, rng, 10)

	child := Crossover(rng, a, b, 0.5)
	for i, c := range child {
		pa, pb := a[i], b[i]
		require.Contains(t, []string{pa.EgoStartLane, pb.EgoStartLane}, c.EgoStartLane)
		require.Contains(t, []float64{pa.EgoStartS, pb.EgoStartS}, c.EgoStartS)
		require.Contains(t, []string{pa.NPCDestLane, pb.NPCDestLane}, c.NPCDestLane)
		require.Contains(t, []float64{pa.NPCDestS, pb.NPCDestS}, c.NPCDestS)
	}
}

func TestCrossoverDoesNotTouchParents(t *testing.T) {
	rng := newRNG(4)
	a := sampleBatch(t, rng, 5)
	b := sampleBatch(t, rng, 5)
	aCopy, bCopy := a.Clone(), b.Clone()

	Crossover(rng, a, b, 0.5)
	require.Equal(t, aCopy, a)
	require.Equal(t, bCopy, b)
}

// #endregion crossover-tests

// #region mutation-tests
func TestMutateZeroRateIsNoOp(t *testing.T) {
	rng := newRNG(5)
	batch := sampleBatch(t, rng, 10)
	m := NewMutator(lane.Default(), novelty.NewRegistry(), MutationConfig{
		Rate: 0, MaxDelta: 5, MinDelta: 0.5, LaneRate: 0.2, MaxAttempts: 10,
	}, rng)

	out, stats := m.MutateBatch(batch)

	require.Equal(t, batch, out)
	require.Equal(t, Stats{}, stats)
}

func TestMutateFallsBackWhenRegistrySaturated(t *testing.T) {
	rng := newRNG(6)
	batch := sampleBatch(t, rng, 8)
	cfg := DefaultMutationConfig()
	cfg.Rate = 1.0
	m := NewMutator(lane.Default(), saturatedRegistry{}, cfg, rng)

	out, stats := m.MutateBatch(batch)

	require.Equal(t, batch, out)
	require.Equal(t, 8, stats.Fallbacks)
	require.Equal(t, 8, stats.Forced)
	require.Zero(t, stats.Mutated)
}

func TestMutateForcesExploredScenarios(t *testing.T) {
	rng := newRNG(7)
	batch := sampleBatch(t, rng, 10)
	reg := novelty.NewRegistry()
	for _, fp := range batch.Fingerprints() {
		reg.Add(fp)
	}
	cfg := DefaultMutationConfig()
	cfg.Rate = 0
	m := NewMutator(lane.Default(), reg, cfg, rng)

	out, stats := m.MutateBatch(batch)

	require.Len(t, out, len(batch))
	require.Equal(t, 10, stats.Forced)
	require.Equal(t, 10, stats.Mutated+stats.Fallbacks)
	require.Positive(t, stats.Mutated)
	requireUniqueValid(t, out)
	for _, p := range out {
		require.True(t, reg.Contains(p.Fingerprint()))
	}
}

func TestMutateRepairsOutOfBoundsScenario(t *testing.T) {
	rng := newRNG(8)
	bad := scenario.Params{EgoStartLane: "34981", EgoStartS: 47.5, NPCStartLane: "34600", NPCStartS: 47.5, EgoDestLane: "34630", EgoDestS: 10.0, NPCDestLane: "34579", NPCDestS: 20.0}
	m := NewMutator(lane.Default(), novelty.NewRegistry(), DefaultMutationConfig(), rng)

	out, stats := m.MutateBatch(scenario.Batch{bad})

	require.Len(t, out, 1)
	require.Equal(t, 1, stats.Forced)
	requireUniqueValid(t, out)
}

func TestMutateUnknownLaneNeverSurvives(t *testing.T) {
	rng := newRNG(9)
	bad := scenario.Params{EgoStartLane: "00000", EgoStartS: 1.0, NPCStartLane: "34600", NPCStartS: 47.5, EgoDestLane: "34630", EgoDestS: 10.0, NPCDestLane: "34579", NPCDestS: 20.0}
	cfg := DefaultMutationConfig()
	cfg.LaneRate = 0 // the unknown id can never be re-rolled away
	m := NewMutator(lane.Default(), novelty.NewRegistry(), cfg, rng)

	out, stats := m.MutateBatch(scenario.Batch{bad})

	require.Len(t, out, 1)
	require.Equal(t, 1, stats.Dropped)
	require.Equal(t, 1, stats.Sampled)
	requireUniqueValid(t, out)
}

func TestMutateRemovesWithinBatchDuplicates(t *testing.T) {
	rng := newRNG(10)
	src := sampleBatch(t, rng, 2)
	batch := scenario.Batch{src[0], src[0], src[1]}
	cfg := DefaultMutationConfig()
	cfg.Rate = 0
	m := NewMutator(lane.Default(), novelty.NewRegistry(), cfg, rng)

	out, stats := m.MutateBatch(batch)

	require.Len(t, out, 3)
	require.Equal(t, 1, stats.Duplicates)
	require.Equal(t, 1, stats.Sampled)
	require.Equal(t, src[0], out[0])
	require.Equal(t, src[1], out[1])
	requireUniqueValid(t, out)
}

func TestMutateKeepsCardinalityWhenNothingCanBeFound(t *testing.T) {
	rng := newRNG(11)
	p := sampleBatch(t, rng, 1)[0]
	cfg := DefaultMutationConfig()
	cfg.Rate = 1
	m := NewMutator(lane.Default(), saturatedRegistry{}, cfg, rng)

	out, stats := m.MutateBatch(scenario.Batch{p, p, p})

	require.Len(t, out, 3)
	require.Equal(t, 2, stats.Padded)
	// only the padded slots repeat
	distinct := map[scenario.Fingerprint]bool{}
	for _, q := range out {
		distinct[q.Fingerprint()] = true
	}
	require.Len(t, distinct, len(out)-stats.Padded)
}

func TestMutateSaturatedRegistryDistinctInputsStayUnique(t *testing.T) {
	rng := newRNG(13)
	src := sampleBatch(t, rng, 3)
	cfg := DefaultMutationConfig()
	cfg.Rate = 1
	m := NewMutator(lane.Default(), saturatedRegistry{}, cfg, rng)

	out, stats := m.MutateBatch(src)

	require.Len(t, out, 3)
	require.Zero(t, stats.Padded)
	require.Equal(t, 3, stats.Fallbacks)
	requireUniqueValid(t, out)
}

func TestMutateCrossoverOffspringStayValid(t *testing.T) {
	rng := newRNG(12)
	reg := novelty.NewRegistry()
	m := NewMutator(lane.Default(), reg, DefaultMutationConfig(), rng)

	a := sampleBatch(t, rng, 10)
	b := sampleBatch(t, rng, 10)
	for gen := 0; gen < 20; gen++ {
		child := Crossover(rng, a, b, 0.5)
		out, _ := m.MutateBatch(child)

		require.Len(t, out, len(child))
		requireUniqueValid(t, out)
		a, b = b, out
	}
}

func TestDeltaMagnitudeFloor(t *testing.T) {
	m := NewMutator(lane.Default(), novelty.NewRegistry(), MutationConfig{
		MaxDelta: 2, MinDelta: 0.5, MaxAttempts: 1,
	}, newRNG(13))

	for i := 0; i < 1000; i++ {
		d := m.delta()
		require.GreaterOrEqual(t, abs(d), 0.5)
		require.LessOrEqual(t, abs(d), 2.0)
	}
}

func TestWithRateSharesRegistry(t *testing.T) {
	reg := novelty.NewRegistry()
	m := NewMutator(lane.Default(), reg, DefaultMutationConfig(), newRNG(14))
	full := m.WithRate(1)

	require.Equal(t, 1.0, full.Config().Rate)
	require.Equal(t, 0.3, m.Config().Rate)
	require.Same(t, m.registry, full.registry)
}

func TestAllRegistered(t *testing.T) {
	rng := newRNG(15)
	batch := sampleBatch(t, rng, 3)
	reg := novelty.NewRegistry()

	require.False(t, AllRegistered(batch, reg))
	reg.Add(batch[0].Fingerprint())
	require.False(t, AllRegistered(batch, reg))
	for _, fp := range batch.Fingerprints() {
		reg.Add(fp)
	}
	require.True(t, AllRegistered(batch, reg))
	require.False(t, AllRegistered(nil, reg))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// #endregion mutation-tests
