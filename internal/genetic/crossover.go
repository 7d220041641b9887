package genetic

import (
	"math/rand/v2"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// Crossover builds a child batch the length of a. For every scenario slot and
// independently for every field, the value comes from a with probability
// rate and from b otherwise. b is indexed modulo its own length. The child is
// neither validated nor checked for novelty.
func Crossover(rng *rand.Rand, a, b scenario.Batch, rate float64) scenario.Batch {
	child := make(scenario.Batch, len(a))
	if len(b) == 0 {
		copy(child, a)
		return child
	}

	for i := range a {
		pa, pb := a[i], b[i%len(b)]
		child[i] = scenario.Params{
			EgoStartLane: pick(rng, rate, pa.EgoStartLane, pb.EgoStartLane),
			EgoStartS:    pick(rng, rate, pa.EgoStartS, pb.EgoStartS),
			NPCStartLane: pick(rng, rate, pa.NPCStartLane, pb.NPCStartLane),
			NPCStartS:    pick(rng, rate, pa.NPCStartS, pb.NPCStartS),
			EgoDestLane:  pick(rng, rate, pa.EgoDestLane, pb.EgoDestLane),
			EgoDestS:     pick(rng, rate, pa.EgoDestS, pb.EgoDestS),
			NPCDestLane:  pick(rng, rate, pa.NPCDestLane, pb.NPCDestLane),
			NPCDestS:     pick(rng, rate, pa.NPCDestS, pb.NPCDestS),
		}
	}
	return child
}

func pick[T any](rng *rand.Rand, rate float64, a, b T) T {
	if rng.Float64() < rate {
		return a
	}
	return b
}
