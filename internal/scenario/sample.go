package scenario

import (
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
)

// spawnWindow is how far back from the end of a start lane vehicles spawn,
// keeping both close to the intersection.
const spawnWindow = 5.0

// Sample draws a random valid scenario. Ego picks any start lane, the NPC
// picks a different one when the table allows it, and both spawn within
// spawnWindow of their lane's end. Destinations are uniform.
func Sample(rng *rand.Rand, tables *lane.Tables) Params {
	starts := tables.StartIDs()
	dests := tables.DestIDs()

	egoLane := starts[rng.IntN(len(starts))]
	npcLane := egoLane
	if len(starts) > 1 {
		others := make([]string, 0, len(starts)-1)
		for _, id := range starts {
			if id != egoLane {
				others = append(others, id)
			}
		}
		npcLane = others[rng.IntN(len(others))]
	}

	egoDest := dests[rng.IntN(len(dests))]
	npcDest := dests[rng.IntN(len(dests))]

	// Lanes come from the tables themselves, lookups cannot fail.
	egoB, _ := tables.LookupStart(egoLane)
	npcB, _ := tables.LookupStart(npcLane)
	egoDB, _ := tables.LookupDest(egoDest)
	npcDB, _ := tables.LookupDest(npcDest)

	return Params{
		EgoStartLane: egoLane,
		EgoStartS:    uniform(rng, math.Max(egoB.Max-spawnWindow, egoB.Min), egoB.Max),
		NPCStartLane: npcLane,
		NPCStartS:    uniform(rng, math.Max(npcB.Max-spawnWindow, npcB.Min), npcB.Max),
		EgoDestLane:  egoDest,
		EgoDestS:     uniform(rng, egoDB.Min, egoDB.Max),
		NPCDestLane:  npcDest,
		NPCDestS:     uniform(rng, npcDB.Min, npcDB.Max),
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	v := Quantize(lo + rng.Float64()*(hi-lo))
	return math.Min(math.Max(v, lo), hi)
}
