package scenario

import (
	"fmt"
	"math"
)

// #region params
// Params is one candidate two-vehicle configuration: where ego and the NPC
// start and where each is routed to. Lane fields are lane ids, S fields are
// longitudinal offsets along that lane. Offsets are stored at ValueDecimals
// but identity is the Fingerprint at FingerprintDecimals, so two Params that
// differ only in the second decimal are the same explored scenario.
type Params struct {
	EgoStartLane string  `json:"ego_start_lane"`
	EgoStartS    float64 `json:"ego_start_s"`
	NPCStartLane string  `json:"npc_start_lane"`
	NPCStartS    float64 `json:"npc_start_s"`
	EgoDestLane  string  `json:"ego_dest_lane"`
	EgoDestS     float64 `json:"ego_dest_s"`
	NPCDestLane  string  `json:"npc_dest_lane"`
	NPCDestS     float64 `json:"npc_dest_s"`
}

// String renders the tuple in field order.
func (p Params) String() string {
	return fmt.Sprintf("(%s, %.2f, %s, %.2f, %s, %.2f, %s, %.2f)",
		p.EgoStartLane, p.EgoStartS, p.NPCStartLane, p.NPCStartS,
		p.EgoDestLane, p.EgoDestS, p.NPCDestLane, p.NPCDestS)
}

// SharesStartLane reports whether ego and NPC start on the same lane.
func (p Params) SharesStartLane() bool {
	return p.EgoStartLane == p.NPCStartLane
}

// #endregion params

// #region batch
// Batch is the ordered set of scenarios evaluated by one oracle call.
// A batch is not modified once it has been handed to an oracle.
type Batch []Params

// Clone returns an independent copy.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	copy(out, b)
	return out
}

// Fingerprints returns the fingerprint of every scenario in order.
func (b Batch) Fingerprints() []Fingerprint {
	out := make([]Fingerprint, len(b))
	for i, p := range b {
		out[i] = p.Fingerprint()
	}
	return out
}

// #endregion batch

// ValueDecimals is the precision offsets are quantized to when the search
// produces them. It matches what the simulator accepts and is finer than
// FingerprintDecimals.
const ValueDecimals = 2

// Quantize rounds v to ValueDecimals places.
func Quantize(v float64) float64 {
	return roundTo(v, ValueDecimals)
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	r := math.Round(v*scale) / scale
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}
