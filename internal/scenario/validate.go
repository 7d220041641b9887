package scenario

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
)

// ErrStartOverlap is returned when ego and NPC share a start lane and their
// start positions overlap.
var ErrStartOverlap = errors.New("ego and npc start positions overlap")

// Validate checks every lane id against the tables, every offset against its
// lane's bounds, and the start overlap rule.
func Validate(p Params, tables *lane.Tables) error {
	checks := []struct {
		field  string
		lookup func(string) (lane.Bounds, error)
		id     string
		s      float64
	}{
		{"ego_start", tables.LookupStart, p.EgoStartLane, p.EgoStartS},
		{"npc_start", tables.LookupStart, p.NPCStartLane, p.NPCStartS},
		{"ego_dest", tables.LookupDest, p.EgoDestLane, p.EgoDestS},
		{"npc_dest", tables.LookupDest, p.NPCDestLane, p.NPCDestS},
	}
	for _, c := range checks {
		b, err := c.lookup(c.id)
		if err != nil {
			return fmt.Errorf("%s: %w", c.field, err)
		}
		if !b.Contains(c.s) {
			return fmt.Errorf("%s: s %.2f outside [%.2f, %.2f] of lane %s", c.field, c.s, b.Min, b.Max, c.id)
		}
	}
	if p.SharesStartLane() && lane.StartOverlap(p.EgoStartS, p.NPCStartS) {
		return fmt.Errorf("lane %s at s %.2f/%.2f: %w", p.EgoStartLane, p.EgoStartS, p.NPCStartS, ErrStartOverlap)
	}
	return nil
}
