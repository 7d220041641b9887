package lane

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownLane is returned when a lane id has no entry in the relevant table.
var ErrUnknownLane = errors.New("unknown lane id")

// #region bounds
// Bounds is the valid longitudinal offset range [Min, Max] of a lane.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether s lies within the bounds (inclusive).
func (b Bounds) Contains(s float64) bool {
	return s >= b.Min && s <= b.Max
}

// Clamp pulls s into [Min, Max].
func (b Bounds) Clamp(s float64) float64 {
	if s < b.Min {
		return b.Min
	}
	if s > b.Max {
		return b.Max
	}
	return s
}

// #endregion bounds

// #region tables
// Tables maps start and destination lane ids to their valid offset ranges.
// A Tables value is never mutated after construction.
type Tables struct {
	start map[string]Bounds
	dest  map[string]Bounds

	startIDs []string
	destIDs  []string
}

// NewTables copies the given mappings. Both must be non-empty and every
// range must satisfy Min <= Max.
func NewTables(start, dest map[string]Bounds) (*Tables, error) {
	if len(start) == 0 {
		return nil, errors.New("start lane table is empty")
	}
	if len(dest) == 0 {
		return nil, errors.New("destination lane table is empty")
	}

	t := &Tables{
		start: make(map[string]Bounds, len(start)),
		dest:  make(map[string]Bounds, len(dest)),
	}
	for id, b := range start {
		if b.Min > b.Max {
			return nil, fmt.Errorf("start lane %s: min %.2f > max %.2f", id, b.Min, b.Max)
		}
		t.start[id] = b
		t.startIDs = append(t.startIDs, id)
	}
	for id, b := range dest {
		if b.Min > b.Max {
			return nil, fmt.Errorf("destination lane %s: min %.2f > max %.2f", id, b.Min, b.Max)
		}
		t.dest[id] = b
		t.destIDs = append(t.destIDs, id)
	}
	// Sorted ids keep random choices reproducible under a seeded rng.
	sort.Strings(t.startIDs)
	sort.Strings(t.destIDs)
	return t, nil
}

// DefaultStartLanes returns the start lanes of the intersection map the
// search was built for.
func DefaultStartLanes() map[string]Bounds {
	return map[string]Bounds{
		"34408": {0, 24.0},
		"34600": {0, 52.5},
		"34576": {0, 27.0},
		"34981": {0, 8.4}, // short lane
		"34976": {0, 36.0},
	}
}

// DefaultDestLanes returns the destination lanes of the default map.
func DefaultDestLanes() map[string]Bounds {
	return map[string]Bounds{
		"34630": {0, 27.0},
		"34579": {0, 52.5},
		"34564": {0, 24.5},
		"34621": {0, 49.5},
	}
}

// Default returns the tables for the default map.
func Default() *Tables {
	t, err := NewTables(DefaultStartLanes(), DefaultDestLanes())
	if err != nil {
		panic(err)
	}
	return t
}

// #endregion tables

// #region lookup
// LookupStart returns the bounds of a start lane.
func (t *Tables) LookupStart(id string) (Bounds, error) {
	b, ok := t.start[id]
	if !ok {
		return Bounds{}, fmt.Errorf("start lane %q: %w", id, ErrUnknownLane)
	}
	return b, nil
}

// LookupDest returns the bounds of a destination lane.
func (t *Tables) LookupDest(id string) (Bounds, error) {
	b, ok := t.dest[id]
	if !ok {
		return Bounds{}, fmt.Errorf("destination lane %q: %w", id, ErrUnknownLane)
	}
	return b, nil
}

// StartIDs returns the sorted start lane ids. The slice must not be modified.
func (t *Tables) StartIDs() []string { return t.startIDs }

// DestIDs returns the sorted destination lane ids. The slice must not be modified.
func (t *Tables) DestIDs() []string { return t.destIDs }

// #endregion lookup
