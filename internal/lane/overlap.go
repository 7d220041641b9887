package lane

// Vehicle dimensions in the simulator's length units.
const (
	EgoLength     = 4.77
	NPCLength     = 4.0
	OverlapBuffer = 1.0
)

// Overlaps treats each vehicle as the interval [s, s+length] and reports
// whether the two intervals come closer than buffer.
func Overlaps(s1, len1, s2, len2, buffer float64) bool {
	rear1, front1 := s1, s1+len1
	rear2, front2 := s2, s2+len2
	return !(front1+buffer < rear2 || front2+buffer < rear1)
}

// StartOverlap reports whether ego and NPC placed at the given offsets on the
// same start lane would overlap.
func StartOverlap(egoS, npcS float64) bool {
	return Overlaps(egoS, EgoLength, npcS, NPCLength, OverlapBuffer)
}
