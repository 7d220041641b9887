package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// FingerprintDecimals is the one precision every fingerprint is computed at.
// Offsets closer than this collapse to the same fingerprint, which bounds the
// search space the novelty registry has to cover.
const FingerprintDecimals = 1

// Fingerprint is the canonical identity of a scenario under float noise.
type Fingerprint string

// Short returns the first 12 hex characters, for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Fingerprint computes the canonical fingerprint of p.
func (p Params) Fingerprint() Fingerprint {
	return Fingerprint(hashKey(p.canonicalKey()))
}

// canonicalKey joins lanes and rounded offsets in tuple order.
func (p Params) canonicalKey() string {
	parts := []string{
		p.EgoStartLane, formatS(p.EgoStartS),
		p.NPCStartLane, formatS(p.NPCStartS),
		p.EgoDestLane, formatS(p.EgoDestS),
		p.NPCDestLane, formatS(p.NPCDestS),
	}
	return strings.Join(parts, "-")
}

func formatS(s float64) string {
	return strconv.FormatFloat(roundTo(s, FingerprintDecimals), 'f', FingerprintDecimals, 64)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
