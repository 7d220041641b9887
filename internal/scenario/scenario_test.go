package scenario

import (
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/stretchr/testify/require"
)

func seedParams() Params {
	return Params{"34408", 19.0, "34600", 47.5, "34630", 10.0, "34579", 20.0}
}

func TestFingerprintIsStable(t *testing.T) {
	p := seedParams()
	require.Equal(t, p.Fingerprint(), p.Fingerprint())
	require.Len(t, string(p.Fingerprint()), 64)
}

func TestFingerprintCollapsesBelowPrecision(t *testing.T) {
	a := seedParams()
	b := a
	b.EgoStartS = 19.02
	b.NPCDestS = 19.97

	require.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestQuantizedValuesShareFingerprint(t *testing.T) {
	a := seedParams()
	b := a
	a.EgoStartS = Quantize(19.014)
	b.EgoStartS = Quantize(19.038)

	require.NotEqual(t, a, b)
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintSeparatesAbovePrecision(t *testing.T) {
	a := seedParams()
	b := a
	b.EgoStartS = 19.2
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := a
	c.EgoDestLane = "34564"
	require.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestCanonicalKey(t *testing.T) {
	require.Equal(t,
		"34408-19.0-34600-47.5-34630-10.0-34579-20.0",
		seedParams().canonicalKey(),
	)

	p := seedParams()
	p.EgoStartS = -0.01
	require.Equal(t, "34408-0.0-34600-47.5-34630-10.0-34579-20.0", p.canonicalKey())
}

func TestBatchHelpers(t *testing.T) {
	b := Batch{seedParams(), seedParams()}
	c := b.Clone()
	c[0].EgoStartS = 1

	require.Equal(t, 19.0, b[0].EgoStartS)
	require.Equal(t, b[0].Fingerprint(), b.Fingerprints()[1])
	require.Nil(t, Batch(nil).Clone())
}

func TestQuantize(t *testing.T) {
	require.Equal(t, 1.23, Quantize(1.234))
	require.Equal(t, 0.0, Quantize(-0.001))
}

func TestValidate(t *testing.T) {
	tables := lane.Default()
	require.NoError(t, Validate(seedParams(), tables))

	bad := seedParams()
	bad.EgoStartLane = "99999"
	require.ErrorIs(t, Validate(bad, tables), lane.ErrUnknownLane)

	bad = seedParams()
	bad.EgoStartS = 24.5
	require.Error(t, Validate(bad, tables))

	bad = seedParams()
	bad.NPCDestLane = "34408" // start lane used as destination
	require.ErrorIs(t, Validate(bad, tables), lane.ErrUnknownLane)

	bad = seedParams()
	bad.NPCStartLane = bad.EgoStartLane
	bad.NPCStartS = 20.0
	require.ErrorIs(t, Validate(bad, tables), ErrStartOverlap)

	ok := seedParams()
	ok.NPCStartLane = ok.EgoStartLane
	ok.NPCStartS = 5.0
	require.NoError(t, Validate(ok, tables))
}

func TestSampleProducesValidScenarios(t *testing.T) {
	tables := lane.Default()
	rng := rand.New(rand.NewPCG(7, 7))

	for i := 0; i < 500; i++ {
		p := Sample(rng, tables)
		require.NoError(t, Validate(p, tables), p.String())
		require.NotEqual(t, p.EgoStartLane, p.NPCStartLane)

		b, _ := tables.LookupStart(p.EgoStartLane)
		require.GreaterOrEqual(t, p.EgoStartS, b.Max-spawnWindow)
	}
}
