package results

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
	"github.com/stretchr/testify/require"
)

const sample = `scenario_yaml,collision,result_type,collided_with,failure_message,ego_start_lane,ego_start_s,ego_dest_lane,ego_dest_s,npc_start_lane,npc_start_s,npc_dest_lane,npc_dest_s
/a/scenario_0.yaml,True,collision,Npc1,colliding with another given entity Npc1,34408,19.0,34630,10.0,34600,47.5,34579,20.0
/a/scenario_1.yaml,False,success,,,34576,22.1,34564,3.0,34976,33.3,34621,40.0
/a/scenario_2.yaml,False,timeout,,simulation time greater than 60,34576,22.1,34564,3.0,34976,33.3,34621,40.0
/a/scenario_3.yaml,True, Collision ,Npc1,,34408,,34630,10.0,34600,47.5,34579,20.0
`

func TestReadParsesRows(t *testing.T) {
	rows, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	require.True(t, rows[0].IsCollision())
	require.Equal(t, "Npc1", rows[0].CollidedWith)
	require.NoError(t, rows[0].ParamsErr)
	require.Equal(t, scenario.Params{EgoStartLane: "34408", EgoStartS: 19.0, NPCStartLane: "34600", NPCStartS: 47.5, EgoDestLane: "34630", EgoDestS: 10.0, NPCDestLane: "34579", NPCDestS: 20.0}, rows[0].Params)

	require.False(t, rows[1].IsCollision())
	require.True(t, rows[3].IsCollision())
	require.Error(t, rows[3].ParamsErr)
}

func TestCollisionRate(t *testing.T) {
	rows, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	require.Equal(t, 0.5, CollisionRate(rows))
	require.Equal(t, 0.0, CollisionRate(nil))
}

func TestCollisionParamsSkipsUnparseable(t *testing.T) {
	rows, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	seeds, skipped := CollisionParams(rows)
	require.Len(t, seeds, 1)
	require.Equal(t, 1, skipped)
}

func TestReadEmptyInput(t *testing.T) {
	rows, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	p := scenario.Params{EgoStartLane: "34408", EgoStartS: 19.25, NPCStartLane: "34600", NPCStartS: 47.5, EgoDestLane: "34630", EgoDestS: 10.0, NPCDestLane: "34579", NPCDestS: 20.0}
	require.NoError(t, w.Write(Row{ScenarioYAML: "s.yaml", ResultType: TypeCollision, Params: p}))
	require.NoError(t, w.Write(Row{ScenarioYAML: "t.yaml", ResultType: TypeSuccess, Params: p}))
	require.NoError(t, w.Flush())

	rows, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, p, rows[0].Params)
	require.Equal(t, 0.5, CollisionRate(rows))
}

func TestLoadCollisionSeedsDropsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	outOfBounds := "/a/scenario_4.yaml,True,collision,Npc1,,34408,99.0,34630,10.0,34600,47.5,34579,20.0\n"
	require.NoError(t, os.WriteFile(path, []byte(sample+outOfBounds), 0o644))

	seeds, report, err := LoadCollisionSeeds(path, lane.Default())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	require.Equal(t, "34408", seeds[0].EgoStartLane)
	require.Equal(t, SeedReport{Rows: 5, Collisions: 3, Unparsed: 1, Invalid: 1}, report)
}

func TestLoadCollisionSeedsMissingFile(t *testing.T) {
	_, _, err := LoadCollisionSeeds(filepath.Join(t.TempDir(), "none.csv"), lane.Default())
	require.ErrorIs(t, err, os.ErrNotExist)
}
