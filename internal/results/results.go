package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/scenario-miner/internal/lane"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// Result types written by the simulator result parser.
const (
	TypeCollision  = "collision"
	TypeSuccess    = "success"
	TypeTimeout    = "timeout"
	TypeStandstill = "standstill"
	TypeUnknown    = "unknown_failure"
	TypeParseError = "parse_error"
)

// Header is the column layout of a results CSV.
var Header = []string{
	"scenario_yaml", "collision", "result_type", "collided_with", "failure_message",
	"ego_start_lane", "ego_start_s", "ego_dest_lane", "ego_dest_s",
	"npc_start_lane", "npc_start_s", "npc_dest_lane", "npc_dest_s",
}

// #region row
// Row is one simulated scenario outcome.
type Row struct {
	ScenarioYAML   string
	ResultType     string
	CollidedWith   string
	FailureMessage string

	// Params is valid only when ParamsErr is nil.
	Params    scenario.Params
	ParamsErr error
}

// IsCollision reports whether the run ended in a collision.
func (r Row) IsCollision() bool {
	return IsCollisionType(r.ResultType)
}

// IsCollisionType reports whether a result_type value denotes a collision.
func IsCollisionType(resultType string) bool {
	return strings.EqualFold(strings.TrimSpace(resultType), TypeCollision)
}

// #endregion row

// #region read
// Read parses a results CSV. Columns are located by header name, so extra or
// reordered columns are tolerated.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(head))
	for i, h := range head {
		col[strings.TrimSpace(h)] = i
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		row := Row{
			ScenarioYAML:   get(rec, "scenario_yaml"),
			ResultType:     get(rec, "result_type"),
			CollidedWith:   get(rec, "collided_with"),
			FailureMessage: get(rec, "failure_message"),
		}
		row.Params, row.ParamsErr = parseParams(func(name string) string { return get(rec, name) })
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadFile parses the results CSV at path.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

func parseParams(get func(string) string) (scenario.Params, error) {
	var p scenario.Params
	var err error

	p.EgoStartLane = get("ego_start_lane")
	p.NPCStartLane = get("npc_start_lane")
	p.EgoDestLane = get("ego_dest_lane")
	p.NPCDestLane = get("npc_dest_lane")
	if p.EgoStartLane == "" || p.NPCStartLane == "" || p.EgoDestLane == "" || p.NPCDestLane == "" {
		return p, errors.New("missing lane id")
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"ego_start_s", &p.EgoStartS},
		{"npc_start_s", &p.NPCStartS},
		{"ego_dest_s", &p.EgoDestS},
		{"npc_dest_s", &p.NPCDestS},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(get(f.name), 64); err != nil {
			return p, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return p, nil
}

// #endregion read

// #region fitness
// CollisionRate returns collisions over total rows, 0 for no rows.
func CollisionRate(rows []Row) float64 {
	if len(rows) == 0 {
		return 0
	}
	collisions := 0
	for _, r := range rows {
		if r.IsCollision() {
			collisions++
		}
	}
	return float64(collisions) / float64(len(rows))
}

// CollisionParams returns the parameters of every collision row that parsed
// cleanly, in file order, plus the number of collision rows skipped.
func CollisionParams(rows []Row) ([]scenario.Params, int) {
	var out []scenario.Params
	skipped := 0
	for _, r := range rows {
		if !r.IsCollision() {
			continue
		}
		if r.ParamsErr != nil {
			skipped++
			continue
		}
		out = append(out, r.Params)
	}
	return out, skipped
}

// SeedReport counts what LoadCollisionSeeds kept and why it dropped rows.
type SeedReport struct {
	Rows       int
	Collisions int
	Unparsed   int
	Invalid    int
}

// LoadCollisionSeeds reads the collision scenarios of a results CSV. Rows
// whose parameters do not parse or violate tables are dropped and counted.
func LoadCollisionSeeds(path string, tables *lane.Tables) ([]scenario.Params, SeedReport, error) {
	rows, err := ReadFile(path)
	if err != nil {
		return nil, SeedReport{}, err
	}
	params, unparsed := CollisionParams(rows)
	report := SeedReport{Rows: len(rows), Collisions: len(params) + unparsed, Unparsed: unparsed}

	seeds := make([]scenario.Params, 0, len(params))
	for _, p := range params {
		if scenario.Validate(p, tables) != nil {
			report.Invalid++
			continue
		}
		seeds = append(seeds, p)
	}
	return seeds, report, nil
}

// #endregion fitness

// #region write
// Writer appends rows in the Header layout. Used by runners and tests that
// produce results files.
type Writer struct {
	w *csv.Writer
}

// NewWriter writes the header immediately.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return nil, err
	}
	return &Writer{w: cw}, nil
}

// Write appends one row.
func (w *Writer) Write(r Row) error {
	p := r.Params
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return w.w.Write([]string{
		r.ScenarioYAML, strconv.FormatBool(r.IsCollision()), r.ResultType, r.CollidedWith, r.FailureMessage,
		p.EgoStartLane, f(p.EgoStartS), p.EgoDestLane, f(p.EgoDestS),
		p.NPCStartLane, f(p.NPCStartS), p.NPCDestLane, f(p.NPCDestS),
	})
}

// Flush flushes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// #endregion write
