package oracle

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/scenario-miner/internal/materialize"
	"github.com/danielpatrickdp/scenario-miner/internal/results"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region helpers
func testBatch() scenario.Batch {
	return scenario.Batch{
		{EgoStartLane: "34408", EgoStartS: 19.0, NPCStartLane: "34600", NPCStartS: 47.5, EgoDestLane: "34630", EgoDestS: 10.0, NPCDestLane: "34579", NPCDestS: 20.0},
		{EgoStartLane: "34576", EgoStartS: 22.1, NPCStartLane: "34976", NPCStartS: 33.3, EgoDestLane: "34564", EgoDestS: 3.0, NPCDestLane: "34621", NPCDestS: 40.0},
		{EgoStartLane: "34981", EgoStartS: 4.0, NPCStartLane: "34408", NPCStartS: 20.0, EgoDestLane: "34579", EgoDestS: 12.5, NPCDestLane: "34630", NPCDestS: 5.5},
		{EgoStartLane: "34600", EgoStartS: 50.0, NPCStartLane: "34576", NPCStartS: 25.0, EgoDestLane: "34621", EgoDestS: 30.0, NPCDestLane: "34564", NPCDestS: 8.0},
	}
}

func testWriter(t *testing.T) *materialize.Writer {
	t.Helper()
	w, err := materialize.NewWriter(filepath.Join("..", "materialize", "testdata", "template.yaml"))
	require.NoError(t, err)
	return w
}

// fakeRunner writes one results row per scenario file, marking the files
// listed in collide as collisions, then returns err. With noOutput it writes
// nothing.
type fakeRunner struct {
	collide   map[int]bool
	omitParam bool
	noOutput  bool
	err       error
	seenDir   string
}

func (r *fakeRunner) Run(_ context.Context, scenarioDir, resultsCSV string) error {
	r.seenDir = scenarioDir
	if r.noOutput {
		return r.err
	}
	entries, err := os.ReadDir(scenarioDir)
	if err != nil {
		return err
	}
	f, err := os.Create(resultsCSV)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := results.NewWriter(f)
	if err != nil {
		return err
	}
	batch := testBatch()
	for i := range entries {
		row := results.Row{ScenarioYAML: filepath.Join(scenarioDir, materialize.FileName(i)), ResultType: results.TypeSuccess}
		if r.collide[i] {
			row.ResultType = results.TypeCollision
			row.CollidedWith = materialize.NPCEntity
		}
		if !r.omitParam {
			row.Params = batch[i]
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return r.err
}

type sinkRecorder struct {
	got map[scenario.Fingerprint]string
}

func (s *sinkRecorder) RecordOutcome(p scenario.Params, resultType string) error {
	if s.got == nil {
		s.got = map[scenario.Fingerprint]string{}
	}
	s.got[p.Fingerprint()] = resultType
	return nil
}

// #endregion helpers

// #region simulator-tests
func TestSimulatorOracleCollisionRate(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{collide: map[int]bool{0: true, 2: true}}
	sink := &sinkRecorder{}
	o := NewSimulatorOracle(testWriter(t), runner, filepath.Join(dir, "scenarios"), filepath.Join(dir, "results"), nil).WithSink(sink)

	fitness, err := o.Evaluate(context.Background(), testBatch())
	require.NoError(t, err)
	require.Equal(t, 0.5, fitness)
	require.Equal(t, filepath.Join(dir, "scenarios"), runner.seenDir)

	require.Len(t, sink.got, 4)
	require.Equal(t, results.TypeCollision, sink.got[testBatch()[0].Fingerprint()])
	require.Equal(t, results.TypeSuccess, sink.got[testBatch()[1].Fingerprint()])
}

func TestSimulatorOracleClearsPreviousBatch(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "scenario_9.yaml"), []byte("stale"), 0o644))

	o := NewSimulatorOracle(testWriter(t), &fakeRunner{}, scenarios, filepath.Join(dir, "results"), nil)
	fitness, err := o.Evaluate(context.Background(), testBatch()[:2])
	require.NoError(t, err)
	require.Equal(t, 0.0, fitness)

	_, err = os.Stat(filepath.Join(scenarios, "scenario_9.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSimulatorOracleMissingResults(t *testing.T) {
	dir := t.TempDir()
	o := NewSimulatorOracle(testWriter(t), &fakeRunner{noOutput: true}, filepath.Join(dir, "s"), filepath.Join(dir, "r"), nil)

	fitness, err := o.Evaluate(context.Background(), testBatch())
	require.ErrorIs(t, err, ErrNoResults)
	require.Equal(t, 0.0, fitness)
}

func TestSimulatorOracleRunnerFailureWithoutResultsIsNoResults(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("simulator crashed")
	o := NewSimulatorOracle(testWriter(t), &fakeRunner{err: boom, noOutput: true}, filepath.Join(dir, "s"), filepath.Join(dir, "r"), nil)

	fitness, err := o.Evaluate(context.Background(), testBatch())
	require.ErrorIs(t, err, ErrNoResults)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0.0, fitness)
}

func TestSimulatorOracleScoresResultsOfFailingRunner(t *testing.T) {
	dir := t.TempDir()
	sink := &sinkRecorder{}
	runner := &fakeRunner{collide: map[int]bool{0: true, 1: true, 2: true, 3: true}, err: errors.New("exit status 1")}
	o := NewSimulatorOracle(testWriter(t), runner, filepath.Join(dir, "s"), filepath.Join(dir, "r"), nil).WithSink(sink)

	fitness, err := o.Evaluate(context.Background(), testBatch())
	require.NoError(t, err)
	require.Equal(t, 1.0, fitness)
	require.Len(t, sink.got, 4)
}

func TestSimulatorOracleRunnerCanceled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{err: context.Canceled}
	o := NewSimulatorOracle(testWriter(t), runner, filepath.Join(dir, "s"), filepath.Join(dir, "r"), nil)

	_, err := o.Evaluate(ctx, testBatch())
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrNoResults)
}

func TestSimulatorOracleAttributesByFileIndex(t *testing.T) {
	dir := t.TempDir()
	sink := &sinkRecorder{}
	runner := &fakeRunner{collide: map[int]bool{3: true}, omitParam: true}
	o := NewSimulatorOracle(testWriter(t), runner, filepath.Join(dir, "s"), filepath.Join(dir, "r"), nil).WithSink(sink)

	fitness, err := o.Evaluate(context.Background(), testBatch())
	require.NoError(t, err)
	require.Equal(t, 0.25, fitness)
	require.Equal(t, results.TypeCollision, sink.got[testBatch()[3].Fingerprint()])
}

// #endregion simulator-tests

// #region exec-tests
func TestExecRunnerExpandsPlaceholders(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "results.csv")
	r := ExecRunner{Command: "sh", Args: []string{"-c", `printf '%s' "$0" > "$1"`, ScenarioDirPlaceholder, ResultsCSVPlaceholder}}

	require.NoError(t, r.Run(context.Background(), "/tmp/scenarios", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "/tmp/scenarios", string(data))
}

func TestExecRunnerFailureIncludesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := ExecRunner{Command: "sh", Args: []string{"-c", "echo carla unreachable; exit 3"}}
	err := r.Run(context.Background(), "a", "b")
	require.Error(t, err)
	require.Contains(t, err.Error(), "carla unreachable")
}

func TestSimulatorOracleScoresNonZeroExit(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := `printf 'scenario_yaml,result_type\nscenario_0.yaml,collision\nscenario_1.yaml,collision\n' > "$1"; exit 1`
	r := ExecRunner{Command: "sh", Args: []string{"-c", script, "sh", ResultsCSVPlaceholder}}
	o := NewSimulatorOracle(testWriter(t), r, filepath.Join(dir, "s"), filepath.Join(dir, "r"), nil)

	fitness, err := o.Evaluate(context.Background(), testBatch()[:2])
	require.NoError(t, err)
	require.Equal(t, 1.0, fitness)
}

func TestExecRunnerRequiresCommand(t *testing.T) {
	require.Error(t, ExecRunner{}.Run(context.Background(), "a", "b"))
}

// #endregion exec-tests

// #region grpc-tests
func dialBufconn(t *testing.T, impl Oracle) *GRPCOracle {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterOracleServer(srv, impl, nil)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewGRPCOracleWithConn(conn)
}

func TestGRPCOracleRoundTrip(t *testing.T) {
	var received scenario.Batch
	impl := Func(func(_ context.Context, b scenario.Batch) (float64, error) {
		received = b
		return 0.75, nil
	})
	client := dialBufconn(t, impl)

	fitness, err := client.Evaluate(context.Background(), testBatch())
	require.NoError(t, err)
	require.Equal(t, 0.75, fitness)
	require.Equal(t, testBatch(), received)
}

func TestGRPCOracleNoResultsMapsToSentinel(t *testing.T) {
	impl := Func(func(context.Context, scenario.Batch) (float64, error) {
		return 0, ErrNoResults
	})
	client := dialBufconn(t, impl)

	_, err := client.Evaluate(context.Background(), testBatch())
	require.ErrorIs(t, err, ErrNoResults)
}

func TestGRPCOracleInternalErrorSurfaces(t *testing.T) {
	impl := Func(func(context.Context, scenario.Batch) (float64, error) {
		return 0, errors.New("runner exploded")
	})
	client := dialBufconn(t, impl)

	_, err := client.Evaluate(context.Background(), testBatch())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoResults)
	require.Contains(t, err.Error(), "runner exploded")
}

func TestDecodeBatchRejectsMistypedFields(t *testing.T) {
	lv, err := structpb.NewList([]any{map[string]any{fieldEgoStartLane: 34408.0}})
	require.NoError(t, err)
	_, err = DecodeBatch(lv)
	require.ErrorContains(t, err, fieldEgoStartLane)

	lv, err = structpb.NewList([]any{"not a scenario"})
	require.NoError(t, err)
	_, err = DecodeBatch(lv)
	require.Error(t, err)
}

func TestGRPCOracleCloseWithoutOwnConn(t *testing.T) {
	require.NoError(t, NewGRPCOracleWithConn(nil).Close())
}

// #endregion grpc-tests

// #region recorded-tests
func TestRecordedOracle(t *testing.T) {
	b := testBatch()
	o := NewRecordedOracle([]scenario.Params{b[1], b[3], b[3]})
	require.Equal(t, 2, o.Known())

	fitness, err := o.Evaluate(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 0.5, fitness)
	require.Equal(t, 1, o.Calls())

	_, err = o.Evaluate(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoResults)
}

func TestRecordedOracleHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRecordedOracle(nil).Evaluate(ctx, testBatch())
	require.ErrorIs(t, err, context.Canceled)
}

// #endregion recorded-tests
