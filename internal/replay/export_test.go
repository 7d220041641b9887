package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/scenario-miner/internal/evolve"
	"github.com/danielpatrickdp/scenario-miner/internal/results"
	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

func TestFromRun_BuildsReplayableFixture(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	src := loadThreeSeeds(t)
	cfgJSON, err := EncodeRunConfig(RunConfig{Config: src.Config})
	if err != nil {
		t.Fatalf("EncodeRunConfig: %v", err)
	}
	run, err := s.CreateRun(store.RunRecord{ConfigJSON: cfgJSON}, src.Seeds)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	extra := src.Seeds[0]
	extra.EgoDestS += 5
	outcomes := []store.Outcome{
		{RunID: run.RunID, Params: extra, ResultType: results.TypeCollision},
		{RunID: run.RunID, Params: extra, ResultType: results.TypeCollision},
		{RunID: run.RunID, Params: src.Seeds[1], ResultType: "timeout"},
	}
	for _, o := range outcomes {
		if err := s.RecordOutcome(o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	f, err := FromRun(s, run.RunID)
	if err != nil {
		t.Fatalf("FromRun: %v", err)
	}
	if f.SourceRun != run.RunID {
		t.Fatalf("expected source run %s, got %s", run.RunID, f.SourceRun)
	}
	if f.Config != src.Config {
		t.Fatalf("config mismatch: %+v vs %+v", f.Config, src.Config)
	}
	if len(f.Seeds) != len(src.Seeds) {
		t.Fatalf("expected %d seeds, got %d", len(src.Seeds), len(f.Seeds))
	}
	// one distinct recorded collision plus the three seeds
	if len(f.Collisions) != 4 {
		t.Fatalf("expected 4 collisions, got %d", len(f.Collisions))
	}

	sum, err := Replay(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if sum.Generations[0].Best != 1.0 {
		t.Fatalf("expected seeded generation to score 1.0, got %f", sum.Generations[0].Best)
	}
}

func TestFromRun_UnknownRun(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	if _, err := FromRun(s, "missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestFromRun_BadConfig(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	run, err := s.CreateRun(store.RunRecord{ConfigJSON: "not json"}, nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := FromRun(s, run.RunID); err == nil {
		t.Fatal("expected error for malformed config_json")
	}
}

func TestEncodeRunConfig_RoundTripsEngineConfig(t *testing.T) {
	cfg := evolve.DefaultConfig()
	rc := RunConfig{Config: FromEngineConfig(cfg, 7)}
	got := rc.Config.ToEngineConfig()
	got.Parallelism = cfg.Parallelism
	if got != cfg {
		t.Fatalf("expected %+v, got %+v", cfg, got)
	}
	if _, err := EncodeRunConfig(rc); err != nil {
		t.Fatalf("EncodeRunConfig: %v", err)
	}
}
