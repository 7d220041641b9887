package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/scenario-miner/internal/replay"
	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to run database")
	runID := flag.String("run", "", "run to export")
	outPath := flag.String("out", "", "output fixture JSON path")
	minBest := flag.Float64("min-best", -1, "expected minimum best fitness, -1 uses the run's own best")
	maxFallbacks := flag.Int("max-fallbacks", -1, "expected maximum fallbacks, -1 leaves it unchecked")
	flag.Parse()

	if *dbPath == "" || *runID == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/db --run id --out path/to/fixture.json [--min-best F] [--max-fallbacks N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *runID, *outPath, *minBest, *maxFallbacks); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, runID, outPath string, minBest float64, maxFallbacks int) error {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	f, err := replay.FromRun(st, runID)
	if err != nil {
		return err
	}

	if minBest < 0 {
		stats, err := st.GenerationStats(runID)
		if err != nil {
			return err
		}
		for _, g := range stats {
			minBest = max(minBest, g.Best)
		}
		minBest = max(minBest, 0)
	}
	f.Expected = replay.FixtureExpected{
		MinBestFitness:  minBest,
		MinRegistrySize: len(f.Seeds),
	}
	if maxFallbacks >= 0 {
		f.Expected.MaxFallbacks = &maxFallbacks
	}

	if err := replay.WriteFixture(outPath, f); err != nil {
		return err
	}
	fmt.Printf("Exported run %s: %d seeds, %d collisions -> %s\n",
		runID, len(f.Seeds), len(f.Collisions), outPath)
	return nil
}

// #endregion extract
