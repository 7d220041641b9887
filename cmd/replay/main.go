package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/danielpatrickdp/scenario-miner/internal/replay"
	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to run database (DB mode, requires --run)")
	runID := flag.String("run", "", "run to replay (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	verbose := flag.Bool("v", false, "log engine progress to stderr")
	flag.Parse()

	dbMode := *dbPath != "" || *runID != ""
	if (dbMode && (*dbPath == "" || *runID == "")) || dbMode == (*fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/db --run id")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var logger *slog.Logger
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	f, err := loadFixture(*fixturePath, *dbPath, *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		os.Exit(2)
	}

	s, err := replay.Replay(context.Background(), f, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	os.Exit(printSummary(f, s))
}

// #endregion main

// #region load

func loadFixture(fixturePath, dbPath, runID string) (*replay.Fixture, error) {
	if fixturePath != "" {
		return replay.LoadFixture(fixturePath)
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return replay.FromRun(st, runID)
}

// #endregion load

// #region output

// printSummary outputs per-generation results and returns the exit code.
func printSummary(f *replay.Fixture, s replay.Summary) int {
	if f.Description != "" {
		fmt.Println(f.Description)
		fmt.Println()
	}
	fmt.Printf("%-10s| %-7s| %-7s| %-7s| %-8s| %-9s| %s\n",
		"Generation", "Best", "Mean", "Worst", "Mutated", "Fallbacks", "Registry")
	fmt.Printf("%-10s+%-8s+%-8s+%-8s+%-9s+%-10s+%s\n",
		"----------", "--------", "--------", "--------", "---------", "----------", "---------")
	for _, g := range s.Generations {
		fmt.Printf("%-10d| %-7.3f| %-7.3f| %-7.3f| %-8d| %-9d| %d\n",
			g.Generation, g.Best, g.Mean, g.Worst, g.Stats.Mutated, g.Stats.Fallbacks, g.RegistrySize)
	}

	fmt.Printf("\nSummary: best %.3f, registry %d, %d oracle calls, %d fallbacks, %d padded\n",
		s.BestFitness, s.RegistrySize, s.OracleCalls, s.Stats.Fallbacks, s.Stats.Padded)

	if !s.Passed() {
		for _, msg := range s.Failures {
			fmt.Printf("FAIL: %s\n", msg)
		}
		return 1
	}
	fmt.Println("OK")
	return 0
}

// #endregion output
