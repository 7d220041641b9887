package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/danielpatrickdp/scenario-miner/internal/logging"
	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to run database")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	decisions := flag.Bool("decisions", false, "include the provenance log in run detail")
	plotPath := flag.String("plot", "", "write a best/average fitness plot of --run to this PNG")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" || (*plotPath != "" && *runID == "") {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/scenario_miner.db [--last N] [--run id [--decisions] [--plot out.png]] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *runID != "" {
		err = runDetailMode(st, *runID, *decisions, *plotPath, *jsonOut)
	} else {
		err = runListMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID       string  `json:"run_id"`
	ParentRun   string  `json:"parent_run,omitempty"`
	Status      string  `json:"status"`
	Seeds       int     `json:"seeds"`
	Generations int     `json:"generations"`
	BestFitness float64 `json:"best_fitness"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at,omitempty"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// store returns newest first, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		stats, err := st.GenerationStats(r.RunID)
		if err != nil {
			return err
		}
		lr := listRow{
			RunID:       r.RunID,
			ParentRun:   r.ParentRun,
			Status:      r.Status,
			Seeds:       r.SeedCount,
			Generations: len(stats),
			StartedAt:   r.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
		for _, g := range stats {
			lr.BestFitness = max(lr.BestFitness, g.Best)
		}
		if !r.FinishedAt.IsZero() {
			lr.FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z")
		}
		rows[len(runs)-1-i] = lr
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-12s  %-8s  %5s  %4s  %6s  %s\n",
		"Run", "Parent", "Status", "Seeds", "Gens", "Best", "Started")
	fmt.Printf("%-12s+-%-12s+-%-8s+-%5s+-%4s+-%6s+-%s\n",
		"------------", "------------", "--------", "-----", "----", "------", "--------------------")
	for _, r := range rows {
		parent := "-"
		if r.ParentRun != "" {
			parent = shortID(r.ParentRun)
		}
		fmt.Printf("%-12s  %-12s  %-8s  %5d  %4d  %6.3f  %s\n",
			shortID(r.RunID), parent, r.Status, r.Seeds, r.Generations, r.BestFitness, r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunID        string                  `json:"run_id"`
	ParentRun    string                  `json:"parent_run,omitempty"`
	Status       string                  `json:"status"`
	Seeds        int                     `json:"seeds"`
	Config       json.RawMessage         `json:"config,omitempty"`
	Fingerprints int                     `json:"fingerprints"`
	Outcomes     map[string]int          `json:"outcomes"`
	Generations  []store.GenerationStats `json:"generations"`
	Batches      []batchRow              `json:"batches"`
	Decisions    []decisionRow           `json:"decisions,omitempty"`
}

type batchRow struct {
	BatchID    string   `json:"batch_id"`
	Generation int      `json:"generation"`
	Member     int      `json:"member"`
	Scenarios  int      `json:"scenarios"`
	Fitness    *float64 `json:"fitness,omitempty"`
	Dir        string   `json:"dir,omitempty"`
}

type decisionRow struct {
	Generation int             `json:"generation"`
	Trigger    string          `json:"trigger"`
	Decision   string          `json:"decision"`
	Reason     string          `json:"reason,omitempty"`
	Signals    json.RawMessage `json:"signals,omitempty"`
}

func runDetailMode(st *store.Store, runID string, withDecisions bool, plotPath string, jsonOut bool) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	stats, err := st.GenerationStats(runID)
	if err != nil {
		return err
	}
	batches, err := st.Batches(runID)
	if err != nil {
		return err
	}
	fps, err := st.Fingerprints(runID)
	if err != nil {
		return err
	}
	outcomes, err := st.Outcomes(runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		RunID:        run.RunID,
		ParentRun:    run.ParentRun,
		Status:       run.Status,
		Seeds:        run.SeedCount,
		Fingerprints: len(fps),
		Outcomes:     map[string]int{},
		Generations:  stats,
	}
	if json.Valid([]byte(run.ConfigJSON)) {
		out.Config = json.RawMessage(run.ConfigJSON)
	}
	for _, o := range outcomes {
		out.Outcomes[o.ResultType]++
	}
	for _, b := range batches {
		out.Batches = append(out.Batches, batchRow{
			BatchID:    b.BatchID,
			Generation: b.Generation,
			Member:     b.Member,
			Scenarios:  len(b.Params),
			Fitness:    b.Fitness,
			Dir:        b.Dir,
		})
	}
	if withDecisions {
		entries, err := logging.ListDecisions(st.DB(), runID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			dr := decisionRow{Generation: e.Generation, Trigger: e.TriggerType, Decision: e.Decision, Reason: e.Reason}
			if json.Valid([]byte(e.SignalsJSON)) {
				dr.Signals = json.RawMessage(e.SignalsJSON)
			}
			out.Decisions = append(out.Decisions, dr)
		}
	}

	if plotPath != "" {
		if err := plotFitness(stats, "Run "+shortID(runID), plotPath); err != nil {
			return fmt.Errorf("plot: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", plotPath)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:          %s\n", out.RunID)
	if out.ParentRun != "" {
		fmt.Printf("Parent:       %s\n", out.ParentRun)
	}
	fmt.Printf("Status:       %s\n", out.Status)
	fmt.Printf("Seeds:        %d\n", out.Seeds)
	fmt.Printf("Fingerprints: %d\n", out.Fingerprints)
	for _, rt := range sortedKeys(out.Outcomes) {
		fmt.Printf("  %-16s %d\n", rt, out.Outcomes[rt])
	}

	fmt.Printf("\n%-10s  %7s  %6s  %6s  %6s\n", "Generation", "Members", "Best", "Avg", "Worst")
	fmt.Printf("%-10s+-%7s+-%6s+-%6s+-%6s\n", "----------", "-------", "------", "------", "------")
	for _, g := range stats {
		fmt.Printf("%-10d  %7d  %6.3f  %6.3f  %6.3f\n", g.Generation, g.Members, g.Best, g.Average, g.Worst)
	}

	fmt.Printf("\n%-12s  %3s  %6s  %9s  %7s  %s\n", "Batch", "Gen", "Member", "Scenarios", "Fitness", "Dir")
	for _, b := range out.Batches {
		fitness := "-"
		if b.Fitness != nil {
			fitness = fmt.Sprintf("%.3f", *b.Fitness)
		}
		fmt.Printf("%-12s  %3d  %6d  %9d  %7s  %s\n",
			shortID(b.BatchID), b.Generation, b.Member, b.Scenarios, fitness, b.Dir)
	}

	if withDecisions {
		fmt.Printf("\n%3s  %-10s  %-9s  %s\n", "Gen", "Trigger", "Decision", "Reason")
		for _, d := range out.Decisions {
			fmt.Printf("%3d  %-10s  %-9s  %s\n", d.Generation, d.Trigger, d.Decision, d.Reason)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// #endregion output
