package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/scenario-miner/internal/config"
	"github.com/danielpatrickdp/scenario-miner/internal/evolve"
	"github.com/danielpatrickdp/scenario-miner/internal/materialize"
	"github.com/danielpatrickdp/scenario-miner/internal/metrics"
	"github.com/danielpatrickdp/scenario-miner/internal/novelty"
	"github.com/danielpatrickdp/scenario-miner/internal/oracle"
	"github.com/danielpatrickdp/scenario-miner/internal/replay"
	"github.com/danielpatrickdp/scenario-miner/internal/results"
	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

// #region main

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	dbPath := flag.String("db", "", "path to run database")
	seedCSV := flag.String("seed-csv", "", "results CSV whose collisions seed the run")
	template := flag.String("template", "", "OpenSCENARIO YAML template")
	workDir := flag.String("work-dir", "", "scratch and archive directory")
	oracleAddr := flag.String("oracle", "", "remote oracle address; empty runs the simulator locally")
	generations := flag.Int("generations", 0, "generations to run")
	pop := flag.Int("pop", 0, "population size")
	batch := flag.Int("batch", 0, "scenarios per batch")
	parallelism := flag.Int("parallelism", 0, "concurrent oracle evaluations")
	seed := flag.Uint64("seed", 0, "random seed, 0 picks one")
	resume := flag.String("resume", "", "run ID whose explored fingerprints are preloaded")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flag.Parse()

	if flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "usage: evolve [--config path] [--db path] [--seed-csv path] [--oracle addr] [--resume run-id] ...")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	// explicitly set flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DBPath = *dbPath
		case "seed-csv":
			cfg.SeedCSV = *seedCSV
		case "template":
			cfg.TemplatePath = *template
		case "work-dir":
			cfg.WorkDir = *workDir
		case "oracle":
			cfg.OracleAddr = *oracleAddr
		case "generations":
			cfg.Evolution.Generations = *generations
		case "pop":
			cfg.Evolution.PopulationSize = *pop
		case "batch":
			cfg.Evolution.ScenariosPerBatch = *batch
		case "parallelism":
			cfg.Evolution.Parallelism = *parallelism
		case "seed":
			cfg.Evolution.RandomSeed = *seed
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *resume, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region run

func run(ctx context.Context, cfg config.Config, resume string, logger *slog.Logger) error {
	tables, err := cfg.Tables()
	if err != nil {
		return fmt.Errorf("lane tables: %w", err)
	}

	seeds, report, err := results.LoadCollisionSeeds(cfg.SeedCSV, tables)
	if err != nil {
		return err
	}
	logger.Info("seeds loaded", "csv", cfg.SeedCSV,
		"rows", report.Rows, "collisions", report.Collisions,
		"unparsed", report.Unparsed, "invalid", report.Invalid, "usable", len(seeds))

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	seed := cfg.Evolution.RandomSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	engineCfg := cfg.EngineConfig()
	runCfg := replay.RunConfig{Config: replay.FromEngineConfig(engineCfg, seed)}
	if len(cfg.Lanes.Start) > 0 || len(cfg.Lanes.Dest) > 0 {
		runCfg.Lanes = &replay.FixtureLanes{Start: cfg.Lanes.Start, Dest: cfg.Lanes.Dest}
	}
	cfgJSON, err := replay.EncodeRunConfig(runCfg)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}

	rec, err := st.CreateRun(store.RunRecord{ParentRun: resume, ConfigJSON: cfgJSON}, seeds)
	if err != nil {
		return err
	}
	logger = logger.With("run", rec.RunID)

	registry, err := openRegistry(st, rec.RunID, resume, logger)
	if err != nil {
		return finish(st, rec.RunID, err, logger)
	}

	writer, err := materialize.NewWriter(cfg.TemplatePath)
	if err != nil {
		return finish(st, rec.RunID, err, logger)
	}

	orc, closeOracle, err := openOracle(cfg, writer, st.NewOutcomeSink(rec.RunID), logger)
	if err != nil {
		return finish(st, rec.RunID, err, logger)
	}
	defer closeOracle()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	engine := evolve.New(engineCfg, tables, registry, orc, evolve.NewRand(seed),
		evolve.WithLogger(logger),
		evolve.WithMetrics(m),
		evolve.WithRecorder(evolve.NewStoreRecorder(st, rec.RunID)),
		evolve.WithRunID(rec.RunID),
		evolve.WithArchive(writer, filepath.Join(cfg.WorkDir, "archive", rec.RunID)),
	)

	logger.Info("run started", "seed", seed, "population", engineCfg.PopulationSize,
		"batch", engineCfg.ScenariosPerBatch, "generations", engineCfg.Generations, "resume", resume)
	res, err := engine.Run(ctx, seeds)
	if regErr := registry.Err(); regErr != nil {
		logger.Warn("fingerprint persistence failed", "error", regErr)
	}
	if err := finish(st, rec.RunID, err, logger); err != nil {
		return err
	}

	printSummary(res)
	return nil
}

// openRegistry creates the run's novelty registry. When resuming, the parent
// run's fingerprints are preloaded and copied to the new run so a later
// resume from it sees the whole lineage.
func openRegistry(st *store.Store, runID, resume string, logger *slog.Logger) (*novelty.Registry, error) {
	sink := st.NewFingerprintSink(runID)
	registry := novelty.NewRegistry()
	if resume == "" {
		return registry.WithPersister(sink), nil
	}
	fps, err := st.Fingerprints(resume)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints of %s: %w", resume, err)
	}
	registry.Preload(fps)
	for _, fp := range fps {
		if err := sink.AddFingerprint(fp); err != nil {
			return nil, err
		}
	}
	logger.Info("registry preloaded", "parent", resume, "fingerprints", len(fps))
	return registry.WithPersister(sink), nil
}

func openOracle(cfg config.Config, writer *materialize.Writer, sink oracle.OutcomeSink, logger *slog.Logger) (oracle.Oracle, func(), error) {
	if cfg.OracleAddr != "" {
		g, err := oracle.NewGRPCOracle(cfg.OracleAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("connect oracle %s: %w", cfg.OracleAddr, err)
		}
		logger.Info("using remote oracle", "addr", cfg.OracleAddr)
		retrying := oracle.NewRetryOracle(g, oracle.DefaultMaxRetries, 500*time.Millisecond, logger)
		return retrying, func() { g.Close() }, nil
	}
	if cfg.Simulator.Command == "" {
		return nil, nil, errors.New("no oracle: set oracle_addr or simulator.command")
	}
	runner := oracle.ExecRunner{Command: cfg.Simulator.Command, Args: cfg.Simulator.Args, Dir: cfg.Simulator.Dir}
	sim := oracle.NewSimulatorOracle(writer, runner,
		filepath.Join(cfg.WorkDir, "scenarios"), filepath.Join(cfg.WorkDir, "results"), logger).WithSink(sink)
	logger.Info("using local simulator", "command", cfg.Simulator.Command)
	return sim, func() {}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

// finish records the run's final status and passes runErr through.
func finish(st *store.Store, runID string, runErr error, logger *slog.Logger) error {
	status := store.StatusFinished
	if runErr != nil {
		status = store.StatusFailed
	}
	if err := st.FinishRun(runID, status); err != nil {
		logger.Error("finish run", "status", status, "error", err)
	}
	return runErr
}

// #endregion run

// #region output

func printSummary(res evolve.Result) {
	fmt.Printf("Run %s\n\n", res.RunID)
	fmt.Printf("%-10s  %6s  %6s  %6s  %8s  %9s  %8s\n",
		"Generation", "Best", "Mean", "Worst", "Mutated", "Fallbacks", "Registry")
	fmt.Printf("%-10s+-%6s+-%6s+-%6s+-%8s+-%9s+-%8s\n",
		"----------", "------", "------", "------", "--------", "---------", "--------")
	for _, g := range res.Generations {
		fmt.Printf("%-10d  %6.3f  %6.3f  %6.3f  %8d  %9d  %8d\n",
			g.Generation, g.Best, g.Mean, g.Worst, g.Stats.Mutated, g.Stats.Fallbacks, g.RegistrySize)
	}
	fmt.Printf("\nBest batch %s: fitness %.3f\n", res.Best.ID, res.Best.Fitness)
	for i, p := range res.Best.Batch {
		fmt.Printf("  [%d] %s  %s\n", i, p.Fingerprint().Short(), p)
	}
}

// #endregion output
