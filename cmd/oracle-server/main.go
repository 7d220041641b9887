package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielpatrickdp/scenario-miner/internal/config"
	"github.com/danielpatrickdp/scenario-miner/internal/materialize"
	"github.com/danielpatrickdp/scenario-miner/internal/metrics"
	"github.com/danielpatrickdp/scenario-miner/internal/oracle"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region main

func main() {
	addr := flag.String("addr", ":50061", "gRPC listen address")
	configPath := flag.String("config", "", "path to YAML config")
	template := flag.String("template", "", "OpenSCENARIO YAML template")
	workDir := flag.String("work-dir", "", "scratch directory for scenarios and results")
	command := flag.String("simulator", "", "simulator command")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flag.Parse()

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
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "template":
			cfg.TemplatePath = *template
		case "work-dir":
			cfg.WorkDir = *workDir
		case "simulator":
			cfg.Simulator.Command = *command
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if cfg.Simulator.Command == "" {
		fmt.Fprintln(os.Stderr, "usage: oracle-server --simulator cmd [--addr :50061] [--template path] [--work-dir dir] [--config path]")
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

	if err := serve(ctx, *addr, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region serve

func serve(ctx context.Context, addr string, cfg config.Config, logger *slog.Logger) error {
	writer, err := materialize.NewWriter(cfg.TemplatePath)
	if err != nil {
		return err
	}
	runner := oracle.ExecRunner{Command: cfg.Simulator.Command, Args: cfg.Simulator.Args, Dir: cfg.Simulator.Dir}
	sim := oracle.NewSimulatorOracle(writer, runner,
		filepath.Join(cfg.WorkDir, "scenarios"), filepath.Join(cfg.WorkDir, "results"), logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	observed := oracle.Func(func(ctx context.Context, batch scenario.Batch) (float64, error) {
		start := time.Now()
		f, err := sim.Evaluate(ctx, batch)
		switch {
		case errors.Is(err, oracle.ErrNoResults):
			m.ObserveEvaluation("no_results", time.Since(start))
		case err != nil:
			m.ObserveEvaluation("error", time.Since(start))
		default:
			m.ObserveEvaluation("ok", time.Since(start))
		}
		return f, err
	})

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	oracle.RegisterOracleServer(srv, observed, logger)
	hs := health.NewServer()
	hs.SetServingStatus(oracle.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		hs.Shutdown()
		srv.GracefulStop()
		if metricsSrv != nil {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutCtx)
		}
	}()

	logger.Info("oracle serving", "addr", lis.Addr().String(), "simulator", cfg.Simulator.Command, "metrics", cfg.MetricsAddr)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// #endregion serve
