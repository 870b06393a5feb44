package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/fairlead"
	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/internal/metrics"
)

type runFlags struct {
	logFormat   string
	logLevel    string
	metricsAddr string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	var flags runFlags

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Join the fleet and execute this instance's share of the registered tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, global, flags)
		},
	}
	runCmd.Flags().StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")
	runCmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	runCmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", ":9090", "address serving /metrics and /health, empty to disable")

	return runCmd
}

func run(ctx context.Context, global *globalFlags, flags runFlags) error {
	logger, err := logging.NewSlogHandler(os.Stderr, flags.logFormat, flags.logLevel)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(global.configPath)
	if err != nil {
		return err
	}

	nc, err := connect(global.natsURL, cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	registry, err := openRegistry(ctx, nc, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord, err := fairlead.NewCoordinator(&cfg, nc, registry, logWork(logger),
		fairlead.WithLogger(logger),
		fairlead.WithMetrics(metrics.NewPrometheus(reg, "fairlead")),
	)
	if err != nil {
		return err
	}

	if flags.metricsAddr != "" {
		srv := newMetricsServer(flags.metricsAddr, reg, coord)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", flags.metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", flags.metricsAddr)
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	logger.Info("coordinator running", "instance_id", coord.InstanceID(), "tasks", len(coord.Tasks()))

	<-ctx.Done()
	logger.Info("shutting down", "instance_id", coord.InstanceID())

	return coord.Stop(context.WithoutCancel(ctx))
}

// logWork is the demonstration work action: it logs one line per interval.
func logWork(logger fairlead.Logger) fairlead.WorkFunc {
	return func(_ context.Context, task fairlead.Task) error {
		logger.Info("working", "task", task.ID)
		return nil
	}
}

// newMetricsServer serves Prometheus metrics and a health check that reports
// the coordinator state.
func newMetricsServer(addr string, reg *prometheus.Registry, coord *fairlead.Coordinator) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		state := coord.State()
		if state != fairlead.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintf(w, "%s working=%d\n", state, coord.WorkingCount())
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
