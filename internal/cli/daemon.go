package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/metrics"
	"github.com/callcatcherops/autonomy/internal/scheduler"
)

var daemonMetricsAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run on the configured cron schedule",
	Long:  "Runs the pipeline whenever scheduler.cron matches and serves Prometheus metrics on metrics.listenAddr.",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Serve /metrics on this address (overrides metrics.listenAddr)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	cron, err := scheduler.ParseCron(cfg.Scheduler.Cron)
	if err != nil {
		return fmt.Errorf("scheduler.cron: %w", err)
	}
	if err := config.EnsureDir(cfg.Paths.LockPath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	m := metrics.New()
	addr := cfg.Metrics.ListenAddr
	if daemonMetricsAddr != "" {
		addr = daemonMetricsAddr
	}
	if addr != "" {
		srv := metricsServer(addr, m)
		go func() {
			slog.Info("Metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s, err := scheduler.New(scheduler.Config{
		Cron:         cron,
		TickInterval: time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		LockPath:     cfg.Paths.LockPath,
		RunOnStartup: cfg.Scheduler.RunOnStartup,
	}, func(ctx context.Context) error {
		rep, err := executeRun(ctx, a, m)
		if rep != nil {
			slog.Info("Run report", "run_id", rep.RunID, "dispatched", rep.TotalDispatched(), "errors", rep.TotalErrors())
		}
		return err
	})
	if err != nil {
		return err
	}

	printHeader(cmd.OutOrStdout(), "Outreach daemon")
	fmt.Fprintf(cmd.OutOrStdout(), "Schedule: %s (next %s)\n", cfg.Scheduler.Cron, s.Next(time.Now()).Format(time.RFC1123))
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func metricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}
