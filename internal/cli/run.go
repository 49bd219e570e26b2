package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/inbound"
	"github.com/callcatcherops/autonomy/internal/metrics"
	"github.com/callcatcherops/autonomy/internal/orchestrator"
	"github.com/callcatcherops/autonomy/internal/report"
	"github.com/callcatcherops/autonomy/internal/scheduler"
)

// ErrRunInProgress is returned when another process holds the run lock.
var ErrRunInProgress = errors.New("another run is in progress")

var (
	runDryRun   bool
	runMaxLeads int
	runQuiet    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one outreach run",
	Long:  "Ingest lead sources, apply inbound signals, decide and dispatch, then deliver the run report.",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Decide and audit without sending (overrides run.mode)")
	runCmd.Flags().IntVar(&runMaxLeads, "max-leads", 0, "Cap the number of candidate leads (overrides run.maxLeads)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print the report")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runDryRun {
		cfg.Run.Mode = config.ModeDryRun
	}
	if runMaxLeads > 0 {
		cfg.Run.MaxLeads = runMaxLeads
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.EnsureDir(cfg.Paths.LockPath); err != nil {
		return err
	}
	lock := scheduler.NewFileLock(cfg.Paths.LockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w (lock %s)", ErrRunInProgress, cfg.Paths.LockPath)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := executeRun(ctx, a, metrics.New())
	if rep != nil && !runQuiet {
		printReport(cmd.OutOrStdout(), rep)
	}
	return err
}

// executeRun performs one orchestrated pass and delivers its report.
// Delivery failures are logged, never returned.
func executeRun(ctx context.Context, a *app, m *metrics.Metrics) (*report.Report, error) {
	cfg := a.cfg
	gwOpts, err := orchestrator.GatewayOptions(cfg, nil)
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(cfg, a.store, a.ledger,
		orchestrator.WithGatewayOptions(gwOpts...),
		orchestrator.WithSources(signalSources(cfg)...),
		orchestrator.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	rep, runErr := o.Run(ctx)
	if rep == nil {
		if errors.Is(runErr, orchestrator.ErrIntegrity) {
			slog.Error("Run aborted before dispatch", "error", runErr)
		}
		return nil, runErr
	}

	if err := report.Deliver(ctx, rep, cfg.Report, a.pub, cfg.Kafka.ReportTopic); err != nil {
		slog.Warn("Report delivery incomplete", "run_id", rep.RunID, "error", err)
	}
	if cfg.Metrics.TextfilePath != "" {
		if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			slog.Warn("Metrics textfile write failed", "path", cfg.Metrics.TextfilePath, "error", err)
		}
	}
	return rep, runErr
}

func signalSources(cfg *config.Config) []inbound.Source {
	var srcs []inbound.Source
	if cfg.Inbound.DropFile != "" {
		srcs = append(srcs, inbound.NewFileSource(cfg.Inbound.DropFile))
	}
	if cfg.Kafka.Enabled() && cfg.Kafka.SignalsTopic != "" {
		srcs = append(srcs, inbound.NewKafkaSource(cfg.Kafka))
	}
	return srcs
}

func printReport(w io.Writer, rep *report.Report) {
	title := fmt.Sprintf("Run %s (%s)", rep.RunID, rep.Mode)
	if rep.StopLoss.Blocked {
		title += " " + color.YellowString("[stop-loss active]")
	}
	fmt.Fprintln(w, color.CyanString(title))
	fmt.Fprint(w, rep.Text())
}
