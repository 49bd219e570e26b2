package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/governor"
	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/policy"
	"github.com/callcatcherops/autonomy/internal/store"
)

var stopLossCmd = &cobra.Command{
	Use:   "stoploss",
	Short: "Inspect or override the paid-channel stop-loss",
}

var stopLossStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted stop-loss state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		st, err := governor.Load(cfg.Paths.StatePath)
		if err != nil {
			return err
		}
		printStopLoss(cmd, cfg, st)
		return nil
	},
}

var stopLossResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a stop-loss block and restart the zero-outcome counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateStopLoss(cmd, "reset", governor.Reset)
	},
}

var stopLossBlockCmd = &cobra.Command{
	Use:   "block",
	Short: "Block paid channels until reset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateStopLoss(cmd, "blocked", governor.Block)
	},
}

func init() {
	stopLossCmd.AddCommand(stopLossStatusCmd, stopLossResetCmd, stopLossBlockCmd)
}

// updateStopLoss applies an operator override and audits it. A corrupt
// state file is replaced by the override.
func updateStopLoss(cmd *cobra.Command, outcome string, apply func(governor.State, time.Time) governor.State) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	prev, err := governor.Load(cfg.Paths.StatePath)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %v; starting from a fresh state\n", color.YellowString("warning:"), err)
		prev = governor.State{}
	}
	next := apply(prev, time.Now().UTC())
	if _, err := a.ledger.Log(cmd.Context(), store.LedgerEntry{
		AgentID:    ledger.AgentOperator,
		ActionType: ledger.ActionStopLoss,
		Outcome:    outcome,
		ReasonCode: next.BlockReason,
		Metadata: map[string]any{
			"previous_blocked":           prev.Blocked,
			"previous_block_reason":      prev.BlockReason,
			"previous_zero_outcome_runs": prev.ZeroOutcomeRuns,
		},
	}); err != nil {
		return err
	}
	if err := governor.Save(cfg.Paths.StatePath, next); err != nil {
		return err
	}
	printStopLoss(cmd, cfg, next)
	return nil
}

func printStopLoss(cmd *cobra.Command, cfg *config.Config, st governor.State) {
	out := cmd.OutOrStdout()
	status := color.GreenString("open")
	if st.Blocked {
		status = color.RedString("BLOCKED") + " (" + st.BlockReason + " since " + st.BlockedAt.Format(time.RFC3339) + ")"
	}
	fmt.Fprintf(out, "Stop-loss:         %s\n", status)
	fmt.Fprintf(out, "Enabled:           %v\n", cfg.StopLoss.Enabled)
	fmt.Fprintf(out, "Zero-outcome runs: %d / %d\n", st.ZeroOutcomeRuns, cfg.StopLoss.MaxZeroRuns)
	if !st.LastOutcomeAt.IsZero() {
		fmt.Fprintf(out, "Last outcome:      %s\n", st.LastOutcomeAt.Format(time.RFC3339))
	}
	if !st.LastRunAt.IsZero() {
		fmt.Fprintf(out, "Last run:          %s (%s)\n", st.LastRunAt.Format(time.RFC3339), st.LastRunID)
	}
	if st.Blocked {
		fmt.Fprintf(out, "Paid channels are suppressed (%s). Free channels allowed: %v\n", policy.ReasonStopLossBlocked, cfg.StopLoss.AllowFreeChannels)
	}
}
