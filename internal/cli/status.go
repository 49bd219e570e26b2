package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/gate"
	"github.com/callcatcherops/autonomy/internal/governor"
	"github.com/callcatcherops/autonomy/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "autonomy %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, store and channel health",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "Outreach status")
	fmt.Fprintf(out, "Version: %s\n", version)

	path := configPath
	if path == "" {
		path, _ = config.ConfigPath()
	}
	_, statErr := os.Stat(path)
	fmt.Fprintf(out, "Config:  %s %s\n", mark(statErr == nil), path)

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if verr := cfg.Validate(); verr != nil {
		fmt.Fprintf(out, "Valid:   %s\n", mark(false))
		for _, line := range strings.Split(verr.Error(), "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	} else {
		fmt.Fprintf(out, "Valid:   %s (mode %s)\n", mark(true), cfg.Run.Mode)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	counts, err := a.store.CountLeadsByStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nLeads:")
	for _, st := range []store.LeadStatus{store.StatusNew, store.StatusContacted, store.StatusReplied,
		store.StatusBounced, store.StatusOptedOut, store.StatusBadEmail, store.StatusBadPhone} {
		fmt.Fprintf(out, "  %-10s %d\n", st, counts[st])
	}
	optOuts, err := a.store.ListOptOuts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Opt-outs: %d\n", len(optOuts))

	fmt.Fprintln(out, "\nChannels:")
	g := gate.New(a.store)
	gates, err := g.Evaluate(ctx, cfg)
	if err != nil {
		return err
	}
	for _, ch := range store.Channels {
		st, ok := gates[ch]
		if !ok {
			fmt.Fprintf(out, "  %-6s disabled\n", ch)
			continue
		}
		fmt.Fprintf(out, "  %-6s %s %d/%d failures (%.1f%%, max %.1f%%)\n",
			ch, mark(st.Healthy), st.Failures, st.Outbound, st.Rate*100, st.Threshold*100)
	}

	fmt.Fprintln(out)
	st, err := governor.Load(cfg.Paths.StatePath)
	if err != nil {
		fmt.Fprintf(out, "Stop-loss: %s %v\n", mark(false), err)
		return nil
	}
	printStopLoss(cmd, cfg, st)
	return nil
}
