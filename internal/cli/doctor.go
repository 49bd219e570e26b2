package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/bus"
	"github.com/callcatcherops/autonomy/internal/governor"
)

var doctorTimeout time.Duration

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, store, stop-loss state and Kafka connectivity",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 10*time.Second, "Per-broker timeout")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "Doctor")
	var checks []bus.Check
	add := func(target string, err error, okDetail string) {
		c := bus.Check{Target: target, Status: bus.CheckOK, Detail: okDetail}
		if err != nil {
			c.Status, c.Detail = bus.CheckFail, err.Error()
		}
		checks = append(checks, c)
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	add("config", cfg.Validate(), "valid ("+cfg.Run.Mode+")")

	a, err := openApp(cfg)
	if err != nil {
		add("store", err, "")
	} else {
		defer a.Close()
		add("store", a.store.Ping(cmd.Context()), cfg.Paths.DBPath)
	}

	st, err := governor.Load(cfg.Paths.StatePath)
	detail := "open"
	if st.Blocked {
		detail = "blocked (" + st.BlockReason + ")"
	}
	add("stop-loss state", err, detail)

	checks = append(checks, bus.Probe(cmd.Context(), cfg.Kafka, doctorTimeout)...)

	for _, c := range checks {
		fmt.Fprintf(out, "%-4s  %-24s %s\n", statusColor(c.Status), c.Target, c.Detail)
		if c.Hint != "" {
			fmt.Fprintf(out, "      %s\n", color.HiBlackString(c.Hint))
		}
	}
	if bus.Failed(checks) {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

func statusColor(s bus.CheckStatus) string {
	switch s {
	case bus.CheckOK:
		return color.GreenString(string(s))
	case bus.CheckWarn:
		return color.YellowString(string(s))
	case bus.CheckFail:
		return color.RedString(string(s))
	}
	return string(s)
}
