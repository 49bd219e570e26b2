package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/store"
)

var (
	ledgerLead   string
	ledgerRun    string
	ledgerReason string
	ledgerSince  time.Duration
	ledgerLimit  int
	ledgerJSON   bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show audit ledger entries",
	Long:  "Answers \"why was this lead contacted or skipped\" from the append-only ledger.",
	RunE:  runLedger,
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerLead, "lead", "", "Filter by lead id")
	ledgerCmd.Flags().StringVar(&ledgerRun, "run", "", "Filter by run id")
	ledgerCmd.Flags().StringVar(&ledgerReason, "reason", "", "Filter by reason code")
	ledgerCmd.Flags().DurationVar(&ledgerSince, "since", 0, "Only entries newer than this (e.g. 72h)")
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 100, "Maximum entries")
	ledgerCmd.Flags().BoolVar(&ledgerJSON, "json", false, "Print JSON lines")
}

func runLedger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	f := store.LedgerFilter{LeadID: ledgerLead, RunID: ledgerRun, ReasonCode: ledgerReason, Limit: ledgerLimit}
	if ledgerSince > 0 {
		f.Since = time.Now().Add(-ledgerSince)
	}
	entries, err := a.ledger.Entries(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ledgerJSON {
		enc := json.NewEncoder(out)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tLEAD\tCHANNEL\tSTEP\tOUTCOME\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.ActionType, dash(e.LeadID), dash(string(e.Channel)), e.Step, dash(e.Outcome), dash(e.ReasonCode))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
