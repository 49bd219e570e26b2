package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/ingest"
	"github.com/callcatcherops/autonomy/internal/scoring"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Load leads from CSV files into the context store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	in := ingest.New(a.store, a.ledger.WithRun(uuid.NewString()), scoring.New(scoring.WeightsFromConfig(cfg.Scoring)))
	out := cmd.OutOrStdout()
	var total ingest.Result
	for _, path := range args {
		recs, err := ingest.ReadFile(path)
		if err != nil && len(recs) == 0 {
			return err
		}
		res, ierr := in.Ingest(cmd.Context(), recs)
		fmt.Fprintf(out, "%s: %d rows, %d created, %d updated, %d invalid\n", path, res.Rows, res.Created, res.Updated, res.Invalid)
		total.Rows += res.Rows
		total.Created += res.Created
		total.Updated += res.Updated
		total.Invalid += res.Invalid
		if ierr != nil {
			return ierr
		}
		if err != nil {
			return err
		}
	}
	if len(args) > 1 {
		fmt.Fprintf(out, "total: %d rows, %d created, %d updated, %d invalid\n", total.Rows, total.Created, total.Updated, total.Invalid)
	}
	return nil
}
