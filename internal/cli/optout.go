package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/callcatcherops/autonomy/internal/inbound"
)

var (
	optOutSource string
	optOutList   bool
)

var optOutCmd = &cobra.Command{
	Use:   "optout [CONTACT]",
	Short: "Suppress a contact permanently, or list suppressions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOptOut,
}

func init() {
	optOutCmd.Flags().StringVar(&optOutSource, "source", "manual", "Where the request came from")
	optOutCmd.Flags().BoolVar(&optOutList, "list", false, "List recorded opt-outs")
}

func runOptOut(cmd *cobra.Command, args []string) error {
	if !optOutList && len(args) == 0 {
		return fmt.Errorf("contact required (or use --list)")
	}
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if optOutList {
		list, err := a.store.ListOptOuts(cmd.Context())
		if err != nil {
			return err
		}
		for _, o := range list {
			fmt.Fprintf(out, "%s\t%s\t%s\n", o.CreatedAt.Format("2006-01-02 15:04"), o.Contact, o.Source)
		}
		return nil
	}

	sig := inbound.Classify(inbound.Signal{Kind: inbound.KindOptOut, From: args[0], Source: optOutSource})
	if !strings.Contains(sig.Contact, "@") && !strings.HasPrefix(sig.Contact, "+") {
		return fmt.Errorf("%q is not a valid email or phone number", args[0])
	}
	sig.ID = "optout:" + sig.Contact
	c, err := inbound.NewSyncer(a.store, a.ledger).Apply(cmd.Context(), sig)
	if err != nil {
		return err
	}
	switch {
	case c.Duplicates > 0:
		fmt.Fprintf(out, "%s already opted out\n", sig.Contact)
	case c.Unmatched > 0:
		fmt.Fprintf(out, "%s %s opted out (no matching lead)\n", mark(true), sig.Contact)
	default:
		fmt.Fprintf(out, "%s %s opted out\n", mark(true), sig.Contact)
	}
	return nil
}
