// Package cli implements the autonomy command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/callcatcherops/autonomy/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   __ _ _   _| |_ ___  _ __   ___  _ __ ___  _   _\n" +
		"  / _` | | | | __/ _ \\| '_ \\ / _ \\| '_ ` _ \\| | | |\n" +
		" | (_| | |_| | || (_) | | | | (_) | | | | | | |_| |\n" +
		"  \\__,_|\\__,_|\\__\\___/|_| |_|\\___/|_| |_| |_|\\__, |\n" +
		"                                             |___/\n"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "autonomy",
	Short:         "autonomy - outreach orchestration engine",
	Long:          color.CyanString(logo) + "\nPicks who to contact, on which channel, and when. Every decision lands in the audit ledger.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr(), logLevel, logJSON)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.autonomy/config.json or $AUTONOMY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(optOutCmd)
	rootCmd.AddCommand(stopLossCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func setupLogging(w io.Writer, level string, asJSON bool) error {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if asJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func mark(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}
