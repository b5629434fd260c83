package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mwrpc",
		Short: "MetaWear board RPC daemon",
		Long: `Keeps a roster of MetaWear boards connected over Bluetooth Low Energy and
serves remote calls against them:

- read the board model and battery level
- pulse the vibration motor, once or as a periodic pattern
- sound the buzzer
- light or stop the LED

Run "mwrpc serve" on the machine with the Bluetooth radio; the other
commands are clients of a running daemon.`,
		Version: formatVersion(version),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	root.SilenceErrors = true

	root.AddCommand(newServeCmd())
	root.AddCommand(newRosterCmd())
	for _, c := range clientCommands() {
		root.AddCommand(c)
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")
	root.PersistentFlags().String("config", "", "Config file (default: <user config dir>/mwrpc/config.yaml)")

	root.SetVersionTemplate(fmt.Sprintf("mwrpc {{.Version}} (commit %s, built %s)\n", commit, date))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
