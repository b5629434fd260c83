package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/mwrpc/pkg/config"
)

func newRosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roster [roster-file]",
		Short: "Print the boards the daemon would keep connected",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.RosterPath = args[0]
			}
			cmd.SilenceUsage = true

			roster, err := config.LoadRoster(cfg.RosterPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Roster file: %s\n", roster.Path)
			fmt.Fprintln(out, roster)
			return nil
		},
	}
}
