package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/mwrpc/pkg/config"
	"golang.org/x/term"
)

// stdin is read for Esc when it is a terminal.
var stdin = os.Stdin

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [roster-file]",
		Short: "Run the daemon",
		Long: `Connect the boards listed in the roster file and serve remote calls.

The roster holds one board address per line; empty lines and lines containing
'#' are skipped. Without an argument the roster path comes from the config
file, or defaults to mwboards.cfg in the user config directory, which is
created with a sample roster when missing.

The daemon exits on Esc (when attached to a terminal), Ctrl+C or SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Listen address (default from config, 127.0.0.1:8080)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.RosterPath = args[0]
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	roster, err := config.LoadRoster(cfg.RosterPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%sReading boards from %s\n", consolePrefix, roster.Path)

	d, err := newDaemon(cfg, roster.Addresses(), logger)
	if err != nil {
		return err
	}

	con := newConsole(out, !color.NoColor)
	consoleDone := con.run(d.supervisor.Events(), d.server.ClientEvents())

	if err := d.start(); err != nil {
		d.close() //nolint:errcheck
		<-consoleDone
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	restore, interactive := watchEscape(stdin, cancel, con)

	con.println(nil, "Server listening on %s", d.Addr())
	con.println(nil, "%s", roster)
	if interactive {
		con.println(nil, "Press Esc to exit...")
	} else {
		con.println(nil, "Press Ctrl+C to exit...")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-d.serveErr:
	}
	restore()

	con.println(nil, "Closing...")
	closeErr := d.close()
	<-consoleDone

	if serveErr != nil {
		return serveErr
	}
	return closeErr
}

// watchEscape puts a terminal stdin into raw mode and calls cancel on Esc or
// Ctrl+C. It reports false, and does nothing, when in is not a terminal.
func watchEscape(in *os.File, cancel context.CancelFunc, con *console) (restore func(), interactive bool) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, false
	}
	con.setRaw(true)

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if err != nil {
				return
			}
			if n == 1 && (buf[0] == 0x1b || buf[0] == 0x03) {
				cancel()
				return
			}
		}
	}()

	return func() {
		term.Restore(fd, state) //nolint:errcheck
		con.setRaw(false)
	}, true
}
