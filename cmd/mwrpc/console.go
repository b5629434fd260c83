package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/mwrpc/internal/server"
	"github.com/srg/mwrpc/internal/supervisor"
)

const consolePrefix = "[mwrpc] "

// console prints supervisor and client events as they happen.
type console struct {
	mu     sync.Mutex
	out    io.Writer
	colors bool
	eol    string

	green  *color.Color
	yellow *color.Color
	red    *color.Color
}

func newConsole(out io.Writer, colors bool) *console {
	c := &console{
		out:    out,
		colors: colors,
		eol:    "\n",
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
	}
	if colors {
		c.green.EnableColor()
		c.yellow.EnableColor()
		c.red.EnableColor()
	} else {
		c.green.DisableColor()
		c.yellow.DisableColor()
		c.red.DisableColor()
	}
	return c
}

// setRaw switches line endings for a terminal in raw mode.
func (c *console) setRaw(raw bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if raw {
		c.eol = "\r\n"
	} else {
		c.eol = "\n"
	}
}

func (c *console) println(col *color.Color, format string, args ...any) {
	line := consolePrefix + fmt.Sprintf(format, args...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if col != nil {
		line = col.Sprint(line)
	}
	fmt.Fprint(c.out, line+c.eol)
}

// run prints events until both channels are closed. The returned channel is
// closed when it is done.
func (c *console) run(events <-chan supervisor.Event, clients <-chan server.ClientEvent) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for events != nil || clients != nil {
			select {
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				c.board(ev)
			case ev, ok := <-clients:
				if !ok {
					clients = nil
					continue
				}
				c.client(ev)
			}
		}
	}()
	return done
}

func (c *console) board(ev supervisor.Event) {
	switch ev.Kind {
	case supervisor.EventScanning:
		c.println(nil, "Scanning for boards...")
	case supervisor.EventFullyConnected:
		c.println(c.green, "All boards connected.")
	case supervisor.EventConnected:
		c.println(nil, "Board %s connected.", ev.Address)
	case supervisor.EventDisconnected:
		c.println(nil, "Board %s disconnected.", ev.Address)
	case supervisor.EventConnectFailed:
		c.println(nil, "Board %s failed to connect.", ev.Address)
	}
}

func (c *console) client(ev server.ClientEvent) {
	switch ev.Kind {
	case server.ClientConnected:
		c.println(c.yellow, "Client %s connected from %s.", ev.ID, ev.Remote)
	case server.ClientDisconnected:
		c.println(c.red, "Client %s disconnected.", ev.ID)
	}
}
