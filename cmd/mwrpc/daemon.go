package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/contract"
	"github.com/srg/mwrpc/internal/device"
	goble "github.com/srg/mwrpc/internal/device/go-ble"
	"github.com/srg/mwrpc/internal/devicefactory"
	"github.com/srg/mwrpc/internal/groutine"
	"github.com/srg/mwrpc/internal/scheduler"
	"github.com/srg/mwrpc/internal/server"
	"github.com/srg/mwrpc/internal/supervisor"
	"github.com/srg/mwrpc/pkg/config"
)

// daemon owns the running components, in the order they are closed.
type daemon struct {
	logger *logrus.Logger

	server     *server.Server
	scheduler  *scheduler.Scheduler
	supervisor *supervisor.Supervisor
	adapter    device.Adapter

	listener net.Listener
	serveErr chan error
}

func newDaemon(cfg *config.Config, roster []device.Address, logger *logrus.Logger) (*daemon, error) {
	adapter, err := devicefactory.AdapterFactory(logger, goble.BoardOptions{ResponseTimeout: cfg.ResponseTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open Bluetooth adapter: %w", err)
	}

	sup := supervisor.New(adapter, roster, logger, supervisor.Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		TeardownTimeout: cfg.TeardownTimeout,
		RescanInterval:  cfg.RescanInterval,
	})
	sched := scheduler.New(sup, logger, scheduler.Options{FloorDelay: cfg.FloorDelay})
	svc := contract.New(sup, sched, logger, contract.Options{StatusTimeout: cfg.StatusTimeout})
	srv := server.New(svc, sup, logger, server.Options{Listen: cfg.Listen})

	return &daemon{
		logger:     logger,
		server:     srv,
		scheduler:  sched,
		supervisor: sup,
		adapter:    adapter,
		serveErr:   make(chan error, 1),
	}, nil
}

// start binds the listener, then starts the supervisor and serving. On
// failure the caller still owns close.
func (d *daemon) start() error {
	ln, err := d.server.Listen()
	if err != nil {
		return err
	}
	d.listener = ln

	if err := d.supervisor.Start(); err != nil {
		ln.Close() //nolint:errcheck
		return err
	}

	groutine.Go(context.Background(), "http-serve", func(context.Context) {
		d.serveErr <- d.server.Serve(ln)
	})
	return nil
}

// Addr is the bound listen address.
func (d *daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// close stops intake first, then pattern runs, then sessions, then the radio.
func (d *daemon) close() error {
	var errs []error

	if err := d.server.Close(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	d.scheduler.Close()
	if err := d.supervisor.Close(); err != nil {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}
	if err := d.adapter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("adapter: %w", err))
	}

	return errors.Join(errs...)
}
