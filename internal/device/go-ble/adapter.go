package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Adapter is an opened BLE radio.
type Adapter struct {
	dev       radio
	logger    *logrus.Logger
	opts      BoardOptions
	scanner   *Scanner
	closeOnce sync.Once
}

var _ device.Adapter = (*Adapter)(nil)

// NewAdapter opens the default radio through DeviceFactory.
func NewAdapter(logger *logrus.Logger, opts BoardOptions) (*Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return newAdapter(dev, logger, opts), nil
}

func newAdapter(dev radio, logger *logrus.Logger, opts BoardOptions) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		dev:     dev,
		logger:  logger,
		opts:    opts,
		scanner: newScanner(dev, logger),
	}
}

func (a *Adapter) Scanner() device.Scanner {
	return a.scanner
}

// NewBoard creates a fresh, unconnected handle for addr.
func (a *Adapter) NewBoard(addr device.Address) device.Board {
	return newBoard(addr, a.dial, a.logger, a.opts)
}

func (a *Adapter) dial(ctx context.Context, addr ble.Addr) (gattClient, error) {
	client, err := a.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Close stops scanning and shuts the radio down.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.scanner.close()
		err = NormalizeError(a.dev.Stop())
	})
	return err
}
