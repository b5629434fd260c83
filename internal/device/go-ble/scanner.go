package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/groutine"
	"github.com/srg/mwrpc/internal/ringchan"
)

const (
	// DiscoveryBuffer is how many unread discoveries are kept before the oldest is dropped.
	DiscoveryBuffer = 64

	scanStopTimeout = 2 * time.Second
)

// radio is the part of ble.Device the adapter drives.
type radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
	Stop() error
}

// Scanner reports every advertising device as a device.Address.
type Scanner struct {
	dev    radio
	logger *logrus.Logger
	events *ringchan.RingChannel[device.Address]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ device.Scanner = (*Scanner)(nil)

func newScanner(dev radio, logger *logrus.Logger) *Scanner {
	return &Scanner{
		dev:    dev,
		logger: logger,
		events: ringchan.New[device.Address](DiscoveryBuffer),
	}
}

// StartScanning starts a background scan. Calling it while scanning is a no-op.
func (s *Scanner) StartScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	s.logger.Debug("Scanning started")

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		defer close(done)

		err := s.dev.Scan(ctx, true, s.handleAdvertisement)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}

		s.logger.WithField("error", NormalizeError(err)).Warn("Scan stopped unexpectedly")
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
	})
	return nil
}

// StopScanning cancels the running scan and waits briefly for the radio to settle.
func (s *Scanner) StopScanning() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(scanStopTimeout):
		s.logger.Warn("Scan did not stop in time")
	}
	s.logger.Debug("Scanning stopped")
}

func (s *Scanner) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scanner) Discoveries() <-chan device.Address {
	return s.events.C()
}

func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	if adv == nil || adv.Addr() == nil {
		return
	}
	raw := adv.Addr().String()
	addr, err := device.ParseAddress(raw)
	if err != nil {
		// CoreBluetooth reports peripheral UUIDs instead of hardware addresses.
		s.logger.WithField("addr", raw).Trace("Ignoring advertisement without a hardware address")
		return
	}
	s.events.ForceSend(addr)
}

func (s *Scanner) close() {
	s.StopScanning()
	s.events.Close()
}
