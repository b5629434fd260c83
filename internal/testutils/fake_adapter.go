package testutils

import (
	"errors"
	"sync"
	"time"

	"github.com/srg/mwrpc/internal/device"
)

// ErrNotAdvertised is returned by boards that have no spec on a FakeAdapter.
var ErrNotAdvertised = errors.New("fake: board not in range")

// FakeScanner is a device.Scanner whose discoveries are pushed by the test.
type FakeScanner struct {
	mu       sync.Mutex
	scanning bool
	starts   int
	stops    int
	startErr error
	events   chan device.Address
}

var _ device.Scanner = (*FakeScanner)(nil)

func NewFakeScanner() *FakeScanner {
	return &FakeScanner{events: make(chan device.Address, 64)}
}

func (s *FakeScanner) StartScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	if !s.scanning {
		s.starts++
	}
	s.scanning = true
	return nil
}

func (s *FakeScanner) StopScanning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		s.stops++
	}
	s.scanning = false
}

func (s *FakeScanner) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

func (s *FakeScanner) Discoveries() <-chan device.Address { return s.events }

// Advertise reports addr as if an advertisement had been heard.
func (s *FakeScanner) Advertise(addrs ...device.Address) {
	for _, a := range addrs {
		s.events <- a
	}
}

// SetStartError makes subsequent StartScanning calls fail.
func (s *FakeScanner) SetStartError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// Starts returns how many times scanning went from stopped to running.
func (s *FakeScanner) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// FakeAdapter hands out FakeBoards according to per-address specs.
type FakeAdapter struct {
	scanner *FakeScanner

	mu     sync.Mutex
	specs  map[device.Address]BoardSpec
	boards map[device.Address][]*FakeBoard
	closed bool
}

var _ device.Adapter = (*FakeAdapter)(nil)

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		scanner: NewFakeScanner(),
		specs:   make(map[device.Address]BoardSpec),
		boards:  make(map[device.Address][]*FakeBoard),
	}
}

// WithBoard sets the spec used for every new handle created for addr.
func (a *FakeAdapter) WithBoard(addr device.Address, spec BoardSpec) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.specs[addr] = spec
	return a
}

func (a *FakeAdapter) Scanner() device.Scanner { return a.scanner }

// FakeScanner exposes the concrete scanner for driving discoveries.
func (a *FakeAdapter) FakeScanner() *FakeScanner { return a.scanner }

func (a *FakeAdapter) NewBoard(addr device.Address) device.Board {
	a.mu.Lock()
	defer a.mu.Unlock()

	spec, ok := a.specs[addr]
	if !ok {
		spec = BoardSpec{ConnectErr: ErrNotAdvertised}
	}
	b := NewFakeBoard(addr, spec)
	a.boards[addr] = append(a.boards[addr], b)
	return b
}

// Boards returns every handle created for addr, oldest first.
func (a *FakeAdapter) Boards(addr device.Address) []*FakeBoard {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeBoard(nil), a.boards[addr]...)
}

// LastBoard returns the newest handle created for addr, or nil.
func (a *FakeAdapter) LastBoard(addr device.Address) *FakeBoard {
	boards := a.Boards(addr)
	if len(boards) == 0 {
		return nil
	}
	return boards[len(boards)-1]
}

func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close was called.
func (a *FakeAdapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Spacing returns the gaps between consecutive effect calls.
func Spacing(calls []EffectCall) []time.Duration {
	var gaps []time.Duration
	for i := 1; i < len(calls); i++ {
		gaps = append(gaps, calls[i].At.Sub(calls[i-1].At))
	}
	return gaps
}
