package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/mwrpc/internal/device"
)

// BoardSpec describes how the next board handle created for an address behaves.
type BoardSpec struct {
	Model        string
	Battery      byte
	BatteryErr   error
	BatteryDelay time.Duration
	// MotorDelay stalls every StartMotor call, as a congested radio would.
	MotorDelay   time.Duration
	BootMode     bool
	Capabilities device.Capabilities

	// ConnectErr fails ConnectAndInitialize.
	ConnectErr error
	// ConnectHold, when non-nil, blocks ConnectAndInitialize until it is closed or ctx ends.
	ConnectHold chan struct{}
	// TearDownHold, when non-nil, blocks TearDown until it is closed or ctx ends.
	TearDownHold chan struct{}
}

// FullBoard is a healthy board with every capability.
func FullBoard() BoardSpec {
	return BoardSpec{
		Model:        "MetaMotion R",
		Battery:      100,
		Capabilities: device.Capabilities(0).With(device.CapHaptic).With(device.CapLED),
	}
}

// EffectCall is one recorded haptic or LED operation.
type EffectCall struct {
	Op        string
	Duration  time.Duration
	Intensity float32
	Reset     bool
	Pattern   device.LEDPattern
	At        time.Time
}

// FakeBoard is an in-memory device.Board driven by a BoardSpec.
type FakeBoard struct {
	addr device.Address
	spec BoardSpec

	mu          sync.Mutex
	connected   bool
	released    bool
	teardowns   int
	disconnects int
	effects     []EffectCall
	status      chan device.ConnectionStatus
}

var _ device.Board = (*FakeBoard)(nil)

// NewFakeBoard creates a board handle for addr.
func NewFakeBoard(addr device.Address, spec BoardSpec) *FakeBoard {
	return &FakeBoard{
		addr:   addr,
		spec:   spec,
		status: make(chan device.ConnectionStatus, 4),
	}
}

func (b *FakeBoard) Address() device.Address { return b.addr }

func (b *FakeBoard) ConnectAndInitialize(ctx context.Context) error {
	if b.spec.ConnectHold != nil {
		select {
		case <-b.spec.ConnectHold:
		case <-ctx.Done():
			return device.ErrConnectFailed
		}
	}
	if b.spec.ConnectErr != nil {
		return b.spec.ConnectErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return device.ErrConnectFailed
	}
	b.connected = true
	b.emit(device.StatusConnected)
	return nil
}

func (b *FakeBoard) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *FakeBoard) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	b.disconnects++
	b.mu.Unlock()
	b.release()
	return nil
}

func (b *FakeBoard) TearDown(ctx context.Context) error {
	b.mu.Lock()
	b.teardowns++
	b.mu.Unlock()

	if b.spec.TearDownHold != nil {
		select {
		case <-b.spec.TearDownHold:
		case <-ctx.Done():
			return device.ErrTimeout
		}
	}
	b.release()
	return nil
}

func (b *FakeBoard) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.connected = false
	close(b.status)
}

// DropLink simulates the radio losing the board.
func (b *FakeBoard) DropLink() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected || b.released {
		return
	}
	b.connected = false
	b.emit(device.StatusDisconnected)
}

// emit must be called with mu held.
func (b *FakeBoard) emit(st device.ConnectionStatus) {
	select {
	case b.status <- st:
	default:
	}
}

func (b *FakeBoard) StatusChanges() <-chan device.ConnectionStatus { return b.status }

func (b *FakeBoard) InBootMode() bool { return b.spec.BootMode }

func (b *FakeBoard) Capabilities() device.Capabilities {
	if b.spec.BootMode {
		return 0
	}
	return b.spec.Capabilities
}

func (b *FakeBoard) Haptic() device.Haptic {
	if !b.Capabilities().Has(device.CapHaptic) {
		return nil
	}
	return fakeHaptic{b}
}

func (b *FakeBoard) LED() device.LED {
	if !b.Capabilities().Has(device.CapLED) {
		return nil
	}
	return fakeLED{b}
}

func (b *FakeBoard) Model() string {
	if b.spec.BootMode {
		return ""
	}
	return b.spec.Model
}

func (b *FakeBoard) ReadBatteryLevel(ctx context.Context) (byte, error) {
	if b.spec.BatteryDelay > 0 {
		select {
		case <-time.After(b.spec.BatteryDelay):
		case <-ctx.Done():
			return 0, device.ErrTimeout
		}
	}
	if b.spec.BatteryErr != nil {
		return 0, b.spec.BatteryErr
	}
	if !b.IsConnected() {
		return 0, device.ErrNotConnected
	}
	return b.spec.Battery, nil
}

// Effects returns every haptic and LED operation recorded so far.
func (b *FakeBoard) Effects() []EffectCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]EffectCall(nil), b.effects...)
}

// TearDowns returns how many full teardowns were requested.
func (b *FakeBoard) TearDowns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teardowns
}

// Disconnects returns how many handshake-only disconnects were requested.
func (b *FakeBoard) Disconnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

// Released reports whether the handle has been given up.
func (b *FakeBoard) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

func (b *FakeBoard) record(c EffectCall) {
	c.At = time.Now()
	b.mu.Lock()
	b.effects = append(b.effects, c)
	b.mu.Unlock()
}

type fakeHaptic struct{ b *FakeBoard }

func (h fakeHaptic) StartMotor(d time.Duration, intensity float32) error {
	if h.b.spec.MotorDelay > 0 {
		time.Sleep(h.b.spec.MotorDelay)
	}
	h.b.record(EffectCall{Op: "motor", Duration: d, Intensity: intensity})
	return nil
}

func (h fakeHaptic) StartBuzzer(d time.Duration) error {
	h.b.record(EffectCall{Op: "buzzer", Duration: d})
	return nil
}

type fakeLED struct{ b *FakeBoard }

func (l fakeLED) Stop(reset bool) error {
	l.b.record(EffectCall{Op: "led-stop", Reset: reset})
	return nil
}

func (l fakeLED) EditPattern(p device.LEDPattern) error {
	l.b.record(EffectCall{Op: "led-pattern", Pattern: p})
	return nil
}

func (l fakeLED) Play() error {
	l.b.record(EffectCall{Op: "led-play"})
	return nil
}
