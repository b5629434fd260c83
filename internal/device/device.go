package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected  ConnectionState = "not_connected"
	ConnectFailed ConnectionState = "connect_failed"
	BootMode      ConnectionState = "boot_mode"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states.
//
// ErrConnectFailed covers both a refused link and a failed initialize handshake:
// the supervisor retries either the same way, by rescanning.
var (
	ErrNotConnected  = &ConnectionError{State: NotConnected}
	ErrConnectFailed = &ConnectionError{State: ConnectFailed}
	ErrBootMode      = &ConnectionError{State: BootMode}
)

// Operation errors
var (
	ErrTimeout        = errors.New("timeout")
	ErrUnsupported    = errors.New("unsupported")
	ErrBluetoothOff   = errors.New("bluetooth is turned off")
	ErrInvalidAddress = errors.New("invalid device address")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ConnectionStatus is the link state carried by a board's status notifications.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnected
)

func (s ConnectionStatus) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Capability is one category of physical effect a board may support.
type Capability uint8

const (
	CapHaptic Capability = 1 << iota
	CapLED
)

func (c Capability) String() string {
	switch c {
	case CapHaptic:
		return "haptic"
	case CapLED:
		return "led"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// Capabilities is the fixed set of capabilities detected on a board during initialize.
type Capabilities uint8

// Has reports whether c is in the set.
func (cs Capabilities) Has(c Capability) bool {
	return uint8(cs)&uint8(c) != 0
}

// With returns the set with c added.
func (cs Capabilities) With(c Capability) Capabilities {
	return Capabilities(uint8(cs) | uint8(c))
}

func (cs Capabilities) String() string {
	var names []string
	for _, c := range []Capability{CapHaptic, CapLED} {
		if cs.Has(c) {
			names = append(names, c.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Scanner is the discovery side of the radio: it reports every advertising device
// it observes while scanning. Roster filtering is left to the caller.
type Scanner interface {
	StartScanning() error
	StopScanning()
	IsScanning() bool
	Discoveries() <-chan Address
}

// Haptic drives the board's vibration motor and buzzer.
type Haptic interface {
	StartMotor(duration time.Duration, intensity float32) error
	StartBuzzer(duration time.Duration) error
}

// LEDColor selects one of the board's LED channels.
type LEDColor uint8

const (
	LEDGreen LEDColor = iota
	LEDRed
	LEDBlue
)

func (c LEDColor) String() string {
	switch c {
	case LEDGreen:
		return "green"
	case LEDRed:
		return "red"
	case LEDBlue:
		return "blue"
	default:
		return fmt.Sprintf("color(%d)", uint8(c))
	}
}

// Valid reports whether c names a real LED channel.
func (c LEDColor) Valid() bool {
	return c <= LEDBlue
}

// MaxPulse is the longest pulse or pause the firmware encodes (a uint16 of
// milliseconds).
const MaxPulse = math.MaxUint16 * time.Millisecond

// ClampPulse limits d to [0, MaxPulse].
func ClampPulse(d time.Duration) time.Duration {
	return min(max(d, 0), MaxPulse)
}

// LEDPattern describes one LED pulse pattern.
type LEDPattern struct {
	Color         LEDColor
	HighIntensity uint8
	LowIntensity  uint8
	RiseTime      time.Duration
	HighTime      time.Duration
	FallTime      time.Duration
	Duration      time.Duration
	Delay         time.Duration
	RepeatCount   uint8
}

// LED drives the board's indicator light.
type LED interface {
	Stop(resetPattern bool) error
	EditPattern(p LEDPattern) error
	Play() error
}

// Board is a handle to one physical board. A Board is single-use: once it has been
// disconnected or torn down a fresh handle is created for the next connection.
type Board interface {
	Address() Address

	// ConnectAndInitialize dials the board and runs the initialize handshake.
	// Any failure is reported as ErrConnectFailed.
	ConnectAndInitialize(ctx context.Context) error
	IsConnected() bool

	// Disconnect asks the board to drop the link and releases the local client.
	Disconnect(ctx context.Context) error

	// TearDown resets board-side state before disconnecting and releases every
	// local resource held for the board.
	TearDown(ctx context.Context) error

	// StatusChanges delivers link status changes. The channel is closed once the
	// board has been released.
	StatusChanges() <-chan ConnectionStatus

	InBootMode() bool
	Capabilities() Capabilities

	// Haptic and LED return nil when the capability is not present.
	Haptic() Haptic
	LED() LED

	Model() string
	ReadBatteryLevel(ctx context.Context) (byte, error)
}

// Adapter is an opened radio: one scanner plus a way to create board handles on it.
type Adapter interface {
	Scanner() Scanner
	NewBoard(addr Address) Board
	Close() error
}
