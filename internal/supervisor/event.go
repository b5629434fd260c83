package supervisor

import (
	"fmt"
	"time"

	"github.com/srg/mwrpc/internal/device"
)

// EventKind classifies supervisor events.
type EventKind int

const (
	EventNone EventKind = iota
	EventConnected
	EventDisconnected
	EventConnectFailed
	EventScanning
	EventFullyConnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectFailed:
		return "connect_failed"
	case EventScanning:
		return "scanning"
	case EventFullyConnected:
		return "fully_connected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one supervisor state change. Address is zero for scanning and
// fully-connected events.
type Event struct {
	Kind    EventKind
	Address device.Address
	At      time.Time
}
