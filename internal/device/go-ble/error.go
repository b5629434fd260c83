package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/mwrpc/internal/device"
)

// radioFailures maps lower-cased fragments of go-ble, HCI and CoreBluetooth
// messages to the device error they mean for a board session. First match wins.
var radioFailures = []struct {
	fragment string
	kind     error
}{
	{"is bluetooth turned on", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"can't init hci", device.ErrBluetoothOff},
	{"operation not supported", device.ErrUnsupported},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"context deadline exceeded", device.ErrTimeout},
}

// NormalizeError tags a radio error with the device error it stands for,
// keeping the original text. Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, device.ErrTimeout) || errors.Is(err, device.ErrBluetoothOff) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, f := range radioFailures {
		if strings.Contains(msg, f.fragment) {
			return fmt.Errorf("%w: %v", f.kind, err)
		}
	}
	return err
}

// connectFailed reports a failed connect or initialize stage for addr. Every
// stage, from dial to module discovery, yields the one retryable kind.
func connectFailed(addr device.Address, stage string, cause error) error {
	ce := &device.ConnectionError{
		State: device.ConnectFailed,
		Msg:   fmt.Sprintf("%s %s", addr, stage),
	}
	if cause == nil {
		return ce
	}
	return fmt.Errorf("%w: %v", ce, NormalizeError(cause))
}
