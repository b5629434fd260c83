package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/pkg/client"
)

// FormatUserError turns internal errors into a line a user can act on.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable, enable it and try again"
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth Low Energy is not supported on this platform"
	case errors.Is(err, device.ErrInvalidAddress):
		return err.Error()
	case errors.Is(err, syscall.ECONNREFUSED):
		return "no mwrpc daemon is listening, start one with \"mwrpc serve\""
	case errors.Is(err, client.ErrClosed):
		return "the daemon closed the connection"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the daemon"
	default:
		return fmt.Sprint(err)
	}
}
