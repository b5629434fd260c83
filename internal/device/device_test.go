package device

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionError(t *testing.T) {
	t.Run("errors.Is matches by state", func(t *testing.T) {
		err := fmt.Errorf("dial F6:E9:DD:B4:CF:4A: %w", &ConnectionError{State: ConnectFailed, Msg: "profile discovery"})

		assert.ErrorIs(t, err, ErrConnectFailed)
		assert.False(t, errors.Is(err, ErrNotConnected))
		assert.True(t, IsConnectionState(err, ConnectFailed))
		assert.False(t, IsConnectionState(err, BootMode))
	})

	t.Run("message includes state and detail", func(t *testing.T) {
		assert.Equal(t, "not_connected", ErrNotConnected.Error())
		assert.Equal(t, "connect_failed: timeout", (&ConnectionError{State: ConnectFailed, Msg: "timeout"}).Error())

		var nilErr *ConnectionError
		assert.Equal(t, "<nil>", nilErr.Error())
		assert.False(t, nilErr.Is(ErrNotConnected))
	})

	t.Run("plain errors are not connection states", func(t *testing.T) {
		assert.False(t, IsConnectionState(errors.New("boom"), NotConnected))
	})
}

func TestCapabilities(t *testing.T) {
	var caps Capabilities
	assert.False(t, caps.Has(CapHaptic))
	assert.Equal(t, "none", caps.String())

	caps = caps.With(CapHaptic)
	assert.True(t, caps.Has(CapHaptic))
	assert.False(t, caps.Has(CapLED))
	assert.Equal(t, "haptic", caps.String())

	caps = caps.With(CapLED)
	assert.True(t, caps.Has(CapLED))
	assert.Equal(t, "haptic,led", caps.String())
}

func TestLEDColor(t *testing.T) {
	tests := []struct {
		color LEDColor
		name  string
		valid bool
	}{
		{LEDGreen, "green", true},
		{LEDRed, "red", true},
		{LEDBlue, "blue", true},
		{LEDColor(3), "color(3)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.color.String())
			assert.Equal(t, tt.valid, tt.color.Valid())
		})
	}
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "disconnected", StatusDisconnected.String())
}

func TestClampPulse(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{-time.Second, 0},
		{0, 0},
		{250 * time.Millisecond, 250 * time.Millisecond},
		{MaxPulse, MaxPulse},
		{MaxPulse + time.Millisecond, MaxPulse},
		{time.Duration(-1 << 63), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampPulse(tt.in), "ClampPulse(%v)", tt.in)
	}
}
