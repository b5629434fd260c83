package goble

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const testAddr = device.Address(0xF6E9DDB4CF4A)

type BoardTestSuite struct {
	suite.Suite

	logger       *logrus.Logger
	client       *mockClient
	disconnected chan struct{}
}

func (s *BoardTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.WarnLevel)
	s.client = &mockClient{}
	s.disconnected = make(chan struct{})
}

// board returns a handle whose dial always yields the suite's mock client.
func (s *BoardTestSuite) board() *Board {
	dial := func(ctx context.Context, addr ble.Addr) (gattClient, error) {
		s.True(strings.EqualFold("F6:E9:DD:B4:CF:4A", addr.String()))
		return s.client, nil
	}
	return newBoard(testAddr, dial, s.logger, BoardOptions{ResponseTimeout: 50 * time.Millisecond})
}

// expectFirmware answers module info requests: modules listed in present reply with
// a full info record, any other module replies with just its header.
func (s *BoardTestSuite) expectFirmware(present ...byte) {
	s.client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cmd := args.Get(1).([]byte)
			if len(cmd) != 2 || cmd[1] != registerInfo {
				return
			}
			for _, m := range present {
				if cmd[0] == m {
					go s.client.notify([]byte{cmd[0], registerInfo, 0x00, 0x01})
					return
				}
			}
			go s.client.notify([]byte{cmd[0], registerInfo})
		}).
		Return(nil)
}

func (s *BoardTestSuite) expectRelease() {
	s.client.On("ClearSubscriptions").Return(nil)
	s.client.On("CancelConnection").Return(nil)
}

func (s *BoardTestSuite) TestConnectAndInitialize_DetectsModelAndCapabilities() {
	// GOAL: Verify initialize reads the model and probes haptic and LED modules
	//
	// TEST SCENARIO: Board answers haptic info, leaves LED header-only → haptic capability only

	profile := newProfile().metaWear().service(DeviceInfoServiceUUID, ModelNumberCharUUID).build()
	s.client.On("DiscoverProfile", true).Return(profile, nil)
	s.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
	s.client.On("ReadCharacteristic", mock.Anything).Return([]byte("5"), nil)
	s.client.On("Disconnected").Return(s.disconnected)
	s.expectFirmware(moduleHaptic)

	b := s.board()
	s.Require().NoError(b.ConnectAndInitialize(context.Background()))

	s.True(b.IsConnected(), "board MUST be connected after initialize")
	s.False(b.InBootMode())
	s.Equal("MetaHealth", b.Model())
	s.True(b.Capabilities().Has(device.CapHaptic))
	s.False(b.Capabilities().Has(device.CapLED))
	s.NotNil(b.Haptic())
	s.Nil(b.LED(), "LED MUST be nil when the module is absent")

	select {
	case st := <-b.StatusChanges():
		s.Equal(device.StatusConnected, st)
	case <-time.After(time.Second):
		s.Fail("connected status MUST be emitted")
	}
}

func (s *BoardTestSuite) TestConnectAndInitialize_SilentModuleIsAbsent() {
	profile := newProfile().metaWear().build()
	s.client.On("DiscoverProfile", true).Return(profile, nil)
	s.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
	s.client.On("Disconnected").Return(s.disconnected)
	s.client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	b := s.board()
	s.Require().NoError(b.ConnectAndInitialize(context.Background()))

	s.Equal(device.Capabilities(0), b.Capabilities())
	s.Equal("", b.Model())
}

func (s *BoardTestSuite) TestConnectAndInitialize_BootMode() {
	// GOAL: A board exposing only the DFU service connects in boot mode
	//
	// TEST SCENARIO: Profile has MetaBoot service only → connected, boot mode, no capabilities

	profile := newProfile().service(MetaBootServiceUUID).build()
	s.client.On("DiscoverProfile", true).Return(profile, nil)
	s.client.On("Disconnected").Return(s.disconnected)
	s.expectRelease()

	b := s.board()
	s.Require().NoError(b.ConnectAndInitialize(context.Background()))

	s.True(b.InBootMode())
	s.Nil(b.Haptic())
	s.Nil(b.LED())

	_, err := b.ReadBatteryLevel(context.Background())
	s.ErrorIs(err, device.ErrBootMode)

	s.Require().NoError(b.Disconnect(context.Background()))
	s.Empty(s.client.written(), "boot mode disconnect MUST NOT send firmware commands")
	s.client.AssertCalled(s.T(), "CancelConnection")
}

func (s *BoardTestSuite) TestConnectAndInitialize_Failures() {
	tests := []struct {
		name  string
		setup func(c *mockClient)
		dial  error
	}{
		{
			name: "dial refused",
			dial: errors.New("connection refused"),
		},
		{
			name: "profile discovery fails",
			setup: func(c *mockClient) {
				c.On("DiscoverProfile", true).Return(nil, errors.New("att timeout"))
			},
		},
		{
			name: "not a MetaWear board",
			setup: func(c *mockClient) {
				c.On("DiscoverProfile", true).Return(newProfile().service(BatteryServiceUUID).build(), nil)
			},
		},
		{
			name: "subscribe fails",
			setup: func(c *mockClient) {
				c.On("DiscoverProfile", true).Return(newProfile().metaWear().build(), nil)
				c.On("Subscribe", mock.Anything, false, mock.Anything).Return(errors.New("cccd write failed"))
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			client := &mockClient{}
			client.On("ClearSubscriptions").Return(nil)
			client.On("CancelConnection").Return(nil)
			if tt.setup != nil {
				tt.setup(client)
			}

			dial := func(ctx context.Context, addr ble.Addr) (gattClient, error) {
				if tt.dial != nil {
					return nil, tt.dial
				}
				return client, nil
			}
			b := newBoard(testAddr, dial, s.logger, BoardOptions{})

			err := b.ConnectAndInitialize(context.Background())
			s.ErrorIs(err, device.ErrConnectFailed, "every connect failure MUST map to ErrConnectFailed")
			s.False(b.IsConnected())

			if tt.dial == nil {
				client.AssertCalled(s.T(), "CancelConnection")
			}
		})
	}
}

func (s *BoardTestSuite) TestLinkLossEmitsDisconnected() {
	profile := newProfile().metaWear().build()
	s.client.On("DiscoverProfile", true).Return(profile, nil)
	s.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
	s.client.On("Disconnected").Return(s.disconnected)
	s.expectFirmware()

	b := s.board()
	s.Require().NoError(b.ConnectAndInitialize(context.Background()))
	s.Equal(device.StatusConnected, <-b.StatusChanges())

	close(s.disconnected)

	select {
	case st := <-b.StatusChanges():
		s.Equal(device.StatusDisconnected, st)
	case <-time.After(time.Second):
		s.Fail("disconnected status MUST be emitted on link loss")
	}
	s.False(b.IsConnected())
}

func (s *BoardTestSuite) TestTearDown_ResetsThenDisconnects() {
	// GOAL: Full teardown clears board state, asks for a disconnect and releases the client
	//
	// TEST SCENARIO: Connected board → teardown commands, debug disconnect, status channel closed

	profile := newProfile().metaWear().build()
	s.client.On("DiscoverProfile", true).Return(profile, nil)
	s.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
	s.client.On("Disconnected").Return(s.disconnected)
	s.expectFirmware()
	s.expectRelease()

	b := s.board()
	s.Require().NoError(b.ConnectAndInitialize(context.Background()))
	probes := len(s.client.written())

	s.Require().NoError(b.TearDown(context.Background()))
	s.Require().NoError(b.TearDown(context.Background()), "teardown MUST be idempotent")

	writes := s.client.written()[probes:]
	s.Equal([][]byte{
		{0x0a, 0x05},
		{0x09, 0x08},
		{0x0b, 0x09},
		{0x0f, 0x06},
	}, writes)

	s.client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)

	for range b.StatusChanges() {
	}
	s.False(b.IsConnected())
	s.Error(b.ConnectAndInitialize(context.Background()), "a released handle MUST NOT reconnect")
}

func (s *BoardTestSuite) TestReadBatteryLevel() {
	s.Run("battery service", func() {
		s.SetupTest()
		profile := newProfile().metaWear().service(BatteryServiceUUID, BatteryLevelCharUUID).build()
		s.client.On("DiscoverProfile", true).Return(profile, nil)
		s.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
		s.client.On("Disconnected").Return(s.disconnected)
		s.client.On("ReadCharacteristic", mock.Anything).Return([]byte{87}, nil)
		s.expectFirmware()

		b := s.board()
		s.Require().NoError(b.ConnectAndInitialize(context.Background()))

		level, err := b.ReadBatteryLevel(context.Background())
		s.Require().NoError(err)
		s.Equal(byte(87), level)
	})

	s.Run("settings module fallback", func() {
		s.SetupTest()
		profile := newProfile().metaWear().build()
		s.client.On("DiscoverProfile", true).Return(profile, nil)
		s.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
		s.client.On("Disconnected").Return(s.disconnected)
		s.client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				cmd := args.Get(1).([]byte)
				switch {
				case cmd[1] == registerInfo:
					go s.client.notify([]byte{cmd[0], registerInfo})
				case cmd[0] == moduleSettings:
					go s.client.notify([]byte{moduleSettings, 0x8c, 64, 0x10, 0x0f})
				}
			}).
			Return(nil)

		b := s.board()
		s.Require().NoError(b.ConnectAndInitialize(context.Background()))

		level, err := b.ReadBatteryLevel(context.Background())
		s.Require().NoError(err)
		s.Equal(byte(64), level)
	})

	s.Run("not connected", func() {
		s.SetupTest()
		_, err := s.board().ReadBatteryLevel(context.Background())
		s.ErrorIs(err, device.ErrNotConnected)
	})
}

func (s *BoardTestSuite) TestEffects() {
	profile := newProfile().metaWear().build()
	s.client.On("DiscoverProfile", true).Return(profile, nil)
	s.client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
	s.client.On("Disconnected").Return(s.disconnected)
	s.expectFirmware(moduleHaptic, moduleLED)

	b := s.board()
	s.Require().NoError(b.ConnectAndInitialize(context.Background()))
	probes := len(s.client.written())

	s.Require().NoError(b.Haptic().StartMotor(100*time.Millisecond, 50))
	s.Require().NoError(b.Haptic().StartBuzzer(300 * time.Millisecond))
	s.Require().NoError(b.LED().Stop(true))
	s.Require().NoError(b.LED().Play())
	s.ErrorIs(b.LED().EditPattern(device.LEDPattern{Color: device.LEDColor(7)}), device.ErrUnsupported)

	s.Equal([][]byte{
		{0x08, 0x01, 124, 100, 0, 0},
		{0x08, 0x01, 127, 0x2c, 0x01, 1},
		{0x02, 0x02, 1},
		{0x02, 0x01, 1},
	}, s.client.written()[probes:])
}

func TestBoardTestSuite(t *testing.T) {
	suite.Run(t, new(BoardTestSuite))
}
