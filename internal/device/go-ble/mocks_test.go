package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// mockClient is a testify mock of the GATT client a board talks to.
type mockClient struct {
	mock.Mock

	mu      sync.Mutex
	writes  [][]byte
	handler ble.NotificationHandler
}

func (m *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), value...))
	m.mu.Unlock()
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *mockClient) ClearSubscriptions() error {
	return m.Called().Error(0)
}

func (m *mockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockClient) Disconnected() <-chan struct{} {
	args := m.Called()
	if ch, ok := args.Get(0).(chan struct{}); ok {
		return ch
	}
	return nil
}

// notify delivers a notification as if the board had sent it.
func (m *mockClient) notify(data []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (m *mockClient) written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

// mockRadio is a testify mock of the BLE device.
type mockRadio struct {
	mock.Mock
}

func (m *mockRadio) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *mockRadio) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

func (m *mockRadio) Stop() error {
	return m.Called().Error(0)
}

// fakeAdvertisement only answers Addr; scanning never looks at anything else.
type fakeAdvertisement struct {
	ble.Advertisement
	addr ble.Addr
}

func (a fakeAdvertisement) Addr() ble.Addr { return a.addr }

// profileBuilder assembles a ble.Profile for a simulated board.
type profileBuilder struct {
	services []*ble.Service
}

func newProfile() *profileBuilder { return &profileBuilder{} }

func (p *profileBuilder) service(u ble.UUID, chars ...ble.UUID) *profileBuilder {
	svc := &ble.Service{UUID: u}
	for _, c := range chars {
		svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{UUID: c})
	}
	p.services = append(p.services, svc)
	return p
}

func (p *profileBuilder) metaWear() *profileBuilder {
	return p.service(MetaWearServiceUUID, CommandCharUUID, NotifyCharUUID)
}

func (p *profileBuilder) build() *ble.Profile {
	return &ble.Profile{Services: p.services}
}
