package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/groutine"
)

// DefaultResponseTimeout bounds a single request/notification round trip during initialize.
const DefaultResponseTimeout = 1 * time.Second

// statusBuffer holds link status changes until the supervisor reads them.
const statusBuffer = 4

// gattClient is the part of ble.Client a board needs.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	ClearSubscriptions() error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

type dialFunc func(ctx context.Context, addr ble.Addr) (gattClient, error)

// BoardOptions tunes board handles created by an Adapter.
type BoardOptions struct {
	ResponseTimeout time.Duration
}

// Board is a MetaWear board reached over go-ble.
type Board struct {
	addr   device.Address
	dial   dialFunc
	logger *logrus.Logger
	opts   BoardOptions

	mu       sync.Mutex
	client   gattClient
	command  *ble.Characteristic
	battery  *ble.Characteristic
	bootMode bool
	caps     device.Capabilities
	model    string

	connected atomic.Bool
	released  atomic.Bool

	pendingMu sync.Mutex
	pending   map[uint16]chan []byte

	statusMu     sync.Mutex
	statusClosed bool
	status       chan device.ConnectionStatus

	done chan struct{}
}

var _ device.Board = (*Board)(nil)

func newBoard(addr device.Address, dial dialFunc, logger *logrus.Logger, opts BoardOptions) *Board {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	return &Board{
		addr:    addr,
		dial:    dial,
		logger:  logger,
		opts:    opts,
		pending: make(map[uint16]chan []byte),
		status:  make(chan device.ConnectionStatus, statusBuffer),
		done:    make(chan struct{}),
	}
}

func (b *Board) Address() device.Address { return b.addr }

func (b *Board) IsConnected() bool { return b.connected.Load() }

func (b *Board) StatusChanges() <-chan device.ConnectionStatus { return b.status }

func (b *Board) InBootMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bootMode
}

func (b *Board) Capabilities() device.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps
}

func (b *Board) Model() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model
}

// Haptic returns nil unless the haptic module was detected.
func (b *Board) Haptic() device.Haptic {
	if b.InBootMode() || !b.Capabilities().Has(device.CapHaptic) {
		return nil
	}
	return &haptic{b: b}
}

// LED returns nil unless the LED module was detected.
func (b *Board) LED() device.LED {
	if b.InBootMode() || !b.Capabilities().Has(device.CapLED) {
		return nil
	}
	return &led{b: b}
}

// ConnectAndInitialize dials the board, discovers its profile and probes its modules.
// Every failure is reported as device.ErrConnectFailed and leaves nothing open.
func (b *Board) ConnectAndInitialize(ctx context.Context) error {
	if b.released.Load() {
		return connectFailed(b.addr, "reuse of released handle", nil)
	}
	if b.connected.Load() {
		return nil
	}

	log := b.logger.WithField("address", b.addr.String())
	log.Debug("Dialing board...")

	client, err := b.dial(ctx, ble.NewAddr(b.addr.String()))
	if err != nil {
		return connectFailed(b.addr, "dial", err)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	if err := b.initialize(ctx, client); err != nil {
		rctx, cancel := context.WithTimeout(context.Background(), b.opts.ResponseTimeout)
		defer cancel()
		if relErr := b.release(rctx); relErr != nil {
			log.WithField("cancel_error", relErr).Warn("Failed to cancel connection after initialize failure")
		}
		return err
	}

	b.connected.Store(true)
	b.emit(device.StatusConnected)
	b.watch(client)

	log.WithFields(logrus.Fields{
		"model":        b.Model(),
		"boot_mode":    b.InBootMode(),
		"capabilities": b.Capabilities().String(),
	}).Info("Board initialized")
	return nil
}

func (b *Board) initialize(ctx context.Context, client gattClient) error {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return connectFailed(b.addr, "profile discovery", err)
	}

	mw := findService(profile, MetaWearServiceUUID)
	if mw == nil {
		if findService(profile, MetaBootServiceUUID) == nil {
			return connectFailed(b.addr, "not a MetaWear board", nil)
		}
		b.mu.Lock()
		b.bootMode = true
		b.mu.Unlock()
		return nil
	}

	command := findCharacteristic(mw, CommandCharUUID)
	notify := findCharacteristic(mw, NotifyCharUUID)
	if command == nil || notify == nil {
		return connectFailed(b.addr, "missing command characteristics", nil)
	}

	if err := client.Subscribe(notify, false, b.handleNotification); err != nil {
		return connectFailed(b.addr, "subscribe", err)
	}

	var modelNumber string
	if info := findService(profile, DeviceInfoServiceUUID); info != nil {
		if c := findCharacteristic(info, ModelNumberCharUUID); c != nil {
			data, err := client.ReadCharacteristic(c)
			if err != nil {
				return connectFailed(b.addr, "read model number", err)
			}
			modelNumber = strings.TrimRight(string(data), "\x00 ")
		}
	}

	var battery *ble.Characteristic
	if svc := findService(profile, BatteryServiceUUID); svc != nil {
		battery = findCharacteristic(svc, BatteryLevelCharUUID)
	}

	b.mu.Lock()
	b.command = command
	b.battery = battery
	b.model = modelName(modelNumber)
	b.mu.Unlock()

	var caps device.Capabilities
	for _, probe := range []struct {
		module byte
		cap    device.Capability
	}{
		{moduleHaptic, device.CapHaptic},
		{moduleLED, device.CapLED},
	} {
		present, err := b.probeModule(ctx, probe.module)
		if err != nil {
			return connectFailed(b.addr, "module discovery", err)
		}
		if present {
			caps = caps.With(probe.cap)
		}
	}

	b.mu.Lock()
	b.caps = caps
	b.mu.Unlock()
	return nil
}

// probeModule reports whether the firmware implements module.
// A module that never answers is treated as absent.
func (b *Board) probeModule(ctx context.Context, module byte) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, b.opts.ResponseTimeout)
	defer cancel()

	resp, err := b.request(pctx, moduleInfoCommand(module))
	switch {
	case err == nil:
		return moduleImplemented(resp), nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case pctx.Err() != nil:
		b.logger.WithFields(logrus.Fields{
			"address": b.addr.String(),
			"module":  fmt.Sprintf("0x%02x", module),
		}).Debug("Module info request timed out, treating module as absent")
		return false, nil
	default:
		return false, err
	}
}

// request writes cmd and waits for the notification echoing its module and register.
func (b *Board) request(ctx context.Context, cmd []byte) ([]byte, error) {
	key := responseKey(cmd[0], cmd[1])
	ch := make(chan []byte, 1)

	b.pendingMu.Lock()
	b.pending[key] = ch
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		if b.pending[key] == ch {
			delete(b.pending, key)
		}
		b.pendingMu.Unlock()
	}()

	if err := b.write(cmd, false); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for response to % x", device.ErrTimeout, cmd)
	case <-b.done:
		return nil, device.ErrNotConnected
	}
}

func (b *Board) handleNotification(data []byte) {
	if len(data) < 2 {
		return
	}
	resp := make([]byte, len(data))
	copy(resp, data)

	b.pendingMu.Lock()
	ch, ok := b.pending[responseKey(data[0], data[1])]
	b.pendingMu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (b *Board) write(cmd []byte, noRsp bool) error {
	b.mu.Lock()
	client, command := b.client, b.command
	b.mu.Unlock()

	if client == nil || command == nil || b.released.Load() {
		return device.ErrNotConnected
	}
	return NormalizeError(client.WriteCharacteristic(command, cmd, noRsp))
}

// ReadBatteryLevel reads the charge percentage. It prefers the standard battery service
// and falls back to the settings module. The read is abandoned when ctx ends.
func (b *Board) ReadBatteryLevel(ctx context.Context) (byte, error) {
	if !b.connected.Load() {
		return 0, device.ErrNotConnected
	}
	if b.InBootMode() {
		return 0, device.ErrBootMode
	}

	b.mu.Lock()
	client, battery := b.client, b.battery
	b.mu.Unlock()

	if battery == nil {
		resp, err := b.request(ctx, batteryStateCommand())
		if err != nil {
			return 0, err
		}
		return batteryCharge(resp)
	}

	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 1)
	groutine.Go(ctx, "battery-read", func(context.Context) {
		data, err := client.ReadCharacteristic(battery)
		results <- result{data, err}
	})

	select {
	case r := <-results:
		if r.err != nil {
			return 0, NormalizeError(r.err)
		}
		if len(r.data) == 0 {
			return 0, fmt.Errorf("empty battery level")
		}
		return r.data[0], nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: battery read", device.ErrTimeout)
	}
}

// Disconnect asks the firmware to drop the link, then releases the local client.
func (b *Board) Disconnect(ctx context.Context) error {
	if b.connected.Load() && !b.InBootMode() {
		if err := b.write(debugDisconnectCommand(), true); err != nil {
			b.logger.WithFields(logrus.Fields{
				"address": b.addr.String(),
				"error":   err,
			}).Debug("Debug disconnect command failed")
		}
	}
	return b.release(ctx)
}

// TearDown removes every board-side event, data processor and logger before disconnecting.
func (b *Board) TearDown(ctx context.Context) error {
	if b.connected.Load() && !b.InBootMode() {
		for _, cmd := range teardownCommands() {
			if ctx.Err() != nil {
				break
			}
			if err := b.write(cmd, true); err != nil {
				b.logger.WithFields(logrus.Fields{
					"address": b.addr.String(),
					"error":   err,
				}).Debug("Teardown command failed")
				break
			}
		}
	}
	return b.Disconnect(ctx)
}

func (b *Board) release(ctx context.Context) error {
	if !b.released.CompareAndSwap(false, true) {
		return nil
	}
	b.connected.Store(false)
	close(b.done)

	b.mu.Lock()
	client := b.client
	b.client = nil
	b.command = nil
	b.battery = nil
	b.mu.Unlock()

	var err error
	if client != nil {
		errs := make(chan error, 1)
		groutine.Go(ctx, "board-release", func(context.Context) {
			if cerr := client.ClearSubscriptions(); cerr != nil {
				b.logger.WithField("error", cerr).Debug("Failed to clear subscriptions")
			}
			errs <- client.CancelConnection()
		})
		select {
		case err = <-errs:
		case <-ctx.Done():
			err = fmt.Errorf("%w: cancel connection", device.ErrTimeout)
		}
	}

	b.closeStatus()

	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"address": b.addr.String(),
			"error":   err,
		}).Warn("Board released with errors")
		return NormalizeError(err)
	}
	b.logger.WithField("address", b.addr.String()).Debug("Board released")
	return nil
}

// watch turns the client's disconnect signal into a status change.
func (b *Board) watch(client gattClient) {
	disconnected := client.Disconnected()
	if disconnected == nil {
		return
	}
	groutine.Go(context.Background(), "board-link-monitor", func(context.Context) {
		select {
		case <-disconnected:
			if b.connected.CompareAndSwap(true, false) {
				b.logger.WithField("address", b.addr.String()).Warn("Board link lost")
				b.emit(device.StatusDisconnected)
			}
		case <-b.done:
		}
	})
}

func (b *Board) emit(s device.ConnectionStatus) {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	if b.statusClosed {
		return
	}
	select {
	case b.status <- s:
	default:
	}
}

func (b *Board) closeStatus() {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	if b.statusClosed {
		return
	}
	b.statusClosed = true
	close(b.status)
}

type haptic struct{ b *Board }

func (h *haptic) StartMotor(d time.Duration, intensity float32) error {
	return h.b.write(motorCommand(d, intensity), true)
}

func (h *haptic) StartBuzzer(d time.Duration) error {
	return h.b.write(buzzerCommand(d), true)
}

type led struct{ b *Board }

func (l *led) Stop(resetPattern bool) error {
	return l.b.write(ledStopCommand(resetPattern), true)
}

func (l *led) EditPattern(p device.LEDPattern) error {
	if !p.Color.Valid() {
		return fmt.Errorf("%w: led %s", device.ErrUnsupported, p.Color)
	}
	return l.b.write(ledPatternCommand(p), true)
}

func (l *led) Play() error {
	return l.b.write(ledPlayCommand(), true)
}

func findService(p *ble.Profile, u ble.UUID) *ble.Service {
	if p == nil {
		return nil
	}
	for _, s := range p.Services {
		if s.UUID.Equal(u) {
			return s
		}
	}
	return nil
}

func findCharacteristic(s *ble.Service, u ble.UUID) *ble.Characteristic {
	for _, c := range s.Characteristics {
		if c.UUID.Equal(u) {
			return c
		}
	}
	return nil
}
