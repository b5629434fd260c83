// Package supervisor keeps one live session per roster board.
//
// A single loop goroutine owns every change to the session table. Discoveries,
// connect results and disconnect notices all arrive on channels, so the table
// never needs a write lock; readers use lock-free lookups.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/groutine"
	"github.com/srg/mwrpc/internal/metrics"
	"github.com/srg/mwrpc/internal/ringchan"
	"golang.org/x/sync/errgroup"
)

// Options bounds the supervisor's waits.
type Options struct {
	// ConnectTimeout bounds one connect and initialize attempt.
	ConnectTimeout time.Duration `default:"30s"`
	// TeardownTimeout bounds releasing one session.
	TeardownTimeout time.Duration `default:"5s"`
	// RescanInterval is how often scanning is re-checked when a scan died on its own.
	RescanInterval time.Duration `default:"10s"`
	// EventBuffer is how many unread events are kept before the oldest is dropped.
	EventBuffer int `default:"64"`
}

// Session is one established connection to a roster board.
type Session struct {
	Address     device.Address
	Board       device.Board
	ConnectedAt time.Time

	gen uint64
}

// Alive reports whether the board still reports a live link.
func (s *Session) Alive() bool {
	return s.Board.IsConnected()
}

type connectResult struct {
	board device.Board
	err   error
}

type disconnectNotice struct {
	addr device.Address
	gen  uint64
}

// Supervisor discovers, connects and reconnects the roster boards.
type Supervisor struct {
	roster    []device.Address
	rosterSet map[device.Address]struct{}
	adapter   device.Adapter
	scanner   device.Scanner
	logger    *logrus.Logger
	opts      Options

	sessions *hashmap.Map[string, *Session]
	events   *ringchan.RingChannel[Event]

	connectResults chan connectResult
	disconnects    chan disconnectNotice

	// loop-owned
	connecting bool
	gen        uint64
	lastState  EventKind

	scanning atomic.Bool
	fully    atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	started  atomic.Bool

	attempts sync.WaitGroup
	releases sync.WaitGroup
	watchers sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New creates a supervisor for roster. Duplicate roster entries are dropped.
func New(adapter device.Adapter, roster []device.Address, logger *logrus.Logger, opts Options) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)

	set := make(map[device.Address]struct{}, len(roster))
	unique := make([]device.Address, 0, len(roster))
	for _, a := range roster {
		if _, dup := set[a]; dup {
			continue
		}
		set[a] = struct{}{}
		unique = append(unique, a)
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics.RosterSize.Set(float64(len(unique)))

	return &Supervisor{
		roster:         unique,
		rosterSet:      set,
		adapter:        adapter,
		scanner:        adapter.Scanner(),
		logger:         logger,
		opts:           opts,
		sessions:       hashmap.New[string, *Session](),
		events:         ringchan.New[Event](opts.EventBuffer),
		connectResults: make(chan connectResult),
		disconnects:    make(chan disconnectNotice),
		ctx:            ctx,
		cancel:         cancel,
		loopDone:       make(chan struct{}),
	}
}

// Start begins scanning and runs the supervisor loop until Close.
// It fails only when scanning cannot be started at all.
func (s *Supervisor) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("supervisor already started")
	}
	if s.ctx.Err() != nil {
		close(s.loopDone)
		return errors.New("supervisor closed")
	}

	s.logger.WithField("boards", len(s.roster)).Info("Starting connection supervisor")

	if len(s.roster) > 0 {
		if err := s.scanner.StartScanning(); err != nil {
			close(s.loopDone)
			return fmt.Errorf("failed to start scanning: %w", err)
		}
	}
	s.checkScanning()

	groutine.Go(s.ctx, "supervisor-loop", s.loop)
	return nil
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.opts.RescanInterval)
	defer ticker.Stop()

	discoveries := s.scanner.Discoveries()

	for {
		select {
		case <-ctx.Done():
			return

		case addr, ok := <-discoveries:
			if !ok {
				discoveries = nil
				continue
			}
			s.onDiscovery(addr)

		case res := <-s.connectResults:
			s.onConnectResult(res)

		case n := <-s.disconnects:
			s.onDisconnect(n)

		case <-ticker.C:
			if !s.connecting {
				s.checkScanning()
			}
		}
	}
}

func (s *Supervisor) onDiscovery(addr device.Address) {
	if _, ok := s.rosterSet[addr]; !ok {
		return
	}
	if s.connecting {
		return
	}
	if _, ok := s.sessions.Get(addr.String()); ok {
		return
	}

	log := s.logger.WithField("address", addr.String())
	log.Info("Roster board discovered, connecting")

	s.connecting = true
	s.scanner.StopScanning()
	s.scanning.Store(false)
	metrics.Scanning.Set(0)
	metrics.ConnectAttempts.Inc()

	board := s.adapter.NewBoard(addr)

	s.attempts.Add(1)
	groutine.Go(s.ctx, "connect-"+addr.String(), func(ctx context.Context) {
		defer s.attempts.Done()

		cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
		err := board.ConnectAndInitialize(cctx)
		cancel()

		select {
		case s.connectResults <- connectResult{board: board, err: err}:
		case <-ctx.Done():
			if err == nil {
				s.release(board, true)
			}
		}
	})
}

func (s *Supervisor) onConnectResult(res connectResult) {
	s.connecting = false
	addr := res.board.Address()
	log := s.logger.WithField("address", addr.String())

	if res.err != nil {
		metrics.ConnectFailures.Inc()
		log.WithField("error", res.err).Warn("Failed to connect board, will retry on next scan")
		s.emit(EventConnectFailed, addr)
		s.checkScanning()
		return
	}

	s.gen++
	sess := &Session{
		Address:     addr,
		Board:       res.board,
		ConnectedAt: time.Now(),
		gen:         s.gen,
	}
	s.sessions.Set(addr.String(), sess)
	metrics.ActiveSessions.Set(float64(s.sessions.Len()))

	log.WithFields(logrus.Fields{
		"model":        res.board.Model(),
		"boot_mode":    res.board.InBootMode(),
		"capabilities": res.board.Capabilities().String(),
	}).Info("Board connected")
	s.emit(EventConnected, addr)

	s.watch(sess)
	s.checkScanning()
}

// watch forwards the session's disconnect notification into the loop.
func (s *Supervisor) watch(sess *Session) {
	statuses := sess.Board.StatusChanges()
	notice := disconnectNotice{addr: sess.Address, gen: sess.gen}

	s.watchers.Add(1)
	groutine.Go(s.ctx, "session-watch-"+sess.Address.String(), func(ctx context.Context) {
		defer s.watchers.Done()
		for {
			select {
			case st, ok := <-statuses:
				if !ok {
					return
				}
				if st != device.StatusDisconnected {
					continue
				}
				select {
				case s.disconnects <- notice:
				case <-ctx.Done():
				}
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

func (s *Supervisor) onDisconnect(n disconnectNotice) {
	key := n.addr.String()
	sess, ok := s.sessions.Get(key)
	if !ok || sess.gen != n.gen {
		return
	}

	s.sessions.Del(key)
	metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	metrics.Disconnects.Inc()

	s.logger.WithField("address", key).Warn("Board disconnected")
	s.emit(EventDisconnected, n.addr)

	s.releases.Add(1)
	groutine.Go(context.Background(), "session-release-"+key, func(context.Context) {
		defer s.releases.Done()
		s.release(sess.Board, false)
	})

	if !s.connecting {
		s.checkScanning()
	}
}

// checkScanning stops scanning once every roster board has a session and
// (re)starts it otherwise.
func (s *Supervisor) checkScanning() {
	if s.sessions.Len() == len(s.roster) {
		if s.scanner.IsScanning() {
			s.scanner.StopScanning()
		}
		s.scanning.Store(false)
		s.fully.Store(true)
		metrics.Scanning.Set(0)
		if s.lastState != EventFullyConnected {
			s.lastState = EventFullyConnected
			s.logger.WithField("boards", len(s.roster)).Info("All boards connected")
			s.emit(EventFullyConnected, 0)
		}
		return
	}

	s.fully.Store(false)
	if !s.scanner.IsScanning() {
		if err := s.scanner.StartScanning(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to start scanning")
			s.scanning.Store(false)
			metrics.Scanning.Set(0)
			return
		}
	}
	s.scanning.Store(true)
	metrics.Scanning.Set(1)
	if s.lastState != EventScanning {
		s.lastState = EventScanning
		s.logger.WithFields(logrus.Fields{
			"connected": s.sessions.Len(),
			"boards":    len(s.roster),
		}).Info("Scanning for boards")
		s.emit(EventScanning, 0)
	}
}

// release gives up a board: a full teardown resets the board first, otherwise
// only the disconnect handshake is sent. Bounded by TeardownTimeout.
func (s *Supervisor) release(board device.Board, full bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.TeardownTimeout)
	defer cancel()

	errs := make(chan error, 1)
	groutine.Go(ctx, "board-teardown", func(ctx context.Context) {
		if full {
			errs <- board.TearDown(ctx)
			return
		}
		errs <- board.Disconnect(ctx)
	})

	var err error
	select {
	case err = <-errs:
	case <-ctx.Done():
		err = fmt.Errorf("%w: releasing %s", device.ErrTimeout, board.Address())
	}
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": board.Address().String(),
			"error":   err,
		}).Warn("Failed to release board")
	}
	return err
}

// Close stops scanning and tears every session down concurrently.
// It is safe to call more than once; later calls return the first result.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing connection supervisor")
		s.cancel()
		if s.started.Load() {
			<-s.loopDone
		}
		s.attempts.Wait()
		s.scanner.StopScanning()
		s.scanning.Store(false)
		metrics.Scanning.Set(0)

		var g errgroup.Group
		var keys []string
		s.sessions.Range(func(key string, sess *Session) bool {
			keys = append(keys, key)
			g.Go(func() error {
				return s.release(sess.Board, true)
			})
			return true
		})
		s.closeErr = g.Wait()

		for _, k := range keys {
			s.sessions.Del(k)
		}
		s.fully.Store(false)
		metrics.ActiveSessions.Set(0)

		s.releases.Wait()
		s.watchers.Wait()
		s.events.Close()

		s.logger.WithField("sessions", len(keys)).Info("Connection supervisor closed")
	})
	return s.closeErr
}

// Session returns the live session for addr, if any.
func (s *Supervisor) Session(addr device.Address) (*Session, bool) {
	return s.sessions.Get(addr.String())
}

// Board returns the board of the live session for addr, if any.
func (s *Supervisor) Board(addr device.Address) (device.Board, bool) {
	sess, ok := s.sessions.Get(addr.String())
	if !ok {
		return nil, false
	}
	return sess.Board, true
}

// Roster returns the roster in configuration order.
func (s *Supervisor) Roster() []device.Address {
	return append([]device.Address(nil), s.roster...)
}

// Events delivers supervisor events. The channel is closed by Close.
func (s *Supervisor) Events() <-chan Event {
	return s.events.C()
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Roster         []device.Address `json:"roster"`
	Connected      []device.Address `json:"connected"`
	Scanning       bool             `json:"scanning"`
	FullyConnected bool             `json:"fully_connected"`
}

// Status reports roster, connected boards (in roster order) and scanning state.
func (s *Supervisor) Status() Status {
	st := Status{
		Roster:         s.Roster(),
		Connected:      []device.Address{},
		Scanning:       s.scanning.Load(),
		FullyConnected: s.fully.Load(),
	}
	for _, a := range s.roster {
		if _, ok := s.sessions.Get(a.String()); ok {
			st.Connected = append(st.Connected, a)
		}
	}
	return st
}

func (s *Supervisor) emit(kind EventKind, addr device.Address) {
	s.events.ForceSend(Event{Kind: kind, Address: addr, At: time.Now()})
}
