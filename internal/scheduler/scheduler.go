// Package scheduler runs the single system-wide periodic haptic pattern.
//
// A new pattern always supersedes the running one: the old run is cancelled and
// its generation retired before the new run can fire, so at most one pattern is
// ever driving a motor.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/groutine"
	"github.com/srg/mwrpc/internal/metrics"
)

// FloorDelay is the minimum pause between two pattern iterations on top of the
// pulse itself. Shorter requested delays are raised to it.
const FloorDelay = 120 * time.Millisecond

// Pattern is one periodic motor request.
type Pattern struct {
	Address    device.Address
	Duration   time.Duration
	Intensity  float32
	Delay      time.Duration
	Iterations int
}

// Spacing is the time between the starts of two consecutive iterations. Both
// durations are clamped to what the board encodes, so the result never drops
// below floor plus the pulse actually played.
func (p Pattern) Spacing(floor time.Duration) time.Duration {
	return max(device.ClampPulse(p.Delay), floor) + device.ClampPulse(p.Duration)
}

// BoardLookup resolves the live board for an address.
type BoardLookup interface {
	Board(addr device.Address) (device.Board, bool)
}

// Options tunes the scheduler.
type Options struct {
	FloorDelay time.Duration `default:"120ms"`
}

// Scheduler owns the active pattern run.
type Scheduler struct {
	boards BoardLookup
	logger *logrus.Logger
	floor  time.Duration
	sleep  func(ctx context.Context, d time.Duration) bool

	// gen identifies the pattern allowed to fire; bumped under mu, read lock-free.
	gen atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New creates a scheduler that resolves boards through boards at each iteration.
func New(boards BoardLookup, logger *logrus.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	if opts.FloorDelay < FloorDelay {
		opts.FloorDelay = FloorDelay
	}
	return &Scheduler{
		boards: boards,
		logger: logger,
		floor:  opts.FloorDelay,
		sleep:  sleepCtx,
	}
}

// Start replaces the active pattern with p and returns immediately.
func (s *Scheduler) Start(p Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.cancel != nil {
		s.cancel()
		if !isDone(s.done) {
			metrics.PatternsSuperseded.Inc()
		}
	}
	gen := s.gen.Add(1)
	s.cancel, s.done = nil, nil

	p.Duration = device.ClampPulse(p.Duration)
	p.Delay = device.ClampPulse(p.Delay)
	if p.Iterations <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	metrics.PatternRuns.Inc()
	s.logger.WithFields(logrus.Fields{
		"address":    p.Address.String(),
		"duration":   p.Duration,
		"intensity":  p.Intensity,
		"spacing":    p.Spacing(s.floor),
		"iterations": p.Iterations,
	}).Debug("Starting motor pattern")

	groutine.Go(ctx, "motor-pattern", func(ctx context.Context) {
		defer close(done)
		s.run(ctx, gen, p)
	})
}

func (s *Scheduler) run(ctx context.Context, gen uint64, p Pattern) {
	spacing := p.Spacing(s.floor)

	for i := 0; i < p.Iterations; i++ {
		if !s.fire(ctx, gen, p) {
			return
		}
		if i == p.Iterations-1 {
			return
		}
		if !s.sleep(ctx, spacing) {
			return
		}
	}
}

// fire runs one iteration. It returns false once the run has been superseded.
// The write happens without holding mu, so a stalled board never blocks Start.
func (s *Scheduler) fire(ctx context.Context, gen uint64, p Pattern) bool {
	if s.superseded(ctx, gen) {
		return false
	}

	board, ok := s.boards.Board(p.Address)
	if !ok || board.InBootMode() {
		return true
	}
	h := board.Haptic()
	if h == nil {
		return true
	}

	if s.superseded(ctx, gen) {
		return false
	}
	if err := h.StartMotor(p.Duration, p.Intensity); err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": p.Address.String(),
			"error":   err,
		}).Debug("Pattern iteration failed")
	}
	return true
}

func (s *Scheduler) superseded(ctx context.Context, gen uint64) bool {
	return ctx.Err() != nil || s.gen.Load() != gen
}

// Active reports whether a pattern run is still in progress.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil && !isDone(s.done)
}

// Close cancels the active run and waits for it to exit. Later Starts are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen.Add(1)
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func isDone(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
