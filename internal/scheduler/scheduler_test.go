package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	boardA = device.MustParseAddress("EC:31:87:17:9E:BD")
	boardB = device.MustParseAddress("D6:0E:AB:0D:C3:1E")
)

// lookup is a mutable board table standing in for the supervisor.
type lookup struct {
	mu     sync.Mutex
	boards map[device.Address]device.Board
}

func newLookup() *lookup {
	return &lookup{boards: make(map[device.Address]device.Board)}
}

func (l *lookup) Board(addr device.Address) (device.Board, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.boards[addr]
	return b, ok
}

func (l *lookup) add(addr device.Address, spec testutils.BoardSpec) *testutils.FakeBoard {
	b := testutils.NewFakeBoard(addr, spec)
	l.mu.Lock()
	l.boards[addr] = b
	l.mu.Unlock()
	return b
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestPattern_Spacing(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		delay    time.Duration
		want     time.Duration
	}{
		{"short delay raised to floor", 100 * time.Millisecond, 50 * time.Millisecond, 220 * time.Millisecond},
		{"zero delay", 0, 0, FloorDelay},
		{"long delay kept", 100 * time.Millisecond, 500 * time.Millisecond, 600 * time.Millisecond},
		{"delay equal to floor", 30 * time.Millisecond, FloorDelay, 150 * time.Millisecond},
		{"negative pulse counts as zero", -time.Second, 0, FloorDelay},
		{"negative delay raised to floor", 100 * time.Millisecond, -time.Hour, 220 * time.Millisecond},
		{"pulse beyond firmware range", 10 * time.Hour, 0, FloorDelay + device.MaxPulse},
		{"delay beyond firmware range", 0, 10 * time.Hour, device.MaxPulse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Pattern{Duration: tt.duration, Delay: tt.delay}
			got := p.Spacing(FloorDelay)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, FloorDelay+device.ClampPulse(tt.duration), "spacing MUST never drop below floor plus pulse")
		})
	}
}

func TestNew_FloorCannotBeLowered(t *testing.T) {
	s := New(newLookup(), quietLogger(), Options{FloorDelay: 10 * time.Millisecond})
	assert.Equal(t, FloorDelay, s.floor)

	s = New(newLookup(), quietLogger(), Options{})
	assert.Equal(t, FloorDelay, s.floor)
}

func TestScheduler_ThreeIterationsSpaced(t *testing.T) {
	// GOAL: A 100ms pulse with a 50ms requested delay repeats every 220ms
	//
	// TEST SCENARIO: Pattern(100ms, 50%, 50ms, 3) → exactly three motor calls, gaps ≥ 220ms

	boards := newLookup()
	board := boards.add(boardA, testutils.FullBoard())
	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	s.Start(Pattern{Address: boardA, Duration: 100 * time.Millisecond, Intensity: 50, Delay: 50 * time.Millisecond, Iterations: 3})

	require.Eventually(t, func() bool { return len(board.Effects()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Active() }, time.Second, 5*time.Millisecond)

	effects := board.Effects()
	for _, e := range effects {
		assert.Equal(t, "motor", e.Op)
		assert.Equal(t, 100*time.Millisecond, e.Duration)
		assert.Equal(t, float32(50), e.Intensity)
	}
	for _, gap := range testutils.Spacing(effects) {
		assert.GreaterOrEqual(t, gap, 220*time.Millisecond)
		assert.Less(t, gap, 400*time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, board.Effects(), 3, "no iteration MUST follow the last one")
}

func TestScheduler_NewPatternSupersedesOld(t *testing.T) {
	// GOAL: A newer request cancels the running one before its next iteration
	//
	// TEST SCENARIO: A (10 iterations) fires once, B starts → A never fires again, B completes its count

	boards := newLookup()
	a := boards.add(boardA, testutils.FullBoard())
	b := boards.add(boardB, testutils.FullBoard())
	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	s.Start(Pattern{Address: boardA, Duration: 10 * time.Millisecond, Intensity: 100, Iterations: 10})
	require.Eventually(t, func() bool { return len(a.Effects()) == 1 }, time.Second, time.Millisecond)

	s.Start(Pattern{Address: boardB, Duration: 10 * time.Millisecond, Intensity: 20, Iterations: 2})

	require.Eventually(t, func() bool { return len(b.Effects()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	assert.Len(t, a.Effects(), 1, "superseded pattern MUST NOT fire again")
	assert.Len(t, b.Effects(), 2, "new pattern MUST complete its iteration count")
}

func TestScheduler_MissingSessionStillConsumesSpacing(t *testing.T) {
	boards := newLookup()
	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	started := time.Now()
	s.Start(Pattern{Address: boardA, Duration: 50 * time.Millisecond, Iterations: 3})

	time.Sleep(60 * time.Millisecond)
	board := boards.add(boardA, testutils.FullBoard())

	require.Eventually(t, func() bool { return !s.Active() }, 2*time.Second, 5*time.Millisecond)

	effects := board.Effects()
	require.Len(t, effects, 2, "the iteration without a session MUST be skipped, not retried")
	assert.GreaterOrEqual(t, effects[0].At.Sub(started), 170*time.Millisecond,
		"the skipped iteration MUST still wait out its spacing")
}

func TestScheduler_StartReturnsImmediately(t *testing.T) {
	boards := newLookup()
	boards.add(boardA, testutils.FullBoard())
	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	began := time.Now()
	s.Start(Pattern{Address: boardA, Duration: time.Second, Iterations: 100})
	assert.Less(t, time.Since(began), 50*time.Millisecond)
	assert.True(t, s.Active())
}

func TestScheduler_OutOfRangeDurationsKeepTheFloor(t *testing.T) {
	// GOAL: Durations outside the firmware range cannot shrink the spacing below the floor
	//
	// TEST SCENARIO: Pattern(-1s, 50%, -1s, 3) → three zero-length pulses at least FloorDelay apart

	boards := newLookup()
	board := boards.add(boardA, testutils.FullBoard())
	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	s.Start(Pattern{Address: boardA, Duration: -time.Second, Intensity: 50, Delay: -time.Second, Iterations: 3})
	require.Eventually(t, func() bool { return !s.Active() }, 2*time.Second, 5*time.Millisecond)

	effects := board.Effects()
	require.Len(t, effects, 3)
	for _, e := range effects {
		assert.Equal(t, time.Duration(0), e.Duration, "negative pulses MUST be played as zero")
	}
	for _, gap := range testutils.Spacing(effects) {
		assert.GreaterOrEqual(t, gap, FloorDelay, "iterations MUST NOT fire back to back")
	}

	s.Start(Pattern{Address: boardA, Duration: 10 * time.Hour, Iterations: 2})
	require.Eventually(t, func() bool { return len(board.Effects()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, device.MaxPulse, board.Effects()[3].Duration, "oversized pulses MUST be clamped")
}

func TestScheduler_SlowBoardDoesNotBlockStart(t *testing.T) {
	// GOAL: A stalled motor write never holds up the caller of Start
	//
	// TEST SCENARIO: A's write stalls 500ms → B requested mid-write returns at once → A stops after the stalled write, B fires

	boards := newLookup()
	slow := testutils.FullBoard()
	slow.MotorDelay = 500 * time.Millisecond
	a := boards.add(boardA, slow)
	b := boards.add(boardB, testutils.FullBoard())
	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	s.Start(Pattern{Address: boardA, Duration: 10 * time.Millisecond, Intensity: 100, Iterations: 5})
	time.Sleep(50 * time.Millisecond)

	began := time.Now()
	s.Start(Pattern{Address: boardB, Duration: 10 * time.Millisecond, Intensity: 20, Iterations: 1})
	assert.Less(t, time.Since(began), 50*time.Millisecond, "Start MUST NOT wait for an in-flight write")

	require.Eventually(t, func() bool { return len(b.Effects()) == 1 }, time.Second, 5*time.Millisecond,
		"the new pattern MUST fire while the old write is still stalled")
	require.Eventually(t, func() bool { return len(a.Effects()) == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, a.Effects(), 1, "the superseded pattern MUST NOT start another iteration")
}

func TestScheduler_ZeroIterationsCancelsRunning(t *testing.T) {
	boards := newLookup()
	board := boards.add(boardA, testutils.FullBoard())
	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	s.Start(Pattern{Address: boardA, Duration: 10 * time.Millisecond, Iterations: 5})
	require.Eventually(t, func() bool { return len(board.Effects()) == 1 }, time.Second, time.Millisecond)

	s.Start(Pattern{Address: boardA, Iterations: 0})
	assert.False(t, s.Active())

	time.Sleep(250 * time.Millisecond)
	assert.Len(t, board.Effects(), 1)
}

func TestScheduler_SkipsBoardsWithoutHaptic(t *testing.T) {
	boards := newLookup()
	ledOnly := testutils.FullBoard()
	ledOnly.Capabilities = device.Capabilities(0).With(device.CapLED)
	plain := boards.add(boardA, ledOnly)

	boot := testutils.FullBoard()
	boot.BootMode = true
	booting := boards.add(boardB, boot)

	s := New(boards, quietLogger(), Options{})
	defer s.Close()

	s.Start(Pattern{Address: boardA, Duration: 10 * time.Millisecond, Iterations: 1})
	require.Eventually(t, func() bool { return !s.Active() }, time.Second, time.Millisecond)
	s.Start(Pattern{Address: boardB, Duration: 10 * time.Millisecond, Iterations: 1})
	require.Eventually(t, func() bool { return !s.Active() }, time.Second, time.Millisecond)

	assert.Empty(t, plain.Effects())
	assert.Empty(t, booting.Effects())
}

func TestScheduler_CloseStopsAndIgnoresLaterStarts(t *testing.T) {
	boards := newLookup()
	board := boards.add(boardA, testutils.FullBoard())
	s := New(boards, quietLogger(), Options{})

	s.Start(Pattern{Address: boardA, Duration: 10 * time.Millisecond, Iterations: 50})
	require.Eventually(t, func() bool { return len(board.Effects()) >= 1 }, time.Second, time.Millisecond)

	s.Close()
	assert.False(t, s.Active())
	fired := len(board.Effects())

	s.Start(Pattern{Address: boardA, Duration: 10 * time.Millisecond, Iterations: 3})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, fired, len(board.Effects()), "no iteration MUST fire after close")

	s.Close()
}
