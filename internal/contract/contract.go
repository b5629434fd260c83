// Package contract maps remote calls onto live board sessions.
//
// No call ever fails because a board is missing, still booting or lacks a
// capability: status reads fall back to zero values and effects are dropped.
package contract

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/scheduler"
)

// StartLED pattern, as the boards have always been driven.
const (
	ledPatternTime   = 32000 * time.Millisecond
	ledIntensity     = 255
	ledPatternRepeat = 5
)

// Boards resolves the live board for an address.
type Boards interface {
	Board(addr device.Address) (device.Board, bool)
}

// Patterns accepts periodic motor requests.
type Patterns interface {
	Start(p scheduler.Pattern)
}

// Options tunes the service.
type Options struct {
	// StatusTimeout bounds a single battery read.
	StatusTimeout time.Duration `default:"5s"`
}

// Service implements the remote board operations.
type Service struct {
	boards   Boards
	patterns Patterns
	logger   *logrus.Logger
	opts     Options
}

func New(boards Boards, patterns Patterns, logger *logrus.Logger, opts Options) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	return &Service{
		boards:   boards,
		patterns: patterns,
		logger:   logger,
		opts:     opts,
	}
}

// board returns the session board for addr unless it is absent or in boot mode.
func (s *Service) board(addr device.Address) device.Board {
	b, ok := s.boards.Board(addr)
	if !ok || b.InBootMode() {
		return nil
	}
	return b
}

// GetBoardModel returns the model name, or "" when the board is unavailable.
func (s *Service) GetBoardModel(addr device.Address) string {
	b := s.board(addr)
	if b == nil {
		return ""
	}
	return b.Model()
}

// GetBatteryLevel returns the charge percentage, or 0 when the board is
// unavailable or the read fails or takes longer than StatusTimeout.
func (s *Service) GetBatteryLevel(ctx context.Context, addr device.Address) byte {
	b := s.board(addr)
	if b == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StatusTimeout)
	defer cancel()

	level, err := b.ReadBatteryLevel(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": addr.String(),
			"error":   err,
		}).Debug("Battery read failed")
		return 0
	}
	return level
}

// StartMotor pulses the vibration motor once.
func (s *Service) StartMotor(addr device.Address, duration time.Duration, intensity float32) {
	h := s.haptic(addr)
	if h == nil {
		return
	}
	s.check(addr, "motor", h.StartMotor(device.ClampPulse(duration), clampIntensity(intensity)))
}

// StartMotorPattern replaces the active periodic pattern. The target is
// resolved at every iteration, so an absent board is not an error here.
func (s *Service) StartMotorPattern(addr device.Address, duration time.Duration, intensity float32, delay time.Duration, iterations int) {
	s.patterns.Start(scheduler.Pattern{
		Address:    addr,
		Duration:   device.ClampPulse(duration),
		Intensity:  clampIntensity(intensity),
		Delay:      device.ClampPulse(delay),
		Iterations: iterations,
	})
}

// StartBuzzer sounds the buzzer once.
func (s *Service) StartBuzzer(addr device.Address, duration time.Duration) {
	h := s.haptic(addr)
	if h == nil {
		return
	}
	s.check(addr, "buzzer", h.StartBuzzer(device.ClampPulse(duration)))
}

// StopLED stops the LED, keeping its pattern.
func (s *Service) StopLED(addr device.Address) {
	l := s.led(addr)
	if l == nil {
		return
	}
	s.check(addr, "led stop", l.Stop(false))
}

// StartLED lights the LED in color. Unknown colors are ignored.
func (s *Service) StartLED(addr device.Address, color device.LEDColor) {
	if !color.Valid() {
		return
	}
	l := s.led(addr)
	if l == nil {
		return
	}

	if err := l.Stop(true); err != nil {
		s.check(addr, "led reset", err)
		return
	}
	err := l.EditPattern(device.LEDPattern{
		Color:         color,
		HighIntensity: ledIntensity,
		LowIntensity:  ledIntensity,
		HighTime:      ledPatternTime,
		Duration:      ledPatternTime,
		RepeatCount:   ledPatternRepeat,
	})
	if err != nil {
		s.check(addr, "led pattern", err)
		return
	}
	s.check(addr, "led play", l.Play())
}

func (s *Service) haptic(addr device.Address) device.Haptic {
	b := s.board(addr)
	if b == nil {
		return nil
	}
	return b.Haptic()
}

func (s *Service) led(addr device.Address) device.LED {
	b := s.board(addr)
	if b == nil {
		return nil
	}
	return b.LED()
}

func (s *Service) check(addr device.Address, op string, err error) {
	if err == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"address": addr.String(),
		"op":      op,
		"error":   err,
	}).Debug("Board operation failed")
}

func clampIntensity(v float32) float32 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
