package audio

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/mentor/internal/core"
)

// ClockSink renders nothing and holds each buffer for its real duration.
// It stands in for an output device on headless hosts.
type ClockSink struct {
	speed float64

	mu     sync.Mutex
	closed bool
	played time.Duration
}

// NewClockSink paces playback at speed times real time (1 = real time).
func NewClockSink(speed float64) *ClockSink {
	if speed <= 0 {
		speed = 1
	}
	return &ClockSink{speed: speed}
}

func (s *ClockSink) Play(ctx context.Context, buf *core.PCMBuffer) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return core.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d := time.Duration(float64(buf.Duration()) / s.speed)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	s.mu.Lock()
	s.played += buf.Duration()
	s.mu.Unlock()
	return nil
}

// Played is the total audio duration rendered so far.
func (s *ClockSink) Played() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

func (s *ClockSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
