// Package timectrl tracks simulated time for an orchestrator run and paces
// emission against the wall clock.
package timectrl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time, so components can
// depend on a clock abstraction rather than on the controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime holds each simulated instant until the wall clock reaches it.
	RealTime Mode = iota
	// Accelerated advances as quickly as the caller can emit.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "realtime" and "accelerated", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "realtime", "real-time", "real_time":
		return RealTime, nil
	case "accelerated", "fast":
		return Accelerated, nil
	default:
		return 0, fmt.Errorf("timectrl: unknown mode %q", s)
	}
}

// TimeController tracks simulation time and notifies registered listeners
// whenever it advances. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Mode      Mode
	// Scale is simulated seconds per wall second in RealTime mode.
	Scale float64

	currentTime time.Time

	// anchored on the first Advance in RealTime mode
	anchored  bool
	wallStart time.Time
	simStart  time.Time

	wallNow   func() time.Time
	listeners []func(time.Time)
}

var _ SimClock = (*TimeController)(nil)

// NewTimeController constructs a controller at start with a 1:1 scale.
func NewTimeController(start time.Time, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Mode:        mode,
		Scale:       1,
		currentTime: start,
		wallNow:     time.Now,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves simulation time without pacing or notifying listeners. It
// also resets the realtime anchor.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
	tc.anchored = false
}

// AddListener registers a callback invoked each time simulation time advances.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance moves simulation time forward to t. In RealTime mode it first
// blocks until the wall clock has caught up with t, measured from the first
// call. Earlier or equal times do not move the clock back and do not notify.
// It returns ctx.Err() if ctx ends while waiting.
func (tc *TimeController) Advance(ctx context.Context, t time.Time) error {
	if tc.Mode == RealTime {
		if err := tc.waitFor(ctx, t); err != nil {
			return err
		}
	}

	tc.mu.Lock()
	if !t.After(tc.currentTime) {
		tc.mu.Unlock()
		return nil
	}
	tc.currentTime = t
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return nil
}

func (tc *TimeController) waitFor(ctx context.Context, t time.Time) error {
	tc.mu.Lock()
	if !tc.anchored {
		tc.anchored = true
		tc.wallStart = tc.wallNow()
		tc.simStart = t
	}
	scale := tc.Scale
	if scale <= 0 {
		scale = 1
	}
	due := tc.wallStart.Add(time.Duration(float64(t.Sub(tc.simStart)) / scale))
	wait := due.Sub(tc.wallNow())
	tc.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
