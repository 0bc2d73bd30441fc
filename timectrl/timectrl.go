package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// SimClock gives read access to simulation time so that components depend
// on a clock abstraction rather than on the controller that drives it.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick per wall-clock Tick.
	RealTime Mode = iota
	// Accelerated steps by Tick as fast as the listeners allow.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration string onto a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "realtime", "real-time", "RealTime":
		return RealTime, true
	case "accelerated", "Accelerated", "":
		return Accelerated, true
	default:
		return Accelerated, false
	}
}

// TimeController drives simulation time and notifies registered listeners
// after every tick. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the clock to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked with the new time on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Step advances the clock by one Tick and notifies listeners synchronously.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	listeners := slices.Clone(tc.listeners)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Run advances the clock from its current position until duration of
// simulation time has elapsed (forever when duration <= 0) or ctx is done.
// RealTime mode paces ticks with a wall-clock ticker; Accelerated mode does
// not wait between ticks.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	var ticks <-chan time.Time
	if tc.Mode == RealTime {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		ticks = ticker.C
	}

	elapsed := time.Duration(0)
	for duration <= 0 || elapsed < duration {
		if ticks != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticks:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		tc.Step()
		elapsed += tc.Tick
	}
	return nil
}

// Start resets the clock to StartTime and runs it for duration in a separate
// goroutine. The returned channel is closed when the run finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	tc.SetTime(tc.StartTime)
	go func() {
		defer close(done)
		_ = tc.Run(context.Background(), duration)
	}()
	return done
}
