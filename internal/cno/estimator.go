// Package cno estimates a terminal's carrier-to-noise-density ratio from
// the samples reported over a sliding time window.
package cno

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/timectrl"
)

// Mode selects how the samples inside the window are combined.
type Mode int

const (
	// ModeLast uses the most recent sample.
	ModeLast Mode = iota
	// ModeMinimum uses the smallest sample.
	ModeMinimum
	// ModeAverage uses the arithmetic mean of the samples.
	ModeAverage
)

// DefaultWindow is the estimation window used when none is configured.
const DefaultWindow = time.Second

var (
	// ErrUnsupportedMode is returned for modes outside the known set.
	ErrUnsupportedMode = errors.New("unsupported C/N0 estimation mode")
	// ErrInvalidWindow is returned for non-positive estimation windows.
	ErrInvalidWindow = errors.New("C/N0 estimation window must be positive")
)

func (m Mode) String() string {
	switch m {
	case ModeLast:
		return "last"
	case ModeMinimum:
		return "minimum"
	case ModeAverage:
		return "average"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	return m >= ModeLast && m <= ModeAverage
}

// ParseMode maps a configuration string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return ModeLast, nil
	case "minimum", "min":
		return ModeMinimum, nil
	case "average", "avg", "mean":
		return ModeAverage, nil
	default:
		return ModeLast, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

type sample struct {
	at    time.Time
	value float64
}

// Estimator keeps the samples of the last Window and combines them per Mode.
type Estimator struct {
	mode    Mode
	window  time.Duration
	clock   timectrl.SimClock
	samples []sample
}

// NewEstimator creates an estimator that timestamps samples with clock.
func NewEstimator(mode Mode, window time.Duration, clock timectrl.SimClock) (*Estimator, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidWindow, window)
	}
	if clock == nil {
		return nil, errors.New("C/N0 estimator requires a clock")
	}
	return &Estimator{mode: mode, window: window, clock: clock}, nil
}

// Mode returns the estimation mode.
func (e *Estimator) Mode() Mode { return e.mode }

// AddSample records value (dBHz) at the current time.
func (e *Estimator) AddSample(value float64) {
	now := e.clock.Now()
	e.expire(now)
	e.samples = append(e.samples, sample{at: now, value: value})
}

// Estimate returns the current estimate. ok is false when no sample lies
// inside the window.
func (e *Estimator) Estimate() (value float64, ok bool) {
	e.expire(e.clock.Now())
	if len(e.samples) == 0 {
		return 0, false
	}
	switch e.mode {
	case ModeMinimum:
		value = e.samples[0].value
		for _, s := range e.samples[1:] {
			if s.value < value {
				value = s.value
			}
		}
	case ModeAverage:
		for _, s := range e.samples {
			value += s.value
		}
		value /= float64(len(e.samples))
	default:
		value = e.samples[len(e.samples)-1].value
	}
	return value, true
}

// SampleCount returns the number of samples currently inside the window.
func (e *Estimator) SampleCount() int {
	e.expire(e.clock.Now())
	return len(e.samples)
}

// expire drops samples older than the window. Samples arrive in time order.
func (e *Estimator) expire(now time.Time) {
	cutoff := now.Add(-e.window)
	drop := 0
	for drop < len(e.samples) && e.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		e.samples = append(e.samples[:0], e.samples[drop:]...)
	}
}
