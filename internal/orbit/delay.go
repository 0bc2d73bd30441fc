// Package orbit derives return link timing budgets from satellite orbits.
package orbit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// SpeedOfLightKmPerSec is the propagation speed of radio signals.
const SpeedOfLightKmPerSec = 299_792.458

var (
	// ErrInvalidTLE is returned for malformed two-line element sets.
	ErrInvalidTLE = errors.New("invalid two-line element set")
	// ErrNotVisible is returned when no sample sees the satellite from both
	// the gateway and a terminal.
	ErrNotVisible = errors.New("satellite never visible from gateway and terminal")
	// ErrInvalidWindow is returned for empty sampling windows.
	ErrInvalidWindow = errors.New("invalid sampling window")
)

// Satellite propagates one satellite with SGP4.
type Satellite struct {
	sat satellite.Satellite
}

// NewSatelliteFromTLE parses a two-line element set.
func NewSatelliteFromTLE(line1, line2 string) (*Satellite, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if len(line1) < 69 || len(line2) < 69 || !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return nil, ErrInvalidTLE
	}
	return &Satellite{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS72)}, nil
}

// PositionECEF returns the satellite position at t in kilometres.
func (s *Satellite) PositionECEF(t time.Time) Vec3 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)
	return Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
}

// DelayBudget bounds the round trip between a gateway and the terminals of
// a beam through one satellite.
type DelayBudget struct {
	sat       *Satellite
	gateway   Site
	terminals []Site
	// MinElevationDeg hides the satellite below this elevation.
	MinElevationDeg float64
}

// NewDelayBudget creates a budget for terminals served through sat.
func NewDelayBudget(sat *Satellite, gateway Site, terminals []Site) (*DelayBudget, error) {
	if sat == nil {
		return nil, errors.New("delay budget requires a satellite")
	}
	if len(terminals) == 0 {
		return nil, errors.New("delay budget requires at least one terminal site")
	}
	return &DelayBudget{sat: sat, gateway: gateway, terminals: append([]Site(nil), terminals...)}, nil
}

// MaxTwoWayPropagationDelay samples [start, start+horizon] every step and
// returns the longest gateway-satellite-terminal round trip seen while the
// satellite is visible from both ends.
func (b *DelayBudget) MaxTwoWayPropagationDelay(start time.Time, horizon, step time.Duration) (time.Duration, error) {
	if step <= 0 || horizon < 0 {
		return 0, fmt.Errorf("%w: horizon %s step %s", ErrInvalidWindow, horizon, step)
	}
	gw := b.gateway.ECEF()
	uts := make([]Vec3, len(b.terminals))
	for i, s := range b.terminals {
		uts[i] = s.ECEF()
	}

	var maxKm float64
	seen := false
	for t := start; !t.After(start.Add(horizon)); t = t.Add(step) {
		sat := b.sat.PositionECEF(t)
		if !b.visible(gw, sat) {
			continue
		}
		feeder := gw.DistanceTo(sat)
		for _, ut := range uts {
			if !b.visible(ut, sat) {
				continue
			}
			seen = true
			if km := 2 * (feeder + ut.DistanceTo(sat)); km > maxKm {
				maxKm = km
			}
		}
	}
	if !seen {
		return 0, ErrNotVisible
	}
	return time.Duration(maxKm / SpeedOfLightKmPerSec * float64(time.Second)), nil
}

func (b *DelayBudget) visible(ground, sat Vec3) bool {
	return hasLineOfSight(ground, sat) && ElevationDegrees(ground, sat) >= b.MinElevationDeg
}
