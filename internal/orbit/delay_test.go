package orbit

import (
	"errors"
	"math"
	"testing"
	"time"
)

// ISS sample TLE.
const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func TestSatellitePositionChangesOverTime(t *testing.T) {
	sat, err := NewSatelliteFromTLE(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewSatelliteFromTLE: %v", err)
	}
	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	p1 := sat.PositionECEF(t1)
	p2 := sat.PositionECEF(t1.Add(time.Minute))
	if p1.DistanceTo(p2) < 100 {
		t.Fatalf("satellite moved %.1f km in a minute", p1.DistanceTo(p2))
	}
	if alt := p1.Norm() - EarthRadiusKm; alt < 300 || alt > 500 {
		t.Fatalf("altitude %.1f km outside low Earth orbit", alt)
	}
}

func TestNewSatelliteRejectsMalformedTLE(t *testing.T) {
	if _, err := NewSatelliteFromTLE("1 short", issLine2); !errors.Is(err, ErrInvalidTLE) {
		t.Fatalf("short line 1 = %v", err)
	}
	if _, err := NewSatelliteFromTLE(issLine2, issLine1); !errors.Is(err, ErrInvalidTLE) {
		t.Fatalf("swapped lines = %v", err)
	}
}

func TestMaxTwoWayPropagationDelayOverhead(t *testing.T) {
	sat, err := NewSatelliteFromTLE(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewSatelliteFromTLE: %v", err)
	}
	at := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	pos := sat.PositionECEF(at)
	below := SiteBelow("nadir", pos)
	altKm := pos.Norm() - EarthRadiusKm

	budget, err := NewDelayBudget(sat, below, []Site{below})
	if err != nil {
		t.Fatalf("NewDelayBudget: %v", err)
	}
	got, err := budget.MaxTwoWayPropagationDelay(at, 0, time.Second)
	if err != nil {
		t.Fatalf("MaxTwoWayPropagationDelay: %v", err)
	}
	want := time.Duration(4 * altKm / SpeedOfLightKmPerSec * float64(time.Second))
	if math.Abs(float64(got-want)) > float64(10*time.Microsecond) {
		t.Fatalf("delay = %s, want %s", got, want)
	}

	budget.MinElevationDeg = 91
	if _, err := budget.MaxTwoWayPropagationDelay(at, 0, time.Second); !errors.Is(err, ErrNotVisible) {
		t.Fatalf("unreachable elevation = %v, want ErrNotVisible", err)
	}
	if _, err := budget.MaxTwoWayPropagationDelay(at, time.Minute, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("zero step = %v, want ErrInvalidWindow", err)
	}
}

func TestSiteGeometry(t *testing.T) {
	s := Site{LatDeg: 45, LonDeg: -30}
	back := SiteBelow("x", s.ECEF())
	if math.Abs(back.LatDeg-45) > 1e-9 || math.Abs(back.LonDeg+30) > 1e-9 {
		t.Fatalf("round trip = %+v", back)
	}

	ground := Site{}.ECEF()
	overhead := Vec3{X: EarthRadiusKm + 1000}
	if e := ElevationDegrees(ground, overhead); math.Abs(e-90) > 1e-9 {
		t.Fatalf("overhead elevation = %g", e)
	}
	antipode := Vec3{X: -(EarthRadiusKm + 1000)}
	if hasLineOfSight(ground, antipode) {
		t.Fatalf("line of sight through the Earth")
	}
}
