package orbit

import "math"

// EarthRadiusKm is the mean Earth radius of the spherical Earth used for
// ground sites and line of sight checks.
const EarthRadiusKm = 6371.0

// Vec3 is an ECEF vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Site is a ground location on the spherical Earth.
type Site struct {
	Name   string
	LatDeg float64
	LonDeg float64
	AltKm  float64
}

// ECEF returns the position of the site.
func (s Site) ECEF() Vec3 {
	lat := s.LatDeg * math.Pi / 180
	lon := s.LonDeg * math.Pi / 180
	r := EarthRadiusKm + s.AltKm
	return Vec3{
		X: r * math.Cos(lat) * math.Cos(lon),
		Y: r * math.Cos(lat) * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}

// SiteBelow returns the ground site directly under p.
func SiteBelow(name string, p Vec3) Site {
	r := p.Norm()
	if r == 0 {
		return Site{Name: name}
	}
	return Site{
		Name:   name,
		LatDeg: math.Asin(p.Z/r) * 180 / math.Pi,
		LonDeg: math.Atan2(p.Y, p.X) * 180 / math.Pi,
	}
}

// hasLineOfSight reports whether the segment p1-p2 stays clear of the
// Earth sphere.
func hasLineOfSight(p1, p2 Vec3) bool {
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		return p1.Dot(p1) > EarthRadiusKm*EarthRadiusKm
	}

	// Closest point of the segment to the Earth's centre.
	t := -p1.Dot(v) / a
	t = math.Max(0, math.Min(1, t))
	closest := Vec3{X: p1.X + v.X*t, Y: p1.Y + v.Y*t, Z: p1.Z + v.Z*t}

	// Ground sites sit on the sphere; allow grazing contact.
	const toleranceKm = 1e-6
	return closest.Norm() >= EarthRadiusKm-toleranceKm
}

// ElevationDegrees returns the elevation of target seen from observer.
// 0 is the geometric horizon, 90 overhead.
func ElevationDegrees(observer, target Vec3) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	r := observer.Norm()
	if vNorm == 0 || r == 0 {
		return 90
	}
	cosGamma := v.Dot(observer) / (vNorm * r)
	cosGamma = math.Max(-1, math.Min(1, cosGamma))
	return 90 - math.Acos(cosGamma)*180/math.Pi
}
