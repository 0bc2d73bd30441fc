// Package rng provides deterministic, per-subsystem random streams so that a
// simulation run is reproducible from a single seed.
package rng

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// Source is the subset of *rand.Rand the return link core draws from.
type Source interface {
	Float64() float64
	Intn(n int) int
	Int63n(n int64) int64
}

var _ Source = (*rand.Rand)(nil)

// Seed identifies a reproducible run. Two runs with the same seed and
// identical configuration produce identical schedules and decisions.
type Seed int64

const (
	// SubsystemTraffic drives the scenario traffic sources and uses the
	// master seed directly.
	SubsystemTraffic = "traffic"
	// SubsystemCno drives synthetic C/N0 samples.
	SubsystemCno = "cno"
)

// SubsystemBeam names the stream used by the scheduler of a beam.
func SubsystemBeam(beamID uint32) string {
	return fmt.Sprintf("beam_%d", beamID)
}

// SubsystemRandomAccess names the stream used by the contention access
// engine of one terminal.
func SubsystemRandomAccess(beamID uint32, terminal string) string {
	return fmt.Sprintf("ra_%d_%s", beamID, terminal)
}

// Partitioned hands out isolated streams per subsystem.
//
// Derivation: SubsystemTraffic uses the master seed, every other subsystem
// uses seed XOR fnv1a64(name). Not safe for concurrent use.
type Partitioned struct {
	seed       Seed
	subsystems map[string]*rand.Rand
}

// NewPartitioned creates a partitioned generator from seed.
func NewPartitioned(seed Seed) *Partitioned {
	return &Partitioned{
		seed:       seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the cached stream for name, creating it on first use.
func (p *Partitioned) ForSubsystem(name string) *rand.Rand {
	if r, ok := p.subsystems[name]; ok {
		return r
	}
	derived := int64(p.seed)
	if name != SubsystemTraffic {
		derived ^= fnv1a64(name)
	}
	r := rand.New(rand.NewSource(derived))
	p.subsystems[name] = r
	return r
}

// Seed returns the master seed.
func (p *Partitioned) Seed() Seed {
	return p.seed
}

// Uniform returns a value drawn uniformly from [min, max).
func Uniform(src Source, min, max float64) float64 {
	return min + src.Float64()*(max-min)
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
