package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidServiceProfile indicates a service profile failed validation.
var ErrInvalidServiceProfile = errors.New("invalid service profile")

// DaService describes the demand-assignment rights of one resource class.
type DaService struct {
	// ConstantAssignmentProvided enables CRA for the resource class.
	ConstantAssignmentProvided bool
	// ConstantServiceRateKbps is the CRA rate when enabled.
	ConstantServiceRateKbps uint32
	// RbdcAllowed enables rate-based dynamic capacity.
	RbdcAllowed bool
	// MinimumServiceRateKbps is the guaranteed RBDC floor.
	MinimumServiceRateKbps uint32
	// MaximumServiceRateKbps caps requested RBDC. Zero means no cap.
	MaximumServiceRateKbps uint32
	// VolumeAllowed enables volume-based dynamic capacity.
	VolumeAllowed bool
	// MaximumBacklogBytes caps accumulated VBDC. Zero means no cap.
	MaximumBacklogBytes uint32
}

// RaService holds the contention parameters of one random access
// allocation channel as provisioned for a terminal.
type RaService struct {
	MaximumUniquePayloadPerBlock    uint32
	MaximumConsecutiveBlockAccessed uint32
	MinimumIdleBlock                uint32
	NumberOfInstances               uint32
	// BackOffProbability is the raw 16 bit value r; the effective
	// probability is (r-1)/(2^16-2).
	BackOffProbability uint16
	BackOffTime        time.Duration
	// MinRandomizationValue and MaxRandomizationValue bound the slot
	// indices [min, max) CRDSA replicas are placed into.
	MinRandomizationValue     int
	MaxRandomizationValue     int
	MaximumBackoffProbability float64
}

// ServiceProfile is the lower layer service configuration a terminal is
// registered with. The number of DA services fixes the terminal's resource
// class count.
type ServiceProfile struct {
	DaServices []DaService
	RaServices []RaService

	// DynamicRatePersistence is the number of cycles a requested RBDC
	// rate stays valid without being refreshed. With 0 a rate is cleared
	// in the cycle it arrives, before allocation, so it is never allocated.
	DynamicRatePersistence uint8
	// VolumeBacklogPersistence is the number of cycles a VBDC backlog
	// stays valid without being refreshed. 0 behaves like the rate case.
	VolumeBacklogPersistence uint8

	// DefaultControlRandomizationInterval bounds Slotted ALOHA release delays.
	DefaultControlRandomizationInterval time.Duration
}

// Defaults used when a profile leaves the CRDSA randomization window unset.
const (
	DefaultCrdsaMinRandomizationValue     = 0
	DefaultCrdsaMaxRandomizationValue     = 79
	DefaultCrdsaMaximumBackoffProbability = 0.2
)

// DefaultServiceProfile returns a profile with one RBDC resource class and
// one random access channel.
func DefaultServiceProfile() ServiceProfile {
	return ServiceProfile{
		DaServices: []DaService{{
			RbdcAllowed:            true,
			MinimumServiceRateKbps: 64,
			MaximumServiceRateKbps: 2048,
		}},
		RaServices: []RaService{{
			MaximumUniquePayloadPerBlock:    3,
			MaximumConsecutiveBlockAccessed: 6,
			MinimumIdleBlock:                2,
			NumberOfInstances:               3,
			BackOffProbability:              10000,
			BackOffTime:                     250 * time.Millisecond,
			MinRandomizationValue:           DefaultCrdsaMinRandomizationValue,
			MaxRandomizationValue:           DefaultCrdsaMaxRandomizationValue,
			MaximumBackoffProbability:       DefaultCrdsaMaximumBackoffProbability,
		}},
		DynamicRatePersistence:              5,
		VolumeBacklogPersistence:            5,
		DefaultControlRandomizationInterval: 100 * time.Millisecond,
	}
}

// RcCount returns the number of resource classes of the profile.
func (p *ServiceProfile) RcCount() int {
	if p == nil {
		return 0
	}
	return len(p.DaServices)
}

// Validate checks the profile shape. Contention parameters are validated
// separately by the random access configuration.
func (p *ServiceProfile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: profile is nil", ErrInvalidServiceProfile)
	}
	if len(p.DaServices) == 0 {
		return fmt.Errorf("%w: at least one DA service is required", ErrInvalidServiceProfile)
	}
	if len(p.DaServices) > 255 {
		return fmt.Errorf("%w: %d DA services exceed the RC index range", ErrInvalidServiceProfile, len(p.DaServices))
	}
	for i, da := range p.DaServices {
		if da.MaximumServiceRateKbps > 0 && da.MinimumServiceRateKbps > da.MaximumServiceRateKbps {
			return fmt.Errorf("%w: DA service %d minimum rate %d > maximum rate %d",
				ErrInvalidServiceProfile, i, da.MinimumServiceRateKbps, da.MaximumServiceRateKbps)
		}
	}
	return nil
}
