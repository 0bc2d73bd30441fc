// Package dama tracks per-terminal demand-assignment state: the constant,
// rate-based and volume-based capacity a terminal holds or has requested
// for each of its resource classes.
package dama

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/model"
)

var (
	// ErrRcIndexOutOfRange is returned for a resource class the terminal
	// was not provisioned with.
	ErrRcIndexOutOfRange = errors.New("resource class index out of range")
	// ErrMechanismNotAllowed is returned when a request uses a mechanism
	// the service profile does not grant for the resource class.
	ErrMechanismNotAllowed = errors.New("demand-assignment mechanism not allowed")
	// ErrUnsupportedRequestType is returned for unknown descriptor types.
	ErrUnsupportedRequestType = errors.New("unsupported capacity request type")
)

type rcDemand struct {
	craKbps     uint32
	minRbdcKbps uint32
	rbdcKbps    uint32
	vbdcBytes   uint32
}

// Entry is the demand state of one terminal. The resource class count is
// fixed at creation from the service profile.
type Entry struct {
	services []model.DaService

	rcs []rcDemand

	rbdcPersistenceValue uint8
	vbdcPersistenceValue uint8
	rbdcPersistence      uint8
	vbdcPersistence      uint8
}

// NewEntry creates the demand state for a terminal registered with profile.
func NewEntry(profile model.ServiceProfile) (*Entry, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	e := &Entry{
		services:             append([]model.DaService(nil), profile.DaServices...),
		rcs:                  make([]rcDemand, len(profile.DaServices)),
		rbdcPersistenceValue: profile.DynamicRatePersistence,
		vbdcPersistenceValue: profile.VolumeBacklogPersistence,
	}
	for i, svc := range e.services {
		if svc.ConstantAssignmentProvided {
			e.rcs[i].craKbps = svc.ConstantServiceRateKbps
		}
		if svc.RbdcAllowed {
			e.rcs[i].minRbdcKbps = svc.MinimumServiceRateKbps
		}
	}
	return e, nil
}

// RcCount returns the number of resource classes.
func (e *Entry) RcCount() int {
	return len(e.rcs)
}

// CraKbps returns the constant rate assignment of resource class rc.
func (e *Entry) CraKbps(rc uint8) uint32 {
	if int(rc) >= len(e.rcs) {
		return 0
	}
	return e.rcs[rc].craKbps
}

// MinRbdcKbps returns the guaranteed dynamic rate of resource class rc.
func (e *Entry) MinRbdcKbps(rc uint8) uint32 {
	if int(rc) >= len(e.rcs) {
		return 0
	}
	return e.rcs[rc].minRbdcKbps
}

// RbdcKbps returns the requested dynamic rate of resource class rc.
func (e *Entry) RbdcKbps(rc uint8) uint32 {
	if int(rc) >= len(e.rcs) {
		return 0
	}
	return e.rcs[rc].rbdcKbps
}

// VbdcBytes returns the requested dynamic volume of resource class rc.
func (e *Entry) VbdcBytes(rc uint8) uint32 {
	if int(rc) >= len(e.rcs) {
		return 0
	}
	return e.rcs[rc].vbdcBytes
}

// UpdateRbdcKbps replaces the requested rate, capped by the profile maximum,
// and restarts the dynamic rate persistence.
func (e *Entry) UpdateRbdcKbps(rc uint8, kbps uint32) error {
	svc, err := e.service(rc)
	if err != nil {
		return err
	}
	if !svc.RbdcAllowed {
		return fmt.Errorf("%w: RBDC on RC %d", ErrMechanismNotAllowed, rc)
	}
	if svc.MaximumServiceRateKbps > 0 && kbps > svc.MaximumServiceRateKbps {
		kbps = svc.MaximumServiceRateKbps
	}
	e.rcs[rc].rbdcKbps = kbps
	e.rbdcPersistence = e.rbdcPersistenceValue
	return nil
}

// UpdateVbdcBytes adds to the requested volume, capped by the maximum
// backlog, and restarts the volume backlog persistence.
func (e *Entry) UpdateVbdcBytes(rc uint8, bytes uint32) error {
	svc, err := e.service(rc)
	if err != nil {
		return err
	}
	if !svc.VolumeAllowed {
		return fmt.Errorf("%w: VBDC on RC %d", ErrMechanismNotAllowed, rc)
	}
	total := uint64(e.rcs[rc].vbdcBytes) + uint64(bytes)
	e.rcs[rc].vbdcBytes = capBacklog(total, svc.MaximumBacklogBytes)
	e.vbdcPersistence = e.vbdcPersistenceValue
	return nil
}

// SetVbdcBytes overwrites the requested volume, capped by the maximum
// backlog, and restarts the volume backlog persistence.
func (e *Entry) SetVbdcBytes(rc uint8, bytes uint32) error {
	svc, err := e.service(rc)
	if err != nil {
		return err
	}
	if !svc.VolumeAllowed {
		return fmt.Errorf("%w: AVBDC on RC %d", ErrMechanismNotAllowed, rc)
	}
	e.rcs[rc].vbdcBytes = capBacklog(uint64(bytes), svc.MaximumBacklogBytes)
	e.vbdcPersistence = e.vbdcPersistenceValue
	return nil
}

// Apply applies every descriptor of req in order. Descriptors that cannot
// be applied are skipped; their errors are joined into the result.
func (e *Entry) Apply(req *model.CapacityRequest) error {
	var errs []error
	for _, d := range req.Descriptors() {
		var err error
		switch d.Type {
		case model.RequestTypeRbdc:
			err = e.UpdateRbdcKbps(d.RcIndex, d.Value)
		case model.RequestTypeVbdc:
			err = e.UpdateVbdcBytes(d.RcIndex, d.Value)
		case model.RequestTypeAvbdc:
			err = e.SetVbdcBytes(d.RcIndex, d.Value)
		default:
			err = fmt.Errorf("%w: %s", ErrUnsupportedRequestType, d.Type)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DecrementDynamicRatePersistence ages the requested rates by one cycle.
// Once the persistence has run out, every requested rate is cleared.
func (e *Entry) DecrementDynamicRatePersistence() {
	if e.rbdcPersistence > 0 {
		e.rbdcPersistence--
		return
	}
	for i := range e.rcs {
		e.rcs[i].rbdcKbps = 0
	}
}

// DecrementVolumeBacklogPersistence ages the requested volumes by one
// cycle. Once the persistence has run out, every requested volume is
// cleared.
func (e *Entry) DecrementVolumeBacklogPersistence() {
	if e.vbdcPersistence > 0 {
		e.vbdcPersistence--
		return
	}
	for i := range e.rcs {
		e.rcs[i].vbdcBytes = 0
	}
}

// CraBasedBytes returns the bytes all CRA rates carry over d.
func (e *Entry) CraBasedBytes(d time.Duration) uint64 {
	var kbps uint64
	for _, rc := range e.rcs {
		kbps += uint64(rc.craKbps)
	}
	return KbpsToBytes(kbps, d)
}

// RbdcBasedBytes returns the bytes all requested rates carry over d.
func (e *Entry) RbdcBasedBytes(d time.Duration) uint64 {
	var kbps uint64
	for _, rc := range e.rcs {
		kbps += uint64(rc.rbdcKbps)
	}
	return KbpsToBytes(kbps, d)
}

// VbdcBasedBytes returns the total requested volume.
func (e *Entry) VbdcBasedBytes() uint64 {
	var total uint64
	for _, rc := range e.rcs {
		total += uint64(rc.vbdcBytes)
	}
	return total
}

// KbpsToBytes converts a rate in kbps into the bytes it carries over d.
func KbpsToBytes(kbps uint64, d time.Duration) uint64 {
	return kbps * 125 * uint64(d/time.Microsecond) / 1e6
}

func (e *Entry) service(rc uint8) (model.DaService, error) {
	if int(rc) >= len(e.rcs) {
		return model.DaService{}, fmt.Errorf("%w: %d (terminal has %d)", ErrRcIndexOutOfRange, rc, len(e.rcs))
	}
	return e.services[rc], nil
}

func capBacklog(v uint64, max uint32) uint32 {
	if max > 0 && v > uint64(max) {
		return max
	}
	if v > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(v)
}
