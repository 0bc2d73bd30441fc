// Package frame turns per-terminal demand into concrete dedicated access
// timeslot assignments within one superframe.
package frame

import (
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

// LinkQuality is a terminal's estimated C/N0. Known is false when no sample
// was available.
type LinkQuality struct {
	CnoDbHz float64
	Known   bool
}

// UnknownQuality is the quality of a terminal without samples.
var UnknownQuality = LinkQuality{}

// RcRequest is the demand of one resource class for the coming superframe.
type RcRequest struct {
	CraKbps     uint32
	MinRbdcKbps uint32
	RbdcKbps    uint32
	VbdcBytes   uint32
}

// AllocRequest is the demand of one terminal, one item per resource class.
type AllocRequest struct {
	Address model.Address
	Rcs     []RcRequest
}

// AllocResponse reports whether the terminal was admitted to a frame.
type AllocResponse struct {
	Accepted bool
	FrameID  uint8
}

// Allocator packs terminal demand into timeslots. The beam scheduler calls
// RemoveAllocations once per cycle, AllocateToFrame once per terminal in
// ranked order, AllocateSymbols once all terminals are submitted and
// finally GenerateTimeSlots.
type Allocator interface {
	RemoveAllocations()
	AllocateToFrame(quality LinkQuality, req AllocRequest) AllocResponse
	AllocateSymbols()
	GenerateTimeSlots(set *model.TbtpSet) error
}
