package model

import "fmt"

// RequestType is the demand-assignment mechanism a capacity request
// descriptor refers to.
type RequestType int

const (
	RequestTypeUnknown RequestType = iota
	// RequestTypeRbdc replaces the requested dynamic rate (kbps).
	RequestTypeRbdc
	// RequestTypeVbdc adds bytes to the requested dynamic volume.
	RequestTypeVbdc
	// RequestTypeAvbdc overwrites the requested dynamic volume (bytes).
	RequestTypeAvbdc
)

func (t RequestType) String() string {
	switch t {
	case RequestTypeRbdc:
		return "RBDC"
	case RequestTypeVbdc:
		return "VBDC"
	case RequestTypeAvbdc:
		return "AVBDC"
	default:
		return fmt.Sprintf("RequestType(%d)", int(t))
	}
}

// RequestDescriptor is one entry of a capacity request.
type RequestDescriptor struct {
	// RcIndex is the resource class the value applies to.
	RcIndex uint8
	// Type selects how Value is applied to the demand entry.
	Type RequestType
	// Value is kbps for RBDC and bytes for VBDC/AVBDC.
	Value uint32
}

// CapacityRequest is the control message a terminal sends to request return
// link capacity. It is immutable once built.
type CapacityRequest struct {
	descriptors []RequestDescriptor
}

// NewCapacityRequest builds a request from the given descriptors, keeping
// their order.
func NewCapacityRequest(descriptors ...RequestDescriptor) *CapacityRequest {
	cp := make([]RequestDescriptor, len(descriptors))
	copy(cp, descriptors)
	return &CapacityRequest{descriptors: cp}
}

// Descriptors returns a copy of the request content in arrival order.
func (r *CapacityRequest) Descriptors() []RequestDescriptor {
	if r == nil {
		return nil
	}
	cp := make([]RequestDescriptor, len(r.descriptors))
	copy(cp, r.descriptors)
	return cp
}

// Len returns the number of descriptors in the request.
func (r *CapacityRequest) Len() int {
	if r == nil {
		return 0
	}
	return len(r.descriptors)
}
