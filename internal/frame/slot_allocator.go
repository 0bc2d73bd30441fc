package frame

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/internal/dama"
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

type pendingRequest struct {
	req    AllocRequest
	frames []int // indices into SlotAllocator.frames the terminal may use
}

type frameState struct {
	conf *model.FrameConf
	next uint32 // next free timeslot id
}

// SlotAllocator is the reference Allocator. It serves the dedicated access
// frames of one superframe in request order over three passes: CRA first,
// then RBDC (requested rates lifted to the minimum RBDC), then VBDC.
// Terminals are only placed on frames whose waveform threshold their known
// C/N0 meets.
type SlotAllocator struct {
	sfDuration time.Duration
	maxRcCount int
	frames     []frameState

	pending     []pendingRequest
	assignments []model.DaTimeSlot
}

var _ Allocator = (*SlotAllocator)(nil)

// NewSlotAllocator builds an allocator for the DA frames of superframe.
func NewSlotAllocator(superframe *model.SuperframeConf, maxRcCount int) (*SlotAllocator, error) {
	if err := superframe.Validate(); err != nil {
		return nil, err
	}
	if maxRcCount < 1 {
		return nil, fmt.Errorf("frame allocator: max RC count must be >= 1, got %d", maxRcCount)
	}
	a := &SlotAllocator{sfDuration: superframe.Duration, maxRcCount: maxRcCount}
	for i := range superframe.Frames {
		f := &superframe.Frames[i]
		if f.RandomAccess || f.SlotPayloadBytes == 0 {
			continue
		}
		a.frames = append(a.frames, frameState{conf: f})
	}
	return a, nil
}

// RemoveAllocations drops the requests and assignments of the last cycle.
func (a *SlotAllocator) RemoveAllocations() {
	a.pending = a.pending[:0]
	a.assignments = a.assignments[:0]
	for i := range a.frames {
		a.frames[i].next = 0
	}
}

// AllocateToFrame admits the terminal to every DA frame its quality allows.
// Resource classes beyond the configured maximum are ignored.
func (a *SlotAllocator) AllocateToFrame(quality LinkQuality, req AllocRequest) AllocResponse {
	var eligible []int
	for i, f := range a.frames {
		if quality.Known && f.conf.MinCnoDbHz > 0 && quality.CnoDbHz < f.conf.MinCnoDbHz {
			continue
		}
		eligible = append(eligible, i)
	}
	if len(eligible) == 0 {
		return AllocResponse{}
	}
	if len(req.Rcs) > a.maxRcCount {
		req.Rcs = req.Rcs[:a.maxRcCount]
	}
	a.pending = append(a.pending, pendingRequest{req: req, frames: eligible})
	return AllocResponse{Accepted: true, FrameID: a.frames[eligible[0]].conf.ID}
}

// AllocateSymbols converts the admitted demand into timeslot assignments.
func (a *SlotAllocator) AllocateSymbols() {
	passes := []func(RcRequest) uint64{
		func(rc RcRequest) uint64 { return dama.KbpsToBytes(uint64(rc.CraKbps), a.sfDuration) },
		func(rc RcRequest) uint64 {
			kbps := rc.RbdcKbps
			// The guaranteed minimum only lifts a rate that is actually
			// requested; an idle RC stays at zero.
			if kbps > 0 && kbps < rc.MinRbdcKbps {
				kbps = rc.MinRbdcKbps
			}
			return dama.KbpsToBytes(uint64(kbps), a.sfDuration)
		},
		func(rc RcRequest) uint64 { return uint64(rc.VbdcBytes) },
	}
	for _, bytesOf := range passes {
		for _, p := range a.pending {
			for rcIndex, rc := range p.req.Rcs {
				a.assign(p, uint8(rcIndex), bytesOf(rc))
			}
		}
	}
}

func (a *SlotAllocator) assign(p pendingRequest, rc uint8, bytes uint64) {
	for bytes > 0 {
		f := a.freeFrame(p.frames)
		if f == nil {
			return
		}
		a.assignments = append(a.assignments, model.DaTimeSlot{
			Address:    p.req.Address,
			FrameID:    f.conf.ID,
			TimeSlotID: f.next,
			RcIndex:    rc,
		})
		f.next++
		payload := uint64(f.conf.SlotPayloadBytes)
		if bytes <= payload {
			return
		}
		bytes -= payload
	}
}

func (a *SlotAllocator) freeFrame(candidates []int) *frameState {
	for _, i := range candidates {
		if a.frames[i].next < a.frames[i].conf.TimeSlotCount {
			return &a.frames[i]
		}
	}
	return nil
}

// Assignments returns the assignments of the current cycle.
func (a *SlotAllocator) Assignments() []model.DaTimeSlot {
	return append([]model.DaTimeSlot(nil), a.assignments...)
}

// GenerateTimeSlots writes the assignments into set, which splits them into
// further instances as needed.
func (a *SlotAllocator) GenerateTimeSlots(set *model.TbtpSet) error {
	for _, slot := range a.assignments {
		if err := set.AddDaTimeSlot(slot); err != nil {
			return err
		}
	}
	return nil
}
