package scenario

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/internal/randomaccess"
	"github.com/signalsfoundry/rtn-access-simulator/internal/rng"
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

// terminal is one user terminal of the beam: an on/off constant bit rate
// source feeding a return link buffer that drains through DA and RA slots.
type terminal struct {
	address   model.Address
	raChannel int
	engine    *randomaccess.Engine

	on          bool
	buffered    uint64
	unrequested uint64
	lastRbdc    uint32
}

func terminalAddress(i int) model.Address {
	return model.Address(fmt.Sprintf("02:00:00:00:%02x:%02x", (i>>8)&0xff, i&0xff))
}

// AreBuffersEmpty lets the access engine skip blocks with nothing to send.
func (t *terminal) AreBuffersEmpty() bool { return t.buffered == 0 }

func (t *terminal) enqueue(bytes uint64) {
	t.buffered += bytes
	t.unrequested += bytes
	if t.engine != nil {
		t.engine.NotifyNewData()
	}
}

// drain removes up to bytes from the buffer and returns what was removed.
func (t *terminal) drain(bytes uint64) uint64 {
	if bytes > t.buffered {
		bytes = t.buffered
	}
	t.buffered -= bytes
	if t.unrequested > t.buffered {
		t.unrequested = t.buffered
	}
	return bytes
}

// nextRequest builds the capacity request of the current interval, or nil
// when nothing changed since the last one.
func (t *terminal) nextRequest(vbdc bool, rateKbps uint32) *model.CapacityRequest {
	if vbdc {
		if t.unrequested == 0 {
			return nil
		}
		v := t.unrequested
		if v > uint64(^uint32(0)) {
			v = uint64(^uint32(0))
		}
		t.unrequested -= v
		return model.NewCapacityRequest(model.RequestDescriptor{Type: model.RequestTypeVbdc, Value: uint32(v)})
	}

	rate := uint32(0)
	if t.on {
		rate = rateKbps
	}
	if rate == 0 && t.lastRbdc == 0 {
		return nil
	}
	t.lastRbdc = rate
	return model.NewCapacityRequest(model.RequestDescriptor{Type: model.RequestTypeRbdc, Value: rate})
}

func uniformDuration(src rng.Source, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return time.Duration(rng.Uniform(src, float64(lo), float64(hi)))
}

// packetInterval is the spacing of packets of the given size at rateKbps.
func packetInterval(packetBytes, rateKbps uint32) time.Duration {
	return time.Duration(uint64(packetBytes) * 8 * uint64(time.Second) / (uint64(rateKbps) * 1000))
}
