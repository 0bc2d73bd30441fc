package scenario

import (
	"testing"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/model"
)

func TestPacketInterval(t *testing.T) {
	if got := packetInterval(1280, 128); got != 80*time.Millisecond {
		t.Fatalf("packetInterval = %s, want 80ms", got)
	}
}

func TestTerminalAddressesAreDistinct(t *testing.T) {
	seen := map[model.Address]bool{}
	for i := 0; i < 300; i++ {
		a := terminalAddress(i)
		if seen[a] {
			t.Fatalf("duplicate address %s", a)
		}
		seen[a] = true
	}
	if terminalAddress(257) != "02:00:00:00:01:01" {
		t.Fatalf("unexpected address %s", terminalAddress(257))
	}
}

func TestRbdcRequestsFollowOnOffState(t *testing.T) {
	ut := &terminal{}
	if req := ut.nextRequest(false, 128); req != nil {
		t.Fatalf("idle terminal should not request, got %+v", req.Descriptors())
	}

	ut.on = true
	req := ut.nextRequest(false, 128)
	if req == nil || req.Descriptors()[0] != (model.RequestDescriptor{Type: model.RequestTypeRbdc, Value: 128}) {
		t.Fatalf("expected RBDC 128 request, got %+v", req)
	}

	ut.on = false
	req = ut.nextRequest(false, 128)
	if req == nil || req.Descriptors()[0].Value != 0 {
		t.Fatalf("expected a zero rate request when switching off, got %+v", req)
	}
	if req := ut.nextRequest(false, 128); req != nil {
		t.Fatalf("expected no repeat of the zero rate request")
	}
}

func TestVbdcRequestsNewVolumeOnly(t *testing.T) {
	ut := &terminal{}
	ut.enqueue(1000)
	req := ut.nextRequest(true, 0)
	if req == nil || req.Descriptors()[0] != (model.RequestDescriptor{Type: model.RequestTypeVbdc, Value: 1000}) {
		t.Fatalf("expected VBDC 1000 request, got %+v", req)
	}
	if req := ut.nextRequest(true, 0); req != nil {
		t.Fatalf("volume already requested, got %+v", req.Descriptors())
	}

	ut.enqueue(500)
	if got := ut.drain(1200); got != 1200 {
		t.Fatalf("drain = %d, want 1200", got)
	}
	if got := ut.drain(1000); got != 300 {
		t.Fatalf("drain clamps to the buffer, got %d", got)
	}
	if !ut.AreBuffersEmpty() {
		t.Fatalf("expected empty buffers")
	}
	if req := ut.nextRequest(true, 0); req != nil {
		t.Fatalf("drained volume must not be requested, got %+v", req.Descriptors())
	}
}
