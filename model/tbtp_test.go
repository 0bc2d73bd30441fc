package model

import (
	"errors"
	"testing"
)

func TestTbtpSetSplitsOnMaxSize(t *testing.T) {
	// Header plus two DA assignments fit; the third starts a new instance.
	max := TbtpHeaderSizeBytes + 2*DaAssignmentSizeBytes
	set := NewTbtpSet(3, 42, max)

	for i := 0; i < 5; i++ {
		if err := set.AddDaTimeSlot(DaTimeSlot{Address: "ut-1", TimeSlotID: uint32(i)}); err != nil {
			t.Fatalf("AddDaTimeSlot %d: %v", i, err)
		}
	}
	msgs := set.Messages()
	if len(msgs) != 3 {
		t.Fatalf("instances = %d, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.SizeInBytes() > max {
			t.Fatalf("instance %d size %d exceeds %d", i, m.SizeInBytes(), max)
		}
		if m.SuperframeSeqID != 3 || m.SuperframeCounter != 42 {
			t.Fatalf("instance %d header = %d/%d", i, m.SuperframeSeqID, m.SuperframeCounter)
		}
	}
	if set.SuperframeCounter() != 42 {
		t.Fatalf("SuperframeCounter = %d", set.SuperframeCounter())
	}
}

func TestTbtpSetRaChannels(t *testing.T) {
	set := NewTbtpSet(0, 1, 100)
	if err := set.AddRaChannel(0, 2, 80); err != nil {
		t.Fatalf("AddRaChannel: %v", err)
	}
	if err := set.AddRaChannel(1, 3, 20); err != nil {
		t.Fatalf("AddRaChannel: %v", err)
	}
	msgs := set.Messages()
	if len(msgs) != 2 {
		t.Fatalf("instances = %d, want 2", len(msgs))
	}
	if msgs[0].RaTimeSlotCount() != 80 || msgs[1].RaTimeSlotCount() != 20 {
		t.Fatalf("RA slots = %d/%d", msgs[0].RaTimeSlotCount(), msgs[1].RaTimeSlotCount())
	}

	if err := set.AddRaChannel(2, 4, 200); !errors.Is(err, ErrTbtpEntryTooLarge) {
		t.Fatalf("oversized entry = %v, want ErrTbtpEntryTooLarge", err)
	}
}

func TestTbtpEmpty(t *testing.T) {
	tb := NewTbtp(1, 2)
	if !tb.IsEmpty() || tb.SizeInBytes() != TbtpHeaderSizeBytes {
		t.Fatalf("new TBTP not empty: %+v", tb)
	}
}
