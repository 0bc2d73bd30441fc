package model

import (
	"errors"
	"testing"
	"time"
)

func testSequence() *SuperframeSequence {
	return &SuperframeSequence{
		ID:    1,
		Epoch: time.Unix(0, 0),
		Superframes: []SuperframeConf{{
			Duration: 100 * time.Millisecond,
			Frames: []FrameConf{
				{ID: 0, CarrierCount: 2, TimeSlotCount: 8, SlotPayloadBytes: 64},
				{ID: 1, CarrierCount: 1, TimeSlotCount: 80, RandomAccess: true},
			},
			RaChannels: []RaChannel{{FrameID: 1, PayloadBytes: 38}},
		}},
	}
}

func TestSuperframeSequenceTiming(t *testing.T) {
	seq := testSequence()
	epoch := seq.Epoch

	if got := seq.NextSuperframeCount(0, epoch); got != 1 {
		t.Fatalf("count at epoch = %d, want 1", got)
	}
	if got := seq.NextSuperframeCount(0, epoch.Add(250*time.Millisecond)); got != 3 {
		t.Fatalf("count at 250ms = %d, want 3", got)
	}
	if got := seq.NextSuperframeStart(0, epoch.Add(250*time.Millisecond)); !got.Equal(epoch.Add(300 * time.Millisecond)) {
		t.Fatalf("next start = %s, want epoch+300ms", got)
	}
	if got := seq.NextSuperframeStart(0, epoch.Add(-time.Second)); !got.Equal(epoch) {
		t.Fatalf("next start before epoch = %s, want epoch", got)
	}
	if !seq.IsSuperframeStart(0, epoch.Add(200*time.Millisecond)) {
		t.Fatalf("200ms should be a superframe start")
	}
	if seq.IsSuperframeStart(0, epoch.Add(210*time.Millisecond)) {
		t.Fatalf("210ms should not be a superframe start")
	}
	if seq.Duration(5) != 0 || seq.Superframe(5) != nil {
		t.Fatalf("unknown superframe index should be empty")
	}
}

func TestSuperframeAccessors(t *testing.T) {
	sf := testSequence().Superframe(0)
	if sf.RaChannelCount() != 1 {
		t.Fatalf("RaChannelCount = %d", sf.RaChannelCount())
	}
	if id, err := sf.RaChannelFrameID(0); err != nil || id != 1 {
		t.Fatalf("RaChannelFrameID = %d, %v", id, err)
	}
	if b, err := sf.RaChannelPayloadBytes(0); err != nil || b != 38 {
		t.Fatalf("RaChannelPayloadBytes = %d, %v", b, err)
	}
	if _, err := sf.RaChannelPayloadBytes(1); !errors.Is(err, ErrInvalidSuperframe) {
		t.Fatalf("out of range channel = %v", err)
	}
	f, err := sf.Frame(0)
	if err != nil {
		t.Fatalf("Frame(0): %v", err)
	}
	if f.TimeSlotsPerCarrier() != 4 {
		t.Fatalf("TimeSlotsPerCarrier = %d, want 4", f.TimeSlotsPerCarrier())
	}
	var nilConf *SuperframeConf
	if nilConf.RaChannelCount() != 0 {
		t.Fatalf("nil superframe should have no RA channels")
	}
}

func TestSuperframeValidate(t *testing.T) {
	if err := testSequence().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := map[string]func(*SuperframeConf){
		"zero duration":      func(s *SuperframeConf) { s.Duration = 0 },
		"duplicate frame id": func(s *SuperframeConf) { s.Frames[1].ID = 0 },
		"no carriers":        func(s *SuperframeConf) { s.Frames[0].CarrierCount = 0 },
		"uneven carriers":    func(s *SuperframeConf) { s.Frames[0].TimeSlotCount = 7 },
		"unknown RA frame":   func(s *SuperframeConf) { s.RaChannels[0].FrameID = 9 },
		"RA on DA frame":     func(s *SuperframeConf) { s.RaChannels[0].FrameID = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			seq := testSequence()
			mutate(&seq.Superframes[0])
			if err := seq.Validate(); !errors.Is(err, ErrInvalidSuperframe) {
				t.Fatalf("Validate = %v, want ErrInvalidSuperframe", err)
			}
		})
	}

	empty := &SuperframeSequence{}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidSuperframe) {
		t.Fatalf("empty sequence = %v", err)
	}
}
