package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSuperframe indicates a superframe configuration failed validation.
var ErrInvalidSuperframe = errors.New("invalid superframe configuration")

// FrameConf describes one frame of a superframe.
type FrameConf struct {
	ID uint8
	// CarrierCount is the number of carriers the frame is split into.
	CarrierCount uint32
	// TimeSlotCount is the total number of timeslots over all carriers.
	TimeSlotCount uint32
	// SlotPayloadBytes is the user payload one timeslot carries.
	SlotPayloadBytes uint32
	// MinCnoDbHz is the lowest C/N0 the frame's waveform can close the
	// link at. Zero disables the check.
	MinCnoDbHz float64
	// RandomAccess marks frames reserved for contention access.
	RandomAccess bool
}

// TimeSlotsPerCarrier returns the number of timeslots on one carrier.
func (f FrameConf) TimeSlotsPerCarrier() uint32 {
	if f.CarrierCount == 0 {
		return 0
	}
	return f.TimeSlotCount / f.CarrierCount
}

// RaChannel maps a random access allocation channel onto a frame.
type RaChannel struct {
	FrameID      uint8
	PayloadBytes uint32
}

// SuperframeConf is the time/frequency layout repeated every superframe.
type SuperframeConf struct {
	Duration   time.Duration
	Frames     []FrameConf
	RaChannels []RaChannel
}

// RaChannelCount returns the number of random access allocation channels.
func (s *SuperframeConf) RaChannelCount() int {
	if s == nil {
		return 0
	}
	return len(s.RaChannels)
}

// RaChannelFrameID returns the frame a random access channel lives on.
func (s *SuperframeConf) RaChannelFrameID(channel int) (uint8, error) {
	if channel < 0 || channel >= s.RaChannelCount() {
		return 0, fmt.Errorf("%w: random access channel %d out of range", ErrInvalidSuperframe, channel)
	}
	return s.RaChannels[channel].FrameID, nil
}

// RaChannelPayloadBytes returns the payload one slot of the channel carries.
func (s *SuperframeConf) RaChannelPayloadBytes(channel int) (uint32, error) {
	if channel < 0 || channel >= s.RaChannelCount() {
		return 0, fmt.Errorf("%w: random access channel %d out of range", ErrInvalidSuperframe, channel)
	}
	return s.RaChannels[channel].PayloadBytes, nil
}

// Frame returns the frame with the given id.
func (s *SuperframeConf) Frame(id uint8) (*FrameConf, error) {
	for i := range s.Frames {
		if s.Frames[i].ID == id {
			return &s.Frames[i], nil
		}
	}
	return nil, fmt.Errorf("%w: frame %d not found", ErrInvalidSuperframe, id)
}

// Validate checks that the superframe is internally consistent.
func (s *SuperframeConf) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: superframe is nil", ErrInvalidSuperframe)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidSuperframe, s.Duration)
	}
	seen := make(map[uint8]bool, len(s.Frames))
	for _, f := range s.Frames {
		if seen[f.ID] {
			return fmt.Errorf("%w: duplicate frame id %d", ErrInvalidSuperframe, f.ID)
		}
		seen[f.ID] = true
		if f.CarrierCount == 0 {
			return fmt.Errorf("%w: frame %d has no carriers", ErrInvalidSuperframe, f.ID)
		}
		if f.TimeSlotCount%f.CarrierCount != 0 {
			return fmt.Errorf("%w: frame %d timeslots %d not divisible by %d carriers",
				ErrInvalidSuperframe, f.ID, f.TimeSlotCount, f.CarrierCount)
		}
	}
	for i, ch := range s.RaChannels {
		f, err := s.Frame(ch.FrameID)
		if err != nil {
			return fmt.Errorf("%w: random access channel %d references unknown frame %d", ErrInvalidSuperframe, i, ch.FrameID)
		}
		if !f.RandomAccess {
			return fmt.Errorf("%w: random access channel %d mapped to DA frame %d", ErrInvalidSuperframe, i, ch.FrameID)
		}
	}
	return nil
}

// SuperframeSequence is an ordered set of superframe configurations sharing
// one return link timeline that starts at Epoch.
type SuperframeSequence struct {
	ID          uint8
	Epoch       time.Time
	Superframes []SuperframeConf
}

// Superframe returns the configuration at index seq, or nil.
func (q *SuperframeSequence) Superframe(seq int) *SuperframeConf {
	if q == nil || seq < 0 || seq >= len(q.Superframes) {
		return nil
	}
	return &q.Superframes[seq]
}

// Duration returns the duration of superframe seq, or zero when unknown.
func (q *SuperframeSequence) Duration(seq int) time.Duration {
	sf := q.Superframe(seq)
	if sf == nil {
		return 0
	}
	return sf.Duration
}

// NextSuperframeCount returns the index, counted from Epoch, of the first
// superframe starting strictly after now.
func (q *SuperframeSequence) NextSuperframeCount(seq int, now time.Time) uint32 {
	d := q.Duration(seq)
	if d <= 0 || now.Before(q.Epoch) {
		return 0
	}
	return uint32(now.Sub(q.Epoch)/d) + 1
}

// NextSuperframeStart returns the start time of the first superframe
// starting strictly after now. Before Epoch the first superframe is Epoch.
func (q *SuperframeSequence) NextSuperframeStart(seq int, now time.Time) time.Time {
	if now.Before(q.Epoch) {
		return q.Epoch
	}
	d := q.Duration(seq)
	return q.Epoch.Add(time.Duration(q.NextSuperframeCount(seq, now)) * d)
}

// IsSuperframeStart reports whether now falls exactly on a superframe
// boundary of sequence seq.
func (q *SuperframeSequence) IsSuperframeStart(seq int, now time.Time) bool {
	d := q.Duration(seq)
	if d <= 0 || now.Before(q.Epoch) {
		return false
	}
	return now.Sub(q.Epoch)%d == 0
}

// Validate checks every superframe of the sequence.
func (q *SuperframeSequence) Validate() error {
	if q == nil || len(q.Superframes) == 0 {
		return fmt.Errorf("%w: sequence has no superframes", ErrInvalidSuperframe)
	}
	for i := range q.Superframes {
		if err := q.Superframes[i].Validate(); err != nil {
			return fmt.Errorf("superframe %d: %w", i, err)
		}
	}
	return nil
}
