package model

import (
	"errors"
	"fmt"
)

// Serialized sizes used to keep every TBTP instance within the configured
// maximum frame size.
const (
	// TbtpHeaderSizeBytes covers the sequence id, the superframe counter
	// and the entry counts.
	TbtpHeaderSizeBytes = 8
	// TimeSlotInfoSizeBytes is the cost of announcing one timeslot.
	TimeSlotInfoSizeBytes = 1
	// DaAssignmentSizeBytes is the cost of one DA slot assignment: the
	// terminal address plus the timeslot info.
	DaAssignmentSizeBytes = 6 + TimeSlotInfoSizeBytes
)

// ErrTbtpEntryTooLarge is returned when a single entry cannot fit even in an
// empty TBTP of the configured size.
var ErrTbtpEntryTooLarge = errors.New("tbtp entry exceeds maximum message size")

// RaChannelInfo announces the slots available on a random access channel.
type RaChannelInfo struct {
	Index         uint32
	FrameID       uint8
	TimeSlotCount uint32
}

// DaTimeSlot assigns one dedicated access timeslot to a terminal.
type DaTimeSlot struct {
	Address    Address
	FrameID    uint8
	TimeSlotID uint32
	RcIndex    uint8
}

// Tbtp is one Terminal Burst Time Plan message instance.
type Tbtp struct {
	SuperframeSeqID   uint8
	SuperframeCounter uint32
	RaChannels        []RaChannelInfo
	DaTimeSlots       []DaTimeSlot
}

// NewTbtp creates an empty TBTP for the given sequence and counter.
func NewTbtp(seqID uint8, counter uint32) *Tbtp {
	return &Tbtp{SuperframeSeqID: seqID, SuperframeCounter: counter}
}

// SizeInBytes returns the serialized size of the message.
func (t *Tbtp) SizeInBytes() int {
	size := TbtpHeaderSizeBytes
	for _, ch := range t.RaChannels {
		size += int(ch.TimeSlotCount) * TimeSlotInfoSizeBytes
	}
	size += len(t.DaTimeSlots) * DaAssignmentSizeBytes
	return size
}

// IsEmpty reports whether the message carries no entries.
func (t *Tbtp) IsEmpty() bool {
	return len(t.RaChannels) == 0 && len(t.DaTimeSlots) == 0
}

// RaTimeSlotCount returns the number of random access slots announced.
func (t *Tbtp) RaTimeSlotCount() int {
	total := 0
	for _, ch := range t.RaChannels {
		total += int(ch.TimeSlotCount)
	}
	return total
}

// TbtpSet holds the instances one scheduling cycle produces. Entries are
// appended to the last instance; a new instance carrying the same sequence
// id and superframe counter is started whenever an entry would push the
// last one over the maximum size.
type TbtpSet struct {
	maxBytes int
	msgs     []*Tbtp
}

// NewTbtpSet starts a set with one empty instance.
func NewTbtpSet(seqID uint8, counter uint32, maxBytes int) *TbtpSet {
	return &TbtpSet{
		maxBytes: maxBytes,
		msgs:     []*Tbtp{NewTbtp(seqID, counter)},
	}
}

// MaxBytes returns the size limit of every instance.
func (s *TbtpSet) MaxBytes() int {
	return s.maxBytes
}

// Messages returns the instances in creation order.
func (s *TbtpSet) Messages() []*Tbtp {
	return s.msgs
}

// SuperframeCounter returns the counter shared by all instances.
func (s *TbtpSet) SuperframeCounter() uint32 {
	return s.msgs[0].SuperframeCounter
}

// AddRaChannel announces timeSlotCount slots of random access channel index.
func (s *TbtpSet) AddRaChannel(index uint32, frameID uint8, timeSlotCount uint32) error {
	cost := int(timeSlotCount) * TimeSlotInfoSizeBytes
	t, err := s.instanceFor(cost)
	if err != nil {
		return fmt.Errorf("random access channel %d: %w", index, err)
	}
	t.RaChannels = append(t.RaChannels, RaChannelInfo{Index: index, FrameID: frameID, TimeSlotCount: timeSlotCount})
	return nil
}

// AddDaTimeSlot adds one dedicated access assignment.
func (s *TbtpSet) AddDaTimeSlot(slot DaTimeSlot) error {
	t, err := s.instanceFor(DaAssignmentSizeBytes)
	if err != nil {
		return fmt.Errorf("DA slot for %s: %w", slot.Address, err)
	}
	t.DaTimeSlots = append(t.DaTimeSlots, slot)
	return nil
}

func (s *TbtpSet) instanceFor(cost int) (*Tbtp, error) {
	if TbtpHeaderSizeBytes+cost > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes needed, limit %d", ErrTbtpEntryTooLarge, TbtpHeaderSizeBytes+cost, s.maxBytes)
	}
	last := s.msgs[len(s.msgs)-1]
	if last.SizeInBytes()+cost > s.maxBytes && !last.IsEmpty() {
		last = NewTbtp(last.SuperframeSeqID, last.SuperframeCounter)
		s.msgs = append(s.msgs, last)
	}
	return last, nil
}
