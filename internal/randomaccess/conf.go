package randomaccess

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/model"
)

var (
	// ErrNoAllocationChannels is returned when a profile provisions no
	// random access service.
	ErrNoAllocationChannels = errors.New("no random access allocation channel")
	// ErrInvalidSlottedAlohaConfig is returned for control randomization
	// intervals below one millisecond.
	ErrInvalidSlottedAlohaConfig = errors.New("slotted ALOHA control randomization interval must be >= 1ms")
	// ErrUnknownChannel is returned for allocation channel indices outside
	// the configured range.
	ErrUnknownChannel = errors.New("unknown random access allocation channel")
)

// Conf is the random access configuration of one beam: its allocation
// channels, including their shared runtime state, and the Slotted ALOHA
// parameters.
type Conf struct {
	channels                     []*AllocationChannel
	controlRandomizationInterval time.Duration
}

// NewConf builds the configuration from the lower layer service profile.
// Slot payloads come from the random access channels of superframe, which
// may be nil.
func NewConf(profile model.ServiceProfile, superframe *model.SuperframeConf) (*Conf, error) {
	if len(profile.RaServices) < 1 {
		return nil, ErrNoAllocationChannels
	}
	c := &Conf{controlRandomizationInterval: profile.DefaultControlRandomizationInterval}
	if err := validateControlRandomizationInterval(c.controlRandomizationInterval); err != nil {
		return nil, err
	}

	for i, svc := range profile.RaServices {
		ch := &AllocationChannel{
			MinRandomizationValue:        svc.MinRandomizationValue,
			MaxRandomizationValue:        svc.MaxRandomizationValue,
			NumOfInstances:               svc.NumberOfInstances,
			MaxUniquePayloadPerBlock:     svc.MaximumUniquePayloadPerBlock,
			MaxConsecutiveBlocksAccessed: svc.MaximumConsecutiveBlockAccessed,
			MinIdleBlocks:                svc.MinimumIdleBlock,
			BackoffTime:                  svc.BackOffTime,
			BackoffProbability:           BackoffProbabilityFromRaw(svc.BackOffProbability),
			MaximumBackoffProbability:    svc.MaximumBackoffProbability,
		}
		if payload, err := superframe.RaChannelPayloadBytes(i); err == nil {
			ch.PayloadBytes = payload
		}
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("allocation channel %d: %w", i, err)
		}
		c.channels = append(c.channels, ch)
	}
	return c, nil
}

// ChannelCount returns the number of allocation channels.
func (c *Conf) ChannelCount() int {
	return len(c.channels)
}

// Channel returns allocation channel i.
func (c *Conf) Channel(i int) (*AllocationChannel, error) {
	if i < 0 || i >= len(c.channels) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrUnknownChannel, i, len(c.channels))
	}
	return c.channels[i], nil
}

// ControlRandomizationInterval bounds the Slotted ALOHA release delay.
func (c *Conf) ControlRandomizationInterval() time.Duration {
	return c.controlRandomizationInterval
}

func (c *Conf) setControlRandomizationInterval(d time.Duration) error {
	if err := validateControlRandomizationInterval(d); err != nil {
		return err
	}
	c.controlRandomizationInterval = d
	return nil
}

// updateChannel applies mutate to a copy of channel i and commits it only
// when the result validates.
func (c *Conf) updateChannel(i int, mutate func(*AllocationChannel)) error {
	ch, err := c.Channel(i)
	if err != nil {
		return err
	}
	candidate := *ch
	mutate(&candidate)
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("allocation channel %d: %w", i, err)
	}
	*ch = candidate
	return nil
}

func (c *Conf) reduceIdleBlocksForAllChannels() {
	for _, ch := range c.channels {
		ch.reduceIdleBlocks()
	}
}

func validateControlRandomizationInterval(d time.Duration) error {
	if d < time.Millisecond {
		return fmt.Errorf("%w: got %s", ErrInvalidSlottedAlohaConfig, d)
	}
	return nil
}

// ChannelSnapshot is a point-in-time view of one allocation channel.
type ChannelSnapshot struct {
	Index                        int
	MinRandomizationValue        int
	MaxRandomizationValue        int
	NumOfInstances               uint32
	MaxUniquePayloadPerBlock     uint32
	MaxConsecutiveBlocksAccessed uint32
	MinIdleBlocks                uint32
	BackoffTime                  time.Duration
	BackoffProbability           float64
	MaximumBackoffProbability    float64
	PayloadBytes                 uint32
	IdleBlocksLeft               uint32
	ConsecutiveBlocksUsed        uint32
	BackoffReleaseTime           time.Time
}

// Snapshot returns the parameters and runtime state of every channel.
func (c *Conf) Snapshot() []ChannelSnapshot {
	out := make([]ChannelSnapshot, 0, len(c.channels))
	for i, ch := range c.channels {
		out = append(out, ChannelSnapshot{
			Index:                        i,
			MinRandomizationValue:        ch.MinRandomizationValue,
			MaxRandomizationValue:        ch.MaxRandomizationValue,
			NumOfInstances:               ch.NumOfInstances,
			MaxUniquePayloadPerBlock:     ch.MaxUniquePayloadPerBlock,
			MaxConsecutiveBlocksAccessed: ch.MaxConsecutiveBlocksAccessed,
			MinIdleBlocks:                ch.MinIdleBlocks,
			BackoffTime:                  ch.BackoffTime,
			BackoffProbability:           ch.BackoffProbability,
			MaximumBackoffProbability:    ch.MaximumBackoffProbability,
			PayloadBytes:                 ch.PayloadBytes,
			IdleBlocksLeft:               ch.idleBlocksLeft,
			ConsecutiveBlocksUsed:        ch.consecutiveBlocksUsed,
			BackoffReleaseTime:           ch.backoffReleaseTime,
		})
	}
	return out
}
