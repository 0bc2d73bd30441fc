// Package randomaccess decides how a terminal uses contention capacity on a
// beam's random access allocation channels, with Slotted ALOHA and CRDSA.
package randomaccess

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidChannelConfig wraps every failed allocation channel rule.
var ErrInvalidChannelConfig = errors.New("invalid random access channel configuration")

// BackoffProbabilityFromRaw converts the 16 bit backoff probability value
// signalled in the lower layer service into a probability.
func BackoffProbabilityFromRaw(r uint16) float64 {
	return (float64(r) - 1) / (math.Pow(2, 16) - 2)
}

// AllocationChannel holds the CRDSA parameters of one allocation channel
// together with the runtime state every terminal of the beam shares.
type AllocationChannel struct {
	// MinRandomizationValue and MaxRandomizationValue bound the slot
	// indices [min, max) replicas are placed into.
	MinRandomizationValue int
	MaxRandomizationValue int
	// NumOfInstances is the number of replicas sent per packet.
	NumOfInstances uint32

	MaxUniquePayloadPerBlock     uint32
	MaxConsecutiveBlocksAccessed uint32
	MinIdleBlocks                uint32

	BackoffTime               time.Duration
	BackoffProbability        float64
	MaximumBackoffProbability float64

	PayloadBytes uint32

	idleBlocksLeft        uint32
	consecutiveBlocksUsed uint32
	backoffReleaseTime    time.Time
}

// Validate checks the channel parameters: non-negative randomization bounds
// with min <= max, a range of at least NumOfInstances slots, a non-negative
// backoff time and both backoff probabilities in [0, 1]. It also requires
// NumOfInstances >= 1, a rule the sanity check of the lower layer service
// leaves implicit.
func (c *AllocationChannel) Validate() error {
	switch {
	case c.MinRandomizationValue < 0:
		return fmt.Errorf("%w: min randomization value %d < 0", ErrInvalidChannelConfig, c.MinRandomizationValue)
	case c.MaxRandomizationValue < 0:
		return fmt.Errorf("%w: max randomization value %d < 0", ErrInvalidChannelConfig, c.MaxRandomizationValue)
	case c.MinRandomizationValue > c.MaxRandomizationValue:
		return fmt.Errorf("%w: min randomization value %d > max %d", ErrInvalidChannelConfig, c.MinRandomizationValue, c.MaxRandomizationValue)
	case c.NumOfInstances < 1:
		return fmt.Errorf("%w: number of instances must be >= 1", ErrInvalidChannelConfig)
	case c.MaxRandomizationValue-c.MinRandomizationValue < int(c.NumOfInstances):
		return fmt.Errorf("%w: randomization range [%d, %d) smaller than %d instances",
			ErrInvalidChannelConfig, c.MinRandomizationValue, c.MaxRandomizationValue, c.NumOfInstances)
	case c.BackoffTime < 0:
		return fmt.Errorf("%w: backoff time %s < 0", ErrInvalidChannelConfig, c.BackoffTime)
	case c.BackoffProbability < 0 || c.BackoffProbability > 1:
		return fmt.Errorf("%w: backoff probability %g outside [0, 1]", ErrInvalidChannelConfig, c.BackoffProbability)
	case c.MaximumBackoffProbability < 0 || c.MaximumBackoffProbability > 1:
		return fmt.Errorf("%w: maximum backoff probability %g outside [0, 1]", ErrInvalidChannelConfig, c.MaximumBackoffProbability)
	}
	return nil
}

// IdleBlocksLeft returns the number of blocks the channel must still stay idle.
func (c *AllocationChannel) IdleBlocksLeft() uint32 { return c.idleBlocksLeft }

// ConsecutiveBlocksUsed returns the number of consecutive blocks accessed.
func (c *AllocationChannel) ConsecutiveBlocksUsed() uint32 { return c.consecutiveBlocksUsed }

// BackoffReleaseTime returns the time after which the channel may be used.
func (c *AllocationChannel) BackoffReleaseTime() time.Time { return c.backoffReleaseTime }

func (c *AllocationChannel) backoffElapsed(now time.Time) bool {
	return !now.Before(c.backoffReleaseTime)
}

func (c *AllocationChannel) backoffProbabilityTooHigh() bool {
	return c.BackoffProbability >= c.MaximumBackoffProbability
}

func (c *AllocationChannel) reduceIdleBlocks() {
	if c.idleBlocksLeft > 0 {
		c.idleBlocksLeft--
	}
}

func (c *AllocationChannel) armBackoff(now time.Time) {
	c.backoffReleaseTime = now.Add(c.BackoffTime)
	c.reduceIdleBlocks()
}

func (c *AllocationChannel) increaseConsecutiveBlocksUsed() {
	c.consecutiveBlocksUsed++
	if c.consecutiveBlocksUsed >= c.MaxConsecutiveBlocksAccessed {
		c.idleBlocksLeft = c.MinIdleBlocks
		c.consecutiveBlocksUsed = 0
	}
}
