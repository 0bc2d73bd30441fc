package randomaccess

import (
	"errors"
	"math"
	"testing"
	"time"
)

func validChannel() AllocationChannel {
	return AllocationChannel{
		MinRandomizationValue:        0,
		MaxRandomizationValue:        79,
		NumOfInstances:               3,
		MaxUniquePayloadPerBlock:     1,
		MaxConsecutiveBlocksAccessed: 6,
		MinIdleBlocks:                2,
		BackoffTime:                  250 * time.Millisecond,
		BackoffProbability:           0,
		MaximumBackoffProbability:    0.2,
	}
}

func TestAllocationChannelValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AllocationChannel)
		ok     bool
	}{
		{"valid", func(*AllocationChannel) {}, true},
		{"range equals instances", func(c *AllocationChannel) { c.MinRandomizationValue, c.MaxRandomizationValue = 10, 13 }, true},
		{"negative min", func(c *AllocationChannel) { c.MinRandomizationValue = -1 }, false},
		{"negative max", func(c *AllocationChannel) { c.MaxRandomizationValue = -1 }, false},
		{"min above max", func(c *AllocationChannel) { c.MinRandomizationValue = 80 }, false},
		{"zero instances", func(c *AllocationChannel) { c.NumOfInstances = 0 }, false},
		{"range smaller than instances", func(c *AllocationChannel) { c.MinRandomizationValue, c.MaxRandomizationValue = 10, 12 }, false},
		{"negative backoff time", func(c *AllocationChannel) { c.BackoffTime = -time.Millisecond }, false},
		{"zero backoff time", func(c *AllocationChannel) { c.BackoffTime = 0 }, true},
		{"negative backoff probability", func(c *AllocationChannel) { c.BackoffProbability = -0.01 }, false},
		{"backoff probability above one", func(c *AllocationChannel) { c.BackoffProbability = 1.5 }, false},
		{"maximum backoff probability above one", func(c *AllocationChannel) { c.MaximumBackoffProbability = 1.01 }, false},
		{"negative maximum backoff probability", func(c *AllocationChannel) { c.MaximumBackoffProbability = -0.1 }, false},
		{"probability bounds inclusive", func(c *AllocationChannel) { c.BackoffProbability, c.MaximumBackoffProbability = 1, 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := validChannel()
			tt.mutate(&ch)
			err := ch.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidChannelConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidChannelConfig", err)
			}
		})
	}
}

func TestBackoffProbabilityFromRaw(t *testing.T) {
	if got := BackoffProbabilityFromRaw(1); got != 0 {
		t.Fatalf("raw 1 = %g, want 0", got)
	}
	if got := BackoffProbabilityFromRaw(math.MaxUint16); got != 1 {
		t.Fatalf("raw 65535 = %g, want 1", got)
	}
	if got := BackoffProbabilityFromRaw(32768); math.Abs(got-0.5) > 1e-4 {
		t.Fatalf("raw 32768 = %g, want ~0.5", got)
	}
}

func TestIncreaseConsecutiveBlocksUsedForcesIdle(t *testing.T) {
	ch := validChannel()
	ch.MaxConsecutiveBlocksAccessed = 2
	ch.MinIdleBlocks = 3

	ch.increaseConsecutiveBlocksUsed()
	if ch.IdleBlocksLeft() != 0 || ch.ConsecutiveBlocksUsed() != 1 {
		t.Fatalf("after one block idle=%d consecutive=%d", ch.IdleBlocksLeft(), ch.ConsecutiveBlocksUsed())
	}
	ch.increaseConsecutiveBlocksUsed()
	if ch.IdleBlocksLeft() != 3 || ch.ConsecutiveBlocksUsed() != 0 {
		t.Fatalf("after limit idle=%d consecutive=%d, want 3 and 0", ch.IdleBlocksLeft(), ch.ConsecutiveBlocksUsed())
	}
	for i := 0; i < 5; i++ {
		ch.reduceIdleBlocks()
	}
	if ch.IdleBlocksLeft() != 0 {
		t.Fatalf("idle blocks went below zero: %d", ch.IdleBlocksLeft())
	}
}

func TestArmBackoff(t *testing.T) {
	ch := validChannel()
	ch.idleBlocksLeft = 2
	now := time.Unix(100, 0)
	ch.armBackoff(now)

	if want := now.Add(250 * time.Millisecond); !ch.BackoffReleaseTime().Equal(want) {
		t.Fatalf("release = %s, want %s", ch.BackoffReleaseTime(), want)
	}
	if ch.IdleBlocksLeft() != 1 {
		t.Fatalf("idle = %d, want 1", ch.IdleBlocksLeft())
	}
	if ch.backoffElapsed(now.Add(249 * time.Millisecond)) {
		t.Fatalf("backoff elapsed before release time")
	}
	if !ch.backoffElapsed(now.Add(250 * time.Millisecond)) {
		t.Fatalf("backoff not elapsed at release time")
	}
}
