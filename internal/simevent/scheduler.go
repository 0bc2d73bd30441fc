// Package simevent provides the discrete-event scheduling primitive the
// return link core runs on: callbacks keyed by simulation time, executed in
// time order on a single timeline.
package simevent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/timectrl"
)

// EventScheduler schedules callbacks to run at specific simulation times.
//
// The simulation loop advances the clock and calls RunDue after each
// advance. Components such as the beam scheduler re-arm their periodic work
// by calling Schedule from inside a running callback.
type EventScheduler interface {
	// Schedule registers f to run at simulation time at and returns an
	// opaque id usable with Cancel. Events sharing a time run in the
	// order they were scheduled.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending event. Unknown or already-run ids are ignored.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time

	// RunDue executes every pending event whose time is <= Now(), including
	// events scheduled by callbacks during the same call.
	RunDue()

	// Pending returns the number of events not yet run or cancelled.
	Pending() int
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// eventQueue is the time-ordered event store shared by the clock-backed and
// fake schedulers. Callers hold the owning scheduler's lock.
type eventQueue struct {
	prefix  string
	counter uint64
	events  []*scheduledEvent
	index   map[string]*scheduledEvent
}

func newEventQueue(prefix string) eventQueue {
	return eventQueue{prefix: prefix, index: make(map[string]*scheduledEvent)}
}

func (q *eventQueue) push(at time.Time, f func()) string {
	q.counter++
	ev := &scheduledEvent{id: fmt.Sprintf("%s-%d", q.prefix, q.counter), when: at, f: f}

	// First event strictly after at, so equal times stay FIFO.
	idx := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].when.After(at)
	})
	q.events = append(q.events, nil)
	copy(q.events[idx+1:], q.events[idx:])
	q.events[idx] = ev

	q.index[ev.id] = ev
	return ev.id
}

func (q *eventQueue) cancel(id string) {
	ev, ok := q.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(q.index, id)
}

// popDue removes and returns the earliest live event due at now, or nil.
func (q *eventQueue) popDue(now time.Time) *scheduledEvent {
	for len(q.events) > 0 {
		ev := q.events[0]
		if ev.cancelled {
			q.events = q.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		q.events = q.events[1:]
		delete(q.index, ev.id)
		return ev
	}
	return nil
}

// nextTime returns the time of the earliest live event.
func (q *eventQueue) nextTime() (time.Time, bool) {
	for _, ev := range q.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return time.Time{}, false
}

func (q *eventQueue) pending() int {
	return len(q.index)
}

// eventScheduler is the EventScheduler backed by a SimClock.
type eventScheduler struct {
	clock timectrl.SimClock

	mu    sync.Mutex
	queue eventQueue
}

// NewEventScheduler creates an event scheduler that reads time from clock.
// Pass a timectrl.TimeController in normal runs.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		queue: newEventQueue("ev"),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.push(at, f)
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.cancel(id)
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pending()
}

// NextEventTime returns the time of the earliest pending event.
func (s *eventScheduler) NextEventTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.nextTime()
}

func (s *eventScheduler) RunDue() {
	for {
		now := s.clock.Now()
		s.mu.Lock()
		ev := s.queue.popDue(now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// Callbacks run outside the lock so they can schedule follow-ups.
		if ev.f != nil {
			ev.f()
		}
	}
}
