package simevent

import (
	"sync"
	"time"
)

// FakeEventScheduler is an EventScheduler with its own notion of time that
// tests move forward explicitly with AdvanceTo or Advance.
type FakeEventScheduler struct {
	mu    sync.Mutex
	now   time.Time
	queue eventQueue
}

var _ EventScheduler = (*FakeEventScheduler)(nil)

// NewFakeEventScheduler creates a fake scheduler whose clock starts at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:   start,
		queue: newEventQueue("fake-ev"),
	}
}

func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *FakeEventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.push(at, f)
}

func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.cancel(id)
}

func (s *FakeEventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pending()
}

// RunDue executes all events whose time is <= the fake clock.
func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.queue.popDue(s.now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}

// AdvanceTo moves the clock to t, stepping through every intermediate event
// so each callback observes Now() equal to its own scheduled time. Time
// never moves backwards.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	for {
		s.mu.Lock()
		if t.Before(s.now) {
			s.mu.Unlock()
			return
		}
		next, ok := s.queue.nextTime()
		if !ok || next.After(t) {
			s.now = t
			s.mu.Unlock()
			s.RunDue()
			return
		}
		if next.After(s.now) {
			s.now = next
		}
		s.mu.Unlock()
		s.RunDue()
	}
}

// Advance moves the clock forward by d.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
