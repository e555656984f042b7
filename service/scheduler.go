package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// TimerKind names the event a timer waits for.
type TimerKind string

const (
	TimerJoin    TimerKind = "join"
	TimerMove    TimerKind = "move"
	TimerGrace   TimerKind = "grace"
	TimerRematch TimerKind = "rematch"
	TimerRemoval TimerKind = "removal"
)

// TimerKey identifies one pending timeout. PlayerID is only set for
// per-player timers such as the disconnect grace period.
type TimerKey struct {
	MatchID  uuid.UUID
	Kind     TimerKind
	PlayerID uuid.UUID
}

type scheduledTimer struct {
	id    uint64
	timer clockwork.Timer
}

// Scheduler runs cancellable one-shot timeouts. Each key holds at most one
// timer and a fired callback runs only if its timer is still the current one
// for the key, so a timeout never fires twice or after being replaced.
type Scheduler struct {
	clock  clockwork.Clock
	timers map[TimerKey]scheduledTimer
	seq    uint64
	mu     sync.Mutex
}

// NewScheduler creates a scheduler on clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:  clock,
		timers: make(map[TimerKey]scheduledTimer),
	}
}

// Schedule arms fn to run after d, replacing any timer under key.
func (s *Scheduler) Schedule(key TimerKey, d time.Duration, fn func()) {
	if d <= 0 {
		d = time.Nanosecond
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	id := s.seq
	t := s.clock.AfterFunc(d, func() {
		if s.claim(key, id) {
			fn()
		}
	})
	s.timers[key] = scheduledTimer{id: id, timer: t}
}

// Cancel stops the timer under key. It reports whether one was pending.
func (s *Scheduler) Cancel(key TimerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.timers, key)
	return true
}

// CancelMatch stops every timer of a match.
func (s *Scheduler) CancelMatch(matchID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		if key.MatchID == matchID {
			t.timer.Stop()
			delete(s.timers, key)
		}
	}
}

// Pending reports whether a timer is armed under key.
func (s *Scheduler) Pending(key TimerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop cancels all timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// claim removes the timer if it is still the current one for key.
func (s *Scheduler) claim(key TimerKey, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok || t.id != id {
		return false
	}
	delete(s.timers, key)
	return true
}
