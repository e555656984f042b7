package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestScheduler(t *testing.T) {
	const wait = time.Second
	const tick = 5 * time.Millisecond

	t.Run("Fires once after the delay", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := NewScheduler(clock)
		key := TimerKey{MatchID: uuid.New(), Kind: TimerJoin}

		var fired atomic.Int32
		s.Schedule(key, 10*time.Second, func() { fired.Add(1) })
		assert.True(t, s.Pending(key))

		clock.Advance(9 * time.Second)
		assert.Equal(t, int32(0), fired.Load())

		clock.Advance(time.Second)
		assert.Eventually(t, func() bool { return fired.Load() == 1 }, wait, tick)
		assert.False(t, s.Pending(key))

		clock.Advance(time.Minute)
		assert.Never(t, func() bool { return fired.Load() > 1 }, 50*time.Millisecond, tick)
	})

	t.Run("Cancel before expiry", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := NewScheduler(clock)
		key := TimerKey{MatchID: uuid.New(), Kind: TimerRematch}

		var fired atomic.Int32
		s.Schedule(key, time.Second, func() { fired.Add(1) })
		assert.True(t, s.Cancel(key))
		assert.False(t, s.Cancel(key))

		clock.Advance(time.Minute)
		assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, tick)
	})

	t.Run("Rescheduling replaces the timer", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := NewScheduler(clock)
		key := TimerKey{MatchID: uuid.New(), Kind: TimerMove}

		var first, second atomic.Int32
		s.Schedule(key, time.Second, func() { first.Add(1) })
		s.Schedule(key, 5*time.Second, func() { second.Add(1) })

		clock.Advance(2 * time.Second)
		assert.Never(t, func() bool { return first.Load() > 0 || second.Load() > 0 }, 50*time.Millisecond, tick)

		clock.Advance(3 * time.Second)
		assert.Eventually(t, func() bool { return second.Load() == 1 }, wait, tick)
		assert.Equal(t, int32(0), first.Load())
	})

	t.Run("Keys are independent", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := NewScheduler(clock)
		matchID := uuid.New()
		a := TimerKey{MatchID: matchID, Kind: TimerGrace, PlayerID: uuid.New()}
		b := TimerKey{MatchID: matchID, Kind: TimerGrace, PlayerID: uuid.New()}
		other := TimerKey{MatchID: uuid.New(), Kind: TimerJoin}

		var fired atomic.Int32
		s.Schedule(a, time.Second, func() { fired.Add(1) })
		s.Schedule(b, time.Second, func() { fired.Add(1) })
		s.Schedule(other, time.Second, func() { fired.Add(10) })

		s.CancelMatch(matchID)
		assert.False(t, s.Pending(a))
		assert.False(t, s.Pending(b))
		assert.True(t, s.Pending(other))

		clock.Advance(time.Second)
		assert.Eventually(t, func() bool { return fired.Load() == 10 }, wait, tick)
	})

	t.Run("Stop cancels everything", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := NewScheduler(clock)
		var fired atomic.Int32
		for n := 0; n < 5; n++ {
			s.Schedule(TimerKey{MatchID: uuid.New(), Kind: TimerJoin}, time.Second, func() { fired.Add(1) })
		}
		s.Stop()

		clock.Advance(time.Minute)
		assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, tick)
	})
}
