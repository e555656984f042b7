package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistryMatch(t *testing.T, clock clockwork.Clock) *game.Match {
	cfg := game.Config{Rows: 4, Cols: 4, Mines: 3, Bet: decimal.NewFromInt(1), Currency: "SOL"}
	m, err := game.NewMatch(uuid.New(), []uuid.UUID{uuid.New(), uuid.New()}, cfg, nil, clock.Now())
	require.NoError(t, err)
	return m
}

func TestRegistry(t *testing.T) {
	clock := clockwork.NewFakeClock()

	t.Run("Create and look up", func(t *testing.T) {
		r := NewRegistry(clock)
		m := newRegistryMatch(t, clock)

		id, err := r.Create(m)
		require.NoError(t, err)
		assert.Equal(t, m.ID, id)
		assert.Equal(t, 1, r.Len())

		got, ok := r.MatchOf(m.Players[1])
		assert.True(t, ok)
		assert.Equal(t, id, got)

		_, err = r.Create(m)
		assert.ErrorIs(t, err, ErrMatchExists)
	})

	t.Run("Unknown match", func(t *testing.T) {
		r := NewRegistry(clock)
		err := r.WithExclusiveAccess(context.Background(), uuid.New(), func(*game.Match) error { return nil })
		assert.ErrorIs(t, err, game.ErrUnknownMatch)
	})

	t.Run("No lost updates under contention", func(t *testing.T) {
		r := NewRegistry(clock)
		m := newRegistryMatch(t, clock)
		_, err := r.Create(m)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for n := 0; n < 100; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = r.WithExclusiveAccess(context.Background(), m.ID, func(m *game.Match) error {
					m.Version++
					return nil
				})
			}()
		}
		wg.Wait()

		_ = r.WithExclusiveAccess(context.Background(), m.ID, func(m *game.Match) error {
			assert.Equal(t, uint64(100), m.Version)
			return nil
		})
	})

	t.Run("Busy match times out while others proceed", func(t *testing.T) {
		r := NewRegistry(clock)
		busy := newRegistryMatch(t, clock)
		free := newRegistryMatch(t, clock)
		_, _ = r.Create(busy)
		_, _ = r.Create(free)

		held := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = r.WithExclusiveAccess(context.Background(), busy.ID, func(*game.Match) error {
				close(held)
				<-release
				return nil
			})
		}()
		<-held
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := r.WithExclusiveAccess(ctx, busy.ID, func(*game.Match) error { return nil })
		assert.ErrorIs(t, err, game.ErrMatchLocked)

		ran := false
		err = r.WithExclusiveAccess(context.Background(), free.ID, func(*game.Match) error {
			ran = true
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("Removed while waiting", func(t *testing.T) {
		r := NewRegistry(clock)
		m := newRegistryMatch(t, clock)
		_, _ = r.Create(m)

		held := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = r.WithExclusiveAccess(context.Background(), m.ID, func(*game.Match) error {
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		result := make(chan error, 1)
		go func() {
			result <- r.WithExclusiveAccess(context.Background(), m.ID, func(*game.Match) error { return nil })
		}()

		assert.True(t, r.Remove(m.ID))
		close(release)
		assert.ErrorIs(t, <-result, game.ErrUnknownMatch)

		_, ok := r.MatchOf(m.Players[0])
		assert.False(t, ok)
		assert.False(t, r.Remove(m.ID))
	})

	t.Run("Player in a live match cannot be put in another", func(t *testing.T) {
		r := NewRegistry(clock)
		old := newRegistryMatch(t, clock)
		_, err := r.Create(old)
		require.NoError(t, err)

		newcomer := uuid.New()
		newer, err := game.NewMatch(uuid.New(), []uuid.UUID{newcomer, old.Players[0]}, old.Config, nil, clock.Now())
		require.NoError(t, err)
		_, err = r.Create(newer)
		assert.ErrorIs(t, err, game.ErrPlayerBusy)

		id, ok := r.MatchOf(old.Players[0])
		assert.True(t, ok)
		assert.Equal(t, old.ID, id)
		_, ok = r.MatchOf(newcomer)
		assert.False(t, ok, "a refused match indexes nobody")
		assert.Equal(t, 1, r.Len())

		r.Remove(old.ID)
		_, err = r.Create(newer)
		require.NoError(t, err)
		id, _ = r.MatchOf(old.Players[0])
		assert.Equal(t, newer.ID, id)
	})

	t.Run("Idle matches", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		r := NewRegistry(clock)
		stale := newRegistryMatch(t, clock)
		fresh := newRegistryMatch(t, clock)
		_, _ = r.Create(stale)
		_, _ = r.Create(fresh)

		clock.Advance(10 * time.Minute)
		_ = r.WithExclusiveAccess(context.Background(), fresh.ID, func(*game.Match) error { return nil })
		clock.Advance(time.Minute)

		assert.Equal(t, []uuid.UUID{stale.ID}, r.Idle(5*time.Minute))
	})
}
