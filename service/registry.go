package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrMatchExists = errors.New("match already exists")
)

type registryEntry struct {
	match       *game.Match
	lock        chan struct{}
	removed     atomic.Bool
	lastTouched atomic.Int64
}

// Registry owns every live match of this process. The only way to read or
// change a match is WithExclusiveAccess, which runs one function per match
// at a time while unrelated matches proceed in parallel.
type Registry struct {
	clock           clockwork.Clock
	entries         map[uuid.UUID]*registryEntry
	playerToSession map[uuid.UUID]uuid.UUID
	sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:           clock,
		entries:         make(map[uuid.UUID]*registryEntry),
		playerToSession: make(map[uuid.UUID]uuid.UUID),
	}
}

// Create takes ownership of m and indexes its players to it. A player belongs
// to at most one live match: if any of them is still indexed elsewhere the
// match is refused with game.ErrPlayerBusy and nothing changes.
func (r *Registry) Create(m *game.Match) (uuid.UUID, error) {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.entries[m.ID]; ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrMatchExists, m.ID)
	}
	for _, p := range m.Players {
		if other, ok := r.playerToSession[p]; ok {
			return uuid.Nil, fmt.Errorf("%w: %s is in match %s", game.ErrPlayerBusy, p, other)
		}
	}

	e := &registryEntry{match: m, lock: make(chan struct{}, 1)}
	e.lastTouched.Store(r.clock.Now().UnixNano())
	r.entries[m.ID] = e
	for _, p := range m.Players {
		r.playerToSession[p] = m.ID
	}
	return m.ID, nil
}

// WithExclusiveAccess runs fn with sole access to the match. It waits for a
// mutation already in flight and gives up with ErrMatchLocked once ctx ends.
// fn must not block on I/O.
func (r *Registry) WithExclusiveAccess(ctx context.Context, id uuid.UUID, fn func(m *game.Match) error) error {
	r.RLock()
	e, ok := r.entries[id]
	r.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", game.ErrUnknownMatch, id)
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", game.ErrMatchLocked, id, ctx.Err())
	}
	defer func() { <-e.lock }()

	if e.removed.Load() {
		return fmt.Errorf("%w: %s", game.ErrUnknownMatch, id)
	}
	e.lastTouched.Store(r.clock.Now().UnixNano())
	return fn(e.match)
}

// Remove drops the match. Callers waiting for it get ErrUnknownMatch.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.Lock()
	defer r.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.removed.Store(true)
	delete(r.entries, id)
	for _, p := range e.match.Players {
		if r.playerToSession[p] == id {
			delete(r.playerToSession, p)
		}
	}
	return true
}

// MatchOf returns the live match the player belongs to.
func (r *Registry) MatchOf(player uuid.UUID) (uuid.UUID, bool) {
	r.RLock()
	defer r.RUnlock()
	id, ok := r.playerToSession[player]
	return id, ok
}

// Len returns the number of live matches.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.entries)
}

// Idle lists matches nobody accessed for longer than d.
func (r *Registry) Idle(d time.Duration) []uuid.UUID {
	cutoff := r.clock.Now().Add(-d).UnixNano()

	r.RLock()
	defer r.RUnlock()
	var ids []uuid.UUID
	for id, e := range r.entries {
		if e.lastTouched.Load() < cutoff {
			ids = append(ids, id)
		}
	}
	return ids
}
