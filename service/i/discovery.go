package i

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionLocation tells clients which instance hosts a match.
type SessionLocation struct {
	MatchID   uuid.UUID `json:"match_id"`
	ServerID  string    `json:"server_id"`
	Region    string    `json:"region"`
	Addr      string    `json:"addr"`
	Bet       string    `json:"bet"`
	Currency  string    `json:"currency"`
	Players   []string  `json:"players"`
	CreatedAt time.Time `json:"created_at"`
}

// Discovery publishes where live matches run.
type Discovery interface {
	Register(ctx context.Context, loc SessionLocation) error
	Lookup(ctx context.Context, matchID uuid.UUID) (SessionLocation, error)
	LookupPlayer(ctx context.Context, player uuid.UUID) (SessionLocation, error)
	Unregister(ctx context.Context, matchID uuid.UUID) error
}

// Locker hands out distributed locks by name.
type Locker interface {
	// Lock blocks until the named lock is held or ctx ends. The returned
	// context stays live while the lock is held and is cancelled if the lock
	// is lost, so work guarded by it must run under that context. unlock
	// releases the lock.
	Lock(ctx context.Context, name string) (held context.Context, unlock func(), err error)
}
