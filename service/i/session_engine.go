package i

import (
	"context"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/google/uuid"
)

// Connection is a live transport handle of one player.
type Connection interface {
	// Send queues a frame for delivery. It must not block on a slow peer.
	Send(data []byte) error
	Close() error
}

// SessionEngine drives live matches from transport events.
type SessionEngine interface {
	// CreateMatch registers a new match for the given players and returns its id.
	CreateMatch(ctx context.Context, cfg game.Config, players []uuid.UUID) (uuid.UUID, error)

	// Connect attaches a player's connection and resyncs the player's match.
	Connect(ctx context.Context, player uuid.UUID, conn Connection)

	// Disconnect detaches conn if it is still the player's current connection.
	Disconnect(ctx context.Context, player uuid.UUID, conn Connection)

	// Handle applies a decoded client message for player.
	Handle(ctx context.Context, player uuid.UUID, msg game.ClientMessage) error

	// ReportError tells the player a frame of theirs could not be decoded.
	ReportError(player uuid.UUID, err error)

	// MatchOf returns the live match the player is part of.
	MatchOf(player uuid.UUID) (uuid.UUID, bool)
}
