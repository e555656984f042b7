package i

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ticket is a player's request to be matched with others on equal terms.
type Ticket struct {
	PlayerID uuid.UUID
	Bet      decimal.Decimal
	Currency string
	Rows     int
	Cols     int
	Mines    int
	Players  int
	Region   string
}

// Matchmaker groups tickets with identical terms into matches.
type Matchmaker interface {
	// PushToQueue queues the ticket and tries to form a match right away.
	PushToQueue(ctx context.Context, ticket Ticket) error

	// LeaveQueue withdraws a queued ticket.
	LeaveQueue(ctx context.Context, ticket Ticket) error
}

// SortedQueue is a score ordered queue shared between instances.
type SortedQueue interface {
	Enqueue(ctx context.Context, queueKey string, score float64, member string) error
	DequeTops(ctx context.Context, queueKey string, amount int64) ([]string, error)
	Count(ctx context.Context, queueKey string) int64
	Remove(ctx context.Context, queueKey string, member string) error
}
