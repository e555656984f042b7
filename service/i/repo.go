package i

import (
	"context"
	"errors"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrRecordNotFound is returned by stores when nothing matches the lookup.
	ErrRecordNotFound = errors.New("record not found")
)

// SettlementStore persists settlement records.
type SettlementStore interface {
	// Create inserts the record unless one with the same key exists, in which
	// case it returns the stored record and created is false.
	Create(ctx context.Context, rec *game.SettlementRecord) (stored *game.SettlementRecord, created bool, err error)

	// ByKey returns the record with the given idempotency key.
	ByKey(ctx context.Context, key uuid.UUID) (*game.SettlementRecord, error)

	// Update overwrites status, attempts and last error of a record.
	Update(ctx context.Context, rec *game.SettlementRecord) error

	// Pending lists pending records last updated before the given time.
	Pending(ctx context.Context, updatedBefore time.Time) ([]*game.SettlementRecord, error)

	// ByMatch lists every record of a match across its rounds.
	ByMatch(ctx context.Context, matchID uuid.UUID) ([]*game.SettlementRecord, error)
}

// MoveLog keeps an audit trail of applied moves.
type MoveLog interface {
	Append(ctx context.Context, matchID uuid.UUID, round int, move game.Move) error
	Moves(ctx context.Context, matchID uuid.UUID, round int) ([]game.Move, error)
}

// WalletStore owns balances, transactions and profit-and-loss per (user, currency).
type WalletStore interface {
	// Balance returns the player's balance in currency, zero when unknown.
	Balance(ctx context.Context, userID uuid.UUID, currency string) (decimal.Decimal, error)

	// ApplySettlement books a confirmed record. Applying the same record twice
	// has no additional effect.
	ApplySettlement(ctx context.Context, rec *game.SettlementRecord) error

	// Leaderboard returns the top profit rows of a currency.
	Leaderboard(ctx context.Context, currency string, limit int) ([]game.LeaderboardEntry, error)
}
