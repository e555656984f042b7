package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a player's balance in one currency.
// Table name: wallets
type Wallet struct {
	UserID    string          `gorm:"primaryKey;type:uuid;not null" json:"user_id"`
	Currency  string          `gorm:"primaryKey;type:varchar(16);not null" json:"currency"`
	Balance   decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"balance"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

// TransactionKind classifies a booked settlement line.
type TransactionKind string

const (
	TransactionWin    TransactionKind = "win"
	TransactionLoss   TransactionKind = "loss"
	TransactionRefund TransactionKind = "refund"
)

// Transaction is one player's line of a confirmed settlement. The pair of
// settlement key and user is unique, which is what makes booking idempotent.
// Table name: transactions
type Transaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SettlementKey string          `gorm:"type:uuid;not null;uniqueIndex:idx_settlement_user" json:"settlement_key"`
	UserID        string          `gorm:"type:uuid;not null;uniqueIndex:idx_settlement_user;index" json:"user_id"`
	MatchID       string          `gorm:"type:uuid;not null;index" json:"match_id"`
	Round         int             `gorm:"not null" json:"round"`
	Currency      string          `gorm:"type:varchar(16);not null" json:"currency"`
	Kind          TransactionKind `gorm:"type:varchar(16);not null" json:"kind"`
	Stake         decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"stake"`
	Payout        decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"payout"`
	Amount        decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"amount"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

// Pnl aggregates a player's results per currency for the leaderboard.
// Table name: pnls
type Pnl struct {
	UserID    string          `gorm:"primaryKey;type:uuid;not null" json:"user_id"`
	Currency  string          `gorm:"primaryKey;type:varchar(16);not null" json:"currency"`
	Profit    decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0;index" json:"profit"`
	Games     int64           `gorm:"not null;default:0" json:"games"`
	Wins      int64           `gorm:"not null;default:0" json:"wins"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}
