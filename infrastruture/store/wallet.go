package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletStore keeps balances, booked transactions and profit-and-loss in
// postgres.
type WalletStore struct {
	db *gorm.DB
}

// NewWalletStore creates a WalletStore on db.
func NewWalletStore(db *gorm.DB) *WalletStore {
	return &WalletStore{db: db}
}

// Migrate creates or updates the wallet tables.
func (s *WalletStore) Migrate() error {
	return s.db.AutoMigrate(&Wallet{}, &Transaction{}, &Pnl{})
}

// Balance returns a player's balance, zero when they have no wallet yet.
func (s *WalletStore) Balance(ctx context.Context, userID uuid.UUID, currency string) (decimal.Decimal, error) {
	var w Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID.String(), currency).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Deposit credits a wallet outside of any match.
func (s *WalletStore) Deposit(ctx context.Context, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit must be positive", game.ErrInvalidParameters)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return creditWallet(tx, userID.String(), currency, amount, time.Now().UTC())
	})
}

// ApplySettlement books a confirmed settlement in a single database
// transaction. A record already booked is skipped.
func (s *WalletStore) ApplySettlement(ctx context.Context, rec *game.SettlementRecord) error {
	now := time.Now().UTC()
	lines := settlementLines(rec, now)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for idx := range lines {
			line := &lines[idx]
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(line)
			if res.Error != nil {
				return fmt.Errorf("booking settlement %s for %s: %w", rec.Key, line.UserID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}

			if err := creditWallet(tx, line.UserID, line.Currency, line.Amount, now); err != nil {
				return err
			}
			if line.Kind == TransactionRefund {
				continue
			}
			if err := addPnl(tx, line, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Leaderboard returns the most profitable players of a currency.
func (s *WalletStore) Leaderboard(ctx context.Context, currency string, limit int) ([]game.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var rows []Pnl
	err := s.db.WithContext(ctx).
		Where("currency = ?", currency).
		Order("profit DESC").
		Order("wins DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]game.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.UserID)
		if err != nil {
			continue
		}
		entries = append(entries, game.LeaderboardEntry{
			UserID:   id,
			Currency: r.Currency,
			Profit:   r.Profit,
			Games:    r.Games,
			Wins:     r.Wins,
		})
	}
	return entries, nil
}

// settlementLines turns a record into one transaction per player.
func settlementLines(rec *game.SettlementRecord, now time.Time) []Transaction {
	lines := make([]Transaction, 0, len(rec.Stakes))
	for _, p := range rec.Players() {
		line := Transaction{
			SettlementKey: rec.Key.String(),
			UserID:        p.String(),
			MatchID:       rec.MatchID.String(),
			Round:         rec.Round,
			Currency:      rec.Currency,
			Stake:         rec.Stakes[p],
			Payout:        rec.Payouts[p],
			Amount:        rec.Net(p),
			CreatedAt:     now,
		}
		switch {
		case rec.Refund:
			line.Kind = TransactionRefund
		case slices.Contains(rec.Winners, p):
			line.Kind = TransactionWin
		default:
			line.Kind = TransactionLoss
		}
		lines = append(lines, line)
	}
	return lines
}

func creditWallet(tx *gorm.DB, userID, currency string, amount decimal.Decimal, now time.Time) error {
	w := Wallet{UserID: userID, Currency: currency, Balance: amount, CreatedAt: now, UpdatedAt: now}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("wallets.balance + ?", amount),
			"updated_at": now,
		}),
	}).Create(&w).Error
}

func addPnl(tx *gorm.DB, line *Transaction, now time.Time) error {
	var wins int64
	if line.Kind == TransactionWin {
		wins = 1
	}
	row := Pnl{UserID: line.UserID, Currency: line.Currency, Profit: line.Amount, Games: 1, Wins: wins, UpdatedAt: now}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"profit":     gorm.Expr("pnls.profit + ?", line.Amount),
			"games":      gorm.Expr("pnls.games + 1"),
			"wins":       gorm.Expr("pnls.wins + ?", wins),
			"updated_at": now,
		}),
	}).Create(&row).Error
}
