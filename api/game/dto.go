// Package gameapi exposes matchmaking, match location and wallet endpoints.
package gameapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchRequest asks to be queued for a match on the given terms.
type MatchRequest struct {
	Bet      decimal.Decimal `json:"bet" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
	Rows     int             `json:"rows" binding:"required"`
	Cols     int             `json:"cols" binding:"required"`
	Mines    int             `json:"mines" binding:"required"`
	Players  int             `json:"players"`
	Region   string          `json:"region"`
}

// MatchInfoResponse tells a player where to open the websocket for a match.
type MatchInfoResponse struct {
	MatchID   uuid.UUID `json:"match_id"`
	ServerID  string    `json:"server_id"`
	Region    string    `json:"region"`
	SocketURL string    `json:"socket_url"`
	Bet       string    `json:"bet"`
	Currency  string    `json:"currency"`
	Players   []string  `json:"players"`
	CreatedAt time.Time `json:"created_at"`
}

// BalanceResponse is a wallet balance.
type BalanceResponse struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// LeaderboardRow is one ranked player.
type LeaderboardRow struct {
	Rank     int             `json:"rank"`
	UserID   uuid.UUID       `json:"user_id"`
	Profit   decimal.Decimal `json:"profit"`
	Games    int64           `json:"games"`
	Wins     int64           `json:"wins"`
	Currency string          `json:"currency"`
}
