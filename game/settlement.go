package game

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementStatus tracks a record through the external ledger.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// settlementNamespace scopes the name-based keys of settlement records.
var settlementNamespace = uuid.MustParse("6f1c4a52-8e1b-4a9e-9a57-3d0f2c7be0a4")

// SettlementKey derives the idempotency key of a round's settlement. The same
// match, round and terminal state always give the same key.
func SettlementKey(matchID uuid.UUID, round int, terminal State) uuid.UUID {
	return uuid.NewSHA1(settlementNamespace, []byte(fmt.Sprintf("%s/%d/%s", matchID, round, terminal)))
}

// SettlementRecord is the money effect of one finished or aborted round.
type SettlementRecord struct {
	Key       uuid.UUID
	MatchID   uuid.UUID
	Round     int
	Terminal  State
	Currency  string
	Winners   []uuid.UUID
	Stakes    map[uuid.UUID]decimal.Decimal
	Payouts   map[uuid.UUID]decimal.Decimal
	Refund    bool
	Reason    string
	Status    SettlementStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSettlementRecord builds the pending record for an outcome.
func NewSettlementRecord(matchID uuid.UUID, currency string, out *Outcome, now time.Time) *SettlementRecord {
	return &SettlementRecord{
		Key:       SettlementKey(matchID, out.Round, out.Terminal),
		MatchID:   matchID,
		Round:     out.Round,
		Terminal:  out.Terminal,
		Currency:  currency,
		Winners:   out.Winners,
		Stakes:    out.Stakes,
		Payouts:   out.Payouts,
		Refund:    out.Refund,
		Reason:    out.Reason,
		Status:    SettlementPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Net returns what the settlement changes on a player's balance.
func (r *SettlementRecord) Net(player uuid.UUID) decimal.Decimal {
	return r.Payouts[player].Sub(r.Stakes[player])
}

// Players lists everyone with a stake in the record, in a stable order.
func (r *SettlementRecord) Players() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.Stakes))
	for p := range r.Stakes {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Total returns the sum of all payouts.
func (r *SettlementRecord) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range r.Payouts {
		sum = sum.Add(v)
	}
	return sum
}

// LeaderboardEntry is one row of the aggregated profit-and-loss view.
type LeaderboardEntry struct {
	UserID   uuid.UUID       `json:"user_id"`
	Currency string          `json:"currency"`
	Profit   decimal.Decimal `json:"profit"`
	Games    int64           `json:"games"`
	Wins     int64           `json:"wins"`
}
