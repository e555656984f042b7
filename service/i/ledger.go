package i

import (
	"context"
	"errors"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/google/uuid"
)

// LedgerStatus is what the external settlement layer reports for a record.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerConfirmed LedgerStatus = "confirmed"
	LedgerRejected  LedgerStatus = "rejected"
)

// ErrLedgerUnavailable marks failures worth retrying.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// LedgerReceipt is the ledger's answer to a submission.
type LedgerReceipt struct {
	Status    LedgerStatus
	Reference string
	Reason    string
}

// Ledger is the external settlement layer. RecordOutcome is idempotent on
// the record key.
type Ledger interface {
	RecordOutcome(ctx context.Context, rec *game.SettlementRecord) (LedgerReceipt, error)
}

// MoveRecorder mirrors a match's moves to the external settlement layer.
// Calls are best effort.
type MoveRecorder interface {
	Initialize(ctx context.Context, matchID uuid.UUID, round int, players []uuid.UUID, commitment []byte) error
	RecordMove(ctx context.Context, matchID uuid.UUID, round int, move game.Move) error
	Commit(ctx context.Context, matchID uuid.UUID, round int, seed []byte) error
}
