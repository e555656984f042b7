package i

import (
	"time"

	"github.com/beka-birhanu/xplode-api/game"
)

// Metrics records engine activity.
type Metrics interface {
	SetActiveMatches(n int)
	MatchEnded(terminal game.State, d time.Duration)
	ConnectionOpened()
	ConnectionClosed()
	SettlementProcessed(status game.SettlementStatus, d time.Duration)
	RewardsDistributed(currency string, amount float64)
}
