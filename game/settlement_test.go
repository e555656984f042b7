package game

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSettlementKey(t *testing.T) {
	matchID := uuid.New()

	assert.Equal(t, SettlementKey(matchID, 1, StateFinished), SettlementKey(matchID, 1, StateFinished))
	assert.NotEqual(t, SettlementKey(matchID, 1, StateFinished), SettlementKey(matchID, 2, StateFinished))
	assert.NotEqual(t, SettlementKey(matchID, 1, StateFinished), SettlementKey(matchID, 1, StateAborted))
	assert.NotEqual(t, SettlementKey(matchID, 1, StateFinished), SettlementKey(uuid.New(), 1, StateFinished))
}

func TestNewSettlementRecord(t *testing.T) {
	m, ids := finishedMatch(t)
	rec := NewSettlementRecord(m.ID, m.Config.Currency, m.Outcome, testNow)

	assert.Equal(t, SettlementPending, rec.Status)
	assert.Equal(t, SettlementKey(m.ID, 1, StateFinished), rec.Key)
	assert.True(t, decimal.NewFromInt(1).Equal(rec.Net(ids[0])))
	assert.True(t, decimal.NewFromInt(-1).Equal(rec.Net(ids[1])))
	assert.True(t, decimal.NewFromInt(2).Equal(rec.Total()))
	assert.Len(t, rec.Players(), 2)
}
