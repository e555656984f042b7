package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow   = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	testMines = []Cell{
		{Row: 7, Col: 0}, {Row: 7, Col: 1}, {Row: 7, Col: 2}, {Row: 7, Col: 3}, {Row: 7, Col: 4},
		{Row: 7, Col: 5}, {Row: 7, Col: 6}, {Row: 7, Col: 7}, {Row: 6, Col: 0}, {Row: 6, Col: 1},
	}
)

func fixedBoards(t *testing.T, mines []Cell) (BoardFactory, *int) {
	calls := 0
	return func(rows, cols, _ int) (*Board, error) {
		calls++
		b, err := BoardFromLayout(rows, cols, mines)
		require.NoError(t, err)
		return b, nil
	}, &calls
}

func newTestMatch(t *testing.T, players int) (*Match, []uuid.UUID) {
	ids := make([]uuid.UUID, players)
	for i := range ids {
		ids[i] = uuid.New()
	}
	boards, _ := fixedBoards(t, testMines)
	cfg := Config{Rows: 8, Cols: 8, Mines: 10, Bet: decimal.NewFromInt(1), Currency: "SOL"}
	m, err := NewMatch(uuid.New(), ids, cfg, boards, testNow)
	require.NoError(t, err)
	return m, ids
}

func startedMatch(t *testing.T, players int) (*Match, []uuid.UUID) {
	m, ids := newTestMatch(t, players)
	for _, id := range ids {
		require.NoError(t, m.Join(id, testNow))
	}
	require.Equal(t, StateRunning, m.State)
	return m, ids
}

func finishedMatch(t *testing.T) (*Match, []uuid.UUID) {
	m, ids := startedMatch(t, 2)
	_, err := m.ApplyMove(ids[0], Cell{Row: 0, Col: 0}, testNow)
	require.NoError(t, err)
	_, err = m.ApplyMove(ids[1], Cell{Row: 7, Col: 0}, testNow)
	require.NoError(t, err)
	require.Equal(t, StateFinished, m.State)
	return m, ids
}

type snapshot struct {
	View    []byte
	Version uint64
	Moves   int
	Turn    int
}

func snap(t *testing.T, m *Match) snapshot {
	view, err := json.Marshal(m.View())
	require.NoError(t, err)
	return snapshot{View: view, Version: m.Version, Moves: len(m.Moves), Turn: m.Turn}
}

func TestNewMatch(t *testing.T) {
	t.Run("Starts in CREATED with a published commitment", func(t *testing.T) {
		m, _ := newTestMatch(t, 2)
		assert.Equal(t, StateCreated, m.State)
		assert.Equal(t, 1, m.Round)

		v := m.View()
		assert.NotEmpty(t, v.Commitment)
		assert.Empty(t, v.Seed)
		assert.Empty(t, v.Mines)
	})

	t.Run("Rejects bad configuration", func(t *testing.T) {
		a, b := uuid.New(), uuid.New()
		cfg := Config{Rows: 8, Cols: 8, Mines: 10, Bet: decimal.NewFromInt(1), Currency: "SOL"}

		_, err := NewMatch(uuid.New(), []uuid.UUID{a}, cfg, nil, testNow)
		assert.ErrorIs(t, err, ErrInvalidParameters)

		_, err = NewMatch(uuid.New(), []uuid.UUID{a, a}, cfg, nil, testNow)
		assert.ErrorIs(t, err, ErrInvalidParameters)

		bad := cfg
		bad.Mines = 64
		_, err = NewMatch(uuid.New(), []uuid.UUID{a, b}, bad, nil, testNow)
		assert.ErrorIs(t, err, ErrInvalidParameters)

		bad = cfg
		bad.Bet = decimal.Zero
		_, err = NewMatch(uuid.New(), []uuid.UUID{a, b}, bad, nil, testNow)
		assert.ErrorIs(t, err, ErrInvalidParameters)
	})
}

func TestJoin(t *testing.T) {
	m, ids := newTestMatch(t, 2)

	require.NoError(t, m.Join(ids[0], testNow))
	assert.Equal(t, StateCreated, m.State)

	version := m.Version
	require.NoError(t, m.Join(ids[0], testNow))
	assert.Equal(t, version, m.Version, "joining twice changes nothing")

	assert.ErrorIs(t, m.Join(uuid.New(), testNow), ErrUnknownPlayer)

	require.NoError(t, m.Join(ids[1], testNow))
	assert.Equal(t, StateRunning, m.State)
	assert.Equal(t, ids[0], m.CurrentPlayer())
}

func TestApplyMove(t *testing.T) {
	t.Run("End to end mine hit pays the other player", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		a, b := ids[0], ids[1]

		out, err := m.ApplyMove(a, Cell{Row: 0, Col: 0}, testNow)
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Equal(t, b, m.CurrentPlayer())

		out, err = m.ApplyMove(b, Cell{Row: 7, Col: 0}, testNow)
		require.NoError(t, err)
		require.NotNil(t, out)

		assert.Equal(t, StateFinished, m.State)
		assert.Equal(t, []uuid.UUID{a}, out.Winners)
		assert.True(t, decimal.NewFromInt(2).Equal(out.Payouts[a]))
		assert.True(t, out.Payouts[b].IsZero())
		assert.False(t, out.Refund)
		assert.Equal(t, 1, out.Round)
	})

	t.Run("Clearing the board wins the whole pot", func(t *testing.T) {
		a, b := uuid.New(), uuid.New()
		boards, _ := fixedBoards(t, []Cell{{Row: 1, Col: 1}})
		cfg := Config{Rows: 2, Cols: 2, Mines: 1, Bet: decimal.NewFromFloat(0.5), Currency: "SOL"}
		m, err := NewMatch(uuid.New(), []uuid.UUID{a, b}, cfg, boards, testNow)
		require.NoError(t, err)
		require.NoError(t, m.Join(a, testNow))
		require.NoError(t, m.Join(b, testNow))

		_, err = m.ApplyMove(a, Cell{Row: 0, Col: 0}, testNow)
		require.NoError(t, err)
		_, err = m.ApplyMove(b, Cell{Row: 0, Col: 1}, testNow)
		require.NoError(t, err)
		out, err := m.ApplyMove(a, Cell{Row: 1, Col: 0}, testNow)
		require.NoError(t, err)
		require.NotNil(t, out)

		assert.Equal(t, []uuid.UUID{a}, out.Winners)
		assert.True(t, decimal.NewFromInt(1).Equal(out.Payouts[a]))
	})

	t.Run("Rejections leave the match unchanged", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		a, b := ids[0], ids[1]
		_, err := m.ApplyMove(a, Cell{Row: 0, Col: 0}, testNow)
		require.NoError(t, err)

		before := snap(t, m)

		_, err = m.ApplyMove(a, Cell{Row: 0, Col: 1}, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove, "wrong turn")

		_, err = m.ApplyMove(b, Cell{Row: 0, Col: 0}, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove, "already revealed")

		_, err = m.ApplyMove(b, Cell{Row: 8, Col: 0}, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove, "out of bounds")

		_, err = m.ApplyMove(uuid.New(), Cell{Row: 0, Col: 1}, testNow)
		assert.ErrorIs(t, err, ErrUnknownPlayer)

		assert.Equal(t, before, snap(t, m))
	})

	t.Run("Moves are rejected outside RUNNING", func(t *testing.T) {
		m, ids := newTestMatch(t, 2)
		_, err := m.ApplyMove(ids[0], Cell{Row: 0, Col: 0}, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove)

		m, ids = finishedMatch(t)
		_, err = m.ApplyMove(ids[0], Cell{Row: 0, Col: 1}, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove)
	})

	t.Run("Duplicate delivery of the same move is rejected", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		_, err := m.ApplyMove(ids[0], Cell{Row: 0, Col: 0}, testNow)
		require.NoError(t, err)
		_, err = m.ApplyMove(ids[0], Cell{Row: 0, Col: 0}, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove)
		assert.Len(t, m.Moves, 1)
	})

	t.Run("Move log never outgrows revealed cells", func(t *testing.T) {
		m, ids := startedMatch(t, 3)
		cells := []Cell{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 0, Col: 2}, {Row: 1, Col: 0}}
		prev := 0
		for i, c := range cells {
			_, err := m.ApplyMove(ids[i%3], c, testNow)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(m.Moves), m.Board.RevealedCount())
			assert.Greater(t, m.Board.RevealedCount(), prev)
			prev = m.Board.RevealedCount()
		}
	})

	t.Run("Turn skips disconnected players", func(t *testing.T) {
		m, ids := startedMatch(t, 3)
		require.NoError(t, m.MarkDisconnected(ids[1], testNow))

		_, err := m.ApplyMove(ids[0], Cell{Row: 0, Col: 0}, testNow)
		require.NoError(t, err)
		assert.Equal(t, ids[2], m.CurrentPlayer())
	})
}

func TestSplitPot(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	players := []uuid.UUID{a, b, c}

	t.Run("Remainder goes to the first winner", func(t *testing.T) {
		pot := decimal.NewFromInt(1)
		payouts := SplitPot(pot, players, []uuid.UUID{a, b, c})

		assert.Equal(t, "0.33333334", payouts[a].String())
		assert.Equal(t, "0.33333333", payouts[b].String())
		assert.Equal(t, "0.33333333", payouts[c].String())
		assert.True(t, pot.Equal(payouts[a].Add(payouts[b]).Add(payouts[c])))
	})

	t.Run("Three player mine hit splits between survivors", func(t *testing.T) {
		m, ids := startedMatch(t, 3)
		out, err := m.ApplyMove(ids[0], Cell{Row: 7, Col: 7}, testNow)
		require.NoError(t, err)

		assert.Equal(t, []uuid.UUID{ids[1], ids[2]}, out.Winners)
		assert.True(t, decimal.NewFromFloat(1.5).Equal(out.Payouts[ids[1]]))
		assert.True(t, decimal.NewFromFloat(1.5).Equal(out.Payouts[ids[2]]))
		assert.True(t, out.Payouts[ids[0]].IsZero())
	})

	t.Run("Losers get zero", func(t *testing.T) {
		payouts := SplitPot(decimal.NewFromInt(3), players, []uuid.UUID{b})
		assert.True(t, payouts[a].IsZero())
		assert.True(t, decimal.NewFromInt(3).Equal(payouts[b]))
	})
}

func TestTimeouts(t *testing.T) {
	t.Run("Join timeout refunds", func(t *testing.T) {
		m, ids := newTestMatch(t, 2)
		require.NoError(t, m.Join(ids[0], testNow))

		out, err := m.ExpireJoin(testNow)
		require.NoError(t, err)
		assert.Equal(t, StateAborted, m.State)
		assert.True(t, out.Refund)
		assert.True(t, decimal.NewFromInt(1).Equal(out.Payouts[ids[0]]))

		_, err = m.ExpireJoin(testNow)
		assert.ErrorIs(t, err, ErrIllegalMove, "fires once")
	})

	t.Run("Move timeout forfeits the current player", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		token := m.TurnToken()

		out, err := m.ExpireMove(token, testNow)
		require.NoError(t, err)
		assert.Equal(t, StateFinished, m.State)
		assert.Equal(t, []uuid.UUID{ids[1]}, out.Winners)
	})

	t.Run("Stale move timeout is ignored", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		token := m.TurnToken()
		_, err := m.ApplyMove(ids[0], Cell{Row: 0, Col: 0}, testNow)
		require.NoError(t, err)

		before := snap(t, m)
		_, err = m.ExpireMove(token, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove)
		assert.Equal(t, before, snap(t, m))
	})

	t.Run("Grace expiry refunds only while disconnected", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		_, err := m.ExpireGrace(ids[1], testNow)
		assert.ErrorIs(t, err, ErrIllegalMove)

		require.NoError(t, m.MarkDisconnected(ids[1], testNow))
		require.NoError(t, m.MarkConnected(ids[1], testNow))
		_, err = m.ExpireGrace(ids[1], testNow)
		assert.ErrorIs(t, err, ErrIllegalMove, "reconnect within grace keeps the match")
		assert.Equal(t, StateRunning, m.State)

		require.NoError(t, m.MarkDisconnected(ids[1], testNow))
		out, err := m.ExpireGrace(ids[1], testNow)
		require.NoError(t, err)
		assert.Equal(t, StateAborted, m.State)
		assert.True(t, out.Refund)
		assert.Equal(t, StateAborted, out.Terminal)
	})
}

func TestRematch(t *testing.T) {
	deadline := testNow.Add(30 * time.Second)

	t.Run("All accept starts a new round", func(t *testing.T) {
		a, b := uuid.New(), uuid.New()
		boards, calls := fixedBoards(t, testMines)
		cfg := Config{Rows: 8, Cols: 8, Mines: 10, Bet: decimal.NewFromInt(1), Currency: "SOL"}
		m, err := NewMatch(uuid.New(), []uuid.UUID{a, b}, cfg, boards, testNow)
		require.NoError(t, err)
		require.NoError(t, m.Join(a, testNow))
		require.NoError(t, m.Join(b, testNow))
		_, err = m.ApplyMove(a, Cell{Row: 7, Col: 0}, testNow)
		require.NoError(t, err)
		oldBoard := m.Board

		res, err := m.RequestRematch(a, deadline, testNow)
		require.NoError(t, err)
		assert.Equal(t, RematchOpened, res)
		assert.Equal(t, StateRematch, m.State)

		view := m.View()
		assert.Equal(t, VoteAccepted, view.Players[0].Vote)
		assert.Equal(t, VotePending, view.Players[1].Vote)
		require.NotNil(t, view.RematchDeadline)

		res, err = m.RespondRematch(b, true, testNow)
		require.NoError(t, err)
		assert.Equal(t, RematchStarted, res)

		assert.Equal(t, StateRunning, m.State)
		assert.Equal(t, 2, m.Round)
		assert.Equal(t, 2, *calls)
		assert.NotSame(t, oldBoard, m.Board)
		assert.Empty(t, m.Moves)
		assert.Nil(t, m.Outcome)
		assert.Equal(t, cfg, m.Config)
		assert.Equal(t, []uuid.UUID{a, b}, m.Players)
		assert.Equal(t, a, m.CurrentPlayer())
	})

	t.Run("Decline aborts without an outcome", func(t *testing.T) {
		m, ids := finishedMatch(t)
		_, err := m.RequestRematch(ids[0], deadline, testNow)
		require.NoError(t, err)

		res, err := m.RespondRematch(ids[1], false, testNow)
		require.NoError(t, err)
		assert.Equal(t, RematchDeclined, res)
		assert.Equal(t, StateAborted, m.State)
		assert.Equal(t, VoteDeclined, m.View().Players[1].Vote)
	})

	t.Run("Duplicate request is a no-op", func(t *testing.T) {
		m, ids := finishedMatch(t)
		_, err := m.RequestRematch(ids[0], deadline, testNow)
		require.NoError(t, err)
		before := snap(t, m)

		res, err := m.RequestRematch(ids[0], deadline.Add(time.Minute), testNow)
		require.NoError(t, err)
		assert.Equal(t, RematchNoop, res)
		assert.Equal(t, before, snap(t, m))
	})

	t.Run("Request from the other player counts as accept", func(t *testing.T) {
		m, ids := finishedMatch(t)
		_, err := m.RequestRematch(ids[0], deadline, testNow)
		require.NoError(t, err)

		res, err := m.RequestRematch(ids[1], deadline, testNow)
		require.NoError(t, err)
		assert.Equal(t, RematchStarted, res)
		assert.Equal(t, StateRunning, m.State)
	})

	t.Run("Pending until everyone accepted", func(t *testing.T) {
		m, ids := startedMatch(t, 3)
		_, err := m.ApplyMove(ids[0], Cell{Row: 7, Col: 0}, testNow)
		require.NoError(t, err)
		_, err = m.RequestRematch(ids[0], deadline, testNow)
		require.NoError(t, err)

		res, err := m.RespondRematch(ids[1], true, testNow)
		require.NoError(t, err)
		assert.Equal(t, RematchPending, res)

		_, err = m.RespondRematch(ids[1], false, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove, "votes are final")

		res, err = m.RespondRematch(ids[2], true, testNow)
		require.NoError(t, err)
		assert.Equal(t, RematchStarted, res)
	})

	t.Run("Deadline aborts once", func(t *testing.T) {
		m, ids := finishedMatch(t)
		_, err := m.RequestRematch(ids[0], deadline, testNow)
		require.NoError(t, err)

		assert.ErrorIs(t, m.ExpireRematch(deadline.Add(-time.Second)), ErrIllegalMove, "too early")

		require.NoError(t, m.ExpireRematch(deadline))
		assert.Equal(t, StateAborted, m.State)
		assert.Equal(t, VoteDeclined, m.View().Players[1].Vote)

		assert.ErrorIs(t, m.ExpireRematch(deadline), ErrIllegalMove)
	})

	t.Run("Rematch is only valid after FINISHED", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		_, err := m.RequestRematch(ids[0], deadline, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove)

		_, err = m.RespondRematch(ids[0], true, testNow)
		assert.ErrorIs(t, err, ErrIllegalMove)

		m, _ = finishedMatch(t)
		_, err = m.RequestRematch(uuid.New(), deadline, testNow)
		assert.ErrorIs(t, err, ErrUnknownPlayer)
	})

	t.Run("Abort from REMATCH has no outcome", func(t *testing.T) {
		m, ids := finishedMatch(t)
		_, err := m.RequestRematch(ids[0], deadline, testNow)
		require.NoError(t, err)

		out, err := m.Abort("shutdown", testNow)
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}

func TestView(t *testing.T) {
	t.Run("Reveals seed and mines once the round is over", func(t *testing.T) {
		m, ids := finishedMatch(t)
		v := m.View()

		assert.Equal(t, StateFinished, v.Type)
		assert.NotEmpty(t, v.Seed)
		assert.Len(t, v.Mines, 10)
		assert.Equal(t, []uuid.UUID{ids[0]}, v.Winners)
		require.NotNil(t, v.Players[0].Payout)
		assert.Equal(t, "2", v.Players[0].Payout.String())
		assert.Nil(t, v.Turn)
	})

	t.Run("Shows the current turn while running", func(t *testing.T) {
		m, ids := startedMatch(t, 2)
		v := m.View()
		require.NotNil(t, v.Turn)
		assert.Equal(t, ids[0], *v.Turn)
		assert.Empty(t, v.Mines)
	})
}
