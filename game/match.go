package game

import (
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the lifecycle tag of a match.
type State string

const (
	StateCreated  State = "CREATED"
	StateRunning  State = "RUNNING"
	StateFinished State = "FINISHED"
	StateRematch  State = "REMATCH"
	StateAborted  State = "ABORTED"
)

// Vote is a participant's answer while a rematch is negotiated.
type Vote string

const (
	VotePending  Vote = "pending"
	VoteAccepted Vote = "accepted"
	VoteDeclined Vote = "declined"
)

// RematchResult describes what a rematch request or response did.
type RematchResult int

const (
	RematchNoop RematchResult = iota
	RematchOpened
	RematchPending
	RematchStarted
	RematchDeclined
)

const (
	minPlayers   = 2
	payoutPlaces = 8
)

// Config holds the immutable parameters of a match.
type Config struct {
	Rows     int             `json:"rows"`
	Cols     int             `json:"cols"`
	Mines    int             `json:"mines"`
	Bet      decimal.Decimal `json:"bet"`
	Currency string          `json:"currency"`
}

// Validate rejects board and wager parameters the match cannot be played with.
func (c Config) Validate() error {
	if err := validateBoard(c.Rows, c.Cols, c.Mines); err != nil {
		return err
	}
	if !c.Bet.IsPositive() {
		return fmt.Errorf("%w: bet must be positive", ErrInvalidParameters)
	}
	if c.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidParameters)
	}
	return nil
}

// Move is an applied reveal. It never changes once appended.
type Move struct {
	PlayerID uuid.UUID `json:"player_id"`
	Cell     Cell      `json:"cell"`
	At       time.Time `json:"at"`
}

// Outcome is the money result of one round.
type Outcome struct {
	Round    int
	Terminal State
	Winners  []uuid.UUID
	Stakes   map[uuid.UUID]decimal.Decimal
	Payouts  map[uuid.UUID]decimal.Decimal
	Refund   bool
	Reason   string
}

// Match is one wagered game from creation to its terminal state.
// Every method expects the caller to hold the match's exclusive access and
// leaves the match untouched when it returns an error.
type Match struct {
	ID              uuid.UUID
	Players         []uuid.UUID
	Config          Config
	Board           *Board
	Turn            int
	State           State
	CreatedAt       time.Time
	LastActivity    time.Time
	Round           int
	Moves           []Move
	Version         uint64
	Outcome         *Outcome
	RematchDeadline time.Time
	Reason          string

	joined    map[uuid.UUID]bool
	connected map[uuid.UUID]bool
	votes     map[uuid.UUID]Vote
	newBoard  BoardFactory
}

// NewMatch creates a match in CREATED with a freshly generated board.
// A nil factory uses GenerateBoard.
func NewMatch(id uuid.UUID, players []uuid.UUID, cfg Config, newBoard BoardFactory, now time.Time) (*Match, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(players) < minPlayers {
		return nil, fmt.Errorf("%w: need at least %d players", ErrInvalidParameters, minPlayers)
	}
	seen := make(map[uuid.UUID]bool, len(players))
	for _, p := range players {
		if p == uuid.Nil || seen[p] {
			return nil, fmt.Errorf("%w: invalid or duplicate player %s", ErrInvalidParameters, p)
		}
		seen[p] = true
	}

	if newBoard == nil {
		newBoard = GenerateBoard
	}
	board, err := newBoard(cfg.Rows, cfg.Cols, cfg.Mines)
	if err != nil {
		return nil, err
	}

	return &Match{
		ID:           id,
		Players:      slices.Clone(players),
		Config:       cfg,
		Board:        board,
		State:        StateCreated,
		CreatedAt:    now,
		LastActivity: now,
		Round:        1,
		joined:       make(map[uuid.UUID]bool, len(players)),
		connected:    make(map[uuid.UUID]bool, len(players)),
		newBoard:     newBoard,
	}, nil
}

// IsParticipant reports whether player takes part in the match.
func (m *Match) IsParticipant(player uuid.UUID) bool {
	return slices.Contains(m.Players, player)
}

// CurrentPlayer returns the player whose turn it is.
func (m *Match) CurrentPlayer() uuid.UUID {
	return m.Players[m.Turn]
}

// IsConnected reports whether the player currently holds a live connection.
func (m *Match) IsConnected(player uuid.UUID) bool {
	return m.connected[player]
}

// Terminal reports whether the current round has ended.
func (m *Match) Terminal() bool {
	return m.State == StateFinished || m.State == StateRematch || m.State == StateAborted
}

// Join records a participant's arrival. The match starts once every
// participant joined. Joining again is a no-op.
func (m *Match) Join(player uuid.UUID, now time.Time) error {
	if !m.IsParticipant(player) {
		return fmt.Errorf("%w: %s is not in match %s", ErrUnknownPlayer, player, m.ID)
	}
	if m.joined[player] {
		return nil
	}
	if m.State != StateCreated {
		return fmt.Errorf("%w: match is %s", ErrIllegalMove, m.State)
	}

	m.joined[player] = true
	m.connected[player] = true
	if len(m.joined) == len(m.Players) {
		m.State = StateRunning
		m.Turn = m.nextConnected(len(m.Players) - 1)
	}
	m.touch(now)
	return nil
}

// ApplyMove reveals cell for player. It returns the round outcome when the
// move ends the round.
func (m *Match) ApplyMove(player uuid.UUID, cell Cell, now time.Time) (*Outcome, error) {
	if !m.IsParticipant(player) {
		return nil, fmt.Errorf("%w: %s is not in match %s", ErrUnknownPlayer, player, m.ID)
	}
	if m.State != StateRunning {
		return nil, fmt.Errorf("%w: match is %s", ErrIllegalMove, m.State)
	}
	if m.CurrentPlayer() != player {
		return nil, fmt.Errorf("%w: not %s's turn", ErrIllegalMove, player)
	}
	if !m.Board.InBounds(cell) {
		return nil, fmt.Errorf("%w: cell %d,%d is out of bounds", ErrIllegalMove, cell.Row, cell.Col)
	}
	if m.Board.IsRevealed(cell) {
		return nil, fmt.Errorf("%w: cell %d,%d already revealed", ErrIllegalMove, cell.Row, cell.Col)
	}

	mine := m.Board.Reveal(cell)
	m.Moves = append(m.Moves, Move{PlayerID: player, Cell: cell, At: now})
	m.touch(now)

	switch {
	case mine:
		return m.finish(m.others(player), "mine hit"), nil
	case m.Board.SafeCellsLeft() == 0:
		return m.finish([]uuid.UUID{player}, "board cleared"), nil
	default:
		m.Turn = m.nextConnected(m.Turn)
		return nil, nil
	}
}

// TurnToken identifies the current turn. It changes whenever a move is
// applied or a new round starts, and nothing else.
type TurnToken struct {
	Round int
	Moves int
}

// TurnToken returns the token of the current turn.
func (m *Match) TurnToken() TurnToken {
	return TurnToken{Round: m.Round, Moves: len(m.Moves)}
}

// ExpireMove forfeits the current player when the turn identified by token
// is still pending. A stale token is rejected.
func (m *Match) ExpireMove(token TurnToken, now time.Time) (*Outcome, error) {
	if m.State != StateRunning || m.TurnToken() != token {
		return nil, fmt.Errorf("%w: move deadline is stale", ErrIllegalMove)
	}
	m.touch(now)
	return m.finish(m.others(m.CurrentPlayer()), "move timeout"), nil
}

// ExpireJoin aborts a match that never started.
func (m *Match) ExpireJoin(now time.Time) (*Outcome, error) {
	if m.State != StateCreated {
		return nil, fmt.Errorf("%w: join deadline is stale", ErrIllegalMove)
	}
	return m.Abort("join timeout", now)
}

// ExpireGrace aborts a running match whose player did not come back in time.
func (m *Match) ExpireGrace(player uuid.UUID, now time.Time) (*Outcome, error) {
	if m.State != StateRunning || m.connected[player] {
		return nil, fmt.Errorf("%w: grace deadline is stale", ErrIllegalMove)
	}
	return m.Abort(fmt.Sprintf("player %s did not reconnect", player), now)
}

// Abort ends the match. Aborting an unsettled round returns a refund
// outcome; aborting a rematch negotiation returns none since the round
// before it was already settled.
func (m *Match) Abort(reason string, now time.Time) (*Outcome, error) {
	var out *Outcome
	switch m.State {
	case StateCreated, StateRunning:
		stakes := m.stakes()
		out = &Outcome{
			Round:    m.Round,
			Terminal: StateAborted,
			Stakes:   stakes,
			Payouts:  m.stakes(),
			Refund:   true,
			Reason:   reason,
		}
		m.Outcome = out
	case StateRematch:
		m.votes = nil
		m.RematchDeadline = time.Time{}
	default:
		return nil, fmt.Errorf("%w: cannot abort a %s match", ErrIllegalMove, m.State)
	}

	m.State = StateAborted
	m.Reason = reason
	m.touch(now)
	return out, nil
}

// RequestRematch opens a rematch vote on a finished match with the requester
// already accepting. While the vote is open a second request from the same
// player is a no-op and a request from anyone else counts as their accept.
func (m *Match) RequestRematch(player uuid.UUID, deadline, now time.Time) (RematchResult, error) {
	if !m.IsParticipant(player) {
		return RematchNoop, fmt.Errorf("%w: %s is not in match %s", ErrUnknownPlayer, player, m.ID)
	}

	switch m.State {
	case StateFinished:
		m.votes = make(map[uuid.UUID]Vote, len(m.Players))
		for _, p := range m.Players {
			m.votes[p] = VotePending
		}
		m.votes[player] = VoteAccepted
		m.State = StateRematch
		m.RematchDeadline = deadline
		m.touch(now)
		return RematchOpened, nil
	case StateRematch:
		if m.votes[player] == VoteAccepted {
			return RematchNoop, nil
		}
		return m.RespondRematch(player, true, now)
	default:
		return RematchNoop, fmt.Errorf("%w: rematch can only be requested on a finished match", ErrIllegalMove)
	}
}

// RespondRematch records a vote. One decline aborts the match; the last
// accept starts a new round with a fresh board.
func (m *Match) RespondRematch(player uuid.UUID, accept bool, now time.Time) (RematchResult, error) {
	if !m.IsParticipant(player) {
		return RematchNoop, fmt.Errorf("%w: %s is not in match %s", ErrUnknownPlayer, player, m.ID)
	}
	if m.State != StateRematch {
		return RematchNoop, fmt.Errorf("%w: no rematch is being negotiated", ErrIllegalMove)
	}

	vote := VoteDeclined
	if accept {
		vote = VoteAccepted
	}
	switch m.votes[player] {
	case vote:
		return RematchNoop, nil
	case VoteAccepted, VoteDeclined:
		return RematchNoop, fmt.Errorf("%w: %s already voted", ErrIllegalMove, player)
	}

	if !accept {
		m.votes[player] = VoteDeclined
		m.State = StateAborted
		m.Reason = "rematch declined"
		m.RematchDeadline = time.Time{}
		m.touch(now)
		return RematchDeclined, nil
	}

	if !m.allAcceptedWith(player) {
		m.votes[player] = VoteAccepted
		m.touch(now)
		return RematchPending, nil
	}

	board, err := m.newBoard(m.Config.Rows, m.Config.Cols, m.Config.Mines)
	if err != nil {
		return RematchNoop, fmt.Errorf("generating rematch board: %w", err)
	}
	m.startRound(board, now)
	return RematchStarted, nil
}

// ExpireRematch aborts a negotiation whose deadline passed with votes still
// pending. Absent votes count as declines.
func (m *Match) ExpireRematch(now time.Time) error {
	if m.State != StateRematch || now.Before(m.RematchDeadline) {
		return fmt.Errorf("%w: rematch deadline is stale", ErrIllegalMove)
	}
	for p, v := range m.votes {
		if v == VotePending {
			m.votes[p] = VoteDeclined
		}
	}
	m.State = StateAborted
	m.Reason = "rematch deadline passed"
	m.RematchDeadline = time.Time{}
	m.touch(now)
	return nil
}

// MarkDisconnected flags the player as offline. A disconnected player keeps
// their turn until the grace period runs out.
func (m *Match) MarkDisconnected(player uuid.UUID, now time.Time) error {
	if !m.IsParticipant(player) {
		return fmt.Errorf("%w: %s is not in match %s", ErrUnknownPlayer, player, m.ID)
	}
	if !m.connected[player] {
		return nil
	}
	m.connected[player] = false
	m.touch(now)
	return nil
}

// MarkConnected flags a previously joined player as online again.
func (m *Match) MarkConnected(player uuid.UUID, now time.Time) error {
	if !m.IsParticipant(player) {
		return fmt.Errorf("%w: %s is not in match %s", ErrUnknownPlayer, player, m.ID)
	}
	if !m.joined[player] || m.connected[player] {
		return nil
	}
	m.connected[player] = true
	m.touch(now)
	return nil
}

func (m *Match) finish(winners []uuid.UUID, reason string) *Outcome {
	stakes := m.stakes()
	out := &Outcome{
		Round:    m.Round,
		Terminal: StateFinished,
		Winners:  winners,
		Stakes:   stakes,
		Payouts:  SplitPot(m.Config.Bet.Mul(decimal.NewFromInt(int64(len(m.Players)))), m.Players, winners),
		Reason:   reason,
	}
	m.State = StateFinished
	m.Outcome = out
	m.Reason = reason
	return out
}

func (m *Match) startRound(board *Board, now time.Time) {
	m.Board = board
	m.Round++
	m.Moves = nil
	m.Outcome = nil
	m.Reason = ""
	m.votes = nil
	m.RematchDeadline = time.Time{}
	m.State = StateRunning
	m.Turn = m.nextConnected(len(m.Players) - 1)
	m.touch(now)
}

// nextConnected returns the first connected participant after index from,
// falling back to plain turn order when nobody is connected.
func (m *Match) nextConnected(from int) int {
	n := len(m.Players)
	for step := 1; step <= n; step++ {
		idx := (from + step) % n
		if m.connected[m.Players[idx]] {
			return idx
		}
	}
	return (from + 1) % n
}

func (m *Match) others(player uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m.Players)-1)
	for _, p := range m.Players {
		if p != player {
			out = append(out, p)
		}
	}
	return out
}

func (m *Match) allAcceptedWith(player uuid.UUID) bool {
	for _, p := range m.Players {
		if p != player && m.votes[p] != VoteAccepted {
			return false
		}
	}
	return true
}

func (m *Match) stakes() map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(m.Players))
	for _, p := range m.Players {
		out[p] = m.Config.Bet
	}
	return out
}

func (m *Match) touch(now time.Time) {
	m.Version++
	m.LastActivity = now
}

// SplitPot divides pot equally among winners, truncated to eight decimal
// places. The truncation remainder goes to the first winner in player order
// so payouts always sum to the pot. Losers are listed with a zero payout.
func SplitPot(pot decimal.Decimal, players, winners []uuid.UUID) map[uuid.UUID]decimal.Decimal {
	payouts := make(map[uuid.UUID]decimal.Decimal, len(players))
	for _, p := range players {
		payouts[p] = decimal.Zero
	}
	if len(winners) == 0 {
		return payouts
	}

	n := decimal.NewFromInt(int64(len(winners)))
	share := pot.Div(n).Truncate(payoutPlaces)
	remainder := pot.Sub(share.Mul(n))

	first := true
	for _, p := range players {
		if !slices.Contains(winners, p) {
			continue
		}
		payouts[p] = share
		if first {
			payouts[p] = share.Add(remainder)
			first = false
		}
	}
	return payouts
}

// PlayerView is the public state of one participant.
type PlayerView struct {
	ID        uuid.UUID        `json:"id"`
	Joined    bool             `json:"joined"`
	Connected bool             `json:"connected"`
	Vote      Vote             `json:"vote,omitempty"`
	Payout    *decimal.Decimal `json:"payout,omitempty"`
}

// MatchView is what participants see. Mines and the board seed stay hidden
// until the round is over.
type MatchView struct {
	Type            State        `json:"type"`
	GameID          uuid.UUID    `json:"game_id"`
	Round           int          `json:"round"`
	Version         uint64       `json:"version"`
	Config          Config       `json:"config"`
	Players         []PlayerView `json:"players"`
	Turn            *uuid.UUID   `json:"turn,omitempty"`
	Revealed        []Cell       `json:"revealed"`
	Commitment      string       `json:"commitment"`
	Seed            string       `json:"seed,omitempty"`
	Mines           []Cell       `json:"mines,omitempty"`
	Winners         []uuid.UUID  `json:"winners,omitempty"`
	Refund          bool         `json:"refund,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	RematchDeadline *time.Time   `json:"rematch_deadline,omitempty"`
}

// View snapshots the match for broadcasting.
func (m *Match) View() MatchView {
	v := MatchView{
		Type:       m.State,
		GameID:     m.ID,
		Round:      m.Round,
		Version:    m.Version,
		Config:     m.Config,
		Revealed:   m.Board.Revealed(),
		Commitment: hex.EncodeToString(m.Board.Commitment()),
		Reason:     m.Reason,
	}

	for _, p := range m.Players {
		pv := PlayerView{ID: p, Joined: m.joined[p], Connected: m.connected[p]}
		if m.State == StateRematch || (m.State == StateAborted && m.votes != nil) {
			pv.Vote = m.votes[p]
		}
		if m.Outcome != nil && m.Terminal() {
			if amount, ok := m.Outcome.Payouts[p]; ok {
				pv.Payout = &amount
			}
		}
		v.Players = append(v.Players, pv)
	}

	if m.State == StateRunning {
		turn := m.CurrentPlayer()
		v.Turn = &turn
	}
	if m.Terminal() {
		v.Seed = hex.EncodeToString(m.Board.Seed())
		v.Mines = m.Board.Mines()
		if m.Outcome != nil {
			v.Winners = m.Outcome.Winners
			v.Refund = m.Outcome.Refund
		}
	}
	if m.State == StateRematch {
		deadline := m.RematchDeadline
		v.RematchDeadline = &deadline
	}
	return v
}
