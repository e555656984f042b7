package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	defaultJoinTimeout       = 60 * time.Second
	defaultGracePeriod       = 30 * time.Second
	defaultRemovalDelay      = time.Minute
	defaultInactivityTimeout = 15 * time.Minute

	timerCallbackTimeout = 5 * time.Second
	recorderTimeout      = 10 * time.Second
)

// Timeouts configures the engine's scheduled transitions. A zero MoveTimeout
// disables move deadlines.
type Timeouts struct {
	Join            time.Duration
	Move            time.Duration
	Grace           time.Duration
	RematchDeadline time.Duration
	RemovalDelay    time.Duration
	Inactivity      time.Duration
}

// EngineConfig holds the engine's collaborators.
type EngineConfig struct {
	Clock      clockwork.Clock
	Settlement *SettlementCoordinator
	Wallets    i.WalletStore
	Discovery  i.Discovery
	Recorder   i.MoveRecorder
	MoveLog    i.MoveLog
	Metrics    i.Metrics
	Logger     i.Logger
	Boards     game.BoardFactory
	Timeouts   Timeouts
	ServerID   string
	Region     string
	PublicAddr string
}

// Engine runs live matches: it routes player messages into the owning match
// under registry exclusivity, then does timers, settlement, recording and
// fanout after the match is released.
type Engine struct {
	registry   *Registry
	scheduler  *Scheduler
	fanout     *Fanout
	rematch    *RematchNegotiator
	settlement *SettlementCoordinator
	wallets    i.WalletStore
	discovery  i.Discovery
	recorder   i.MoveRecorder
	moveLog    i.MoveLog
	metrics    i.Metrics
	logger     i.Logger
	clock      clockwork.Clock
	boards     game.BoardFactory
	timeouts   Timeouts
	location   i.SessionLocation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// mutation changes a match and may return the outcome of a round it ended.
type mutation func(m *game.Match, now time.Time) (*game.Outcome, error)

// transition is what a mutation changed, captured while the match was held
// so the follow-up work can run without it.
type transition struct {
	changed     bool
	matchID     uuid.UUID
	players     []uuid.UUID
	offline     []uuid.UUID
	dropped     []uuid.UUID
	returned    []uuid.UUID
	view        game.MatchView
	prev        game.State
	state       game.State
	round       int
	started     bool
	newRound    bool
	turnChanged bool
	turn        game.TurnToken
	move        *game.Move
	outcome     *game.Outcome
	currency    string
	createdAt   time.Time
	commitment  []byte
	seed        []byte
}

type mark struct {
	version uint64
	state   game.State
	round   int
	moves   int
	turn    game.TurnToken
	online  []uuid.UUID
}

// NewEngine wires the engine and registers itself for settlement confirmations.
func NewEngine(c *EngineConfig) (*Engine, error) {
	if c.Settlement == nil || c.Wallets == nil || c.Discovery == nil || c.Recorder == nil ||
		c.MoveLog == nil || c.Metrics == nil || c.Logger == nil {
		return nil, errors.New("engine is missing a collaborator")
	}

	clock := c.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := c.Timeouts
	if t.Join <= 0 {
		t.Join = defaultJoinTimeout
	}
	if t.Grace <= 0 {
		t.Grace = defaultGracePeriod
	}
	if t.RemovalDelay <= 0 {
		t.RemovalDelay = defaultRemovalDelay
	}
	if t.Inactivity <= 0 {
		t.Inactivity = defaultInactivityTimeout
	}
	boards := c.Boards
	if boards == nil {
		boards = game.GenerateBoard
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		registry:   NewRegistry(clock),
		scheduler:  NewScheduler(clock),
		fanout:     NewFanout(c.Logger),
		settlement: c.Settlement,
		wallets:    c.Wallets,
		discovery:  c.Discovery,
		recorder:   c.Recorder,
		moveLog:    c.MoveLog,
		metrics:    c.Metrics,
		logger:     c.Logger,
		clock:      clock,
		boards:     boards,
		timeouts:   t,
		location:   i.SessionLocation{ServerID: c.ServerID, Region: c.Region, Addr: c.PublicAddr},
		ctx:        ctx,
		cancel:     cancel,
	}
	e.rematch = newRematchNegotiator(e, t.RematchDeadline)
	e.settlement.SetConfirmedHandler(e.settlementConfirmed)
	e.settlement.SetFailedHandler(e.settlementFailed)
	return e, nil
}

// CreateMatch checks every player is free and can cover the bet, then
// registers a new match waiting for them to join. A player stays bound to
// one live match until it is removed, so a balance is never staked twice.
func (e *Engine) CreateMatch(ctx context.Context, cfg game.Config, players []uuid.UUID) (uuid.UUID, error) {
	if err := cfg.Validate(); err != nil {
		return uuid.Nil, err
	}
	for _, p := range players {
		if other, ok := e.registry.MatchOf(p); ok {
			return uuid.Nil, fmt.Errorf("%w: %s is in match %s", game.ErrPlayerBusy, p, other)
		}
	}
	for _, p := range players {
		balance, err := e.wallets.Balance(ctx, p, cfg.Currency)
		if err != nil {
			return uuid.Nil, fmt.Errorf("reading balance of %s: %w", p, err)
		}
		if balance.LessThan(cfg.Bet) {
			return uuid.Nil, fmt.Errorf("%w: player %s has %s %s", game.ErrInsufficientFunds, p, balance, cfg.Currency)
		}
	}

	m, err := game.NewMatch(uuid.New(), players, cfg, e.boards, e.clock.Now())
	if err != nil {
		return uuid.Nil, err
	}
	view := m.View()
	id := m.ID
	e.scheduler.Schedule(e.key(id, TimerJoin), e.timeouts.Join, func() { e.expireJoin(id) })
	if _, err := e.registry.Create(m); err != nil {
		e.scheduler.Cancel(e.key(id, TimerJoin))
		return uuid.Nil, err
	}

	if err := e.fanout.Publish(players, view); err != nil {
		e.logger.Error(fmt.Sprintf("publishing new match %s: %s", id, err))
	}

	loc := e.location
	loc.MatchID = id
	loc.Bet = cfg.Bet.String()
	loc.Currency = cfg.Currency
	loc.CreatedAt = m.CreatedAt
	for _, p := range players {
		loc.Players = append(loc.Players, p.String())
	}
	if err := e.discovery.Register(ctx, loc); err != nil {
		e.logger.Warning(fmt.Sprintf("registering match %s in discovery: %s", id, err))
	}

	e.metrics.SetActiveMatches(e.registry.Len())
	e.logger.Info(fmt.Sprintf("created match %s for players %v (%dx%d, %d mines, bet %s %s)",
		id, players, cfg.Rows, cfg.Cols, cfg.Mines, cfg.Bet, cfg.Currency))
	return id, nil
}

// MatchOf returns the live match of a player.
func (e *Engine) MatchOf(player uuid.UUID) (uuid.UUID, bool) {
	return e.registry.MatchOf(player)
}

// Connect attaches conn as the player's connection. A replaced connection is
// closed. If the player is in a live match they are marked connected and
// receive the full current state.
func (e *Engine) Connect(ctx context.Context, player uuid.UUID, conn i.Connection) {
	switch prev := e.fanout.Register(player, conn); {
	case prev == nil:
		e.metrics.ConnectionOpened()
	case prev != conn:
		_ = prev.Close()
	}

	id, ok := e.registry.MatchOf(player)
	if !ok {
		return
	}

	tr, err := e.mutate(ctx, id, func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return nil, m.MarkConnected(player, now)
	})
	if err != nil {
		e.logger.Warning(fmt.Sprintf("reconnecting player %s to match %s: %s", player, id, err))
		return
	}
	if !tr.changed {
		e.resync(player, tr.view)
	}
}

// Disconnect detaches conn. Nothing happens if the player already has a newer
// connection. A player dropping out of a running match gets the grace period
// to come back.
func (e *Engine) Disconnect(ctx context.Context, player uuid.UUID, conn i.Connection) {
	if !e.fanout.Unregister(player, conn) {
		return
	}
	e.metrics.ConnectionClosed()

	id, ok := e.registry.MatchOf(player)
	if !ok {
		return
	}
	_, err := e.mutate(ctx, id, func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return nil, m.MarkDisconnected(player, now)
	})
	if err != nil {
		e.logger.Warning(fmt.Sprintf("disconnecting player %s from match %s: %s", player, id, err))
		return
	}
	e.logger.Info(fmt.Sprintf("player %s disconnected from match %s", player, id))
}

// Handle applies a client message. Rejections are reported to the sender only.
func (e *Engine) Handle(ctx context.Context, player uuid.UUID, msg game.ClientMessage) error {
	err := msg.Dispatch(ctx, player, e)
	if err == nil {
		return nil
	}

	if sendErr := e.fanout.Send(player, game.NewErrorMessage(msg.GameID(), err)); sendErr != nil {
		e.logger.Error(fmt.Sprintf("encoding error frame for %s: %s", player, sendErr))
	}
	if game.ErrorCode(err) == game.CodeInternal {
		e.logger.Error(fmt.Sprintf("handling message from %s in match %s: %s", player, msg.GameID(), err))
	}
	return err
}

// ReportError sends an error frame for a message that could not be decoded.
func (e *Engine) ReportError(player uuid.UUID, err error) {
	if sendErr := e.fanout.Send(player, game.NewErrorMessage(uuid.Nil, err)); sendErr != nil {
		e.logger.Error(fmt.Sprintf("encoding error frame for %s: %s", player, sendErr))
	}
}

// HandleJoin marks the player as joined. A repeated join resyncs them.
func (e *Engine) HandleJoin(ctx context.Context, player uuid.UUID, msg *game.Join) error {
	tr, err := e.mutate(ctx, msg.Game, func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return nil, m.Join(player, now)
	})
	if err != nil {
		return err
	}
	if !tr.changed {
		e.resync(player, tr.view)
	}
	return nil
}

// HandleMove reveals a cell for the player whose turn it is.
func (e *Engine) HandleMove(ctx context.Context, player uuid.UUID, msg *game.MoveRequest) error {
	_, err := e.mutate(ctx, msg.Game, func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return m.ApplyMove(player, *msg.Cell, now)
	})
	return err
}

// HandleRematchRequest opens a rematch vote or counts as an accept.
func (e *Engine) HandleRematchRequest(ctx context.Context, player uuid.UUID, msg *game.RematchRequest) error {
	_, err := e.rematch.Request(ctx, player, msg.Game)
	return err
}

// HandleRematchResponse records the player's rematch vote.
func (e *Engine) HandleRematchResponse(ctx context.Context, player uuid.UUID, msg *game.RematchResponse) error {
	_, err := e.rematch.Respond(ctx, player, msg.Game, *msg.WantRematch)
	return err
}

// HandleSync sends a participant the current state of the match.
func (e *Engine) HandleSync(ctx context.Context, player uuid.UUID, msg *game.SyncRequest) error {
	var view game.MatchView
	err := e.registry.WithExclusiveAccess(ctx, msg.Game, func(m *game.Match) error {
		if !m.IsParticipant(player) {
			return fmt.Errorf("%w: %s is not in match %s", game.ErrUnknownPlayer, player, m.ID)
		}
		view = m.View()
		return nil
	})
	if err != nil {
		return err
	}
	e.resync(player, view)
	return nil
}

// Sweep aborts or removes matches nobody touched for the inactivity timeout.
// A finished match stays until its settlement is booked, keeping its players
// bound to it.
func (e *Engine) Sweep(ctx context.Context) int {
	swept := 0
	for _, id := range e.registry.Idle(e.timeouts.Inactivity) {
		removeNow := false
		var key uuid.UUID
		_, err := e.mutate(ctx, id, func(m *game.Match, now time.Time) (*game.Outcome, error) {
			if m.State == game.StateFinished || m.State == game.StateAborted {
				removeNow = true
				if m.State == game.StateFinished && m.Outcome != nil {
					key = game.SettlementKey(m.ID, m.Outcome.Round, m.Outcome.Terminal)
				}
				return nil, nil
			}
			return m.Abort("inactivity timeout", now)
		})
		if err != nil {
			if !errors.Is(err, game.ErrUnknownMatch) {
				e.logger.Warning(fmt.Sprintf("sweeping match %s: %s", id, err))
			}
			continue
		}
		if removeNow && key != uuid.Nil {
			unbooked, err := e.settlement.Unbooked(ctx, key)
			if err != nil || unbooked {
				continue
			}
		}
		if removeNow {
			e.remove(id)
		}
		swept++
	}
	if swept > 0 {
		e.logger.Info(fmt.Sprintf("swept %d inactive matches", swept))
	}
	return swept
}

// Shutdown stops all timers and waits for settlement and recording work in
// flight. Anything still running when ctx ends is cancelled; unfinished
// settlements stay pending for the reconciler.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.scheduler.Stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	defer e.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutate runs fn under the match's exclusive access, arms or cancels the
// timers it implies while still holding the match, and publishes the result
// once the match is released. Timers therefore follow transitions in the
// order they were applied.
func (e *Engine) mutate(ctx context.Context, id uuid.UUID, fn mutation) (transition, error) {
	var tr transition
	err := e.registry.WithExclusiveAccess(ctx, id, func(m *game.Match) error {
		before := markOf(m)
		out, err := fn(m, e.clock.Now())
		if err != nil {
			return err
		}
		tr = capture(m, before)
		tr.outcome = out
		e.arm(tr)
		return nil
	})
	if err != nil {
		return tr, err
	}

	e.publish(tr)
	return tr, nil
}

func markOf(m *game.Match) mark {
	mk := mark{version: m.Version, state: m.State, round: m.Round, moves: len(m.Moves), turn: m.TurnToken()}
	for _, p := range m.Players {
		if m.IsConnected(p) {
			mk.online = append(mk.online, p)
		}
	}
	return mk
}

func capture(m *game.Match, before mark) transition {
	tr := transition{
		changed:    m.Version != before.version,
		matchID:    m.ID,
		players:    slices.Clone(m.Players),
		view:       m.View(),
		prev:       before.state,
		state:      m.State,
		round:      m.Round,
		newRound:   m.Round != before.round,
		turn:       m.TurnToken(),
		currency:   m.Config.Currency,
		createdAt:  m.CreatedAt,
		commitment: m.Board.Commitment(),
	}
	tr.started = m.State == game.StateRunning && before.state != game.StateRunning
	tr.turnChanged = m.State == game.StateRunning && (tr.started || tr.turn != before.turn)
	if !tr.newRound && len(m.Moves) == before.moves+1 {
		mv := m.Moves[len(m.Moves)-1]
		tr.move = &mv
	}
	if m.Terminal() {
		tr.seed = m.Board.Seed()
	}
	for _, p := range m.Players {
		wasOnline := slices.Contains(before.online, p)
		switch online := m.IsConnected(p); {
		case !online && wasOnline:
			tr.dropped = append(tr.dropped, p)
			tr.offline = append(tr.offline, p)
		case !online:
			tr.offline = append(tr.offline, p)
		case !wasOnline:
			tr.returned = append(tr.returned, p)
		}
	}
	return tr
}

// arm updates the match's timers for a transition. It runs while the match
// is held and never blocks.
func (e *Engine) arm(tr transition) {
	if !tr.changed {
		return
	}
	id := tr.matchID

	if tr.state != game.StateCreated {
		e.scheduler.Cancel(e.key(id, TimerJoin))
	}
	if tr.state == game.StateRematch && tr.prev != game.StateRematch && tr.view.RematchDeadline != nil {
		e.rematch.arm(id, *tr.view.RematchDeadline)
	}
	if tr.state != game.StateRematch {
		e.scheduler.Cancel(e.key(id, TimerRematch))
	}

	for _, p := range tr.returned {
		e.scheduler.Cancel(TimerKey{MatchID: id, Kind: TimerGrace, PlayerID: p})
	}
	if tr.state != game.StateRunning {
		e.scheduler.Cancel(e.key(id, TimerMove))
		return
	}
	if tr.turnChanged && e.timeouts.Move > 0 {
		token := tr.turn
		e.scheduler.Schedule(e.key(id, TimerMove), e.timeouts.Move, func() { e.expireMove(id, token) })
	}
	grace := tr.dropped
	if tr.started {
		grace = tr.offline
	}
	for _, p := range grace {
		e.armGrace(id, p)
	}
}

// publish does everything else a transition implies once the match is
// released.
func (e *Engine) publish(tr transition) {
	if !tr.changed {
		return
	}
	id := tr.matchID

	if err := e.fanout.Publish(tr.players, tr.view); err != nil {
		e.logger.Error(fmt.Sprintf("publishing match %s: %s", id, err))
	}

	if tr.started {
		e.goAsync(recorderTimeout, func(ctx context.Context) {
			if err := e.recorder.Initialize(ctx, id, tr.round, tr.players, tr.commitment); err != nil {
				e.logger.Warning(fmt.Sprintf("recording start of match %s round %d: %s", id, tr.round, err))
			}
		})
	}
	if tr.move != nil {
		mv := *tr.move
		e.goAsync(recorderTimeout, func(ctx context.Context) {
			if err := e.moveLog.Append(ctx, id, tr.round, mv); err != nil {
				e.logger.Warning(fmt.Sprintf("auditing move in match %s: %s", id, err))
			}
			if err := e.recorder.RecordMove(ctx, id, tr.round, mv); err != nil {
				e.logger.Warning(fmt.Sprintf("recording move in match %s: %s", id, err))
			}
		})
	}

	if tr.outcome != nil {
		out := tr.outcome
		e.metrics.MatchEnded(out.Terminal, e.clock.Since(tr.createdAt))
		e.logger.Info(fmt.Sprintf("match %s round %d ended %s: %s", id, out.Round, out.Terminal, out.Reason))
		e.goAsync(0, func(ctx context.Context) {
			if _, err := e.settlement.Settle(ctx, id, tr.currency, out); err != nil {
				e.logger.Error(fmt.Sprintf("settling match %s round %d: %s", id, out.Round, err))
			}
		})
		if out.Terminal == game.StateFinished {
			e.goAsync(recorderTimeout, func(ctx context.Context) {
				if err := e.recorder.Commit(ctx, id, tr.round, tr.seed); err != nil {
					e.logger.Warning(fmt.Sprintf("committing match %s round %d: %s", id, tr.round, err))
				}
			})
		}
	} else if tr.state == game.StateAborted {
		e.metrics.MatchEnded(game.StateAborted, e.clock.Since(tr.createdAt))
		e.logger.Info(fmt.Sprintf("match %s aborted: %s", id, tr.view.Reason))
	}

	if tr.state == game.StateAborted {
		e.remove(id)
	}
}

func (e *Engine) resync(player uuid.UUID, view game.MatchView) {
	if data, ok := e.fanout.LastUpdate(view.GameID); ok {
		e.fanout.SendRaw(player, data)
		return
	}
	if err := e.fanout.Send(player, game.GameUpdate{State: view}); err != nil {
		e.logger.Error(fmt.Sprintf("resyncing player %s: %s", player, err))
	}
}

func (e *Engine) remove(id uuid.UUID) {
	e.scheduler.CancelMatch(id)
	if !e.registry.Remove(id) {
		return
	}
	e.fanout.Forget(id)
	e.metrics.SetActiveMatches(e.registry.Len())
	e.goAsync(timerCallbackTimeout, func(ctx context.Context) {
		if err := e.discovery.Unregister(ctx, id); err != nil {
			e.logger.Warning(fmt.Sprintf("unregistering match %s from discovery: %s", id, err))
		}
	})
	e.logger.Info(fmt.Sprintf("removed match %s", id))
}

func (e *Engine) armGrace(id, player uuid.UUID) {
	e.scheduler.Schedule(TimerKey{MatchID: id, Kind: TimerGrace, PlayerID: player}, e.timeouts.Grace, func() {
		e.expireGrace(id, player)
	})
}

func (e *Engine) expireJoin(id uuid.UUID) {
	e.expire(id, "join timeout", func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return m.ExpireJoin(now)
	})
}

func (e *Engine) expireMove(id uuid.UUID, token game.TurnToken) {
	e.expire(id, "move timeout", func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return m.ExpireMove(token, now)
	})
}

func (e *Engine) expireGrace(id, player uuid.UUID) {
	e.expire(id, "grace period", func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return m.ExpireGrace(player, now)
	})
}

// expire applies a timeout. A timeout whose awaited event already happened
// is rejected by the match as stale and ignored here.
func (e *Engine) expire(id uuid.UUID, what string, fn mutation) {
	ctx, cancel := context.WithTimeout(e.ctx, timerCallbackTimeout)
	defer cancel()

	_, err := e.mutate(ctx, id, fn)
	switch {
	case err == nil:
		e.logger.Info(fmt.Sprintf("%s fired for match %s", what, id))
	case errors.Is(err, game.ErrIllegalMove), errors.Is(err, game.ErrUnknownMatch):
	default:
		e.logger.Error(fmt.Sprintf("applying %s to match %s: %s", what, id, err))
	}
}

// coverRematch fails with game.ErrInsufficientFunds when the player cannot
// stake another round of the match. A loss of the last round that is not
// booked yet already counts against the balance; an unbooked win does not.
// Anything that is not a rematch vote on a settled round is left for the
// vote itself to reject.
func (e *Engine) coverRematch(ctx context.Context, player, id uuid.UUID) error {
	var (
		cfg     game.Config
		key     uuid.UUID
		net     decimal.Decimal
		wagered bool
	)
	err := e.registry.WithExclusiveAccess(ctx, id, func(m *game.Match) error {
		if !m.IsParticipant(player) || m.Outcome == nil {
			return nil
		}
		if m.State != game.StateFinished && m.State != game.StateRematch {
			return nil
		}
		cfg = m.Config
		key = game.SettlementKey(m.ID, m.Outcome.Round, m.Outcome.Terminal)
		net = m.Outcome.Payouts[player].Sub(m.Outcome.Stakes[player])
		wagered = true
		return nil
	})
	if err != nil || !wagered {
		return err
	}

	// The booking state is read before the balance: a booking landing in
	// between is then counted twice, never missed.
	unbooked := false
	if net.IsNegative() {
		if unbooked, err = e.settlement.Unbooked(ctx, key); err != nil {
			return fmt.Errorf("reading settlement %s: %w", key, err)
		}
	}
	balance, err := e.wallets.Balance(ctx, player, cfg.Currency)
	if err != nil {
		return fmt.Errorf("reading balance of %s: %w", player, err)
	}
	if unbooked {
		balance = balance.Add(net)
	}
	if balance.LessThan(cfg.Bet) {
		return fmt.Errorf("%w: player %s has %s %s available for a rematch", game.ErrInsufficientFunds, player, balance, cfg.Currency)
	}
	return nil
}

func (e *Engine) settlementConfirmed(rec *game.SettlementRecord) {
	ctx, cancel := context.WithTimeout(e.ctx, timerCallbackTimeout)
	defer cancel()

	for _, p := range rec.Players() {
		balance, err := e.wallets.Balance(ctx, p, rec.Currency)
		if err != nil {
			e.logger.Warning(fmt.Sprintf("reading balance of %s after settlement %s: %s", p, rec.Key, err))
			continue
		}
		if err := e.fanout.Send(p, game.BalanceUpdate{Currency: rec.Currency, Balance: balance}); err != nil {
			e.logger.Error(fmt.Sprintf("sending balance update to %s: %s", p, err))
		}
	}

	if rec.Terminal == game.StateFinished {
		e.scheduler.Schedule(e.key(rec.MatchID, TimerRemoval), e.timeouts.RemovalDelay, func() {
			e.removeSettled(rec.MatchID, rec.Round)
		})
	}
}

func (e *Engine) settlementFailed(rec *game.SettlementRecord) {
	e.logger.Error(fmt.Sprintf("match %s round %d needs manual reconciliation: %s", rec.MatchID, rec.Round, rec.LastError))
}

// removeSettled drops a finished match whose round is settled unless a
// rematch got under way in the meantime.
func (e *Engine) removeSettled(id uuid.UUID, round int) {
	ctx, cancel := context.WithTimeout(e.ctx, timerCallbackTimeout)
	defer cancel()

	settled := false
	err := e.registry.WithExclusiveAccess(ctx, id, func(m *game.Match) error {
		settled = m.State == game.StateFinished && m.Round == round
		return nil
	})
	if err == nil && settled {
		e.remove(id)
	}
}

// goAsync runs fn in the background with a context derived from the
// engine's lifetime. A zero timeout means no deadline.
func (e *Engine) goAsync(timeout time.Duration, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := e.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		fn(ctx)
	}()
}

func (e *Engine) key(id uuid.UUID, kind TimerKind) TimerKey {
	return TimerKey{MatchID: id, Kind: kind}
}
