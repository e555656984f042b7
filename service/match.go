package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
)

const (
	defaultPrefix    = "matchmaker"
	defaultMaxPlayer = 2
	maxPlayers       = 8
	queueTermsKeyFmt = "%s:queue:%s:%s:bet_%s:%dx%d:mines_%d:players_%d"
)

// ErrPlayerNotFoundInQueue is an i.ErrRecordNotFound.
var ErrPlayerNotFoundInQueue = fmt.Errorf("player not found in queue: %w", i.ErrRecordNotFound)

type handlerFunc func(ctx context.Context, cfg game.Config, players []uuid.UUID)

// Options configures the matchmaker.
type Options struct {
	Prefix    string
	Handler   handlerFunc
	MaxPlayer int
}

// Matchmaker queues tickets by their exact terms (bet, currency, board,
// player count and region) and starts a match once enough are waiting.
type Matchmaker struct {
	sortedQueue i.SortedQueue
	logger      i.Logger
	opts        *Options
}

// NewMatchmaker creates a matchmaker on the shared queue.
func NewMatchmaker(sortedQueue i.SortedQueue, logger i.Logger, opts *Options) (*Matchmaker, error) {
	if opts == nil {
		opts = &Options{
			MaxPlayer: defaultMaxPlayer,
			Prefix:    defaultPrefix,
		}
	}

	if opts.MaxPlayer <= 0 {
		opts.MaxPlayer = defaultMaxPlayer
	}

	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}

	return &Matchmaker{
		opts:        opts,
		sortedQueue: sortedQueue,
		logger:      logger,
	}, nil
}

// PushToQueue validates and queues the ticket, then tries to form a match in
// the background.
func (mm *Matchmaker) PushToQueue(ctx context.Context, t i.Ticket) error {
	if t.Players == 0 {
		t.Players = mm.opts.MaxPlayer
	}
	if t.Players < 2 || t.Players > maxPlayers {
		return fmt.Errorf("%w: %d players", game.ErrInvalidParameters, t.Players)
	}
	if err := ticketConfig(t).Validate(); err != nil {
		return err
	}

	mm.logger.Info(fmt.Sprintf("Adding player to queue: ID=%s Bet=%s %s Board=%dx%d Mines=%d Players=%d Region=%s",
		t.PlayerID, t.Bet, t.Currency, t.Rows, t.Cols, t.Mines, t.Players, t.Region))

	score := float64(time.Now().UnixNano())
	if err := mm.sortedQueue.Enqueue(ctx, mm.queueKey(t), score, t.PlayerID.String()); err != nil {
		mm.logger.Error(fmt.Sprintf("Failed to enqueue player: %s", err))
		return err
	}

	mm.logger.Info(fmt.Sprintf("Player enqueued successfully: ID=%s", t.PlayerID))
	go mm.match(context.WithoutCancel(ctx), t)
	return nil
}

// LeaveQueue withdraws a ticket that was not matched yet.
func (mm *Matchmaker) LeaveQueue(ctx context.Context, t i.Ticket) error {
	if t.Players == 0 {
		t.Players = mm.opts.MaxPlayer
	}
	if err := mm.sortedQueue.Remove(ctx, mm.queueKey(t), t.PlayerID.String()); err != nil {
		if errors.Is(err, i.ErrRecordNotFound) {
			return ErrPlayerNotFoundInQueue
		}
		return err
	}
	mm.logger.Info(fmt.Sprintf("Player left queue: ID=%s", t.PlayerID))
	return nil
}

// SetMatchHandler sets what runs when a group of players is matched.
func (mm *Matchmaker) SetMatchHandler(f func(ctx context.Context, cfg game.Config, players []uuid.UUID)) {
	mm.opts.Handler = f
}

func (mm *Matchmaker) match(ctx context.Context, t i.Ticket) {
	queueKey := mm.queueKey(t)
	amount := int64(t.Players)
	if mm.sortedQueue.Count(ctx, queueKey) < amount {
		return
	}

	rawPlayers, err := mm.sortedQueue.DequeTops(ctx, queueKey, amount)
	if err != nil {
		mm.logger.Error(fmt.Sprintf("obtaining match lock: %s", err))
		return
	}
	if len(rawPlayers) == 0 {
		return
	}

	var playersIDs []uuid.UUID
	for _, raw := range rawPlayers {
		if id, err := uuid.Parse(raw); err == nil {
			playersIDs = append(playersIDs, id)
		} else {
			mm.logger.Warning(fmt.Sprintf("Non-UUID value in queue: %s", raw))
		}
	}

	if mm.opts.Handler != nil {
		mm.logger.Info(fmt.Sprintf("Match found for players: %v", playersIDs))
		go mm.opts.Handler(ctx, ticketConfig(t), playersIDs)
	}
}

func (mm *Matchmaker) queueKey(t i.Ticket) string {
	return fmt.Sprintf(queueTermsKeyFmt, mm.opts.Prefix, t.Region, t.Currency, t.Bet.String(), t.Rows, t.Cols, t.Mines, t.Players)
}

func ticketConfig(t i.Ticket) game.Config {
	return game.Config{Rows: t.Rows, Cols: t.Cols, Mines: t.Mines, Bet: t.Bet, Currency: t.Currency}
}
