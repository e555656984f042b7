package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const defaultRematchDeadline = 30 * time.Second

// RematchNegotiator collects rematch votes on finished matches. Opening a
// vote arms the deadline, which aborts the match once if any vote is still
// missing. Resolving the vote cancels it. Every vote for another round is
// only counted if the voter can stake it.
type RematchNegotiator struct {
	scheduler *Scheduler
	clock     clockwork.Clock
	deadline  time.Duration
	logger    i.Logger
	apply     func(ctx context.Context, id uuid.UUID, fn mutation) (transition, error)
	covers    func(ctx context.Context, player, matchID uuid.UUID) error
}

func newRematchNegotiator(e *Engine, deadline time.Duration) *RematchNegotiator {
	if deadline <= 0 {
		deadline = defaultRematchDeadline
	}
	return &RematchNegotiator{
		scheduler: e.scheduler,
		clock:     e.clock,
		deadline:  deadline,
		logger:    e.logger,
		apply:     e.mutate,
		covers:    e.coverRematch,
	}
}

// Request opens a vote, or counts as an accept when one is already open.
func (r *RematchNegotiator) Request(ctx context.Context, player, matchID uuid.UUID) (game.RematchResult, error) {
	if err := r.covers(ctx, player, matchID); err != nil {
		return game.RematchNoop, err
	}

	var result game.RematchResult
	_, err := r.apply(ctx, matchID, func(m *game.Match, now time.Time) (*game.Outcome, error) {
		res, err := m.RequestRematch(player, now.Add(r.deadline), now)
		result = res
		return nil, err
	})
	if err != nil {
		return game.RematchNoop, err
	}

	if result == game.RematchOpened {
		r.logger.Info(fmt.Sprintf("player %s opened a rematch vote in match %s", player, matchID))
	}
	r.resolved(matchID, result)
	return result, nil
}

// arm starts the deadline of a vote that was just opened.
func (r *RematchNegotiator) arm(matchID uuid.UUID, deadline time.Time) {
	r.scheduler.Schedule(TimerKey{MatchID: matchID, Kind: TimerRematch}, deadline.Sub(r.clock.Now()), func() {
		r.expire(matchID)
	})
}

// Respond records an accept or decline vote. An accept from a player who
// cannot cover the next stake is refused and their vote stays open.
func (r *RematchNegotiator) Respond(ctx context.Context, player, matchID uuid.UUID, accept bool) (game.RematchResult, error) {
	if accept {
		if err := r.covers(ctx, player, matchID); err != nil {
			return game.RematchNoop, err
		}
	}

	var result game.RematchResult
	_, err := r.apply(ctx, matchID, func(m *game.Match, now time.Time) (*game.Outcome, error) {
		res, err := m.RespondRematch(player, accept, now)
		result = res
		return nil, err
	})
	if err != nil {
		return game.RematchNoop, err
	}

	r.resolved(matchID, result)
	return result, nil
}

func (r *RematchNegotiator) resolved(matchID uuid.UUID, result game.RematchResult) {
	switch result {
	case game.RematchStarted:
		r.logger.Info(fmt.Sprintf("rematch of match %s started", matchID))
	case game.RematchDeclined:
		r.logger.Info(fmt.Sprintf("rematch of match %s declined", matchID))
	}
}

func (r *RematchNegotiator) expire(matchID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCallbackTimeout)
	defer cancel()

	_, err := r.apply(ctx, matchID, func(m *game.Match, now time.Time) (*game.Outcome, error) {
		return nil, m.ExpireRematch(now)
	})
	switch {
	case err == nil:
		r.logger.Info(fmt.Sprintf("rematch deadline of match %s passed", matchID))
	case errors.Is(err, game.ErrIllegalMove), errors.Is(err, game.ErrUnknownMatch):
	default:
		r.logger.Error(fmt.Sprintf("expiring rematch of match %s: %s", matchID, err))
	}
}
