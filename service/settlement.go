package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSettlementMaxElapsed      = 2 * time.Minute
	defaultSettlementInitialInterval = 500 * time.Millisecond
	defaultSettlementRetryAfter      = time.Minute
	settlementStoreTimeout           = 5 * time.Second
	settlementLockFmt                = "settlement:%s"
)

var errLedgerPending = errors.New("ledger still pending")

// SettlementOptions tunes the retry behaviour of the coordinator.
type SettlementOptions struct {
	// MaxElapsed bounds one submission's retries. What is still pending
	// afterwards is left to Reconcile.
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	// RetryAfter is how long a pending record rests before Reconcile picks it up.
	RetryAfter time.Duration
}

type settlementHandler func(rec *game.SettlementRecord)

// SettlementCoordinator turns round outcomes into exactly one settlement each.
// Records are created insert-if-absent under a key derived from the match,
// round and terminal state, and every submission of a key is serialised
// in-process by singleflight and across instances by a distributed lock.
type SettlementCoordinator struct {
	store       i.SettlementStore
	ledger      i.Ledger
	wallets     i.WalletStore
	locker      i.Locker
	logger      i.Logger
	metrics     i.Metrics
	clock       clockwork.Clock
	flights     singleflight.Group
	opts        SettlementOptions
	onConfirmed settlementHandler
	onFailed    settlementHandler
}

// SettlementConfig holds the coordinator's collaborators.
type SettlementConfig struct {
	Store   i.SettlementStore
	Ledger  i.Ledger
	Wallets i.WalletStore
	Locker  i.Locker
	Logger  i.Logger
	Metrics i.Metrics
	Clock   clockwork.Clock
	Options SettlementOptions
}

// NewSettlementCoordinator validates the config and fills in defaults.
func NewSettlementCoordinator(c *SettlementConfig) (*SettlementCoordinator, error) {
	if c.Store == nil || c.Ledger == nil || c.Wallets == nil || c.Locker == nil || c.Logger == nil || c.Metrics == nil {
		return nil, errors.New("settlement coordinator is missing a collaborator")
	}

	opts := c.Options
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = defaultSettlementMaxElapsed
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultSettlementInitialInterval
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = defaultSettlementRetryAfter
	}
	clock := c.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &SettlementCoordinator{
		store:   c.Store,
		ledger:  c.Ledger,
		wallets: c.Wallets,
		locker:  c.Locker,
		logger:  c.Logger,
		metrics: c.Metrics,
		clock:   clock,
		opts:    opts,
	}, nil
}

// SetConfirmedHandler is called once per record after its confirmation was booked.
func (s *SettlementCoordinator) SetConfirmedHandler(f func(rec *game.SettlementRecord)) {
	s.onConfirmed = f
}

// SetFailedHandler is called when the ledger permanently rejects a record.
func (s *SettlementCoordinator) SetFailedHandler(f func(rec *game.SettlementRecord)) {
	s.onFailed = f
}

// Settle records the outcome of a round and submits it to the ledger.
// Settling the same round twice reuses the first record.
func (s *SettlementCoordinator) Settle(ctx context.Context, matchID uuid.UUID, currency string, out *game.Outcome) (*game.SettlementRecord, error) {
	rec := game.NewSettlementRecord(matchID, currency, out, s.clock.Now())

	stored, created, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("creating settlement record %s: %w", rec.Key, err)
	}
	if created {
		s.logger.Info(fmt.Sprintf("settlement %s created for match %s round %d (%s)", rec.Key, matchID, out.Round, out.Terminal))
	} else {
		s.logger.Info(fmt.Sprintf("settlement %s already recorded with status %s", stored.Key, stored.Status))
	}

	return s.submit(ctx, stored.Key)
}

// Unbooked reports whether the money of a record may still reach the
// wallets, which is the case until it is confirmed or failed. A record not
// created yet is unbooked.
func (s *SettlementCoordinator) Unbooked(ctx context.Context, key uuid.UUID) (bool, error) {
	rec, err := s.store.ByKey(ctx, key)
	if errors.Is(err, i.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Status == game.SettlementPending, nil
}

// Reconcile resubmits pending records that were left behind by exhausted
// retries or a crashed instance. It returns how many it went through.
func (s *SettlementCoordinator) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.store.Pending(ctx, s.clock.Now().Add(-s.opts.RetryAfter))
	if err != nil {
		return 0, fmt.Errorf("listing pending settlements: %w", err)
	}

	for _, rec := range pending {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if _, err := s.submit(ctx, rec.Key); err != nil {
			s.logger.Warning(fmt.Sprintf("reconciling settlement %s: %s", rec.Key, err))
		}
	}
	return len(pending), nil
}

func (s *SettlementCoordinator) submit(ctx context.Context, key uuid.UUID) (*game.SettlementRecord, error) {
	v, err, _ := s.flights.Do(key.String(), func() (interface{}, error) {
		return s.process(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*game.SettlementRecord), nil
}

// process submits a pending record while holding its lock. Ledger calls run
// under the lock's context. A holder that loses the lock stops submitting and
// writes nothing back, since the next holder owns the record.
func (s *SettlementCoordinator) process(ctx context.Context, key uuid.UUID) (*game.SettlementRecord, error) {
	held, unlock, err := s.locker.Lock(ctx, fmt.Sprintf(settlementLockFmt, key))
	if err != nil {
		return nil, fmt.Errorf("locking settlement %s: %w", key, err)
	}
	defer unlock()

	rec, err := s.store.ByKey(held, key)
	if err != nil {
		return nil, fmt.Errorf("loading settlement %s: %w", key, err)
	}
	if rec.Status != game.SettlementPending {
		return rec, nil
	}

	start := s.clock.Now()
	err = backoff.Retry(func() error {
		return s.attempt(held, rec)
	}, backoff.WithContext(s.newBackOff(), held))

	switch {
	case err == nil:
		return rec, s.confirm(ctx, rec, start)
	case held.Err() != nil && ctx.Err() == nil:
		s.logger.Warning(fmt.Sprintf("lost the lock of settlement %s after %d attempts, leaving it to the next holder", rec.Key, rec.Attempts))
		return rec, nil
	case errors.Is(err, errLedgerPending), errors.Is(err, i.ErrLedgerUnavailable), ctx.Err() != nil:
		s.logger.Warning(fmt.Sprintf("settlement %s still pending after %d attempts: %s", rec.Key, rec.Attempts, rec.LastError))
		return rec, s.save(ctx, rec)
	default:
		return rec, s.fail(ctx, rec, start)
	}
}

// attempt submits the record once. Only transient failures are retried.
func (s *SettlementCoordinator) attempt(ctx context.Context, rec *game.SettlementRecord) error {
	rec.Attempts++
	receipt, err := s.ledger.RecordOutcome(ctx, rec)
	if err != nil {
		rec.LastError = err.Error()
		if errors.Is(err, i.ErrLedgerUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	switch receipt.Status {
	case i.LedgerConfirmed:
		rec.LastError = ""
		return nil
	case i.LedgerRejected:
		rec.LastError = receipt.Reason
		return backoff.Permanent(fmt.Errorf("%w: %s", game.ErrSettlementRejected, receipt.Reason))
	default:
		rec.LastError = "ledger reported pending"
		return errLedgerPending
	}
}

func (s *SettlementCoordinator) confirm(ctx context.Context, rec *game.SettlementRecord, start time.Time) error {
	if err := s.wallets.ApplySettlement(ctx, rec); err != nil {
		rec.LastError = err.Error()
		s.logger.Error(fmt.Sprintf("booking confirmed settlement %s: %s", rec.Key, err))
		_ = s.save(ctx, rec)
		return fmt.Errorf("booking settlement %s: %w", rec.Key, err)
	}

	rec.Status = game.SettlementConfirmed
	if err := s.save(ctx, rec); err != nil {
		return err
	}

	s.metrics.SettlementProcessed(rec.Status, s.clock.Since(start))
	if !rec.Refund {
		for _, p := range rec.Winners {
			amount, _ := rec.Payouts[p].Float64()
			s.metrics.RewardsDistributed(rec.Currency, amount)
		}
	}
	s.logger.Info(fmt.Sprintf("settlement %s confirmed after %d attempts", rec.Key, rec.Attempts))

	if s.onConfirmed != nil {
		s.onConfirmed(rec)
	}
	return nil
}

func (s *SettlementCoordinator) fail(ctx context.Context, rec *game.SettlementRecord, start time.Time) error {
	rec.Status = game.SettlementFailed
	s.metrics.SettlementProcessed(rec.Status, s.clock.Since(start))
	s.logger.Error(fmt.Sprintf("ESCALATION settlement %s for match %s round %d failed permanently: %s", rec.Key, rec.MatchID, rec.Round, rec.LastError))

	if err := s.save(ctx, rec); err != nil {
		return err
	}
	if s.onFailed != nil {
		s.onFailed(rec)
	}
	return nil
}

// save persists the record even when ctx was cancelled mid retry.
func (s *SettlementCoordinator) save(ctx context.Context, rec *game.SettlementRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settlementStoreTimeout)
	defer cancel()

	rec.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, rec); err != nil {
		s.logger.Error(fmt.Sprintf("saving settlement %s: %s", rec.Key, err))
		return fmt.Errorf("saving settlement %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SettlementCoordinator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxElapsedTime = s.opts.MaxElapsed
	return b
}
