package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "lock:"
	defaultExpiry = 30 * time.Second
	retryDelay    = 50 * time.Millisecond
	// extendEvery is the fraction of the expiry between two extensions.
	extendEvery = 3
)

// RedsyncLocker hands out redis locks shared by every instance. A held lock
// is extended until it is released, so it only lapses when its holder stops
// running, and then after at most its expiry.
type RedsyncLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger i.Logger
}

// NewRedsyncLocker creates a locker whose locks expire after expiry.
func NewRedsyncLocker(client *redis.Client, expiry time.Duration, logger i.Logger) *RedsyncLocker {
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	return &RedsyncLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		logger: logger,
	}
}

// Lock blocks until the named lock is held or ctx ends. The returned context
// ends with ctx and is cancelled as soon as an extension fails.
func (l *RedsyncLocker) Lock(ctx context.Context, name string) (context.Context, func(), error) {
	mutex := l.rs.NewMutex(keyPrefix+name,
		redsync.WithExpiry(l.expiry),
		redsync.WithRetryDelay(retryDelay),
		redsync.WithTries(1<<20),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}

	held, release := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go l.keepAlive(held, release, mutex, name, stopped)

	return held, func() {
		release()
		<-stopped
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Warning(fmt.Sprintf("releasing lock %s: held=%t err=%v", name, ok, err))
		}
	}, nil
}

// keepAlive extends the mutex until held ends, cancelling it when the lock
// could not be extended.
func (l *RedsyncLocker) keepAlive(held context.Context, lost context.CancelFunc, mutex *redsync.Mutex, name string, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.expiry / extendEvery)
	defer ticker.Stop()
	for {
		select {
		case <-held.Done():
			return
		case <-ticker.C:
			ok, err := mutex.ExtendContext(held)
			if held.Err() != nil {
				return
			}
			if !ok || err != nil {
				l.logger.Warning(fmt.Sprintf("lost lock %s: extended=%t err=%v", name, ok, err))
				lost()
				return
			}
		}
	}
}
