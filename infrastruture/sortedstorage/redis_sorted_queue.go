package sortedstorage

import (
	"context"
	"fmt"
	"time"

	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedisSortedQueue is the matchmaking queue shared by every instance. Members
// are ordered by score and whole queues expire when nobody touches them.
type RedisSortedQueue struct {
	client *redis.Client
	locker *redsync.Redsync
	ttl    time.Duration
}

// NewRedisSortedQueue creates a queue whose keys expire after ttlSeconds.
func NewRedisSortedQueue(client *redis.Client, ttlSeconds int) (*RedisSortedQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisSortedQueue{
		client: client,
		locker: redsync.New(goredis.NewPool(client)),
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Enqueue adds or re-scores a member and refreshes the queue's expiry.
func (rsq *RedisSortedQueue) Enqueue(ctx context.Context, queueKey string, score float64, member string) error {
	pipe := rsq.client.TxPipeline()
	pipe.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, queueKey, rsq.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// DequeTops pops the amount lowest scored members, or nothing when fewer are
// waiting. Instances racing for the same queue are serialised by a redsync
// mutex so no member is handed to two matches.
func (rsq *RedisSortedQueue) DequeTops(ctx context.Context, queueKey string, amount int64) ([]string, error) {
	mutex := rsq.locker.NewMutex(queueKey + ":match_lock")
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	defer func() {
		_, _ = mutex.UnlockContext(ctx)
	}()

	size, err := rsq.client.ZCard(ctx, queueKey).Result()
	if err != nil {
		return nil, err
	}
	if size < amount {
		return nil, nil
	}

	popped, err := rsq.client.ZPopMin(ctx, queueKey, amount).Result()
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(popped))
	for _, z := range popped {
		if m, ok := z.Member.(string); ok {
			members = append(members, m)
		}
	}
	return members, nil
}

// Count returns the number of members waiting in the queue.
func (rsq *RedisSortedQueue) Count(ctx context.Context, queueKey string) int64 {
	return rsq.client.ZCard(ctx, queueKey).Val()
}

// Remove takes a member out of the queue.
func (rsq *RedisSortedQueue) Remove(ctx context.Context, queueKey string, member string) error {
	removed, err := rsq.client.ZRem(ctx, queueKey, member).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return i.ErrRecordNotFound
	}
	return nil
}
