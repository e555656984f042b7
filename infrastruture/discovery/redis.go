package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyFmt = "game_session:%s"
	playerKeyFmt  = "game_session_player:%s"
	regionKeyFmt  = "region_sessions:%s"

	defaultTTL = 300 * time.Second
)

// RedisDiscovery publishes live match locations in redis so any instance
// can route a player to the one hosting their match. Entries expire unless
// refreshed.
type RedisDiscovery struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDiscovery creates a discovery with the given entry TTL. A
// non-positive TTL falls back to five minutes.
func NewRedisDiscovery(client *redis.Client, ttl time.Duration) *RedisDiscovery {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisDiscovery{client: client, ttl: ttl}
}

// Register stores the location of a match and indexes it by player and region.
func (d *RedisDiscovery) Register(ctx context.Context, loc i.SessionLocation) error {
	key := fmt.Sprintf(sessionKeyFmt, loc.MatchID)
	id := loc.MatchID.String()

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"server_id":  loc.ServerID,
		"region":     loc.Region,
		"addr":       loc.Addr,
		"bet":        loc.Bet,
		"currency":   loc.Currency,
		"players":    strings.Join(loc.Players, ","),
		"created_at": loc.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, d.ttl)
	for _, p := range loc.Players {
		pipe.Set(ctx, fmt.Sprintf(playerKeyFmt, p), id, d.ttl)
	}
	if loc.Region != "" {
		regionKey := fmt.Sprintf(regionKeyFmt, loc.Region)
		pipe.SAdd(ctx, regionKey, id)
		pipe.Expire(ctx, regionKey, d.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Lookup returns where a match runs.
func (d *RedisDiscovery) Lookup(ctx context.Context, matchID uuid.UUID) (i.SessionLocation, error) {
	fields, err := d.client.HGetAll(ctx, fmt.Sprintf(sessionKeyFmt, matchID)).Result()
	if err != nil {
		return i.SessionLocation{}, err
	}
	if len(fields) == 0 {
		return i.SessionLocation{}, i.ErrRecordNotFound
	}

	loc := i.SessionLocation{
		MatchID:  matchID,
		ServerID: fields["server_id"],
		Region:   fields["region"],
		Addr:     fields["addr"],
		Bet:      fields["bet"],
		Currency: fields["currency"],
	}
	if players := fields["players"]; players != "" {
		loc.Players = strings.Split(players, ",")
	}
	if createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		loc.CreatedAt = createdAt
	}
	return loc, nil
}

// LookupPlayer returns the location of the match a player is in.
func (d *RedisDiscovery) LookupPlayer(ctx context.Context, player uuid.UUID) (i.SessionLocation, error) {
	raw, err := d.client.Get(ctx, fmt.Sprintf(playerKeyFmt, player)).Result()
	if errors.Is(err, redis.Nil) {
		return i.SessionLocation{}, i.ErrRecordNotFound
	}
	if err != nil {
		return i.SessionLocation{}, err
	}
	matchID, err := uuid.Parse(raw)
	if err != nil {
		return i.SessionLocation{}, fmt.Errorf("corrupt player index for %s: %w", player, err)
	}
	return d.Lookup(ctx, matchID)
}

// Unregister removes a match and the player entries still pointing at it.
func (d *RedisDiscovery) Unregister(ctx context.Context, matchID uuid.UUID) error {
	loc, err := d.Lookup(ctx, matchID)
	if errors.Is(err, i.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	id := matchID.String()
	var stale []string
	for _, p := range loc.Players {
		key := fmt.Sprintf(playerKeyFmt, p)
		if current, err := d.client.Get(ctx, key).Result(); err == nil && current == id {
			stale = append(stale, key)
		}
	}

	pipe := d.client.TxPipeline()
	pipe.Del(ctx, append(stale, fmt.Sprintf(sessionKeyFmt, matchID))...)
	if loc.Region != "" {
		pipe.SRem(ctx, fmt.Sprintf(regionKeyFmt, loc.Region), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// InRegion lists the matches registered in a region.
func (d *RedisDiscovery) InRegion(ctx context.Context, region string) ([]uuid.UUID, error) {
	raw, err := d.client.SMembers(ctx, fmt.Sprintf(regionKeyFmt, region)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		if id, err := uuid.Parse(r); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
