package service

import (
	"fmt"
	"sync"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
)

type cachedUpdate struct {
	version uint64
	data    []byte
}

// Fanout maps players to their live connection and delivers frames to them.
// It also keeps the last game update of every match for resyncs.
type Fanout struct {
	conns   map[uuid.UUID]i.Connection
	updates map[uuid.UUID]cachedUpdate
	logger  i.Logger
	mu      sync.RWMutex
}

// NewFanout creates an empty connection table.
func NewFanout(logger i.Logger) *Fanout {
	return &Fanout{
		conns:   make(map[uuid.UUID]i.Connection),
		updates: make(map[uuid.UUID]cachedUpdate),
		logger:  logger,
	}
}

// Register makes conn the player's connection and returns the one it replaced.
func (f *Fanout) Register(player uuid.UUID, conn i.Connection) i.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.conns[player]
	f.conns[player] = conn
	return prev
}

// Unregister removes conn if it is still the player's connection.
func (f *Fanout) Unregister(player uuid.UUID, conn i.Connection) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, ok := f.conns[player]; !ok || cur != conn {
		return false
	}
	delete(f.conns, player)
	return true
}

// Connected reports whether the player has a live connection.
func (f *Fanout) Connected(player uuid.UUID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.conns[player]
	return ok
}

// Count returns the number of live connections.
func (f *Fanout) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.conns)
}

// Send delivers msg to one player. An absent player is not an error.
func (f *Fanout) Send(player uuid.UUID, msg game.ServerMessage) error {
	data, err := game.EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	f.SendRaw(player, data)
	return nil
}

// SendRaw delivers an encoded frame to one player.
func (f *Fanout) SendRaw(player uuid.UUID, data []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	f.deliver(player, data)
}

// Broadcast encodes msg once and delivers it to every connected player.
// Delivery failures are logged and skipped.
func (f *Fanout) Broadcast(players []uuid.UUID, msg game.ServerMessage) error {
	data, err := game.EncodeServerMessage(msg)
	if err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range players {
		f.deliver(p, data)
	}
	return nil
}

// Publish broadcasts a match view as a game update and caches it for
// resyncs. Views older than the cached one are dropped so players never
// see a match go back in time.
func (f *Fanout) Publish(players []uuid.UUID, view game.MatchView) error {
	data, err := game.EncodeServerMessage(game.GameUpdate{State: view})
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.updates[view.GameID]; ok && cached.version > view.Version {
		return nil
	}
	f.updates[view.GameID] = cachedUpdate{version: view.Version, data: data}
	for _, p := range players {
		f.deliver(p, data)
	}
	return nil
}

// LastUpdate returns the last game update published for a match.
func (f *Fanout) LastUpdate(matchID uuid.UUID) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.updates[matchID]
	return u.data, ok
}

// Forget drops the cached update of a removed match.
func (f *Fanout) Forget(matchID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.updates, matchID)
}

func (f *Fanout) deliver(player uuid.UUID, data []byte) {
	conn, ok := f.conns[player]
	if !ok {
		return
	}
	if err := conn.Send(data); err != nil {
		f.logger.Warning(fmt.Sprintf("delivering to player %s: %s", player, err))
	}
}
