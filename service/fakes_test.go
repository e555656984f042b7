package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type nopLogger struct{}

func (nopLogger) Info(string)    {}
func (nopLogger) Warning(string) {}
func (nopLogger) Error(string)   {}

// fakeConn records every frame it is sent.
type fakeConn struct {
	frames [][]byte
	closed bool
	fail   bool
	mu     sync.Mutex
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, data)
	return nil
}

// stallingConn blocks the first send after stall until release is closed.
type stallingConn struct {
	fakeConn
	stalled chan struct{}
	release chan struct{}
	armed   bool
	once    sync.Once
}

func newStallingConn() *stallingConn {
	return &stallingConn{stalled: make(chan struct{}), release: make(chan struct{})}
}

func (c *stallingConn) stall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
}

func (c *stallingConn) Send(data []byte) error {
	c.mu.Lock()
	armed := c.armed
	c.mu.Unlock()
	if armed {
		c.once.Do(func() {
			close(c.stalled)
			<-c.release
		})
	}
	return c.fakeConn.Send(data)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) envelopes() []game.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]game.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env game.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func (c *fakeConn) count(msgType string) int {
	n := 0
	for _, env := range c.envelopes() {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastView() (game.MatchView, bool) {
	envs := c.envelopes()
	for idx := len(envs) - 1; idx >= 0; idx-- {
		if envs[idx].Type != game.TypeGameUpdate {
			continue
		}
		var u struct {
			State game.MatchView `json:"state"`
		}
		if err := json.Unmarshal(envs[idx].Payload, &u); err == nil {
			return u.State, true
		}
	}
	return game.MatchView{}, false
}

func (c *fakeConn) lastError() (game.ErrorMessage, bool) {
	envs := c.envelopes()
	for idx := len(envs) - 1; idx >= 0; idx-- {
		if envs[idx].Type != game.TypeError {
			continue
		}
		var m game.ErrorMessage
		if err := json.Unmarshal(envs[idx].Payload, &m); err == nil {
			return m, true
		}
	}
	return game.ErrorMessage{}, false
}

// memSettlementStore keeps records by key and hands out copies.
type memSettlementStore struct {
	records map[uuid.UUID]game.SettlementRecord
	creates int
	mu      sync.Mutex
}

func newMemSettlementStore() *memSettlementStore {
	return &memSettlementStore{records: make(map[uuid.UUID]game.SettlementRecord)}
}

func (s *memSettlementStore) Create(_ context.Context, rec *game.SettlementRecord) (*game.SettlementRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.records[rec.Key]; ok {
		return &stored, false, nil
	}
	s.records[rec.Key] = *rec
	s.creates++
	cp := *rec
	return &cp, true, nil
}

func (s *memSettlementStore) ByKey(_ context.Context, key uuid.UUID) (*game.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, i.ErrRecordNotFound
	}
	return &rec, nil
}

func (s *memSettlementStore) Update(_ context.Context, rec *game.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Key]; !ok {
		return i.ErrRecordNotFound
	}
	s.records[rec.Key] = *rec
	return nil
}

func (s *memSettlementStore) Pending(_ context.Context, before time.Time) ([]*game.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*game.SettlementRecord
	for _, rec := range s.records {
		if rec.Status == game.SettlementPending && rec.UpdatedAt.Before(before) {
			cp := rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memSettlementStore) ByMatch(_ context.Context, matchID uuid.UUID) ([]*game.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*game.SettlementRecord
	for _, rec := range s.records {
		if rec.MatchID == matchID {
			cp := rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Round < out[b].Round })
	return out, nil
}

func (s *memSettlementStore) status(key uuid.UUID) game.SettlementStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key].Status
}

func (s *memSettlementStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeLedger answers with respond, or confirms when it is nil.
type fakeLedger struct {
	respond  func(attempt int, rec *game.SettlementRecord) (i.LedgerReceipt, error)
	attempts map[uuid.UUID]int
	inFlight map[uuid.UUID]int
	overlap  bool
	delay    time.Duration
	mu       sync.Mutex
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{attempts: make(map[uuid.UUID]int), inFlight: make(map[uuid.UUID]int)}
}

func (l *fakeLedger) RecordOutcome(_ context.Context, rec *game.SettlementRecord) (i.LedgerReceipt, error) {
	l.mu.Lock()
	l.attempts[rec.Key]++
	attempt := l.attempts[rec.Key]
	l.inFlight[rec.Key]++
	if l.inFlight[rec.Key] > 1 {
		l.overlap = true
	}
	respond := l.respond
	delay := l.delay
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.inFlight[rec.Key]--
		l.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if respond == nil {
		return i.LedgerReceipt{Status: i.LedgerConfirmed, Reference: fmt.Sprintf("tx-%s", rec.Key)}, nil
	}
	return respond(attempt, rec)
}

func (l *fakeLedger) attemptsFor(key uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[key]
}

func (l *fakeLedger) overlapped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overlap
}

type walletKey struct {
	user     uuid.UUID
	currency string
}

// memWallets books each settlement key once.
type memWallets struct {
	balances map[walletKey]decimal.Decimal
	applied  map[uuid.UUID]bool
	fail     error
	mu       sync.Mutex
}

func newMemWallets() *memWallets {
	return &memWallets{balances: make(map[walletKey]decimal.Decimal), applied: make(map[uuid.UUID]bool)}
}

func (w *memWallets) fund(user uuid.UUID, currency string, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[walletKey{user, currency}] = amount
}

func (w *memWallets) Balance(_ context.Context, user uuid.UUID, currency string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[walletKey{user, currency}], nil
}

func (w *memWallets) ApplySettlement(_ context.Context, rec *game.SettlementRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	if w.applied[rec.Key] {
		return nil
	}
	w.applied[rec.Key] = true
	for _, p := range rec.Players() {
		k := walletKey{p, rec.Currency}
		w.balances[k] = w.balances[k].Add(rec.Net(p))
	}
	return nil
}

func (w *memWallets) Leaderboard(context.Context, string, int) ([]game.LeaderboardEntry, error) {
	return nil, nil
}

func (w *memWallets) balance(user uuid.UUID, currency string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[walletKey{user, currency}]
}

type memDiscovery struct {
	locations map[uuid.UUID]i.SessionLocation
	mu        sync.Mutex
}

func newMemDiscovery() *memDiscovery {
	return &memDiscovery{locations: make(map[uuid.UUID]i.SessionLocation)}
}

func (d *memDiscovery) Register(_ context.Context, loc i.SessionLocation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[loc.MatchID] = loc
	return nil
}

func (d *memDiscovery) Lookup(_ context.Context, id uuid.UUID) (i.SessionLocation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc, ok := d.locations[id]
	if !ok {
		return i.SessionLocation{}, i.ErrRecordNotFound
	}
	return loc, nil
}

func (d *memDiscovery) LookupPlayer(_ context.Context, player uuid.UUID) (i.SessionLocation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, loc := range d.locations {
		for _, p := range loc.Players {
			if p == player.String() {
				return loc, nil
			}
		}
	}
	return i.SessionLocation{}, i.ErrRecordNotFound
}

func (d *memDiscovery) Unregister(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.locations, id)
	return nil
}

func (d *memDiscovery) has(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.locations[id]
	return ok
}

// memLocker is a process-local stand-in for the distributed locker. With
// lease set, a holder loses its lock after that long and the next waiter
// gets in, the way an unextended redis lock lapses.
type memLocker struct {
	locks map[string]chan struct{}
	lease time.Duration
	mu    sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]chan struct{})}
}

func (l *memLocker) Lock(ctx context.Context, name string) (context.Context, func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[name] = ch
	}
	lease := l.lease
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	held, cancel := context.WithCancel(ctx)
	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			<-ch
		})
	}
	if lease > 0 {
		time.AfterFunc(lease, release)
	}
	return held, release, nil
}

type memRecorder struct {
	initialized int
	moves       int
	commits     int
	mu          sync.Mutex
}

func (r *memRecorder) Initialize(context.Context, uuid.UUID, int, []uuid.UUID, []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized++
	return nil
}

func (r *memRecorder) RecordMove(context.Context, uuid.UUID, int, game.Move) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves++
	return nil
}

func (r *memRecorder) Commit(context.Context, uuid.UUID, int, []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	return errors.New("settlement layer unreachable")
}

type memMoveLog struct {
	moves map[uuid.UUID][]game.Move
	mu    sync.Mutex
}

func newMemMoveLog() *memMoveLog {
	return &memMoveLog{moves: make(map[uuid.UUID][]game.Move)}
}

func (l *memMoveLog) Append(_ context.Context, matchID uuid.UUID, _ int, mv game.Move) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.moves[matchID] = append(l.moves[matchID], mv)
	return nil
}

func (l *memMoveLog) Moves(_ context.Context, matchID uuid.UUID, _ int) ([]game.Move, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]game.Move(nil), l.moves[matchID]...), nil
}

// memQueue is an in-memory sorted queue.
type memQueue struct {
	queues map[string]map[string]float64
	mu     sync.Mutex
}

func newMemQueue() *memQueue {
	return &memQueue{queues: make(map[string]map[string]float64)}
}

func (q *memQueue) Enqueue(_ context.Context, key string, score float64, member string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queues[key] == nil {
		q.queues[key] = make(map[string]float64)
	}
	q.queues[key][member] = score
	return nil
}

func (q *memQueue) DequeTops(_ context.Context, key string, amount int64) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	members := q.queues[key]
	if int64(len(members)) < amount {
		return nil, nil
	}
	sorted := make([]string, 0, len(members))
	for m := range members {
		sorted = append(sorted, m)
	}
	sort.Slice(sorted, func(a, b int) bool { return members[sorted[a]] < members[sorted[b]] })
	out := sorted[:amount]
	for _, m := range out {
		delete(members, m)
	}
	return out, nil
}

func (q *memQueue) Count(_ context.Context, key string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.queues[key]))
}

func (q *memQueue) Remove(_ context.Context, key string, member string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queues[key][member]; !ok {
		return i.ErrRecordNotFound
	}
	delete(q.queues[key], member)
	return nil
}
