package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/park285/chess-world/internal/obslog"
	"github.com/park285/chess-world/internal/rules"
	"go.uber.org/zap"
)

const (
	maxGameIDLen          = 128
	defaultRestoreTimeout = 2 * time.Second
)

// Store is the registry of live sessions keyed by game id.
type Store struct {
	oracle         rules.Oracle
	observers      []Observer
	restorer       Restorer
	restoreTimeout time.Duration
	idleTTL        time.Duration
	reapEvery      time.Duration
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	// loading holds ids whose snapshot is being fetched; closed when the session is published.
	loading map[string]chan struct{}
}

type Option func(*Store)

// WithObserver registers an observer notified of every applied move in every session.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithRestorer seeds new sessions from saved snapshots.
func WithRestorer(r Restorer) Option {
	return func(s *Store) { s.restorer = r }
}

// WithRestoreTimeout bounds each Restorer.Load. On timeout the room starts fresh.
func WithRestoreTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.restoreTimeout = d
		}
	}
}

// WithIdleTTL sets how long a session may stay without peers before the reaper retires it. 0 disables.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) { s.idleTTL = ttl }
}

// WithReapInterval sets how often Run scans for idle sessions.
func WithReapInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.reapEvery = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(oracle rules.Oracle, opts ...Option) *Store {
	s := &Store{
		oracle:         oracle,
		idleTTL:        30 * time.Minute,
		reapEvery:      time.Minute,
		restoreTimeout: defaultRestoreTimeout,
		now:            time.Now,
		sessions:       make(map[string]*Session),
		loading:        make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidGameID reports whether id can name a room: non-empty, printable UTF-8, bounded length.
func ValidGameID(id string) bool {
	if id == "" || len(id) > maxGameIDLen || !utf8.ValidString(id) {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool { return r < 0x20 || r == 0x7f })
}

// GetOrCreate returns the session for gameID, creating it on first use.
// Concurrent first callers for the same id all receive the same session.
// The Restorer runs outside the store lock; callers for other ids are not held up by it.
func (s *Store) GetOrCreate(ctx context.Context, gameID string) (*Session, error) {
	if !ValidGameID(gameID) {
		return nil, ErrInvalidGameID
	}
	for {
		s.mu.Lock()
		if sess, ok := s.sessions[gameID]; ok {
			s.mu.Unlock()
			return sess, nil
		}
		if wait, ok := s.loading[gameID]; ok {
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if s.restorer == nil {
			sess := newSession(gameID, s.oracle, s.observers, s.now)
			s.sessions[gameID] = sess
			s.mu.Unlock()
			logCreate(sess, false)
			return sess, nil
		}
		wait := make(chan struct{})
		s.loading[gameID] = wait
		s.mu.Unlock()

		sess, restored, err := s.load(ctx, gameID)

		s.mu.Lock()
		delete(s.loading, gameID)
		close(wait)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.sessions[gameID] = sess
		s.mu.Unlock()
		logCreate(sess, restored)
		return sess, nil
	}
}

// load builds an unpublished session for gameID, seeded from the Restorer when it has a usable snapshot.
// Only the caller's own cancellation is an error; restore failures start the room fresh.
func (s *Store) load(ctx context.Context, gameID string) (*Session, bool, error) {
	lctx, cancel := context.WithTimeout(ctx, s.restoreTimeout)
	snap, err := s.restorer.Load(lctx, gameID)
	cancel()
	if cerr := ctx.Err(); cerr != nil {
		return nil, false, cerr
	}
	sess := newSession(gameID, s.oracle, s.observers, s.now)
	if err != nil {
		obslog.L().Warn("session_restore_failed", zap.String("game_id", gameID), zap.Error(err))
		return sess, false, nil
	}
	return sess, sess.restore(snap), nil
}

func logCreate(sess *Session, restored bool) {
	obslog.L().Info("session_create", zap.String("game_id", sess.id), zap.Bool("restored", restored), zap.String("fen", sess.Position().String()))
}

// Join resolves gameID and attaches p, retrying if the session was retired in between.
func (s *Store) Join(ctx context.Context, gameID string, p Peer) (*Session, error) {
	for {
		sess, err := s.GetOrCreate(ctx, gameID)
		if err != nil {
			return nil, err
		}
		err = sess.Attach(p)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrSessionRetired) {
			return nil, err
		}
		s.forget(sess)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (s *Store) forget(sess *Session) {
	s.mu.Lock()
	if cur, ok := s.sessions[sess.id]; ok && cur == sess {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()
}

// Get returns the live session for id, if any.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) all() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// List returns snapshots of every live session ordered by id.
func (s *Store) List() []Snapshot {
	sessions := s.all()
	out := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats is a point-in-time summary used by the health endpoint.
type Stats struct {
	Sessions int `json:"sessions"`
	Peers    int `json:"peers"`
}

func (s *Store) Stats() Stats {
	sessions := s.all()
	st := Stats{Sessions: len(sessions)}
	for _, sess := range sessions {
		st.Peers += sess.PeerCount()
	}
	return st
}

// Reap retires and removes sessions that have been empty longer than the idle TTL.
// Lock order is store then session.
func (s *Store) Reap() int {
	if s.idleTTL <= 0 {
		return 0
	}
	now := s.now()
	s.mu.Lock()
	var reaped []string
	for id, sess := range s.sessions {
		if sess.retireIfIdle(now, s.idleTTL) {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	s.mu.Unlock()
	for _, id := range reaped {
		obslog.L().Info("session_reaped", zap.String("game_id", id))
	}
	return len(reaped)
}

// Run reaps idle sessions until ctx is done.
func (s *Store) Run(ctx context.Context) {
	if s.idleTTL <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(s.reapEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Reap()
		}
	}
}

// Shutdown closes every attached peer. Sessions stay registered.
func (s *Store) Shutdown(reason string) int {
	n := 0
	for _, sess := range s.all() {
		n += sess.closeAll(reason)
	}
	obslog.L().Info("store_shutdown", zap.Int("peers_closed", n))
	return n
}
