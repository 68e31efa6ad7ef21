package session

import (
	"errors"
	"sync"
	"time"

	"github.com/park285/chess-world/internal/obslog"
	"github.com/park285/chess-world/internal/rules"
	"github.com/park285/chess-world/internal/wire"
	"go.uber.org/zap"
)

// Session owns one game room: its current position and its attached peers.
// A single mutex serialises Attach, Detach and Submit.
type Session struct {
	id        string
	oracle    rules.Oracle
	observers []Observer
	now       func() time.Time

	mu         sync.Mutex
	root       rules.Position
	pos        rules.Position
	movesUCI   []string
	movesSAN   []string
	outcome    rules.Outcome
	method     string
	peers      map[string]Peer
	createdAt  time.Time
	updatedAt  time.Time
	emptySince time.Time
	retired    bool
}

func newSession(id string, oracle rules.Oracle, observers []Observer, now func() time.Time) *Session {
	t := now()
	start := oracle.Start()
	return &Session{
		id:         id,
		oracle:     oracle,
		observers:  observers,
		now:        now,
		root:       start,
		pos:        start,
		outcome:    rules.NoOutcome,
		peers:      make(map[string]Peer),
		createdAt:  t,
		updatedAt:  t,
		emptySince: t,
	}
}

// restore seeds a fresh session from a saved snapshot. Only called before the session is published.
// The saved moves are replayed from the start; a snapshot that does not replay is discarded.
func (s *Session) restore(snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	res, err := s.oracle.Replay(rules.Line{Root: s.root, Moves: snap.MovesUCI})
	if err != nil || len(snap.MovesSAN) != len(snap.MovesUCI) {
		obslog.L().Warn("session_restore_discarded",
			zap.String("game_id", s.id),
			zap.String("fen", snap.FEN),
			zap.Int("plies", len(snap.MovesUCI)),
			zap.Error(err),
		)
		return false
	}
	if res.Position.String() != snap.FEN {
		obslog.L().Warn("session_restore_fen_mismatch", zap.String("game_id", s.id), zap.String("saved", snap.FEN), zap.String("replayed", res.Position.String()))
	}
	s.pos = res.Position
	s.movesUCI = append([]string(nil), snap.MovesUCI...)
	s.movesSAN = append([]string(nil), snap.MovesSAN...)
	s.outcome = res.Outcome
	s.method = res.Method
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	return true
}

func (s *Session) ID() string { return s.id }

// Attach adds p and pushes the current position to it before any later broadcast can reach it.
func (s *Session) Attach(p Peer) error {
	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return ErrSessionRetired
	}
	s.peers[p.ID()] = p
	ok := p.Send(wire.Position(s.pos.String()))
	if !ok {
		delete(s.peers, p.ID())
		s.markEmptyLocked()
	}
	n := len(s.peers)
	s.mu.Unlock()

	if !ok {
		go p.Close("send failed")
		return ErrPeerRefused
	}
	obslog.L().Info("peer_attach", zap.String("game_id", s.id), zap.String("peer_id", p.ID()), zap.Int("peers", n))
	return nil
}

// Detach removes p. No frame is sent to anyone.
func (s *Session) Detach(p Peer) {
	s.mu.Lock()
	_, had := s.peers[p.ID()]
	delete(s.peers, p.ID())
	s.markEmptyLocked()
	n := len(s.peers)
	s.mu.Unlock()
	if had {
		obslog.L().Info("peer_detach", zap.String("game_id", s.id), zap.String("peer_id", p.ID()), zap.Int("peers", n))
	}
}

// Submit adjudicates token on behalf of p. On success the new position is
// broadcast to every attached peer, p included; otherwise only p gets a rejection.
func (s *Session) Submit(p Peer, token string) Verdict {
	mv, perr := rules.ParseMove(token)

	s.mu.Lock()
	if _, ok := s.peers[p.ID()]; !ok {
		s.mu.Unlock()
		return Verdict{Reason: "not attached", Err: ErrNotAttached}
	}
	if perr != nil {
		v := s.rejectLocked(p, wire.InvalidFormat(token), perr)
		s.mu.Unlock()
		return v
	}

	res, err := s.oracle.Apply(rules.Line{Root: s.root, Moves: s.movesUCI}, mv)
	if err != nil {
		reason := wire.InvalidMove(token)
		var ime *rules.IllegalMoveError
		if !errors.As(err, &ime) {
			obslog.L().Warn("oracle_error", zap.String("game_id", s.id), zap.String("move", mv.String()), zap.Error(err))
		}
		v := s.rejectLocked(p, reason, err)
		s.mu.Unlock()
		return v
	}

	now := s.now()
	s.pos = res.Position
	s.movesUCI = append(s.movesUCI, mv.String())
	s.movesSAN = append(s.movesSAN, res.SAN)
	s.outcome = res.Outcome
	s.method = res.Method
	s.updatedAt = now
	ply := len(s.movesUCI)

	dropped := s.broadcastLocked(wire.Position(res.Position.String()))

	ev := MoveEvent{
		GameID:   s.id,
		Ply:      ply,
		UCI:      mv.String(),
		SAN:      res.SAN,
		Position: res.Position,
		Outcome:  res.Outcome,
		Method:   res.Method,
		Snapshot: s.snapshotLocked(),
		At:       now,
	}
	for _, o := range s.observers {
		o.MoveApplied(ev)
	}
	s.mu.Unlock()

	s.closeDropped(dropped)
	obslog.L().Info("move_applied",
		zap.String("game_id", s.id),
		zap.String("peer_id", p.ID()),
		zap.String("uci", mv.String()),
		zap.String("san", res.SAN),
		zap.Int("ply", ply),
		zap.String("outcome", string(res.Outcome)),
	)
	if ev.Finished() {
		obslog.L().Info("game_finished", zap.String("game_id", s.id), zap.String("outcome", string(res.Outcome)), zap.String("method", res.Method))
	}
	return Verdict{Applied: true, Position: res.Position, Ply: ply}
}

func (s *Session) rejectLocked(p Peer, reason string, cause error) Verdict {
	if !p.Send(wire.Rejection(reason)) {
		delete(s.peers, p.ID())
		s.markEmptyLocked()
		go p.Close("send failed")
	}
	obslog.L().Debug("move_rejected", zap.String("game_id", s.id), zap.String("peer_id", p.ID()), zap.String("reason", reason))
	return Verdict{Reason: reason, Position: s.pos, Ply: len(s.movesUCI), Err: cause}
}

// broadcastLocked enqueues frame on every peer. Peers that refuse are removed and returned for closing.
func (s *Session) broadcastLocked(frame string) []Peer {
	var dropped []Peer
	for id, p := range s.peers {
		if p.Send(frame) {
			continue
		}
		delete(s.peers, id)
		dropped = append(dropped, p)
	}
	if len(dropped) > 0 {
		s.markEmptyLocked()
	}
	return dropped
}

func (s *Session) closeDropped(dropped []Peer) {
	for _, p := range dropped {
		obslog.L().Warn("peer_drop", zap.String("game_id", s.id), zap.String("peer_id", p.ID()))
		go p.Close("slow consumer")
	}
}

func (s *Session) markEmptyLocked() {
	if len(s.peers) == 0 {
		s.emptySince = s.now()
	}
}

// Position returns the current position.
func (s *Session) Position() rules.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// PeerCount returns the number of attached peers.
func (s *Session) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		FEN:       s.pos.String(),
		MovesUCI:  append([]string{}, s.movesUCI...),
		MovesSAN:  append([]string{}, s.movesSAN...),
		Peers:     len(s.peers),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Method:    s.method,
	}
	if s.outcome != rules.NoOutcome {
		snap.Outcome = string(s.outcome)
	}
	return snap
}

// retireIfIdle marks the session retired when it has had no peers for at least ttl.
func (s *Session) retireIfIdle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return true
	}
	if len(s.peers) > 0 || now.Sub(s.emptySince) < ttl {
		return false
	}
	s.retired = true
	return true
}

// closeAll detaches and closes every peer. Used on shutdown.
func (s *Session) closeAll(reason string) int {
	s.mu.Lock()
	peers := make([]Peer, 0, len(s.peers))
	for id, p := range s.peers {
		peers = append(peers, p)
		delete(s.peers, id)
	}
	s.markEmptyLocked()
	s.mu.Unlock()
	for _, p := range peers {
		p.Close(reason)
	}
	return len(peers)
}
