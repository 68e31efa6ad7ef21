package session

import (
	"context"
	"errors"
	"time"

	"github.com/park285/chess-world/internal/rules"
)

var (
	ErrSessionRetired = errors.New("session retired")
	ErrNotAttached    = errors.New("peer not attached to session")
	ErrInvalidGameID  = errors.New("invalid game id")
	ErrPeerRefused    = errors.New("peer refused initial position")
)

// Peer is one attached connection as seen by a Session.
//
// Send must not block: it enqueues the frame and reports false when the peer can
// no longer accept frames (queue full or closed). Close may be called more than once.
type Peer interface {
	ID() string
	Send(frame string) bool
	Close(reason string)
}

// Observer is notified of every applied move, in application order, while the
// session lock is held. Implementations must hand the event off without blocking.
type Observer interface {
	MoveApplied(ev MoveEvent)
}

// Restorer supplies a saved snapshot for a game id that is not in memory.
// A nil snapshot with a nil error means nothing was saved.
type Restorer interface {
	Load(ctx context.Context, gameID string) (*Snapshot, error)
}

// MoveEvent describes one applied move.
type MoveEvent struct {
	GameID   string
	Ply      int
	UCI      string
	SAN      string
	Position rules.Position
	Outcome  rules.Outcome
	Method   string
	Snapshot Snapshot
	At       time.Time
}

// Finished reports whether this move ended the game.
func (e MoveEvent) Finished() bool { return e.Outcome != "" && e.Outcome != rules.NoOutcome }

// Snapshot is an immutable copy of a session's state.
type Snapshot struct {
	ID        string    `json:"id"`
	FEN       string    `json:"fen"`
	MovesUCI  []string  `json:"moves_uci"`
	MovesSAN  []string  `json:"moves_san"`
	Outcome   string    `json:"outcome,omitempty"`
	Method    string    `json:"method,omitempty"`
	Peers     int       `json:"peers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Verdict is the result of Submit.
type Verdict struct {
	Applied  bool
	Reason   string
	Position rules.Position
	Ply      int
	Err      error
}
