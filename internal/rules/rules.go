package rules

import (
	"errors"
	"fmt"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is a FEN snapshot. Immutable once produced.
type Position string

func (p Position) String() string { return string(p) }

var (
	ErrMalformedMove = errors.New("malformed move token")
	ErrIllegalMove   = errors.New("illegal move")
)

// IllegalMoveError reports a move the oracle refused. Reason is diagnostic, not user-facing.
type IllegalMoveError struct {
	Move   string
	Reason string
}

func (e *IllegalMoveError) Error() string {
	if e.Reason != "" {
		return "illegal move " + e.Move + ": " + e.Reason
	}
	return "illegal move " + e.Move
}

func (e *IllegalMoveError) Is(target error) bool { return target == ErrIllegalMove }

// Move is a compact origin/destination pair with an optional promotion piece.
type Move struct {
	From      string
	To        string
	Promotion byte // 0, 'q', 'r', 'b' or 'n'
}

// String renders the move in UCI form (e2e4, e7e8q).
func (m Move) String() string {
	if m.Promotion == 0 {
		return m.From + m.To
	}
	return m.From + m.To + string(m.Promotion)
}

// ParseMove accepts exactly [a-h][1-8][a-h][1-8][qrbn]?. Case and surrounding
// whitespace are significant: "E2E4" and "e2e4\n" are malformed.
func ParseMove(token string) (Move, error) {
	t := token
	if len(t) != 4 && len(t) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrMalformedMove, token)
	}
	if !isSquare(t[0:2]) || !isSquare(t[2:4]) {
		return Move{}, fmt.Errorf("%w: %q", ErrMalformedMove, token)
	}
	mv := Move{From: t[0:2], To: t[2:4]}
	if len(t) == 5 {
		switch t[4] {
		case 'q', 'r', 'b', 'n':
			mv.Promotion = t[4]
		default:
			return Move{}, fmt.Errorf("%w: %q", ErrMalformedMove, token)
		}
	}
	return mv, nil
}

func isSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// Outcome mirrors PGN result tokens.
type Outcome string

const (
	NoOutcome Outcome = "*"
	WhiteWon  Outcome = "1-0"
	BlackWon  Outcome = "0-1"
	Draw      Outcome = "1/2-1/2"
)

// Result is what the oracle returns for a legal move.
type Result struct {
	Position Position
	SAN      string
	Outcome  Outcome
	Method   string // checkmate, stalemate, ... empty while the game is running
}

// Finished reports whether the move ended the game.
func (r Result) Finished() bool { return r.Outcome != "" && r.Outcome != NoOutcome }

// Line is a game as its root position and the UCI moves played from it.
// Repetition draws can only be judged with the full line.
type Line struct {
	Root  Position
	Moves []string
}

// At is a line with no history, for callers that only hold a position.
func At(pos Position) Line { return Line{Root: pos} }

// Oracle adjudicates moves. Implementations hold no state of their own.
type Oracle interface {
	Start() Position
	// Apply plays mv after line. A refused mv is an IllegalMoveError; any other
	// error means line itself could not be replayed.
	Apply(line Line, mv Move) (Result, error)
	// Replay plays line and reports where it ends. Used to vet restored games.
	Replay(line Line) (Result, error)
}
