package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Chess is the Oracle backed by corentings/chess.
type Chess struct{}

func NewChess() *Chess { return &Chess{} }

func (c *Chess) Start() Position { return StartFEN }

// Apply replays line, then decodes and plays mv. The game is rebuilt from the
// root on every call so repetition counts see every earlier position.
func (c *Chess) Apply(line Line, mv Move) (Result, error) {
	game, err := replay(line)
	if err != nil { return Result{}, err }
	cur := game.Position()
	uci := mv.String()
	move, derr := nchess.UCINotation{}.Decode(cur, uci)
	if derr != nil {
		return Result{}, &IllegalMoveError{Move: uci, Reason: derr.Error()}
	}
	san := nchess.AlgebraicNotation{}.Encode(cur, move)
	if merr := game.Move(move, nil); merr != nil {
		return Result{}, &IllegalMoveError{Move: uci, Reason: merr.Error()}
	}
	res := resultOf(game)
	res.SAN = san
	return res, nil
}

// Replay plays line from its root and reports the final position and outcome.
func (c *Chess) Replay(line Line) (Result, error) {
	game, err := replay(line)
	if err != nil { return Result{}, err }
	return resultOf(game), nil
}

// Turn returns "white" or "black" for the side to move in pos.
func (c *Chess) Turn(pos Position) (string, error) {
	game, err := gameFrom(pos)
	if err != nil { return "", err }
	if game.Position().Turn() == nchess.White { return "white", nil }
	return "black", nil
}

func replay(line Line) (*nchess.Game, error) {
	game, err := gameFrom(line.Root)
	if err != nil { return nil, err }
	for i, uci := range line.Moves {
		mv, derr := nchess.UCINotation{}.Decode(game.Position(), uci)
		if derr != nil {
			return nil, fmt.Errorf("replay ply %d %q: %w", i+1, uci, derr)
		}
		if merr := game.Move(mv, nil); merr != nil {
			return nil, fmt.Errorf("replay ply %d %q: %w", i+1, uci, merr)
		}
	}
	return game, nil
}

func resultOf(game *nchess.Game) Result {
	res := Result{
		Position: Position(game.FEN()),
		Outcome:  Outcome(game.Outcome().String()),
	}
	if res.Finished() {
		res.Method = strings.ToLower(game.Method().String())
	}
	return res
}

func gameFrom(pos Position) (*nchess.Game, error) {
	if pos == "" || pos == StartFEN {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(string(pos))
	if err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	return nchess.NewGame(opt), nil
}
