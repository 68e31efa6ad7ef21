package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMove(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "e2e4", want: "e2e4"},
		{in: "e7e8q", want: "e7e8q"},
		{in: "a7a8n", want: "a7a8n"},
		{in: "E2E4", wantErr: true},
		{in: "e7e8Q", wantErr: true},
		{in: " e2e4", wantErr: true},
		{in: "e2e4\n", wantErr: true},
		{in: " g1f3 ", wantErr: true},
		{in: "e2e", wantErr: true},
		{in: "e2e4e5", wantErr: true},
		{in: "i2e4", wantErr: true},
		{in: "e0e4", wantErr: true},
		{in: "e7e8k", wantErr: true},
		{in: "Nf3", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			mv, err := ParseMove(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedMove))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mv.String())
		})
	}
}

func TestChessApplyLegalMove(t *testing.T) {
	o := NewChess()
	res, err := o.Apply(At(o.Start()), Move{From: "e2", To: "e4"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Position.String(), "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b"))
	assert.Equal(t, "e4", res.SAN)
	assert.False(t, res.Finished())

	turn, err := o.Turn(res.Position)
	require.NoError(t, err)
	assert.Equal(t, "black", turn)
}

func TestChessApplyIllegalMove(t *testing.T) {
	o := NewChess()
	after, err := o.Apply(At(o.Start()), Move{From: "e2", To: "e4"})
	require.NoError(t, err)

	// no pawn left on e2
	_, err = o.Apply(At(after.Position), Move{From: "e2", To: "e4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalMove))
	var ime *IllegalMoveError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, "e2e4", ime.Move)
	assert.NotEmpty(t, ime.Reason)

	// wrong side to move
	_, err = o.Apply(At(after.Position), Move{From: "d2", To: "d4"})
	assert.True(t, errors.Is(err, ErrIllegalMove))
}

func TestChessApplyDetectsCheckmate(t *testing.T) {
	o := NewChess()
	line := Line{Root: o.Start()}
	for _, tok := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		mv, err := ParseMove(tok)
		require.NoError(t, err)
		res, err := o.Apply(line, mv)
		require.NoError(t, err, tok)
		line.Moves = append(line.Moves, tok)
		if tok == "d8h4" {
			assert.Equal(t, BlackWon, res.Outcome)
			assert.Equal(t, "checkmate", res.Method)
		}
	}
}

func TestChessApplyPromotion(t *testing.T) {
	o := NewChess()
	pos := Position("8/4P3/8/8/8/8/k7/7K w - - 0 1")
	res, err := o.Apply(At(pos), Move{From: "e7", To: "e8", Promotion: 'q'})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Position.String(), "4Q3/8/8/8/8/8/k7/7K b"))
}

func TestChessApplyDetectsFivefoldRepetition(t *testing.T) {
	o := NewChess()
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}
	line := Line{Root: o.Start()}
	var last Result
	for round := 0; round < 4; round++ {
		for _, tok := range shuffle {
			mv, err := ParseMove(tok)
			require.NoError(t, err)
			res, err := o.Apply(line, mv)
			require.NoError(t, err, "ply %d", len(line.Moves)+1)
			line.Moves = append(line.Moves, tok)
			if len(line.Moves) < 16 {
				require.False(t, res.Finished(), "ply %d", len(line.Moves))
			}
			last = res
		}
	}
	// the start position has now occurred five times
	assert.Equal(t, Draw, last.Outcome)
	assert.Equal(t, "fivefoldrepetition", last.Method)

	// without the history the same position looks fresh
	res, err := o.Apply(At(o.Start()), Move{From: "g1", To: "f3"})
	require.NoError(t, err)
	assert.False(t, res.Finished())
}

func TestChessReplay(t *testing.T) {
	o := NewChess()
	res, err := o.Replay(Line{Root: o.Start(), Moves: []string{"e2e4", "e7e5"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Position.String(), "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w"))
	assert.False(t, res.Finished())

	_, err = o.Replay(Line{Root: o.Start(), Moves: []string{"e2e4", "e2e4"}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIllegalMove))

	_, err = o.Replay(Line{Root: "not a fen"})
	require.Error(t, err)
}
