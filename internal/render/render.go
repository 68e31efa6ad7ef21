// Package render draws a position as a PNG board image.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var ErrBadPosition = errors.New("render: invalid position")

// Options tune a single render.
type Options struct {
	// LastMove in UCI form; its squares are tinted.
	LastMove string
	// Caption is drawn above the board when set.
	Caption string
	// Flip draws the board from black's side.
	Flip bool
}

const (
	squareSize   = 64
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	margin       = 24
	captionSpace = 28
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	background      = color.RGBA{28, 31, 46, 255}
	lastMoveFill    = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	coordinateColor = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
	captionColor    = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
)

var (
	ranks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	files = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

// PNG renders fen.
func PNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, err := boardFrom(fen)
	if err != nil {
		return nil, err
	}

	top := margin
	if strings.TrimSpace(opts.Caption) != "" {
		top += captionSpace
	}
	origin := image.Point{X: margin, Y: top}
	img := image.NewRGBA(image.Rect(0, 0, boardSize+margin*2, boardSize+top+margin))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, imagedraw.Src)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	drawSquares(img, origin, opts.Flip)
	if from, to, ok := parseSquares(opts.LastMove); ok {
		drawSquareOverlay(img, from, origin, opts.Flip, lastMoveFill)
		drawSquareOverlay(img, to, origin, opts.Flip, lastMoveFill)
	}
	if err := drawPieces(img, board, origin, opts.Flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, opts.Flip)
	if c := strings.TrimSpace(opts.Caption); c != "" {
		drawText(img, c, margin, margin+13, captionColor)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func boardFrom(fen string) (*nchess.Board, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}

// cell returns the top-left pixel of the square at (file, rank) indices.
func cell(file, rank int, origin image.Point, flip bool) image.Point {
	col, row := file, 7-rank
	if flip {
		col, row = 7-file, rank
	}
	return image.Point{X: origin.X + col*squareSize, Y: origin.Y + row*squareSize}
}

func drawSquares(dst imagedraw.Image, origin image.Point, flip bool) {
	for _, rank := range ranks {
		for _, file := range files {
			p := cell(int(file), int(rank), origin, flip)
			clr := lightSquare
			if (int(file)+int(rank))%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, image.Rect(p.X, p.Y, p.X+squareSize, p.Y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawSquareOverlay(dst imagedraw.Image, sq nchess.Square, origin image.Point, flip bool, clr color.Color) {
	p := cell(int(sq.File()), int(sq.Rank()), origin, flip)
	imagedraw.Draw(dst, image.Rect(p.X, p.Y, p.X+squareSize, p.Y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point, flip bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := boardSprites.sprite(piece)
		if err != nil {
			return err
		}
		p := cell(int(sq.File()), int(sq.Rank()), origin, flip)
		imagedraw.Draw(dst, image.Rect(p.X, p.Y, p.X+squareSize, p.Y+squareSize), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawCoordinates(dst imagedraw.Image, origin image.Point, flip bool) {
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for _, rank := range ranks {
		p := cell(0, int(rank), origin, flip)
		if flip {
			p = cell(7, int(rank), origin, flip)
		}
		drawText(dst, rank.String(), origin.X-margin/2-3, p.Y+squareSize/2+ascent/2, coordinateColor)
	}
	for _, file := range files {
		p := cell(int(file), 0, origin, flip)
		if flip {
			p = cell(int(file), 7, origin, flip)
		}
		drawText(dst, file.String(), p.X+squareSize/2-3, origin.Y+boardSize+ascent+4, coordinateColor)
	}
}

func drawText(dst imagedraw.Image, text string, x, baseline int, clr color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(clr),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}

func parseSquares(uci string) (nchess.Square, nchess.Square, bool) {
	u := strings.ToLower(strings.TrimSpace(uci))
	if len(u) < 4 {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	from, ok1 := square(u[0:2])
	to, ok2 := square(u[2:4])
	return from, to, ok1 && ok2
}

func square(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}
