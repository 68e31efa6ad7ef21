package render

import (
	"embed"
	"fmt"
	"image"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/pieces/*.svg
var pieceFiles embed.FS

var allPieces = []nchess.Piece{
	nchess.WhiteKing, nchess.WhiteQueen, nchess.WhiteRook, nchess.WhiteBishop, nchess.WhiteKnight, nchess.WhitePawn,
	nchess.BlackKing, nchess.BlackQueen, nchess.BlackRook, nchess.BlackBishop, nchess.BlackKnight, nchess.BlackPawn,
}

var pieceLetters = map[nchess.PieceType]string{
	nchess.King:   "K",
	nchess.Queen:  "Q",
	nchess.Rook:   "R",
	nchess.Bishop: "B",
	nchess.Knight: "N",
	nchess.Pawn:   "P",
}

// spriteSheet holds every piece rasterised at one square size.
// It is built on first use and read-only afterwards.
type spriteSheet struct {
	size   int
	once   sync.Once
	err    error
	images map[nchess.Piece]*image.RGBA
}

var boardSprites = &spriteSheet{size: squareSize}

func (s *spriteSheet) sprite(piece nchess.Piece) (image.Image, error) {
	s.once.Do(s.build)
	if s.err != nil {
		return nil, s.err
	}
	img, ok := s.images[piece]
	if !ok {
		return nil, fmt.Errorf("no sprite for piece %v", piece)
	}
	return img, nil
}

func (s *spriteSheet) build() {
	s.images = make(map[nchess.Piece]*image.RGBA, len(allPieces))
	for _, piece := range allPieces {
		img, err := rasterisePiece(piece, s.size)
		if err != nil {
			s.err = err
			return
		}
		s.images[piece] = img
	}
}

func rasterisePiece(piece nchess.Piece, size int) (*image.RGBA, error) {
	name := pieceAsset(piece)
	f, err := pieceFiles.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open piece asset %s: %w", name, err)
	}
	defer f.Close()

	icon, err := oksvg.ReadIconStream(f)
	if err != nil {
		return nil, fmt.Errorf("parse piece asset %s: %w", name, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	// a fresh RGBA is fully transparent
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)
	return img, nil
}

// pieceAsset maps a piece to its embedded file, e.g. wK.svg or bN.svg.
func pieceAsset(piece nchess.Piece) string {
	side := "b"
	if piece.Color() == nchess.White {
		side = "w"
	}
	return "assets/pieces/" + side + pieceLetters[piece.Type()] + ".svg"
}
