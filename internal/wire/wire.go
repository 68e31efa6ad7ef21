// Package wire defines the text frames exchanged on a game socket.
//
// Server frames come in two disjoint kinds: a bare FEN for position updates and
// "error:<reason>" for a rejection addressed to the submitter only. A FEN never
// starts with "error:", so a single prefix check tells them apart.
package wire

import (
	"errors"
	"strings"
)

const RejectPrefix = "error:"

type Kind int

const (
	KindPosition Kind = iota + 1
	KindRejection
)

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindRejection:
		return "rejection"
	default:
		return "unknown"
	}
}

// Frame is a decoded server frame.
type Frame struct {
	Kind Kind
	Body string
}

var ErrEmptyFrame = errors.New("empty frame")

func Position(fen string) string { return fen }

func Rejection(reason string) string { return RejectPrefix + reason }

// Decode classifies a server frame.
func Decode(raw string) (Frame, error) {
	if strings.TrimSpace(raw) == "" {
		return Frame{}, ErrEmptyFrame
	}
	if strings.HasPrefix(raw, RejectPrefix) {
		return Frame{Kind: KindRejection, Body: strings.TrimPrefix(raw, RejectPrefix)}, nil
	}
	return Frame{Kind: KindPosition, Body: raw}, nil
}

// Reasons sent back to a submitter. Wording follows the legacy web client.
func InvalidMove(token string) string   { return "Invalid move " + token }
func InvalidFormat(token string) string { return "Invalid UCI format " + token }
