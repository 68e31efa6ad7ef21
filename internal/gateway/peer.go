package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-world/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	reasonSlow     = "slow consumer"
	reasonShutdown = "server shutdown"
	reasonIdle     = "idle timeout"
)

// wsPeer adapts one websocket connection to session.Peer.
// Frames are queued on send and written by a single writer goroutine.
type wsPeer struct {
	id     string
	gameID string
	conn   *websocket.Conn

	send         chan string
	done         chan struct{}
	closeOnce    sync.Once
	reasonMu     sync.Mutex
	reason       string
	writeTimeout time.Duration
}

func newWSPeer(conn *websocket.Conn, gameID string, queue int, writeTimeout time.Duration) *wsPeer {
	return &wsPeer{
		id:           uuid.NewString(),
		gameID:       gameID,
		conn:         conn,
		send:         make(chan string, queue),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (p *wsPeer) ID() string { return p.id }

// Send never blocks. False means the peer is closed or its queue is full.
func (p *wsPeer) Send(frame string) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *wsPeer) Close(reason string) {
	p.closeOnce.Do(func() {
		p.reasonMu.Lock()
		p.reason = reason
		p.reasonMu.Unlock()
		close(p.done)
	})
}

func (p *wsPeer) closeReason() string {
	p.reasonMu.Lock()
	defer p.reasonMu.Unlock()
	return p.reason
}

// writeLoop drains the queue until the peer is closed, then closes the socket.
func (p *wsPeer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-p.done:
			reason := p.closeReason()
			_ = p.conn.Close(closeCode(reason), reason)
			return
		case frame := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
			err := p.conn.Write(wctx, websocket.MessageText, []byte(frame))
			cancel()
			if err != nil {
				obslog.L().Debug("ws_write_error", zap.String("game_id", p.gameID), zap.String("peer_id", p.id), zap.Error(err))
				p.Close("write failed")
			}
		}
	}
}

func closeCode(reason string) websocket.StatusCode {
	switch reason {
	case reasonSlow:
		return websocket.StatusPolicyViolation
	case reasonShutdown:
		return websocket.StatusGoingAway
	default:
		return websocket.StatusNormalClosure
	}
}
