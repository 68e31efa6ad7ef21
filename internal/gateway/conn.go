package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/park285/chess-world/internal/obslog"
	"github.com/park285/chess-world/internal/session"
	"github.com/park285/chess-world/internal/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// resolveGameID picks the room from the path, then the query, then the default room.
func (s *Server) resolveGameID(r *http.Request) string {
	if id := strings.TrimSpace(chi.URLParam(r, "gameID")); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("game_id")); id != "" {
		return id
	}
	return s.opts.DefaultGameID
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	gameID := s.resolveGameID(r)
	if !session.ValidGameID(gameID) {
		http.Error(w, "invalid game_id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("game_id", gameID), zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(s.opts.MaxMessageBytes)

	s.serveConn(r.Context(), conn, gameID, r.RemoteAddr)
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
	}
	opts.OriginPatterns = s.opts.AllowedOrigins
	return opts
}

func (s *Server) serveConn(parent context.Context, conn *websocket.Conn, gameID, remote string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	peer := newWSPeer(conn, gameID, s.opts.SendQueue, s.opts.WriteTimeout)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		peer.writeLoop(ctx)
	}()

	sess, err := s.store.Join(ctx, gameID, peer)
	if err != nil {
		obslog.L().Warn("ws_join_error", zap.String("game_id", gameID), zap.Error(err))
		peer.Close("join failed")
		wg.Wait()
		return
	}

	s.conns.Add(1)
	obslog.L().Info("ws_connect", zap.String("game_id", gameID), zap.String("peer_id", peer.id), zap.String("remote", remote))

	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(ctx, conn, peer, &lastSeen)
	}()

	err = s.readLoop(ctx, conn, sess, peer, &lastSeen)

	sess.Detach(peer)
	peer.Close(peer.closeReasonOr("client closed"))
	cancel()
	wg.Wait()
	s.conns.Add(-1)

	fields := []zap.Field{zap.String("game_id", gameID), zap.String("peer_id", peer.id), zap.String("reason", peer.closeReason())}
	if status := websocket.CloseStatus(err); status != -1 {
		fields = append(fields, zap.Int("status", int(status)))
	}
	obslog.L().Info("ws_disconnect", fields...)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, peer *wsPeer, lastSeen *atomic.Int64) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusMessageTooBig {
				obslog.L().Info("ws_frame_too_big", zap.String("game_id", sess.ID()), zap.String("peer_id", peer.id))
			}
			return err
		}
		lastSeen.Store(time.Now().UnixNano())

		if typ != websocket.MessageText {
			peer.Send(wire.Rejection(wire.InvalidFormat("binary frame")))
			continue
		}
		v := sess.Submit(peer, string(data))
		if errors.Is(v.Err, session.ErrNotAttached) {
			// dropped by the session as a slow consumer
			return v.Err
		}
	}
}

// keepalive pings on every interval and closes the peer once nothing was heard for the idle timeout.
func (s *Server) keepalive(ctx context.Context, conn *websocket.Conn, peer *wsPeer, lastSeen *atomic.Int64) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				lastSeen.Store(time.Now().UnixNano())
			}
			if time.Since(time.Unix(0, lastSeen.Load())) >= s.opts.IdleTimeout {
				obslog.L().Info("ws_idle_close", zap.String("game_id", peer.gameID), zap.String("peer_id", peer.id))
				peer.Close(reasonIdle)
				return
			}
		}
	}
}

func (p *wsPeer) closeReasonOr(fallback string) string {
	if r := p.closeReason(); r != "" {
		return r
	}
	return fallback
}
