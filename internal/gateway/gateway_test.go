package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/chess-world/internal/results"
	"github.com/park285/chess-world/internal/rules"
	"github.com/park285/chess-world/internal/session"
	"github.com/park285/chess-world/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b"

type harness struct {
	store *session.Store
	srv   *Server
	http  *httptest.Server
}

func newHarness(t *testing.T, opts Options, extra ...ServerOption) *harness {
	t.Helper()
	st := session.NewStore(rules.NewChess())
	srv := New(st, opts, extra...)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		st.Shutdown(reasonShutdown)
		hs.Close()
	})
	return &harness{store: st, srv: srv, http: hs}
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + path
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	return string(data)
}

func send(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(msg)))
}

func TestDefaultRoomReceivesStartPosition(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.dial(t, "/ws/game")
	assert.Equal(t, rules.StartFEN, readFrame(t, c))

	_, ok := h.store.Get("default")
	assert.True(t, ok)
}

func TestMoveBroadcastToRoom(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.dial(t, "/ws/game?game_id=r1")
	b := h.dial(t, "/ws/game?game_id=r1")
	readFrame(t, a)
	readFrame(t, b)

	send(t, a, "e2e4")
	assert.True(t, strings.HasPrefix(readFrame(t, a), afterE4))
	assert.True(t, strings.HasPrefix(readFrame(t, b), afterE4))
}

func TestRejectionOnlyToSender(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.dial(t, "/ws/game/r2")
	b := h.dial(t, "/ws/game/r2")
	readFrame(t, a)
	readFrame(t, b)

	send(t, b, "e2e5")
	assert.Equal(t, wire.Rejection(wire.InvalidMove("e2e5")), readFrame(t, b))

	send(t, b, "garbage!")
	assert.Equal(t, wire.Rejection(wire.InvalidFormat("garbage!")), readFrame(t, b))

	// tokens are case and whitespace sensitive
	send(t, b, "E2E4")
	assert.Equal(t, wire.Rejection(wire.InvalidFormat("E2E4")), readFrame(t, b))
	send(t, b, "e2e4\n")
	assert.Equal(t, wire.Rejection(wire.InvalidFormat("e2e4\n")), readFrame(t, b))

	// a's next frame must be the position from the legal move, not a rejection
	send(t, b, "e2e4")
	assert.True(t, strings.HasPrefix(readFrame(t, a), afterE4))
}

func TestRoomsIsolated(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.dial(t, "/ws/game/one")
	b := h.dial(t, "/ws/game/two")
	readFrame(t, a)
	readFrame(t, b)

	send(t, a, "e2e4")
	readFrame(t, a)

	// b's room is untouched: a legal white move there still works
	send(t, b, "d2d4")
	f := readFrame(t, b)
	assert.True(t, strings.HasPrefix(f, "rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR b"), f)
}

func TestLateJoinerSeesCurrentPosition(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.dial(t, "/ws/game/late")
	readFrame(t, a)
	send(t, a, "e2e4")
	moved := readFrame(t, a)

	b := h.dial(t, "/ws/game/late")
	assert.Equal(t, moved, readFrame(t, b))
}

func TestBinaryFrameRejected(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.dial(t, "/ws/game/bin")
	readFrame(t, c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageBinary, []byte("e2e4")))
	assert.True(t, strings.HasPrefix(readFrame(t, c), wire.RejectPrefix))
}

func TestOversizedFrameClosesSocket(t *testing.T) {
	h := newHarness(t, Options{MaxMessageBytes: 16})
	c := h.dial(t, "/ws/game/big")
	readFrame(t, c)
	send(t, c, strings.Repeat("x", 64))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))

	assert.Eventually(t, func() bool { return h.srv.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidGameIDRejectedBeforeUpgrade(t *testing.T) {
	h := newHarness(t, Options{})
	resp, err := http.Get(h.http.URL + "/ws/game?game_id=" + strings.Repeat("x", 200))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisconnectDetachesPeer(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.dial(t, "/ws/game/bye")
	readFrame(t, c)
	sess, ok := h.store.Get("bye")
	require.True(t, ok)
	require.Equal(t, 1, sess.PeerCount())

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "done"))
	assert.Eventually(t, func() bool { return sess.PeerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPSurface(t *testing.T) {
	repo := results.NewMemoryRepository()
	h := newHarness(t, Options{}, WithResults(repo), WithHealthCheck("archive", func(context.Context) error { return nil }))
	c := h.dial(t, "/ws/game/http")
	readFrame(t, c)
	send(t, c, "e2e4")
	readFrame(t, c)

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.Equal(t, int64(1), health.Connections)
	assert.Equal(t, "ok", health.Checks["archive"])

	resp, err = http.Get(h.http.URL + "/games/http")
	require.NoError(t, err)
	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, []string{"e2e4"}, snap.MovesUCI)
	assert.Equal(t, 1, snap.Peers)

	resp, err = http.Get(h.http.URL + "/games/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(h.http.URL + "/games/http/board.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(h.http.URL + "/results")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthDegraded(t *testing.T) {
	h := newHarness(t, Options{}, WithHealthCheck("db", func(context.Context) error { return assert.AnError }))
	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWSPeerSendNeverBlocks(t *testing.T) {
	p := newWSPeer(nil, "g", 2, time.Second)
	assert.True(t, p.Send("a"))
	assert.True(t, p.Send("b"))
	assert.False(t, p.Send("c"), "full queue must refuse")
	p.Close(reasonSlow)
	p.Close("again")
	assert.False(t, p.Send("d"))
	assert.Equal(t, reasonSlow, p.closeReason())
	assert.Equal(t, websocket.StatusPolicyViolation, closeCode(reasonSlow))
}
