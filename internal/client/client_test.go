package client

import (
    "context"
    "errors"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/park285/chess-world/internal/gateway"
    "github.com/park285/chess-world/internal/rules"
    "github.com/park285/chess-world/internal/session"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type liveServer struct {
    store *session.Store
    url   string
}

func startServer(t *testing.T) *liveServer {
    t.Helper()
    st := session.NewStore(rules.NewChess())
    hs := httptest.NewServer(gateway.New(st, gateway.Options{}).Handler())
    t.Cleanup(func() {
        st.Shutdown("test done")
        hs.Close()
    })
    return &liveServer{store: st, url: hs.URL}
}

type probe struct {
    positions  chan rules.Position
    rejections chan string
}

func newProbe() *probe {
    return &probe{positions: make(chan rules.Position, 16), rejections: make(chan string, 16)}
}

func (p *probe) config(base, gameID string) Config {
    return Config{
        BaseURL:     base,
        GameID:      gameID,
        OnPosition:  func(pos rules.Position) { p.positions <- pos },
        OnRejection: func(reason string) { p.rejections <- reason },
    }
}

func (p *probe) nextPosition(t *testing.T) rules.Position {
    t.Helper()
    select {
    case pos := <-p.positions:
        return pos
    case <-time.After(5 * time.Second):
        t.Fatalf("timed out waiting for position")
        return ""
    }
}

func runClient(t *testing.T, cfg Config) *Client {
    t.Helper()
    c, err := New(cfg)
    require.NoError(t, err)
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan struct{})
    go func() {
        defer close(done)
        _ = c.Run(ctx)
    }()
    t.Cleanup(func() {
        cancel()
        <-done
    })
    return c
}

func TestPlayPredictsThenConfirms(t *testing.T) {
    srv := startServer(t)
    p := newProbe()
    c := runClient(t, p.config(srv.url, "opt"))
    assert.Equal(t, rules.Position(rules.StartFEN), p.nextPosition(t))

    require.NoError(t, c.Play(context.Background(), "e2e4"))
    assert.True(t, strings.HasPrefix(c.View().String(), "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b"))

    confirmed := p.nextPosition(t)
    assert.False(t, c.Pending())
    assert.Equal(t, confirmed, c.View())
    assert.Equal(t, confirmed, c.Confirmed())
}

func TestLocallyIllegalMoveNotSent(t *testing.T) {
    srv := startServer(t)
    p := newProbe()
    c := runClient(t, p.config(srv.url, "local"))
    p.nextPosition(t)

    err := c.Play(context.Background(), "e2e5")
    assert.ErrorIs(t, err, rules.ErrIllegalMove)
    assert.False(t, c.Pending())

    err = c.Play(context.Background(), "nonsense")
    assert.ErrorIs(t, err, rules.ErrMalformedMove)

    sess, ok := srv.store.Get("local")
    require.True(t, ok)
    assert.Empty(t, sess.Snapshot().MovesUCI)
}

// permissive accepts every move so the server gets to reject it.
type permissive struct{}

func (permissive) Start() rules.Position { return rules.StartFEN }

func (permissive) Apply(rules.Line, rules.Move) (rules.Result, error) {
    return rules.Result{Position: rules.Position("8/8/8/8/8/8/8/8 w - - 0 1"), Outcome: rules.NoOutcome}, nil
}

func (permissive) Replay(line rules.Line) (rules.Result, error) {
    return rules.Result{Position: line.Root, Outcome: rules.NoOutcome}, nil
}

func TestServerRejectionDiscardsPrediction(t *testing.T) {
    srv := startServer(t)
    p := newProbe()
    cfg := p.config(srv.url, "reject")
    cfg.Oracle = permissive{}
    c := runClient(t, cfg)
    start := p.nextPosition(t)

    require.NoError(t, c.Play(context.Background(), "e2e5"))
    select {
    case reason := <-p.rejections:
        assert.Equal(t, "Invalid move e2e5", reason)
    case <-time.After(5 * time.Second):
        t.Fatalf("timed out waiting for rejection")
    }
    assert.False(t, c.Pending())
    assert.Equal(t, start, c.View())
}

func TestReconnectResyncsPosition(t *testing.T) {
    srv := startServer(t)
    p := newProbe()
    cfg := p.config(srv.url, "resync")
    cfg.InitialBackoff = 10 * time.Millisecond
    c := runClient(t, cfg)
    p.nextPosition(t)
    require.NoError(t, c.Play(context.Background(), "d2d4"))
    moved := p.nextPosition(t)

    srv.store.Shutdown("kick")
    assert.Equal(t, moved, p.nextPosition(t))
    assert.Eventually(t, func() bool { return c.State() == StateConnected }, 5*time.Second, 10*time.Millisecond)
}

func TestPlayBeforeConnect(t *testing.T) {
    c, err := New(Config{BaseURL: "ws://127.0.0.1:1"})
    require.NoError(t, err)
    assert.True(t, errors.Is(c.Play(context.Background(), "e2e4"), ErrNotConnected))
}

func TestRunGivesUpAfterMaxTries(t *testing.T) {
    c, err := New(Config{BaseURL: "ws://127.0.0.1:1", MaxDialTries: 2, InitialBackoff: time.Millisecond})
    require.NoError(t, err)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    assert.Error(t, c.Run(ctx))
    assert.Equal(t, StateClosed, c.State())
}

func TestEndpoint(t *testing.T) {
    cases := []struct {
        base, id, want string
    }{
        {"ws://localhost:8080", "", "ws://localhost:8080/ws/game"},
        {"http://localhost:8080/", "room 1", "ws://localhost:8080/ws/game?game_id=room+1"},
        {"https://example.com/chess", "abc", "wss://example.com/chess/ws/game?game_id=abc"},
    }
    for _, tc := range cases {
        got, err := Endpoint(tc.base, tc.id)
        require.NoError(t, err)
        assert.Equal(t, tc.want, got)
    }
    _, err := Endpoint("ftp://x", "")
    assert.Error(t, err)
}

func TestNewGameIDUnique(t *testing.T) {
    assert.NotEqual(t, NewGameID(), NewGameID())
}
