// Package client is a reconnecting WebSocket client that shows moves optimistically
// and reconciles with the positions the server broadcasts.
package client

import (
    "context"
    "errors"
    "fmt"
    "net/url"
    "strings"
    "sync"
    "time"

    "github.com/cenkalti/backoff/v5"
    "github.com/google/uuid"
    "github.com/park285/chess-world/internal/obslog"
    "github.com/park285/chess-world/internal/rules"
    "github.com/park285/chess-world/internal/wire"
    "go.uber.org/zap"
    "nhooyr.io/websocket"
)

var (
    ErrNotConnected = errors.New("client: not connected")
    ErrNoPosition   = errors.New("client: no position received yet")
)

type State int

const (
    StateDisconnected State = iota
    StateConnecting
    StateConnected
    StateClosed
)

func (s State) String() string {
    switch s {
    case StateConnecting:
        return "connecting"
    case StateConnected:
        return "connected"
    case StateClosed:
        return "closed"
    default:
        return "disconnected"
    }
}

type Config struct {
    // BaseURL is the gateway root, e.g. ws://localhost:8080.
    BaseURL string
    // GameID selects the room. Empty joins the server's default room.
    GameID string
    Oracle rules.Oracle

    // MaxDialTries bounds each reconnect round. 0 retries until the context ends.
    MaxDialTries   uint
    InitialBackoff time.Duration
    MaxBackoff     time.Duration

    OnPosition  func(pos rules.Position)
    OnRejection func(reason string)
    OnState     func(s State)
}

// Client keeps the last server-confirmed position plus at most one locally predicted move.
type Client struct {
    cfg      Config
    endpoint string

    mu          sync.Mutex
    conn        *websocket.Conn
    state       State
    confirmed   rules.Position
    speculative rules.Position
}

// NewGameID returns a fresh id for a private room.
func NewGameID() string { return uuid.NewString() }

// Endpoint builds the room URL for base and gameID.
func Endpoint(base, gameID string) (string, error) {
    u, err := url.Parse(strings.TrimSpace(base))
    if err != nil { return "", err }
    switch u.Scheme {
    case "ws", "wss":
    case "http":
        u.Scheme = "ws"
    case "https":
        u.Scheme = "wss"
    default:
        return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
    }
    u.Path = strings.TrimRight(u.Path, "/") + "/ws/game"
    q := url.Values{}
    if id := strings.TrimSpace(gameID); id != "" {
        q.Set("game_id", id)
    }
    u.RawQuery = q.Encode()
    return u.String(), nil
}

func New(cfg Config) (*Client, error) {
    ep, err := Endpoint(cfg.BaseURL, cfg.GameID)
    if err != nil { return nil, err }
    if cfg.Oracle == nil { cfg.Oracle = rules.NewChess() }
    if cfg.InitialBackoff <= 0 { cfg.InitialBackoff = 200 * time.Millisecond }
    if cfg.MaxBackoff <= 0 { cfg.MaxBackoff = 10 * time.Second }
    return &Client{cfg: cfg, endpoint: ep}, nil
}

// Run connects and keeps the client connected until ctx ends or a reconnect round gives up.
func (c *Client) Run(ctx context.Context) error {
    defer c.setState(StateClosed)
    for {
        conn, err := c.dial(ctx)
        if err != nil {
            if ctx.Err() != nil { return ctx.Err() }
            return fmt.Errorf("dial %s: %w", c.endpoint, err)
        }
        c.attach(conn)
        err = c.readLoop(ctx, conn)
        c.detach(conn)
        _ = conn.Close(websocket.StatusNormalClosure, "bye")
        if ctx.Err() != nil { return ctx.Err() }
        obslog.L().Warn("client_disconnected", zap.String("endpoint", c.endpoint), zap.Error(err))
    }
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
    c.setState(StateConnecting)
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = c.cfg.InitialBackoff
    b.MaxInterval = c.cfg.MaxBackoff

    opts := []backoff.RetryOption{
        backoff.WithBackOff(b),
        backoff.WithMaxElapsedTime(0),
        backoff.WithNotify(func(err error, next time.Duration) {
            obslog.L().Debug("client_dial_retry", zap.String("endpoint", c.endpoint), zap.Duration("next", next), zap.Error(err))
        }),
    }
    if c.cfg.MaxDialTries > 0 {
        opts = append(opts, backoff.WithMaxTries(c.cfg.MaxDialTries))
    }
    return backoff.Retry(ctx, func() (*websocket.Conn, error) {
        dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
        defer cancel()
        conn, _, err := websocket.Dial(dctx, c.endpoint, &websocket.DialOptions{
            CompressionMode: websocket.CompressionNoContextTakeover,
        })
        return conn, err
    }, opts...)
}

func (c *Client) attach(conn *websocket.Conn) {
    c.mu.Lock()
    c.conn = conn
    c.mu.Unlock()
    c.setState(StateConnected)
}

func (c *Client) detach(conn *websocket.Conn) {
    c.mu.Lock()
    if c.conn == conn {
        c.conn = nil
    }
    // a prediction sent on a dead socket is never answered
    c.speculative = ""
    c.mu.Unlock()
    c.setState(StateDisconnected)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
    for {
        typ, data, err := conn.Read(ctx)
        if err != nil { return err }
        if typ != websocket.MessageText { continue }
        f, err := wire.Decode(string(data))
        if err != nil { continue }
        switch f.Kind {
        case wire.KindPosition:
            c.adopt(rules.Position(f.Body))
        case wire.KindRejection:
            c.reject(f.Body)
        }
    }
}

// adopt replaces the confirmed position and drops any prediction.
func (c *Client) adopt(pos rules.Position) {
    c.mu.Lock()
    c.confirmed = pos
    c.speculative = ""
    cb := c.cfg.OnPosition
    c.mu.Unlock()
    if cb != nil { cb(pos) }
}

// reject discards the prediction entirely; the view falls back to the confirmed position.
func (c *Client) reject(reason string) {
    c.mu.Lock()
    c.speculative = ""
    cb := c.cfg.OnRejection
    c.mu.Unlock()
    if cb != nil { cb(reason) }
}

// Play predicts token locally and sends it. A move the local oracle refuses is not sent.
func (c *Client) Play(ctx context.Context, token string) error {
    mv, err := rules.ParseMove(token)
    if err != nil { return err }

    c.mu.Lock()
    conn := c.conn
    base := c.viewLocked()
    c.mu.Unlock()
    if conn == nil { return ErrNotConnected }
    if base == "" { return ErrNoPosition }

    res, err := c.cfg.Oracle.Apply(rules.At(base), mv)
    if err != nil { return err }

    c.mu.Lock()
    c.speculative = res.Position
    c.mu.Unlock()

    if err := conn.Write(ctx, websocket.MessageText, []byte(mv.String())); err != nil {
        c.mu.Lock()
        c.speculative = ""
        c.mu.Unlock()
        return fmt.Errorf("send move: %w", err)
    }
    return nil
}

// View is the position to display: the prediction if one is pending, else the confirmed one.
func (c *Client) View() rules.Position {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.viewLocked()
}

func (c *Client) viewLocked() rules.Position {
    if c.speculative != "" { return c.speculative }
    return c.confirmed
}

// Confirmed is the last position received from the server.
func (c *Client) Confirmed() rules.Position {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.confirmed
}

// Pending reports whether a predicted move awaits confirmation.
func (c *Client) Pending() bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.speculative != ""
}

func (c *Client) State() State {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.state
}

func (c *Client) setState(s State) {
    c.mu.Lock()
    if c.state == s {
        c.mu.Unlock()
        return
    }
    c.state = s
    cb := c.cfg.OnState
    c.mu.Unlock()
    if cb != nil { cb(s) }
}
