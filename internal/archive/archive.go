// Package archive mirrors session snapshots to Redis so rooms survive a restart.
package archive

import (
    "context"
    "encoding/json"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/park285/chess-world/internal/obslog"
    "github.com/park285/chess-world/internal/session"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
)

const (
    keyPrefix    = "cw:game:"
    defaultTTL   = 24 * time.Hour
    defaultQueue = 256
    writeTimeout = 2 * time.Second
)

// Archive writes snapshots on a single worker, in the order moves were applied.
type Archive struct {
    rdb *redis.Client
    ttl time.Duration

    queue chan session.Snapshot
    done  chan struct{}

    // mu guards closed against the queue being closed under a concurrent send.
    mu     sync.RWMutex
    closed bool

    dropped atomic.Int64
}

type Options struct {
    TTL   time.Duration
    Queue int
}

// New connects to redisURL and starts the writer.
func New(ctx context.Context, redisURL string, opts Options) (*Archive, error) {
    if strings.TrimSpace(redisURL) == "" {
        return nil, fmt.Errorf("REDIS_URL required for archive")
    }
    ropts, err := parseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(ropts)
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewWithClient(rdb, opts), nil
}

// NewWithClient wraps an existing client. The archive owns it from here on.
func NewWithClient(rdb *redis.Client, opts Options) *Archive {
    if opts.TTL <= 0 { opts.TTL = defaultTTL }
    if opts.Queue <= 0 { opts.Queue = defaultQueue }
    a := &Archive{
        rdb:   rdb,
        ttl:   opts.TTL,
        queue: make(chan session.Snapshot, opts.Queue),
        done:  make(chan struct{}),
    }
    go a.loop()
    return a
}

// MoveApplied enqueues the post-move snapshot. Never blocks; a full queue drops the write.
func (a *Archive) MoveApplied(ev session.MoveEvent) {
    a.mu.RLock()
    defer a.mu.RUnlock()
    if a.closed { return }
    select {
    case a.queue <- ev.Snapshot:
    default:
        a.dropped.Add(1)
        obslog.L().Warn("archive_queue_full", zap.String("game_id", ev.GameID), zap.Int("ply", ev.Ply))
    }
}

func (a *Archive) loop() {
    defer close(a.done)
    for snap := range a.queue {
        ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
        if err := a.Save(ctx, snap); err != nil {
            obslog.L().Error("archive_save_error", zap.String("game_id", snap.ID), zap.Error(err))
        }
        cancel()
    }
}

// Save writes snap synchronously.
func (a *Archive) Save(ctx context.Context, snap session.Snapshot) error {
    raw, err := json.Marshal(snap)
    if err != nil { return err }
    return a.rdb.Set(ctx, gameKey(snap.ID), raw, a.ttl).Err()
}

// Load returns the saved snapshot for id, or nil when none exists.
func (a *Archive) Load(ctx context.Context, id string) (*session.Snapshot, error) {
    raw, err := a.rdb.Get(ctx, gameKey(id)).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    var snap session.Snapshot
    if err := json.Unmarshal(raw, &snap); err != nil {
        return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
    }
    // peer count is a live figure, not state to restore
    snap.Peers = 0
    return &snap, nil
}

// Delete removes the saved snapshot for id.
func (a *Archive) Delete(ctx context.Context, id string) error {
    return a.rdb.Del(ctx, gameKey(id)).Err()
}

// Ping checks the Redis connection.
func (a *Archive) Ping(ctx context.Context) error {
    return a.rdb.Ping(ctx).Err()
}

// Dropped returns how many snapshots were discarded because the queue was full.
func (a *Archive) Dropped() int64 { return a.dropped.Load() }

// Close drains queued writes and closes the Redis client.
func (a *Archive) Close() error {
    a.mu.Lock()
    if a.closed {
        a.mu.Unlock()
        return nil
    }
    a.closed = true
    close(a.queue)
    a.mu.Unlock()
    <-a.done
    return a.rdb.Close()
}

func gameKey(id string) string { return keyPrefix + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(raw)
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" { if n, err := strconv.Atoi(p); err == nil { db = n } }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
