package builder

import (
    "context"
    "fmt"
    "testing"
    "time"

    miniredis "github.com/alicebob/miniredis/v2"
    "github.com/park285/chess-world/internal/config"
)

type nopPeer struct{}

func (nopPeer) ID() string       { return "p" }
func (nopPeer) Send(string) bool { return true }
func (nopPeer) Close(string)     {}

func TestNewWithoutBackends(t *testing.T) {
    cfg := config.Defaults()
    d, err := New(context.Background(), cfg)
    if err != nil { t.Fatalf("New: %v", err) }
    defer d.Close()
    if d.Archive != nil { t.Fatalf("archive should be disabled without REDIS_URL") }
    if d.Store == nil || d.Gateway == nil || d.Recorder == nil { t.Fatalf("missing deps: %+v", d) }
}

func TestNewWithRedisMirrorsMoves(t *testing.T) {
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    defer mr.Close()

    cfg := config.Defaults()
    cfg.RedisURL = fmt.Sprintf("redis://%s/0", mr.Addr())
    cfg.SnapshotTTL = time.Hour
    d, err := New(context.Background(), cfg)
    if err != nil { t.Fatalf("New: %v", err) }

    ctx := context.Background()
    sess, err := d.Store.Join(ctx, "wired", nopPeer{})
    if err != nil { t.Fatalf("Join: %v", err) }
    if v := sess.Submit(nopPeer{}, "e2e4"); !v.Applied { t.Fatalf("rejected: %s", v.Reason) }
    d.Close()

    if !mr.Exists("cw:game:wired") { t.Fatalf("snapshot not mirrored") }
}

func TestNewBadRedis(t *testing.T) {
    cfg := config.Defaults()
    cfg.RedisURL = "redis://127.0.0.1:1/0"
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if _, err := New(ctx, cfg); err == nil { t.Fatalf("expected error for unreachable redis") }
}
