package builder

import (
    "context"
    "fmt"
    "strings"

    "github.com/park285/chess-world/internal/archive"
    "github.com/park285/chess-world/internal/config"
    "github.com/park285/chess-world/internal/gateway"
    "github.com/park285/chess-world/internal/obslog"
    "github.com/park285/chess-world/internal/results"
    "github.com/park285/chess-world/internal/rules"
    "github.com/park285/chess-world/internal/session"
    "go.uber.org/zap"
)

type Deps struct {
    Store    *session.Store
    Gateway  *gateway.Server
    Archive  *archive.Archive
    Recorder *results.Recorder
}

// New wires the store, its observers and the gateway from cfg.
// Redis and Postgres are optional; without them snapshots are not mirrored and results stay in memory.
func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
    if cfg == nil {
        return nil, fmt.Errorf("nil config")
    }
    d := &Deps{}
    storeOpts := []session.Option{
        session.WithIdleTTL(cfg.SessionIdleTTL),
        session.WithReapInterval(cfg.ReapInterval),
    }
    var gwOpts []gateway.ServerOption

    // Archive (Redis optional)
    if strings.TrimSpace(cfg.RedisURL) != "" {
        a, err := archive.New(ctx, cfg.RedisURL, archive.Options{TTL: cfg.SnapshotTTL})
        if err != nil {
            return nil, fmt.Errorf("init archive: %w", err)
        }
        d.Archive = a
        storeOpts = append(storeOpts, session.WithObserver(a), session.WithRestorer(a))
        gwOpts = append(gwOpts, gateway.WithHealthCheck("redis", a.Ping))
        obslog.L().Info("archive_enabled", zap.Duration("ttl", cfg.SnapshotTTL))
    }

    // Results (Postgres optional, memory otherwise)
    var repo results.Repository
    backend := "memory"
    if strings.TrimSpace(cfg.DatabaseURL) != "" {
        pg, err := results.NewPostgresRepository(ctx, cfg.DatabaseURL)
        if err != nil {
            d.Close()
            return nil, fmt.Errorf("init results repository: %w", err)
        }
        repo = pg
        backend = "postgres"
    } else {
        repo = results.NewMemoryRepository()
    }
    d.Recorder = results.NewRecorder(repo, 0)
    storeOpts = append(storeOpts, session.WithObserver(d.Recorder))
    gwOpts = append(gwOpts, gateway.WithResults(repo))
    obslog.L().Info("results_enabled", zap.String("backend", backend))

    d.Store = session.NewStore(rules.NewChess(), storeOpts...)
    d.Gateway = gateway.New(d.Store, gateway.OptionsFrom(cfg), gwOpts...)
    return d, nil
}

// Close flushes observers. Call after the store has stopped accepting moves.
func (d *Deps) Close() {
    if d == nil { return }
    if d.Recorder != nil {
        if err := d.Recorder.Close(); err != nil {
            obslog.L().Warn("results_close_error", zap.Error(err))
        }
    }
    if d.Archive != nil {
        if err := d.Archive.Close(); err != nil {
            obslog.L().Warn("archive_close_error", zap.Error(err))
        }
    }
}
