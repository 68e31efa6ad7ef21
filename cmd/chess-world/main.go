package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/park285/chess-world/internal/builder"
    appcfg "github.com/park285/chess-world/internal/config"
    "github.com/park285/chess-world/internal/obslog"
    "go.uber.org/zap"
)

func main() {
    // .env is optional; real environment wins
    _ = godotenv.Load()

    if err := obslog.InitFromEnv(); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    defer obslog.Sync()

    cfg, err := appcfg.Load()
    if err != nil {
        obslog.L().Fatal("config_error", zap.Error(err))
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    deps, err := builder.New(ctx, cfg)
    if err != nil {
        obslog.L().Fatal("init_error", zap.Error(err))
    }

    go deps.Store.Run(ctx)

    srv := &http.Server{
        Addr:              cfg.ListenAddr,
        Handler:           deps.Gateway.Handler(),
        ReadHeaderTimeout: 10 * time.Second,
    }
    errCh := make(chan error, 1)
    go func() {
        obslog.L().Info("server_start",
            zap.String("addr", cfg.ListenAddr),
            zap.String("default_game_id", cfg.DefaultGameID),
            zap.Bool("archive", deps.Archive != nil),
        )
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            errCh <- err
        }
        close(errCh)
    }()

    select {
    case <-ctx.Done():
    case err := <-errCh:
        if err != nil {
            obslog.L().Error("server_error", zap.Error(err))
        }
    }

    obslog.L().Info("server_shutdown", zap.Duration("timeout", cfg.ShutdownTimeout))
    sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
    defer cancel()
    if err := srv.Shutdown(sctx); err != nil {
        obslog.L().Warn("http_shutdown_error", zap.Error(err))
    }
    // hijacked sockets are not covered by http.Server.Shutdown
    deps.Store.Shutdown("server shutdown")
    deps.Close()
}
