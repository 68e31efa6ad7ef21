package results

import (
    "context"
    "sync"
    "time"

    "github.com/park285/chess-world/internal/obslog"
    "github.com/park285/chess-world/internal/session"
    "go.uber.org/zap"
)

const saveTimeout = 5 * time.Second

// Recorder is a session.Observer that persists games as they finish.
type Recorder struct {
    repo  Repository
    queue chan Record
    done  chan struct{}

    mu     sync.RWMutex
    closed bool
}

func NewRecorder(repo Repository, queue int) *Recorder {
    if queue <= 0 { queue = 64 }
    r := &Recorder{
        repo:  repo,
        queue: make(chan Record, queue),
        done:  make(chan struct{}),
    }
    go r.loop()
    return r
}

// MoveApplied ignores moves that do not end the game.
func (r *Recorder) MoveApplied(ev session.MoveEvent) {
    if !ev.Finished() { return }
    r.mu.RLock()
    defer r.mu.RUnlock()
    if r.closed { return }
    rec := FromEvent(ev)
    select {
    case r.queue <- rec:
    default:
        obslog.L().Warn("result_queue_full", zap.String("game_id", ev.GameID), zap.String("result", rec.Result))
    }
}

func (r *Recorder) loop() {
    defer close(r.done)
    for rec := range r.queue {
        ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
        if err := r.repo.Save(ctx, rec); err != nil {
            obslog.L().Error("result_persist_error", zap.String("game_id", rec.GameID), zap.String("result", rec.Result), zap.Error(err))
        } else {
            obslog.L().Info("result_persist", zap.String("game_id", rec.GameID), zap.String("result", rec.Result), zap.String("method", rec.Method), zap.Int("plies", len(rec.MovesSAN)))
        }
        cancel()
    }
}

// Repository returns the backing store for read queries.
func (r *Recorder) Repository() Repository { return r.repo }

// Close drains pending saves and closes the repository.
func (r *Recorder) Close() error {
    r.mu.Lock()
    if r.closed {
        r.mu.Unlock()
        return nil
    }
    r.closed = true
    close(r.queue)
    r.mu.Unlock()
    <-r.done
    return r.repo.Close()
}
