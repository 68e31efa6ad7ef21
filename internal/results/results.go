// Package results records finished games with their PGN.
package results

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/park285/chess-world/internal/session"
)

// Record is one finished game.
type Record struct {
    ID        string    `json:"id"`
    GameID    string    `json:"game_id"`
    Result    string    `json:"result"`
    Method    string    `json:"method"`
    MovesUCI  []string  `json:"moves_uci"`
    MovesSAN  []string  `json:"moves_san"`
    PGN       string    `json:"pgn"`
    StartedAt time.Time `json:"started_at"`
    EndedAt   time.Time `json:"ended_at"`
}

// Duration is the wall time between session creation and the final move.
func (r Record) Duration() time.Duration {
    d := r.EndedAt.Sub(r.StartedAt)
    if d < 0 { return 0 }
    return d
}

// Repository stores finished games.
type Repository interface {
    Save(ctx context.Context, rec Record) error
    Recent(ctx context.Context, limit int) ([]Record, error)
    ByGame(ctx context.Context, gameID string) ([]Record, error)
    Close() error
}

// FromEvent builds a Record from the move that ended the game.
func FromEvent(ev session.MoveEvent) Record {
    snap := ev.Snapshot
    rec := Record{
        ID:        uuid.NewString(),
        GameID:    ev.GameID,
        Result:    string(ev.Outcome),
        Method:    strings.ToLower(strings.TrimSpace(ev.Method)),
        MovesUCI:  append([]string{}, snap.MovesUCI...),
        MovesSAN:  append([]string{}, snap.MovesSAN...),
        StartedAt: snap.CreatedAt,
        EndedAt:   ev.At,
    }
    rec.PGN = BuildPGN(rec)
    return rec
}

// BuildPGN renders rec as a PGN game with a minimal tag roster.
func BuildPGN(rec Record) string {
    var b strings.Builder
    date := rec.EndedAt
    if date.IsZero() {
        date = time.Now()
    }
    result := rec.Result
    if result == "" {
        result = "*"
    }
    b.WriteString("[Event \"chess-world\"]\n")
    b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.GameID)))
    b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
    b.WriteString("[White \"?\"]\n")
    b.WriteString("[Black \"?\"]\n")
    if strings.TrimSpace(rec.Method) != "" {
        b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(rec.Method))))
    }
    b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

    for i := 0; i < len(rec.MovesSAN); i += 2 {
        turn := (i / 2) + 1
        b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(rec.MovesSAN[i])))
        if i+1 < len(rec.MovesSAN) {
            b.WriteString(" ")
            b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
        }
        b.WriteString(" ")
    }
    b.WriteString(result)
    return b.String()
}

func sanitizePGN(s string) string {
    s = strings.ReplaceAll(s, "\\", " ")
    s = strings.ReplaceAll(s, "\"", "'")
    return strings.TrimSpace(s)
}
