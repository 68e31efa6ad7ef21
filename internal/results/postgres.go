package results

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS finished_games (
    record_id     TEXT PRIMARY KEY,
    game_id       TEXT NOT NULL,
    result        TEXT NOT NULL,
    result_method TEXT NOT NULL DEFAULT '',
    moves_uci     JSONB NOT NULL,
    moves_san     JSONB NOT NULL,
    pgn           TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS finished_games_game_id_idx ON finished_games (game_id);`

type pgrepo struct {
    db *sql.DB
}

// NewPostgresRepository opens databaseURL with lib/pq and ensures the table exists.
func NewPostgresRepository(ctx context.Context, databaseURL string) (Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(8)
    db.SetMaxIdleConns(4)
    db.SetConnMaxLifetime(30 * time.Minute)
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(pctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    if _, err := db.ExecContext(pctx, schema); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("ensure schema: %w", err)
    }
    return &pgrepo{db: db}, nil
}

func (r *pgrepo) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// Save upserts rec keyed by its record id.
func (r *pgrepo) Save(ctx context.Context, rec Record) error {
    movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
    movesSANRaw, _ := json.Marshal(rec.MovesSAN)

    q := `INSERT INTO finished_games (
        record_id, game_id, result, result_method,
        moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
      ) ON CONFLICT (record_id) DO UPDATE SET
        game_id=EXCLUDED.game_id,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

    _, err := r.db.ExecContext(ctx, q,
        rec.ID, rec.GameID, rec.Result, rec.Method,
        string(movesUCIRaw), string(movesSANRaw), rec.PGN,
        rec.StartedAt, rec.EndedAt, rec.Duration().Milliseconds(),
    )
    return err
}

const selectCols = `record_id, game_id, result, result_method, moves_uci, moves_san, pgn, started_at, ended_at`

func (r *pgrepo) Recent(ctx context.Context, limit int) ([]Record, error) {
    if limit <= 0 { limit = 50 }
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+selectCols+` FROM finished_games ORDER BY ended_at DESC, record_id DESC LIMIT $1`, limit)
    if err != nil { return nil, err }
    return scanRecords(rows)
}

func (r *pgrepo) ByGame(ctx context.Context, gameID string) ([]Record, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+selectCols+` FROM finished_games WHERE game_id = $1 ORDER BY ended_at DESC, record_id DESC`,
        strings.TrimSpace(gameID))
    if err != nil { return nil, err }
    return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
    defer rows.Close()
    out := []Record{}
    for rows.Next() {
        var (
            rec    Record
            uciRaw []byte
            sanRaw []byte
        )
        if err := rows.Scan(&rec.ID, &rec.GameID, &rec.Result, &rec.Method, &uciRaw, &sanRaw, &rec.PGN, &rec.StartedAt, &rec.EndedAt); err != nil {
            return nil, err
        }
        if err := json.Unmarshal(uciRaw, &rec.MovesUCI); err != nil { return nil, fmt.Errorf("decode moves_uci: %w", err) }
        if err := json.Unmarshal(sanRaw, &rec.MovesSAN); err != nil { return nil, fmt.Errorf("decode moves_san: %w", err) }
        out = append(out, rec)
    }
    return out, rows.Err()
}
