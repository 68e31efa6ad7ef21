package results

import (
    "context"
    "os"
    "strings"
    "testing"
    "time"

    "github.com/park285/chess-world/internal/rules"
    "github.com/park285/chess-world/internal/session"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type nopPeer struct{}

func (nopPeer) ID() string       { return "p" }
func (nopPeer) Send(string) bool { return true }
func (nopPeer) Close(string)     {}

func TestBuildPGN(t *testing.T) {
    rec := Record{
        GameID:   `room "1"`,
        Result:   "0-1",
        Method:   "Checkmate",
        MovesSAN: []string{"f3", "e5", "g4", "Qh4#"},
        EndedAt:  time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
    }
    pgn := BuildPGN(rec)
    assert.Contains(t, pgn, `[Site "room '1'"]`)
    assert.Contains(t, pgn, `[Date "2024.03.09"]`)
    assert.Contains(t, pgn, `[Termination "checkmate"]`)
    assert.Contains(t, pgn, `[Result "0-1"]`)
    assert.True(t, strings.HasSuffix(pgn, "1. f3 e5 2. g4 Qh4# 0-1"), pgn)
}

func TestBuildPGNOddPlies(t *testing.T) {
    pgn := BuildPGN(Record{MovesSAN: []string{"e4"}})
    assert.True(t, strings.HasSuffix(pgn, "1. e4 *"), pgn)
}

func TestMemoryRepositoryOrdering(t *testing.T) {
    ctx := context.Background()
    repo := NewMemoryRepository()
    base := time.Unix(1_700_000_000, 0)
    require.NoError(t, repo.Save(ctx, Record{ID: "a", GameID: "g1", EndedAt: base}))
    require.NoError(t, repo.Save(ctx, Record{ID: "b", GameID: "g2", EndedAt: base.Add(time.Minute)}))
    require.NoError(t, repo.Save(ctx, Record{ID: "c", GameID: "g1", EndedAt: base.Add(2 * time.Minute)}))

    recent, err := repo.Recent(ctx, 2)
    require.NoError(t, err)
    require.Len(t, recent, 2)
    assert.Equal(t, "c", recent[0].ID)
    assert.Equal(t, "b", recent[1].ID)

    g1, err := repo.ByGame(ctx, "g1")
    require.NoError(t, err)
    require.Len(t, g1, 2)
    assert.Equal(t, "c", g1[0].ID)
}

func TestRecorderPersistsFinishedGame(t *testing.T) {
    repo := NewMemoryRepository()
    rec := NewRecorder(repo, 4)
    st := session.NewStore(rules.NewChess(), session.WithObserver(rec))

    ctx := context.Background()
    p := nopPeer{}
    sess, err := st.Join(ctx, "mate", p)
    require.NoError(t, err)
    for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
        require.True(t, sess.Submit(p, mv).Applied, mv)
    }
    require.NoError(t, rec.Close())

    got, err := repo.ByGame(ctx, "mate")
    require.NoError(t, err)
    require.Len(t, got, 1)
    assert.Equal(t, "0-1", got[0].Result)
    assert.Equal(t, "checkmate", got[0].Method)
    assert.Equal(t, []string{"f2f3", "e7e5", "g2g4", "d8h4"}, got[0].MovesUCI)
    assert.Contains(t, got[0].PGN, "2. g4 Qh4")
}

func TestRecorderIgnoresOngoingGames(t *testing.T) {
    repo := NewMemoryRepository()
    rec := NewRecorder(repo, 4)
    rec.MoveApplied(session.MoveEvent{GameID: "g", Ply: 1, UCI: "e2e4", Outcome: rules.NoOutcome})
    require.NoError(t, rec.Close())
    got, _ := repo.Recent(context.Background(), 0)
    assert.Empty(t, got)
}

func TestPostgresRepository(t *testing.T) {
    dsn := os.Getenv("TEST_DATABASE_URL")
    if dsn == "" {
        t.Skip("TEST_DATABASE_URL not set")
    }
    ctx := context.Background()
    repo, err := NewPostgresRepository(ctx, dsn)
    require.NoError(t, err)
    defer repo.Close()

    now := time.Now().UTC().Truncate(time.Millisecond)
    in := Record{ID: "pgtest-" + now.Format("150405.000"), GameID: "pg", Result: "1/2-1/2", Method: "stalemate",
        MovesUCI: []string{"e2e4"}, MovesSAN: []string{"e4"}, StartedAt: now.Add(-time.Minute), EndedAt: now}
    in.PGN = BuildPGN(in)
    require.NoError(t, repo.Save(ctx, in))

    got, err := repo.ByGame(ctx, "pg")
    require.NoError(t, err)
    require.NotEmpty(t, got)
    assert.Equal(t, in.ID, got[0].ID)
    assert.Equal(t, in.MovesSAN, got[0].MovesSAN)
}
