package results

import (
    "context"
    "sort"
    "strings"
    "sync"
)

// memrepo keeps finished games in process. Used when no database is configured.
type memrepo struct {
    mu     sync.RWMutex
    byID   map[string]Record
    byGame map[string][]string
}

func NewMemoryRepository() Repository {
    return &memrepo{
        byID:   make(map[string]Record),
        byGame: make(map[string][]string),
    }
}

func (m *memrepo) Save(_ context.Context, rec Record) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, exists := m.byID[rec.ID]; !exists {
        m.byGame[rec.GameID] = append(m.byGame[rec.GameID], rec.ID)
    }
    m.byID[rec.ID] = clone(rec)
    return nil
}

func (m *memrepo) Recent(_ context.Context, limit int) ([]Record, error) {
    m.mu.RLock()
    items := make([]Record, 0, len(m.byID))
    for _, r := range m.byID {
        items = append(items, clone(r))
    }
    m.mu.RUnlock()
    sortRecent(items)
    if limit > 0 && len(items) > limit {
        items = items[:limit]
    }
    return items, nil
}

func (m *memrepo) ByGame(_ context.Context, gameID string) ([]Record, error) {
    m.mu.RLock()
    ids := m.byGame[strings.TrimSpace(gameID)]
    items := make([]Record, 0, len(ids))
    for _, id := range ids {
        items = append(items, clone(m.byID[id]))
    }
    m.mu.RUnlock()
    sortRecent(items)
    return items, nil
}

func (m *memrepo) Close() error { return nil }

// EndedAt desc, ID as tiebreak
func sortRecent(items []Record) {
    sort.Slice(items, func(i, j int) bool {
        if !items[i].EndedAt.Equal(items[j].EndedAt) {
            return items[i].EndedAt.After(items[j].EndedAt)
        }
        return items[i].ID > items[j].ID
    })
}

func clone(r Record) Record {
    r.MovesUCI = append([]string{}, r.MovesUCI...)
    r.MovesSAN = append([]string{}, r.MovesSAN...)
    return r
}
