// internal/store/memory.go
//
// In-memory implementation of the Store interface.
// Used by tests and when STORAGE=memory; state is lost on restart.
//
// Characteristics:
//   - Snapshots are values, so callers never share mutable state with the map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Older snapshot versions never overwrite newer ones.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/rating"
)

// memory is a map-based Store implementation.
type memory struct {
	mu       sync.RWMutex
	sessions map[string]stored
	players  map[string]PlayerRecord
	seq      int
}

type stored struct {
	snap game.Snapshot
	seq  int
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() Store {
	return &memory{
		sessions: make(map[string]stored),
		players:  make(map[string]PlayerRecord),
	}
}

func (m *memory) LoadSession(_ context.Context, id string) (game.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return cloneSnapshot(s.snap), nil
	}
	return game.Snapshot{}, ErrNotFound
}

func (m *memory) SaveSession(_ context.Context, snap game.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[snap.ID]
	if ok && cur.snap.Version > snap.Version {
		return nil
	}
	seq := cur.seq
	if !ok {
		m.seq++
		seq = m.seq
	}
	m.sessions[snap.ID] = stored{snap: cloneSnapshot(snap), seq: seq}
	return nil
}

func (m *memory) FindOpenSessions(_ context.Context) ([]game.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []stored
	for _, s := range m.sessions {
		if s.snap.Open() {
			open = append(open, s)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].seq < open[j].seq })
	out := make([]game.Snapshot, 0, len(open))
	for _, s := range open {
		out = append(out, cloneSnapshot(s.snap))
	}
	return out, nil
}

func (m *memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memory) Player(_ context.Context, name string) (PlayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.players[name]; ok {
		return p, nil
	}
	return PlayerRecord{}, ErrNotFound
}

func (m *memory) SavePlayer(_ context.Context, p PlayerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.ensure(p.Name)
	cur.SecretHash = p.SecretHash
	m.players[p.Name] = cur
	return nil
}

func (m *memory) RecordResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, l := m.ensure(r.Winner), m.ensure(r.Loser)
	if r.Draw {
		w.Draws++
		l.Draws++
	} else {
		w.Rating, l.Rating = rating.Adjust(w.Rating, l.Rating)
		w.Wins++
		l.Losses++
	}
	m.players[w.Name] = w
	m.players[l.Name] = l
	return nil
}

func (m *memory) Leaderboard(_ context.Context, limit int) ([]PlayerRecord, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PlayerRecord, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memory) Close() error { return nil }

// ensure returns the record for name, creating it at the initial rating.
// Caller holds m.mu.
func (m *memory) ensure(name string) PlayerRecord {
	if p, ok := m.players[name]; ok {
		return p
	}
	return PlayerRecord{Name: name, Rating: rating.Initial, CreatedAt: time.Now().UTC()}
}

func cloneSnapshot(s game.Snapshot) game.Snapshot {
	s.Players = append([]game.Player(nil), s.Players...)
	return s
}
