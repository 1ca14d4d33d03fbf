// internal/store/store.go
//
// Persistence interface for sessions and player records.
// Implementations:
//   - memory (this package): map-backed, for tests and STORAGE=memory.
//   - SQLite (sqlite.go): durable, with embedded migrations.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/robalobadob/connect4/internal/game"
)

// ErrNotFound is returned when a session or player does not exist.
var ErrNotFound = errors.New("not found")

// PlayerRecord is the durable profile behind a player name.
type PlayerRecord struct {
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	Rating     int       `json:"rating"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	Draws      int       `json:"draws"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Result is the outcome of one finished game. Loser is the other player on a draw.
type Result struct {
	Winner string
	Loser  string
	Draw   bool
}

// Store persists sessions and players.
type Store interface {
	// LoadSession returns the latest snapshot of a session.
	LoadSession(ctx context.Context, id string) (game.Snapshot, error)
	// SaveSession stores snap unless a newer version is already stored.
	SaveSession(ctx context.Context, snap game.Snapshot) error
	// FindOpenSessions lists sessions with a free seat, oldest first.
	FindOpenSessions(ctx context.Context) ([]game.Snapshot, error)
	// DeleteSession removes a session. Missing ids are not an error.
	DeleteSession(ctx context.Context, id string) error

	// Player returns the record for name.
	Player(ctx context.Context, name string) (PlayerRecord, error)
	// SavePlayer creates or replaces the secret hash of a player.
	SavePlayer(ctx context.Context, p PlayerRecord) error
	// RecordResult adjusts ratings and counters, creating missing players.
	RecordResult(ctx context.Context, r Result) error
	// Leaderboard returns players by rating, highest first.
	Leaderboard(ctx context.Context, limit int) ([]PlayerRecord, error)

	Close() error
}

// DefaultLeaderboardLimit applies when a caller passes limit <= 0.
const DefaultLeaderboardLimit = 20
