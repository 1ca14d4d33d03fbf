// internal/store/sqlite.go
//
// SQLite implementation of the Store interface.
// Responsibilities:
//   - Opening SQLite database with safe defaults (WAL, busy timeout, foreign keys).
//   - Applying embedded migrations (idempotent, recorded in _migrations).
//   - Session snapshots as JSON with a version guard on upsert.
//   - Player records and rating updates inside a transaction.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/connect4/assets"
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/rating"
)

// SQLite is a Store backed by a single database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if missing) the database at path and
// applies pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrate(db, assets.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// openDB ensures the parent directory exists, then opens the file with busy
// timeout and WAL journaling and enforces foreign keys.
func openDB(dsn string) (*sql.DB, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// migrate applies the *.sql files under migrations/ in fsys in lexical
// order, each inside its own transaction, skipping files already recorded
// in _migrations.
func migrate(db *sql.DB, fsys fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	files, err := assets.Migrations(fsys)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, f := range files {
		var done int
		err := db.QueryRow(`SELECT 1 FROM _migrations WHERE name=?`, f).Scan(&done)
		if err == nil {
			log.Debug().Str("migration", f).Msg("already applied")
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query _migrations: %w", err)
		}

		sqlBytes, err := fs.ReadFile(fsys, f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, f); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", f, err)
		}
		log.Info().Str("migration", f).Msg("applied")
	}
	return nil
}

// ------------------------------ sessions -----------------------------------

func (s *SQLite) LoadSession(ctx context.Context, id string) (game.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE id=?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return game.Snapshot{}, err
	}
	return decodeSnapshot(raw)
}

func (s *SQLite) SaveSession(ctx context.Context, snap game.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", snap.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sessions (id, variant, difficulty, state, player_count, version, snapshot, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            variant=excluded.variant,
            difficulty=excluded.difficulty,
            state=excluded.state,
            player_count=excluded.player_count,
            version=excluded.version,
            snapshot=excluded.snapshot,
            updated_at=excluded.updated_at
        WHERE excluded.version >= sessions.version`,
		snap.ID, snap.Variant.String(), snap.Difficulty.String(), string(snap.State),
		len(snap.Players), snap.Version, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLite) FindOpenSessions(ctx context.Context) ([]game.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT snapshot FROM sessions
        WHERE player_count < ?
        ORDER BY rowid ASC`, game.RequiredPlayers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func decodeSnapshot(raw string) (game.Snapshot, error) {
	var snap game.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return game.Snapshot{}, fmt.Errorf("decode session: %w", err)
	}
	return snap, nil
}

// ------------------------------- players -----------------------------------

const playerColumns = `name, secret_hash, rating, wins, losses, draws, created_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanPlayer(row rowScanner) (PlayerRecord, error) {
	var p PlayerRecord
	var created string
	if err := row.Scan(&p.Name, &p.SecretHash, &p.Rating, &p.Wins, &p.Losses, &p.Draws, &created); err != nil {
		return PlayerRecord{}, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return p, nil
}

func (s *SQLite) Player(ctx context.Context, name string) (PlayerRecord, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE name=?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerRecord{}, ErrNotFound
	}
	return p, err
}

func (s *SQLite) SavePlayer(ctx context.Context, p PlayerRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO players (name, secret_hash, rating, created_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET secret_hash=excluded.secret_hash`,
		p.Name, p.SecretHash, rating.Initial, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// RecordResult reads both ratings, applies the adjustment and writes them
// back in one transaction.
func (s *SQLite) RecordResult(ctx context.Context, r Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, name := range []string{r.Winner, r.Loser} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO players (name, rating, created_at) VALUES (?, ?, ?)`,
			name, rating.Initial, now); err != nil {
			return fmt.Errorf("ensure player %s: %w", name, err)
		}
	}

	if r.Draw {
		if _, err := tx.ExecContext(ctx,
			`UPDATE players SET draws = draws + 1 WHERE name IN (?, ?)`, r.Winner, r.Loser); err != nil {
			return err
		}
		return tx.Commit()
	}

	var w, l int
	if err := tx.QueryRowContext(ctx, `SELECT rating FROM players WHERE name=?`, r.Winner).Scan(&w); err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx, `SELECT rating FROM players WHERE name=?`, r.Loser).Scan(&l); err != nil {
		return err
	}
	w, l = rating.Adjust(w, l)
	if _, err := tx.ExecContext(ctx, `UPDATE players SET rating=?, wins = wins + 1 WHERE name=?`, w, r.Winner); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE players SET rating=?, losses = losses + 1 WHERE name=?`, l, r.Loser); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Leaderboard(ctx context.Context, limit int) ([]PlayerRecord, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+playerColumns+`
        FROM players
        ORDER BY rating DESC, name ASC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PlayerRecord, 0, limit)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Ping checks the database connection; used by /health.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

var _ Store = (*SQLite)(nil)

// Open selects a backend by kind ("memory" or "sqlite").
func Open(kind, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("unknown storage %q", kind)
}
