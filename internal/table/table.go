// internal/table/table.go
//
// Concurrency wrapper around a single game session.
// Responsibilities:
//   - Serialise every read-modify-write of the session behind one mutex.
//   - Reject moves from a named player who does not hold the turn.
//   - After each mutation: persist, notify the OnChange hook, schedule AI.
//   - Run AI moves as delayed background tasks that re-enter through the
//     same locked path as human moves.
//
// Notes:
//   - Bus listeners and the OnChange hook run while the table lock is held.
//     They must not call back into the Table and must not block.
//   - Only the current player is ever scheduled.

package table

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/connect4/internal/game"
)

// DefaultAIDelay is the "thinking" pause before an AI move is committed.
const DefaultAIDelay = 500 * time.Millisecond

// Saver persists session snapshots. store.Store satisfies it.
type Saver interface {
	SaveSession(ctx context.Context, snap game.Snapshot) error
}

// Option customises a Table.
type Option func(*Table)

// WithSaver persists a snapshot after every accepted mutation.
func WithSaver(s Saver) Option { return func(t *Table) { t.saver = s } }

// WithAIDelay overrides DefaultAIDelay.
func WithAIDelay(d time.Duration) Option { return func(t *Table) { t.delay = d } }

// WithOnChange registers a hook that receives every post-mutation snapshot.
func WithOnChange(fn func(game.Snapshot)) Option { return func(t *Table) { t.onChange = fn } }

// Table owns one session and its lock.
type Table struct {
	mu      sync.Mutex
	session *game.Session

	saver    Saver
	delay    time.Duration
	onChange func(game.Snapshot)

	pending sync.WaitGroup
	timers  map[*time.Timer]struct{}
	closed  bool
}

// New wraps s. The caller must not touch s directly afterwards.
func New(s *game.Session, opts ...Option) *Table {
	t := &Table{
		session: s,
		delay:   DefaultAIDelay,
		timers:  make(map[*time.Timer]struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ID returns the session id.
func (t *Table) ID() string { return t.session.ID() }

// Snapshot returns a consistent copy of the session state.
func (t *Table) Snapshot() game.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Snapshot()
}

// Subscribe attaches fn to the session bus.
func (t *Table) Subscribe(fn game.Listener) int { return t.session.Bus().Subscribe(fn) }

// Unsubscribe detaches a listener registered with Subscribe.
func (t *Table) Unsubscribe(handle int) { t.session.Bus().Unsubscribe(handle) }

// Join seats p.
func (t *Table) Join(p game.Player) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.session.AddPlayer(p); err != nil {
		return err
	}
	t.changed()
	return nil
}

// Start moves the session out of Waiting with first to play.
func (t *Table) Start(first string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.session.Start(first); err != nil {
		return err
	}
	t.changed()
	return nil
}

// PlaceTile applies a move for player. An empty player name skips the turn
// ownership check, which is how a local single-seat UI drives the session.
func (t *Table) PlaceTile(player string, col int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session.State().Finished() {
		return false, game.ErrSessionFinished
	}
	if player != "" {
		cur, ok := t.session.CurrentPlayer()
		if !ok {
			return false, game.ErrNotEnoughPlayers
		}
		if cur.Name != player {
			if t.session.IndexOf(player) < 0 {
				return false, game.ErrUnknownPlayer
			}
			return false, game.ErrNotYourTurn
		}
	}
	return t.place(col)
}

// place is the single locked entry point for moves. Caller holds t.mu.
func (t *Table) place(col int) (bool, error) {
	ok, err := t.session.PlaceTile(col)
	if err != nil {
		if ok {
			log.Error().Err(err).Str("session", t.session.ID()).Int("column", col).Msg("engine invariant broken")
			t.changed()
		}
		return ok, err
	}
	if ok {
		t.changed()
	}
	return ok, nil
}

// Reset restarts the game with the first player to move.
func (t *Table) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.session.Reset(); err != nil {
		return err
	}
	t.changed()
	return nil
}

// SetVariant switches the rule set.
func (t *Table) SetVariant(v game.Variant) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.session.SetVariant(v); err != nil {
		return err
	}
	t.changed()
	return nil
}

// SetDifficulty switches the AI tier.
func (t *Table) SetDifficulty(d game.Difficulty) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.session.SetDifficulty(d); err != nil {
		return err
	}
	t.changed()
	return nil
}

// Sync re-publishes every attribute on the session bus.
func (t *Table) Sync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.Sync()
}

// Restore replaces the session state, e.g. from a fresher server snapshot.
func (t *Table) Restore(snap game.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.session.Restore(snap); err != nil {
		return err
	}
	t.schedule()
	return nil
}

// changed runs the post-mutation pipeline. Caller holds t.mu.
// A closed table neither persists nor notifies, so a mutation racing
// Close cannot bring a discarded session back into the store.
func (t *Table) changed() {
	if t.closed {
		return
	}
	snap := t.session.Snapshot()
	if t.saver != nil {
		if err := t.saver.SaveSession(context.Background(), snap); err != nil {
			log.Warn().Err(err).Str("session", snap.ID).Msg("save session")
		}
	}
	if t.onChange != nil {
		t.onChange(snap)
	}
	t.schedule()
}

// schedule arms an AI move when the player to act is a computer.
// Caller holds t.mu.
func (t *Table) schedule() {
	if t.closed || t.session.State() != game.Ongoing {
		return
	}
	cur, ok := t.session.CurrentPlayer()
	if !ok || !cur.IsAI() {
		return
	}
	turn := t.session.Turn()
	t.pending.Add(1)
	var tm *time.Timer
	tm = time.AfterFunc(t.delay, func() {
		defer t.pending.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.timers, tm)
		t.playAI(turn)
	})
	t.timers[tm] = struct{}{}
}

// playAI commits the AI move scheduled for turn. Caller holds t.mu.
func (t *Table) playAI(turn int) {
	if t.closed || t.session.State() != game.Ongoing || t.session.Turn() != turn {
		return
	}
	cur, ok := t.session.CurrentPlayer()
	if !ok || !cur.IsAI() {
		return
	}
	col, err := t.session.SuggestMove()
	if err != nil {
		log.Error().Err(err).Str("session", t.session.ID()).Str("player", cur.Name).Msg("ai move")
		return
	}
	if _, err := t.place(col); err != nil {
		log.Error().Err(err).Str("session", t.session.ID()).Str("player", cur.Name).Int("column", col).Msg("ai place")
		return
	}
	log.Debug().Str("session", t.session.ID()).Str("player", cur.Name).Int("column", col).Msg("ai moved")
}

// Wait blocks until every scheduled AI move has run or been cancelled.
func (t *Table) Wait() { t.pending.Wait() }

// Close cancels pending AI moves and stops scheduling new ones.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for tm := range t.timers {
		if tm.Stop() {
			t.pending.Done()
		}
		delete(t.timers, tm)
	}
}
