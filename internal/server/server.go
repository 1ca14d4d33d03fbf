// internal/server/server.go
//
// Authoritative game server.
// Responsibilities:
//   - Session registry (id → Table), lazily refilled from the Store.
//   - Channel registry (player → callback channel + per-session readiness).
//   - Remote operations: Greet, Create, Join, PlaceTile, Reset, Discard,
//     plus the read side (Session, OpenSessions, Leaderboard, Subscribe).
//   - Fan-out: every accepted mutation pushes the new snapshot to each
//     member's channel from its own goroutine, bounded by CallbackTimeout.
//
// Locking:
//   - regMu guards channels; mu guards tables; each Table has its own lock.
//   - Lock order is Table → regMu. Nothing holding regMu or mu takes a Table lock.

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/connect4/internal/callback"
	"github.com/robalobadob/connect4/internal/game"
	"github.com/robalobadob/connect4/internal/store"
	"github.com/robalobadob/connect4/internal/table"
)

var (
	ErrUnknownPlayer  = fmt.Errorf("%w: player has not greeted", game.ErrPrecondition)
	ErrUnknownSession = fmt.Errorf("%w: unknown session", game.ErrPrecondition)
	ErrNotMember      = fmt.Errorf("%w: player is not in this session", game.ErrPrecondition)
	ErrNotOwner       = fmt.Errorf("%w: only the session owner may do this", game.ErrPrecondition)
)

// ComputerName is the seat name of the server-side AI opponent.
const ComputerName = "computer"

// Timeouts.
const (
	DefaultCallbackTimeout = 3 * time.Second
	storeTimeout           = 5 * time.Second
)

// Opponent selects who takes the second seat of a new session.
type Opponent string

const (
	OpponentHuman Opponent = "human"
	OpponentAI    Opponent = "ai"
)

// Dialer opens a callback channel to a client.
type Dialer func(ctx context.Context, host string, port int) (callback.Channel, error)

// Option customises a Server.
type Option func(*Server)

// WithDialer replaces the HTTP callback dialer.
func WithDialer(d Dialer) Option { return func(s *Server) { s.dial = d } }

// WithAIDelay sets the pause before server-side AI moves.
func WithAIDelay(d time.Duration) Option { return func(s *Server) { s.aiDelay = d } }

// WithCallbackTimeout bounds every outbound push.
func WithCallbackTimeout(d time.Duration) Option { return func(s *Server) { s.callbackTimeout = d } }

// registration is one greeted player.
type registration struct {
	ch    callback.Channel
	ready map[string]bool
}

// Server holds the canonical sessions.
type Server struct {
	store           store.Store
	dial            Dialer
	aiDelay         time.Duration
	callbackTimeout time.Duration

	regMu    sync.Mutex
	channels map[string]*registration

	mu     sync.RWMutex
	tables map[string]*table.Table

	inflight sync.WaitGroup
}

// New constructs a Server over st.
func New(st store.Store, opts ...Option) *Server {
	s := &Server{
		store:           st,
		aiDelay:         table.DefaultAIDelay,
		callbackTimeout: DefaultCallbackTimeout,
		channels:        make(map[string]*registration),
		tables:          make(map[string]*table.Table),
	}
	for _, o := range opts {
		o(s)
	}
	if s.dial == nil {
		s.dial = func(ctx context.Context, host string, port int) (callback.Channel, error) {
			ch, err := callback.Dial(ctx, host, port, s.callbackTimeout)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}
	}
	return s
}

// ------------------------------ registry -----------------------------------

// Greet registers (or re-registers) the caller's callback channel.
// It returns false when the channel cannot be opened.
func (s *Server) Greet(ctx context.Context, player, host string, port int) bool {
	if player == "" {
		return false
	}
	ch, err := s.dial(ctx, host, port)
	if err != nil {
		log.Warn().Err(err).Str("player", player).Str("host", host).Int("port", port).Msg("greet: channel unreachable")
		return false
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()
	reg, ok := s.channels[player]
	if !ok {
		reg = &registration{ready: make(map[string]bool)}
		s.channels[player] = reg
	}
	reg.ch = ch
	log.Info().Str("player", player).Str("channel", ch.Addr()).Msg("greeted")
	return true
}

// Greeted reports whether player has a registered channel.
func (s *Server) Greeted(player string) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	_, ok := s.channels[player]
	return ok
}

func (s *Server) channel(player string) (callback.Channel, bool) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	reg, ok := s.channels[player]
	if !ok || reg.ch == nil {
		return nil, false
	}
	return reg.ch, true
}

func (s *Server) markReady(player, sessionID string) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	reg, ok := s.channels[player]
	if !ok {
		return ErrUnknownPlayer
	}
	reg.ready[sessionID] = true
	return nil
}

// allReady reports whether every human seat of snap has greeted and joined.
func (s *Server) allReady(snap game.Snapshot) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	for _, p := range snap.Players {
		if p.IsAI() {
			continue
		}
		reg, ok := s.channels[p.Name]
		if !ok || !reg.ready[snap.ID] {
			return false
		}
	}
	return true
}

func (s *Server) forget(sessionID string) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	for _, reg := range s.channels {
		delete(reg.ready, sessionID)
	}
}

// ------------------------------ sessions -----------------------------------

// newTable wraps sess with persistence, fan-out and result recording.
func (s *Server) newTable(sess *game.Session, state game.CompletionState) *table.Table {
	last := state
	return table.New(sess,
		table.WithSaver(s.store),
		table.WithAIDelay(s.aiDelay),
		table.WithOnChange(func(snap game.Snapshot) {
			if snap.State.Finished() && !last.Finished() {
				s.recordResult(snap)
			}
			last = snap.State
			s.broadcastSync(snap)
		}),
	)
}

// lookup returns the live table for id, loading it from the store on a miss.
func (s *Server) lookup(ctx context.Context, id string) (*table.Table, error) {
	s.mu.RLock()
	tbl, ok := s.tables[id]
	s.mu.RUnlock()
	if ok {
		return tbl, nil
	}

	snap, err := s.store.LoadSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess, err := game.New(snap.ID, snap.Variant, snap.Difficulty)
	if err != nil {
		return nil, err
	}
	loaded := s.newTable(sess, snap.State)
	if err := loaded.Restore(snap); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}

	s.mu.Lock()
	tbl, ok = s.tables[id]
	if !ok {
		s.tables[id] = loaded
	}
	s.mu.Unlock()
	if ok {
		loaded.Close()
		return tbl, nil
	}
	log.Info().Str("session", id).Msg("session loaded from store")
	return loaded, nil
}

// Create opens a new session with player in the first seat.
func (s *Server) Create(ctx context.Context, player string, v game.Variant, d game.Difficulty, opp Opponent) (string, error) {
	if !s.Greeted(player) {
		return "", ErrUnknownPlayer
	}
	if opp != OpponentHuman && opp != OpponentAI {
		return "", fmt.Errorf("%w: unknown opponent %q", game.ErrPrecondition, opp)
	}
	id := uuid.NewString()
	sess, err := game.New(id, v, d)
	if err != nil {
		return "", err
	}
	tbl := s.newTable(sess, game.Waiting)
	if err := tbl.Join(game.Player{Name: player, Kind: game.Human}); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tables[id] = tbl
	s.mu.Unlock()

	if err := s.markReady(player, id); err != nil {
		return "", err
	}
	if opp == OpponentAI {
		name := ComputerName
		if name == player {
			name = ComputerName + "-2"
		}
		if err := tbl.Join(game.Player{Name: name, Kind: game.AI}); err != nil {
			return "", err
		}
		s.maybeStart(tbl)
	}
	log.Info().Str("session", id).Str("player", player).Str("variant", v.String()).
		Str("difficulty", d.String()).Str("opponent", string(opp)).Msg("session created")
	return id, nil
}

// Join seats player in sessionID (if not already seated) and marks the
// player's channel ready. When both seats are ready the session starts.
func (s *Server) Join(ctx context.Context, player, sessionID string) (string, error) {
	if !s.Greeted(player) {
		return "", ErrUnknownPlayer
	}
	tbl, err := s.lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !tbl.Snapshot().HasPlayer(player) {
		err := tbl.Join(game.Player{Name: player, Kind: game.Human})
		if err != nil && !errors.Is(err, game.ErrDuplicatePlayer) {
			return "", err
		}
	}
	if err := s.markReady(player, sessionID); err != nil {
		return "", err
	}
	s.maybeStart(tbl)
	log.Info().Str("session", sessionID).Str("player", player).Msg("joined")
	return sessionID, nil
}

// maybeStart starts a full, ready, waiting session and pushes onStart.
func (s *Server) maybeStart(tbl *table.Table) {
	snap := tbl.Snapshot()
	if snap.State != game.Waiting || len(snap.Players) != game.RequiredPlayers || !s.allReady(snap) {
		return
	}
	first := snap.Players[0].Name
	if err := tbl.Start(first); err != nil {
		if !errors.Is(err, game.ErrWrongPhase) {
			log.Error().Err(err).Str("session", snap.ID).Msg("start")
		}
		return
	}
	log.Info().Str("session", snap.ID).Str("first", first).Msg("session started")
	s.broadcastStart(snap, first)
}

// member returns the live table after checking player is seated in it.
func (s *Server) member(ctx context.Context, player, sessionID string) (*table.Table, game.Snapshot, error) {
	tbl, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, game.Snapshot{}, err
	}
	snap := tbl.Snapshot()
	if !snap.HasPlayer(player) {
		return nil, game.Snapshot{}, ErrNotMember
	}
	return tbl, snap, nil
}

// PlaceTile applies player's move. A full column is (false, nil).
func (s *Server) PlaceTile(ctx context.Context, player, sessionID string, col int) (bool, error) {
	tbl, _, err := s.member(ctx, player, sessionID)
	if err != nil {
		return false, err
	}
	ok, err := tbl.PlaceTile(player, col)
	if err != nil {
		log.Debug().Err(err).Str("session", sessionID).Str("player", player).Int("column", col).Msg("move rejected")
		return false, err
	}
	return ok, nil
}

// Reset restarts a session on behalf of one of its players.
func (s *Server) Reset(ctx context.Context, player, sessionID string) error {
	tbl, _, err := s.member(ctx, player, sessionID)
	if err != nil {
		return err
	}
	return tbl.Reset()
}

// Discard removes a finished session. Only the first seat may discard.
func (s *Server) Discard(ctx context.Context, player, sessionID string) error {
	tbl, snap, err := s.member(ctx, player, sessionID)
	if err != nil {
		return err
	}
	if snap.Players[0].Name != player {
		return ErrNotOwner
	}
	if !snap.State.Finished() && len(snap.Players) == game.RequiredPlayers {
		return game.ErrWrongPhase
	}
	tbl.Close()
	s.mu.Lock()
	delete(s.tables, sessionID)
	s.mu.Unlock()
	s.forget(sessionID)
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	log.Info().Str("session", sessionID).Str("player", player).Msg("session discarded")
	return nil
}

// Session returns the authoritative snapshot of sessionID.
func (s *Server) Session(ctx context.Context, sessionID string) (game.Snapshot, error) {
	tbl, err := s.lookup(ctx, sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}
	return tbl.Snapshot(), nil
}

// OpenSessions lists sessions with a free seat, preferring live state.
func (s *Server) OpenSessions(ctx context.Context) ([]game.Snapshot, error) {
	stored, err := s.store.FindOpenSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]game.Snapshot, 0, len(stored))
	for _, snap := range stored {
		s.mu.RLock()
		tbl, ok := s.tables[snap.ID]
		s.mu.RUnlock()
		if ok {
			snap = tbl.Snapshot()
		}
		if snap.Open() {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Leaderboard returns players by rating.
func (s *Server) Leaderboard(ctx context.Context, limit int) ([]store.PlayerRecord, error) {
	return s.store.Leaderboard(ctx, limit)
}

// Subscribe attaches fn to the event bus of sessionID.
func (s *Server) Subscribe(ctx context.Context, sessionID string, fn game.Listener) (func(), error) {
	tbl, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	h := tbl.Subscribe(fn)
	return func() { tbl.Unsubscribe(h) }, nil
}

// ------------------------------ fan-out ------------------------------------

// broadcastSync pushes snap to every seated player with a channel.
// It runs under the table lock and never blocks.
func (s *Server) broadcastSync(snap game.Snapshot) {
	for _, p := range snap.Players {
		ch, ok := s.channel(p.Name)
		if !ok {
			continue
		}
		s.push(ch, snap.ID, p.Name, "sync", func(ctx context.Context) error {
			return ch.OnSync(ctx, snap)
		})
	}
}

func (s *Server) broadcastStart(snap game.Snapshot, first string) {
	for _, p := range snap.Players {
		ch, ok := s.channel(p.Name)
		if !ok {
			continue
		}
		s.push(ch, snap.ID, p.Name, "start", func(ctx context.Context) error {
			return ch.OnStart(ctx, snap.ID, first)
		})
	}
}

// push delivers one notification from its own goroutine. Failures are logged.
func (s *Server) push(ch callback.Channel, sessionID, player, kind string, send func(context.Context) error) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.callbackTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Str("player", player).
				Str("channel", ch.Addr()).Str("kind", kind).Msg("notification failed")
		}
	}()
}

// recordResult stores the rating change of a finished game.
func (s *Server) recordResult(snap game.Snapshot) {
	if len(snap.Players) != game.RequiredPlayers {
		return
	}
	res := store.Result{Winner: snap.Players[0].Name, Loser: snap.Players[1].Name, Draw: snap.State == game.Draw}
	if w, ok := snap.WinnerPlayer(); ok {
		res.Winner = w.Name
		if w.Name == snap.Players[0].Name {
			res.Loser = snap.Players[1].Name
		} else {
			res.Loser = snap.Players[0].Name
		}
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.store.RecordResult(ctx, res); err != nil {
			log.Error().Err(err).Str("session", snap.ID).Msg("record result")
			return
		}
		log.Info().Str("session", snap.ID).Str("winner", res.Winner).Bool("draw", res.Draw).Msg("result recorded")
	}()
}

func (s *Server) liveTables() []*table.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*table.Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	return out
}

// Drain waits for pending AI moves and in-flight notifications.
func (s *Server) Drain() {
	for _, t := range s.liveTables() {
		t.Wait()
	}
	s.inflight.Wait()
}

// Close stops AI scheduling and waits for in-flight work.
func (s *Server) Close() {
	for _, t := range s.liveTables() {
		t.Close()
	}
	s.Drain()
}
