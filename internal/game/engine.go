// internal/game/engine.go
//
// Game state machine for a single session.
// Responsibilities:
//   - Own the board, the two players, the turn counter and the current player.
//   - Apply moves through PlaceTile only, with gravity.
//   - Ask the strategy for win/draw after every move.
//   - Track state transitions: waiting → ongoing → win/draw, reset → ongoing.
//   - Publish an event for every observable change.
//
// Notes:
//   - Session is not safe for concurrent use; internal/table serialises access.
//   - Player i always plays piece i+1.

package game

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"
)

// Session is the aggregate root of one game.
type Session struct {
	id         string
	variant    Variant
	difficulty Difficulty
	board      Board
	players    []Player
	turn       int
	current    int
	state      CompletionState
	winner     int
	version    uint64

	strategy Strategy
	rng      *mrand.Rand
	bus      *Bus
}

// Option customises a new Session.
type Option func(*Session)

// WithBus publishes events on b instead of a private bus.
func WithBus(b *Bus) Option { return func(s *Session) { s.bus = b } }

// WithRand makes AI choices reproducible.
func WithRand(r *mrand.Rand) Option { return func(s *Session) { s.rng = r } }

// New constructs a waiting session with an empty board.
// If id is empty, a random one is generated.
func New(id string, v Variant, d Difficulty, opts ...Option) (*Session, error) {
	if id == "" {
		id = randomID()
	}
	s := &Session{
		id:         id,
		variant:    v,
		difficulty: d,
		turn:       1,
		state:      Waiting,
		winner:     -1,
	}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = NewBus()
	}
	if s.rng == nil {
		s.rng = mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	}
	if err := s.initStrategy(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromSnapshot rebuilds a session from persisted state.
func FromSnapshot(snap Snapshot, opts ...Option) (*Session, error) {
	s, err := New(snap.ID, snap.Variant, snap.Difficulty, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Restore(snap); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) initStrategy() error {
	st, err := NewStrategy(s.variant, s.difficulty, s.rng)
	if err != nil {
		return err
	}
	s.strategy = st
	return nil
}

func (s *Session) publish(kind EventKind, payload any) {
	s.bus.Publish(Event{Kind: kind, SessionID: s.id, Payload: payload})
}

// ------------------------------ accessors ----------------------------------

func (s *Session) ID() string             { return s.id }
func (s *Session) Variant() Variant       { return s.variant }
func (s *Session) Difficulty() Difficulty { return s.difficulty }
func (s *Session) Board() Board           { return s.board }
func (s *Session) Turn() int              { return s.turn }
func (s *Session) State() CompletionState { return s.state }
func (s *Session) Version() uint64        { return s.version }
func (s *Session) Bus() *Bus              { return s.bus }

// Players returns a copy of the seated players.
func (s *Session) Players() []Player { return append([]Player(nil), s.players...) }

// CurrentPlayer returns the player whose turn it is.
func (s *Session) CurrentPlayer() (Player, bool) {
	if s.current < 0 || s.current >= len(s.players) {
		return Player{}, false
	}
	return s.players[s.current], true
}

// CurrentIndex returns the index of the player whose turn it is.
func (s *Session) CurrentIndex() int { return s.current }

// Winner returns the winning player once the state is Win.
func (s *Session) Winner() (Player, bool) {
	if s.state != Win || s.winner < 0 || s.winner >= len(s.players) {
		return Player{}, false
	}
	return s.players[s.winner], true
}

// Status asks the strategy for the verdict on the current board.
func (s *Session) Status() Status { return s.strategy.Status(&s.board) }

// IndexOf returns the seat of the named player, or -1.
func (s *Session) IndexOf(name string) int {
	for i, p := range s.players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// ------------------------------ mutations ----------------------------------

// AddPlayer seats p in the next free seat.
func (s *Session) AddPlayer(p Player) error {
	if _, err := NewPlayer(p.Name, p.Kind); err != nil {
		return err
	}
	if s.IndexOf(p.Name) >= 0 {
		return ErrDuplicatePlayer
	}
	if len(s.players) >= RequiredPlayers {
		return ErrSessionFull
	}
	s.players = append(s.players, p)
	s.version++
	s.publish(EventPlayersChanged, PlayersChanged{Players: s.Players()})
	return nil
}

// SetVariant switches the rule set and rebuilds the strategy.
func (s *Session) SetVariant(v Variant) error {
	if !v.Valid() {
		return ErrInvalidVariant
	}
	s.variant = v
	if err := s.initStrategy(); err != nil {
		return err
	}
	s.version++
	s.publish(EventGameTypeChanged, GameTypeChanged{Variant: v})
	return nil
}

// SetDifficulty switches the AI tier.
func (s *Session) SetDifficulty(d Difficulty) error {
	if !d.Valid() {
		return ErrInvalidDifficulty
	}
	s.difficulty = d
	if err := s.initStrategy(); err != nil {
		return err
	}
	s.version++
	s.publish(EventDifficultyChanged, DifficultyChanged{Difficulty: d})
	return nil
}

// Start hands the first move to the named player. Valid only while waiting.
func (s *Session) Start(first string) error {
	if s.state != Waiting {
		return ErrWrongPhase
	}
	if len(s.players) != RequiredPlayers {
		return ErrNotEnoughPlayers
	}
	idx := s.IndexOf(first)
	if idx < 0 {
		return ErrUnknownPlayer
	}
	s.current = idx
	s.state = Ongoing
	s.version++
	s.publish(EventPlayerChanged, PlayerChanged{Index: idx, Player: s.players[idx]})
	s.publish(EventStarted, Started{First: s.players[idx]})
	return nil
}

// PlaceTile drops the current player's piece into col.
//
// A full column is a normal rejection: (false, nil) and nothing changes.
// Invalid columns, a finished session or a missing player are precondition
// errors. If the move ends the game the turn counter is left unchanged;
// otherwise it advances by exactly one.
func (s *Session) PlaceTile(col int) (bool, error) {
	if s.state.Finished() {
		return false, ErrSessionFinished
	}
	if len(s.players) != RequiredPlayers {
		return false, ErrNotEnoughPlayers
	}
	if col < 0 || col >= Width {
		return false, ErrColumnOutOfRange
	}
	row := s.board.LowestEmpty(col)
	if row < 0 {
		return false, nil
	}

	initialTurn := s.turn
	if s.state == Waiting {
		s.state = Ongoing
		s.publish(EventStarted, Started{First: s.players[s.current]})
	}

	piece := PieceFor(s.current)
	s.board[row][col] = piece
	s.version++
	s.publish(EventBoardChanged, BoardChanged{Row: row, Col: col, Piece: piece})

	s.evaluate()
	if !s.state.Finished() {
		s.advance()
	}

	switch {
	case s.board[row][col] != piece:
		return true, postcondition("piece not placed at (%d,%d)", row, col)
	case s.state.Finished() && s.turn != initialTurn:
		return true, postcondition("turn advanced on a finishing move")
	case !s.state.Finished() && s.turn != initialTurn+1:
		return true, postcondition("turn did not advance: %d -> %d", initialTurn, s.turn)
	}
	return true, nil
}

// evaluate records a win or draw reported by the strategy.
func (s *Session) evaluate() {
	status := s.strategy.Status(&s.board)
	switch status {
	case StatusPlayerOneWins, StatusPlayerTwoWins:
		s.state = Win
		s.winner = status.WinnerIndex()
		w := s.players[s.winner]
		s.publish(EventCompleted, Completed{State: Win, Winner: &w})
	case StatusDraw:
		s.state = Draw
		s.winner = -1
		s.publish(EventCompleted, Completed{State: Draw})
	}
}

func (s *Session) advance() {
	s.turn++
	s.publish(EventTurnChanged, TurnChanged{Turn: s.turn})
	s.current = (s.current + 1) % len(s.players)
	s.publish(EventPlayerChanged, PlayerChanged{Index: s.current, Player: s.players[s.current]})
}

// Reset clears the board cell by cell, gives the first move back to the
// first player and reopens the session. A session that never started
// cannot be reset.
func (s *Session) Reset() error {
	if len(s.players) != RequiredPlayers {
		return ErrNotEnoughPlayers
	}
	if s.state == Waiting {
		return ErrWrongPhase
	}
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			s.board[r][c] = Empty
			s.publish(EventBoardChanged, BoardChanged{Row: r, Col: c, Piece: Empty})
		}
	}
	s.turn = 1
	s.publish(EventTurnChanged, TurnChanged{Turn: s.turn})
	s.current = 0
	s.publish(EventPlayerChanged, PlayerChanged{Index: 0, Player: s.players[0]})
	s.state = Ongoing
	s.winner = -1
	s.version++
	s.publish(EventReset, Reset{})

	if s.turn != 1 || s.current != 0 || s.board.Count() != 0 {
		return postcondition("reset left turn=%d current=%d pieces=%d", s.turn, s.current, s.board.Count())
	}
	return nil
}

// Sync re-publishes every attribute so a fresh listener can hydrate.
func (s *Session) Sync() {
	s.publish(EventGameTypeChanged, GameTypeChanged{Variant: s.variant})
	s.publish(EventDifficultyChanged, DifficultyChanged{Difficulty: s.difficulty})
	s.publish(EventPlayersChanged, PlayersChanged{Players: s.Players()})
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			s.publish(EventBoardChanged, BoardChanged{Row: r, Col: c, Piece: s.board[r][c]})
		}
	}
	s.publish(EventTurnChanged, TurnChanged{Turn: s.turn})
	if p, ok := s.CurrentPlayer(); ok {
		s.publish(EventPlayerChanged, PlayerChanged{Index: s.current, Player: p})
	}
	if s.state.Finished() {
		done := Completed{State: s.state}
		if w, ok := s.Winner(); ok {
			done.Winner = &w
		}
		s.publish(EventCompleted, done)
	}
}

// SuggestMove asks the strategy for the current player's column.
func (s *Session) SuggestMove() (int, error) {
	if s.state.Finished() {
		return -1, ErrSessionFinished
	}
	if len(s.players) != RequiredPlayers {
		return -1, ErrNotEnoughPlayers
	}
	b := s.board
	col, err := s.strategy.Move(&b, PieceFor(s.current))
	if err != nil {
		return -1, err
	}
	if s.board.ColumnFull(col) {
		return -1, postcondition("strategy chose full column %d", col)
	}
	return col, nil
}

// Snapshot captures the full state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:         s.id,
		Variant:    s.variant,
		Difficulty: s.difficulty,
		Board:      s.board,
		Players:    s.Players(),
		Turn:       s.turn,
		Current:    s.current,
		State:      s.state,
		Winner:     s.winner,
		Version:    s.version,
	}
}

// Restore replaces the state with snap and re-publishes everything.
func (s *Session) Restore(snap Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}
	s.id = snap.ID
	s.variant = snap.Variant
	s.difficulty = snap.Difficulty
	s.board = snap.Board
	s.players = append([]Player(nil), snap.Players...)
	s.turn = snap.Turn
	s.current = snap.Current
	s.state = snap.State
	s.winner = snap.Winner
	s.version = snap.Version
	if err := s.initStrategy(); err != nil {
		return err
	}
	s.Sync()
	return nil
}

// randomID returns a compact 16-hex-char identifier.
func randomID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
