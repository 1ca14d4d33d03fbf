// internal/game/types.go
//
// Core type definitions for the connect games engine.
// Defines:
//   - Piece: content of a single board cell.
//   - Variant, Difficulty: rule set and AI tier of a session.
//   - Player, PlayerKind: the two participants of a session.
//   - CompletionState, Status: lifecycle of a session and the strategy verdict.

package game

import (
	"fmt"
	"strings"
)

const (
	Height          = 6
	Width           = 7
	WinLength       = 4
	RequiredPlayers = 2
)

// Piece is the marker stored in a board cell.
// In ConnectFour 1/2 are the two colours; in Otto 1 is O and 2 is T.
type Piece uint8

const (
	Empty Piece = iota
	PieceOne
	PieceTwo
)

// PieceFor returns the piece played by the player at index i.
func PieceFor(i int) Piece { return Piece(i + 1) }

// Opponent returns the other non-empty piece.
func (p Piece) Opponent() Piece {
	if p == PieceOne {
		return PieceTwo
	}
	return PieceOne
}

// Variant selects the rule set.
type Variant int

const (
	ConnectFour Variant = iota
	Otto
)

func (v Variant) String() string {
	switch v {
	case ConnectFour:
		return "connect4"
	case Otto:
		return "otto"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Valid reports whether v is one of the supported rule sets.
func (v Variant) Valid() bool { return v == ConnectFour || v == Otto }

func (v Variant) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Variant) UnmarshalText(b []byte) error {
	parsed, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVariant accepts "connect4"/"c4" and "otto" (case-insensitive).
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connect4", "connectfour", "c4", "":
		return ConnectFour, nil
	case "otto", "ottotoot":
		return Otto, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidVariant, s)
}

// Difficulty is the AI tier, ordinal 0..2.
type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard

	MinDifficulty = Easy
	MaxDifficulty = Hard
)

func (d Difficulty) String() string {
	switch d {
	case Easy:
		return "easy"
	case Medium:
		return "medium"
	case Hard:
		return "hard"
	default:
		return fmt.Sprintf("difficulty(%d)", int(d))
	}
}

// Valid reports whether d lies in the closed range [MinDifficulty, MaxDifficulty].
func (d Difficulty) Valid() bool { return d >= MinDifficulty && d <= MaxDifficulty }

func (d Difficulty) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Difficulty) UnmarshalText(b []byte) error {
	parsed, err := ParseDifficulty(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDifficulty accepts the tier names or their ordinals.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "0", "":
		return Easy, nil
	case "medium", "1":
		return Medium, nil
	case "hard", "2":
		return Hard, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
}

// PlayerKind distinguishes humans from computer opponents.
type PlayerKind string

const (
	Human PlayerKind = "human"
	AI    PlayerKind = "ai"
)

// Player is immutable once created; Name is unique within a session.
type Player struct {
	Name string     `json:"name"`
	Kind PlayerKind `json:"kind"`
}

// NewPlayer validates name and kind.
func NewPlayer(name string, kind PlayerKind) (Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Player{}, fmt.Errorf("%w: player name is empty", ErrPrecondition)
	}
	if kind != Human && kind != AI {
		return Player{}, fmt.Errorf("%w: invalid player kind %q", ErrPrecondition, kind)
	}
	return Player{Name: name, Kind: kind}, nil
}

// IsAI reports whether the engine plays for p.
func (p Player) IsAI() bool { return p.Kind == AI }

// CompletionState is the lifecycle of a session.
type CompletionState string

const (
	Waiting CompletionState = "waiting"
	Ongoing CompletionState = "ongoing"
	Win     CompletionState = "win"
	Draw    CompletionState = "draw"
)

// Finished reports whether the session rejects further moves.
func (s CompletionState) Finished() bool { return s == Win || s == Draw }

// Status is the verdict of a strategy over a board.
type Status int

const (
	StatusOngoing Status = iota
	StatusPlayerOneWins
	StatusPlayerTwoWins
	StatusDraw
)

func (s Status) String() string {
	switch s {
	case StatusOngoing:
		return "ongoing"
	case StatusPlayerOneWins:
		return "player-1 wins"
	case StatusPlayerTwoWins:
		return "player-2 wins"
	case StatusDraw:
		return "draw"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WinnerIndex returns the index of the winning player, or -1.
func (s Status) WinnerIndex() int {
	switch s {
	case StatusPlayerOneWins:
		return 0
	case StatusPlayerTwoWins:
		return 1
	}
	return -1
}

// winFor maps a piece to the status announcing its owner as winner.
func winFor(p Piece) Status {
	if p == PieceOne {
		return StatusPlayerOneWins
	}
	return StatusPlayerTwoWins
}
