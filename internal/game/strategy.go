// internal/game/strategy.go
//
// Strategy engine: win/draw detection and AI move selection.
//
// Responsibilities:
//   - Scan every line of WinLength cells (horizontal, vertical, both diagonals)
//     for the variant's winning pattern.
//   - Pick AI moves by tier:
//       Easy   → uniformly random free column.
//       Medium → immediate win, else block the opponent's immediate win,
//                else random (Otto also refuses moves that complete the
//                opponent's word).
//       Hard   → Medium, then refuses moves that let the opponent win on top,
//                then prefers cells adjacent to its own pieces.
//
// Notes:
//   - Strategies never mutate the board they are given; probes work on copies.
//   - No tier ever returns a full column.

package game

import (
	"math/rand/v2"
)

// Strategy evaluates a board and picks moves for one variant and tier.
type Strategy interface {
	// Status reports whether the board is won, drawn or still open.
	Status(b *Board) Status
	// Move returns the column the AI playing piece me should drop into.
	Move(b *Board, me Piece) (int, error)
	Variant() Variant
	Difficulty() Difficulty
}

// NewStrategy is the factory over (variant, difficulty).
func NewStrategy(v Variant, d Difficulty, rng *rand.Rand) (Strategy, error) {
	if !d.Valid() {
		return nil, ErrInvalidDifficulty
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	t := tiers{level: d, rng: rng}
	switch v {
	case ConnectFour:
		return &connectFour{tiers: t}, nil
	case Otto:
		return &otto{tiers: t}, nil
	}
	return nil, ErrInvalidVariant
}

// directions: horizontal, vertical, diagonal down-right, diagonal up-right.
var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {-1, 1}}

// scan walks every in-bounds line of WinLength cells and returns the first
// verdict produced by match. A board with no winner and no free column is a draw.
func scan(b *Board, match func(line [WinLength]Piece) Status) Status {
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			for _, d := range directions {
				if !InBounds(r+d[0]*(WinLength-1), c+d[1]*(WinLength-1)) {
					continue
				}
				var line [WinLength]Piece
				for i := 0; i < WinLength; i++ {
					line[i] = b[r+d[0]*i][c+d[1]*i]
				}
				if s := match(line); s != StatusOngoing {
					return s
				}
			}
		}
	}
	if !b.HasFreeColumn() {
		return StatusDraw
	}
	return StatusOngoing
}

// connectFour wins on four identical non-empty pieces.
type connectFour struct{ tiers }

func (s *connectFour) Variant() Variant { return ConnectFour }

func (s *connectFour) Status(b *Board) Status {
	return scan(b, func(line [WinLength]Piece) Status {
		if line[0] == Empty {
			return StatusOngoing
		}
		for _, p := range line[1:] {
			if p != line[0] {
				return StatusOngoing
			}
		}
		return winFor(line[0])
	})
}

func (s *connectFour) Move(b *Board, me Piece) (int, error) {
	return s.move(b, me, s.Status)
}

// Otto patterns: TOOT wins for player one, OTTO for player two.
var (
	tootPattern = [WinLength]Piece{PieceTwo, PieceOne, PieceOne, PieceTwo}
	ottoPattern = [WinLength]Piece{PieceOne, PieceTwo, PieceTwo, PieceOne}
)

// otto wins on the fixed sequences, not on runs of one symbol.
type otto struct{ tiers }

func (s *otto) Variant() Variant { return Otto }

func (s *otto) Status(b *Board) Status {
	return scan(b, func(line [WinLength]Piece) Status {
		switch line {
		case tootPattern:
			return StatusPlayerOneWins
		case ottoPattern:
			return StatusPlayerTwoWins
		}
		return StatusOngoing
	})
}

func (s *otto) Move(b *Board, me Piece) (int, error) {
	return s.move(b, me, s.Status)
}

// tiers holds the difficulty-dependent move selection shared by both variants.
type tiers struct {
	level Difficulty
	rng   *rand.Rand
}

func (t *tiers) Difficulty() Difficulty { return t.level }

func (t *tiers) move(b *Board, me Piece, judge func(*Board) Status) (int, error) {
	free := b.FreeColumns()
	if len(free) == 0 {
		return -1, ErrNoFreeColumn
	}
	if t.level == Easy {
		return t.pick(free), nil
	}

	own, opp := winFor(me), winFor(me.Opponent())
	var safe []int
	for _, c := range free {
		probe := *b
		probe.Drop(c, me)
		switch judge(&probe) {
		case own:
			return c, nil
		case opp:
			// completing the opponent's word
			continue
		}
		if t.level == Hard && feeds(&probe, c, me.Opponent(), opp, judge) {
			continue
		}
		safe = append(safe, c)
	}

	for _, c := range free {
		probe := *b
		probe.Drop(c, me.Opponent())
		if judge(&probe) != opp {
			continue
		}
		if !gifts(b, c, me, opp, judge) {
			return c, nil
		}
	}

	if t.level == Hard {
		if c, ok := t.adjacent(b, me, safe); ok {
			return c, nil
		}
	}
	if len(safe) > 0 {
		return t.pick(safe), nil
	}
	return t.pick(free), nil
}

// feeds reports whether, after our piece landed in col, the opponent can win
// by dropping on top of it.
func feeds(after *Board, col int, them Piece, theirWin Status, judge func(*Board) Status) bool {
	if after.ColumnFull(col) {
		return false
	}
	probe := *after
	probe.Drop(col, them)
	return judge(&probe) == theirWin
}

// gifts reports whether our own piece in col completes the opponent's pattern.
func gifts(b *Board, col int, me Piece, theirWin Status, judge func(*Board) Status) bool {
	probe := *b
	probe.Drop(col, me)
	return judge(&probe) == theirWin
}

// adjacent scans a pseudo-random window of columns for a landing cell that
// touches one of our pieces.
func (t *tiers) adjacent(b *Board, me Piece, candidates []int) (int, bool) {
	if len(candidates) == 0 {
		return -1, false
	}
	start := t.rng.IntN(Width)
	span := 3 + t.rng.IntN(Width-2)
	for i := 0; i < span; i++ {
		c := (start + i) % Width
		if !contains(candidates, c) {
			continue
		}
		r := b.LowestEmpty(c)
		if r >= 0 && touches(b, r, c, me) {
			return c, true
		}
	}
	return -1, false
}

// touches reports whether any of the eight neighbours of (r, c) holds p.
func touches(b *Board, r, c int, p Piece) bool {
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			if InBounds(r+dr, c+dc) && b[r+dr][c+dc] == p {
				return true
			}
		}
	}
	return false
}

func (t *tiers) pick(cols []int) int { return cols[t.rng.IntN(len(cols))] }

func contains(cols []int, c int) bool {
	for _, x := range cols {
		if x == c {
			return true
		}
	}
	return false
}
