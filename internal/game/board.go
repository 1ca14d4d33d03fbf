package game

import "strings"

// Board is the fixed 6x7 grid. Row 0 is the top, column 0 the left.
// It is a value type: copying a Board is how strategies probe moves.
type Board [Height][Width]Piece

// InBounds reports whether (r, c) addresses a cell.
func InBounds(r, c int) bool { return r >= 0 && r < Height && c >= 0 && c < Width }

// Cell returns the piece at (r, c).
func (b *Board) Cell(r, c int) Piece { return b[r][c] }

// LowestEmpty returns the row a piece dropped into col would land on, or -1.
func (b *Board) LowestEmpty(col int) int {
	if col < 0 || col >= Width {
		return -1
	}
	for r := Height - 1; r >= 0; r-- {
		if b[r][col] == Empty {
			return r
		}
	}
	return -1
}

// Free counts the empty cells of col.
func (b *Board) Free(col int) int {
	n := 0
	for r := 0; r < Height; r++ {
		if b[r][col] == Empty {
			n++
		}
	}
	return n
}

// ColumnFull reports whether col has no empty cell.
func (b *Board) ColumnFull(col int) bool { return b.LowestEmpty(col) < 0 }

// FreeColumns lists the columns that can still take a piece, left to right.
func (b *Board) FreeColumns() []int {
	out := make([]int, 0, Width)
	for c := 0; c < Width; c++ {
		if !b.ColumnFull(c) {
			out = append(out, c)
		}
	}
	return out
}

// HasFreeColumn reports whether any move is still possible.
func (b *Board) HasFreeColumn() bool {
	for c := 0; c < Width; c++ {
		if b[0][c] == Empty {
			return true
		}
	}
	return false
}

// Drop places p in the lowest empty cell of col and returns its row, or -1
// when the column is full.
func (b *Board) Drop(col int, p Piece) int {
	r := b.LowestEmpty(col)
	if r >= 0 {
		b[r][col] = p
	}
	return r
}

// Count returns the number of occupied cells.
func (b *Board) Count() int {
	n := 0
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			if b[r][c] != Empty {
				n++
			}
		}
	}
	return n
}

// String renders the board one row per line with '.' for empty cells and
// the variant-neutral digits 1/2 for pieces.
func (b *Board) String() string {
	var sb strings.Builder
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			switch b[r][c] {
			case Empty:
				sb.WriteByte('.')
			default:
				sb.WriteByte(byte('0' + b[r][c]))
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Render draws the board with variant-specific glyphs (X/O for ConnectFour,
// O/T for Otto) and a column index footer.
func (b *Board) Render(v Variant) string {
	glyph := map[Piece]byte{Empty: '.', PieceOne: 'X', PieceTwo: 'O'}
	if v == Otto {
		glyph[PieceOne], glyph[PieceTwo] = 'O', 'T'
	}
	var sb strings.Builder
	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			if c > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte(glyph[b[r][c]])
		}
		sb.WriteByte('\n')
	}
	for c := 0; c < Width; c++ {
		if c > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(byte('0' + c))
	}
	sb.WriteByte('\n')
	return sb.String()
}
