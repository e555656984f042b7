/*
Package game holds the match domain: the mine board, the per-match state
machine, the client/server message set and the settlement record derived from
a finished round.

Nothing in this package locks. A Match must only be touched by whoever holds
its exclusive access in the session registry.
*/
package game

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/sha3"
)

const (
	// MaxDimension bounds rows and columns of a board.
	MaxDimension = 32

	seedSize = 32
)

// Cell is a board coordinate.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// BoardFactory builds a fresh board for a round.
type BoardFactory func(rows, cols, mines int) (*Board, error)

// Board is a mine layout plus the set of revealed cells.
// The layout never changes after construction and revealed cells only grow.
type Board struct {
	rows       int
	cols       int
	layout     []int // sorted mine indices
	mines      map[int]struct{}
	revealed   map[int]struct{}
	seed       [seedSize]byte
	commitment [32]byte
}

// GenerateBoard places mines uniformly at random without replacement.
// The layout is derived from a fresh crypto/rand seed whose sha3-256
// commitment can be published before play and the seed revealed afterwards.
func GenerateBoard(rows, cols, mines int) (*Board, error) {
	if err := validateBoard(rows, cols, mines); err != nil {
		return nil, err
	}

	var seed [seedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("reading board seed: %w", err)
	}

	return newBoard(rows, cols, seed, layoutFromSeed(seed, rows*cols, mines)), nil
}

// BoardFromLayout rebuilds a board with a known mine layout, e.g. when
// replaying an audited match. Its seed and commitment are zero.
func BoardFromLayout(rows, cols int, mines []Cell) (*Board, error) {
	if err := validateBoard(rows, cols, len(mines)); err != nil {
		return nil, err
	}

	layout := make([]int, 0, len(mines))
	for _, c := range mines {
		if c.Row < 0 || c.Row >= rows || c.Col < 0 || c.Col >= cols {
			return nil, fmt.Errorf("%w: mine %v out of bounds", ErrInvalidParameters, c)
		}
		idx := c.Row*cols + c.Col
		if slices.Contains(layout, idx) {
			return nil, fmt.Errorf("%w: duplicate mine %v", ErrInvalidParameters, c)
		}
		layout = append(layout, idx)
	}
	slices.Sort(layout)

	return newBoard(rows, cols, [seedSize]byte{}, layout), nil
}

// VerifyBoard checks a revealed seed against its commitment and the layout it produced.
func VerifyBoard(seed, commitment []byte, rows, cols int, mines []Cell) bool {
	if len(seed) != seedSize || validateBoard(rows, cols, len(mines)) != nil {
		return false
	}

	sum := sha3.Sum256(seed)
	if !bytes.Equal(sum[:], commitment) {
		return false
	}

	var s [seedSize]byte
	copy(s[:], seed)
	expected := newBoard(rows, cols, s, layoutFromSeed(s, rows*cols, len(mines)))
	return slices.Equal(expected.Mines(), sortedCells(mines, cols))
}

func validateBoard(rows, cols, mines int) error {
	if rows <= 0 || cols <= 0 || rows > MaxDimension || cols > MaxDimension {
		return fmt.Errorf("%w: board dimensions %dx%d", ErrInvalidParameters, rows, cols)
	}
	if mines <= 0 || mines >= rows*cols {
		return fmt.Errorf("%w: %d mines on a %dx%d board", ErrInvalidParameters, mines, rows, cols)
	}
	return nil
}

func newBoard(rows, cols int, seed [seedSize]byte, layout []int) *Board {
	mines := make(map[int]struct{}, len(layout))
	for _, idx := range layout {
		mines[idx] = struct{}{}
	}

	return &Board{
		rows:       rows,
		cols:       cols,
		layout:     layout,
		mines:      mines,
		revealed:   make(map[int]struct{}),
		seed:       seed,
		commitment: sha3.Sum256(seed[:]),
	}
}

// layoutFromSeed runs a partial Fisher-Yates shuffle over all cell indices,
// drawing from a SHAKE-256 stream keyed by the seed.
func layoutFromSeed(seed [seedSize]byte, cells, mines int) []int {
	stream := sha3.NewShake256()
	_, _ = stream.Write(seed[:])

	idx := make([]int, cells)
	for i := range idx {
		idx[i] = i
	}

	for i := 0; i < mines; i++ {
		j := i + uniform(stream, cells-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	layout := slices.Clone(idx[:mines])
	slices.Sort(layout)
	return layout
}

// uniform returns an unbiased integer in [0, n) using rejection sampling.
func uniform(r io.Reader, n int) int {
	bound := uint64(n)
	maxUint := ^uint64(0)
	limit := maxUint - maxUint%bound

	var buf [8]byte
	for {
		_, _ = io.ReadFull(r, buf[:])
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return int(v % bound)
		}
	}
}

func sortedCells(cells []Cell, cols int) []Cell {
	out := slices.Clone(cells)
	slices.SortFunc(out, func(a, b Cell) int {
		return (a.Row*cols + a.Col) - (b.Row*cols + b.Col)
	})
	return out
}

// Rows returns the number of rows.
func (b *Board) Rows() int { return b.rows }

// Cols returns the number of columns.
func (b *Board) Cols() int { return b.cols }

// MineCount returns the number of mines on the board.
func (b *Board) MineCount() int { return len(b.layout) }

// Commitment is the sha3-256 digest of the seed.
func (b *Board) Commitment() []byte { return slices.Clone(b.commitment[:]) }

// Seed must only be published once the round is over.
func (b *Board) Seed() []byte { return slices.Clone(b.seed[:]) }

// InBounds reports whether c lies on the board.
func (b *Board) InBounds(c Cell) bool {
	return c.Row >= 0 && c.Row < b.rows && c.Col >= 0 && c.Col < b.cols
}

// HasMine reports whether c holds a mine. c must be in bounds.
func (b *Board) HasMine(c Cell) bool {
	_, ok := b.mines[b.index(c)]
	return ok
}

// IsRevealed reports whether c was already revealed. c must be in bounds.
func (b *Board) IsRevealed(c Cell) bool {
	_, ok := b.revealed[b.index(c)]
	return ok
}

// Reveal marks c revealed and reports whether it held a mine.
func (b *Board) Reveal(c Cell) bool {
	idx := b.index(c)
	b.revealed[idx] = struct{}{}
	_, mine := b.mines[idx]
	return mine
}

// RevealedCount returns the number of revealed cells, mines included.
func (b *Board) RevealedCount() int { return len(b.revealed) }

// SafeCellsLeft returns the number of safe cells still hidden.
func (b *Board) SafeCellsLeft() int {
	safeRevealed := 0
	for idx := range b.revealed {
		if _, mine := b.mines[idx]; !mine {
			safeRevealed++
		}
	}
	return b.rows*b.cols - len(b.layout) - safeRevealed
}

// Mines returns the mine cells in row-major order.
func (b *Board) Mines() []Cell {
	return b.cells(b.layout)
}

// Revealed returns the revealed cells in row-major order.
func (b *Board) Revealed() []Cell {
	idx := make([]int, 0, len(b.revealed))
	for i := range b.revealed {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	return b.cells(idx)
}

func (b *Board) index(c Cell) int {
	return c.Row*b.cols + c.Col
}

func (b *Board) cells(idx []int) []Cell {
	out := make([]Cell, 0, len(idx))
	for _, i := range idx {
		out = append(out, Cell{Row: i / b.cols, Col: i % b.cols})
	}
	return out
}
