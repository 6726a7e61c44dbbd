package terminal

import "strings"

const tabWidth = 8

// Grid is a fixed-size character screen with a cursor. It keeps no colors,
// attributes or scrollback; rows scrolled off the top are dropped.
type Grid struct {
	rows  int
	cols  int
	cells [][]rune
	row   int
	col   int
}

func NewGrid(rows, cols int) *Grid {
	g := &Grid{}
	g.Resize(rows, cols)
	return g
}

func (g *Grid) Size() (rows, cols int) {
	return g.rows, g.cols
}

func (g *Grid) Cursor() (row, col int) {
	return g.row, g.col
}

// Resize keeps the overlapping top-left region and blanks new cells.
func (g *Grid) Resize(rows, cols int) {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	next := make([][]rune, rows)
	for r := range next {
		next[r] = blankRow(cols)
		if r < len(g.cells) {
			copy(next[r], g.cells[r])
		}
	}
	g.rows, g.cols, g.cells = rows, cols, next
	g.row = clamp(g.row, 0, rows-1)
	g.col = clamp(g.col, 0, cols-1)
}

// Reset blanks every cell and homes the cursor.
func (g *Grid) Reset() {
	for r := range g.cells {
		g.cells[r] = blankRow(g.cols)
	}
	g.row, g.col = 0, 0
}

// Text flattens the grid, trimming trailing spaces on each row.
func (g *Grid) Text() string {
	lines := make([]string, len(g.cells))
	for r, cells := range g.cells {
		lines[r] = strings.TrimRight(string(cells), " ")
	}
	return strings.Join(lines, "\n")
}

// Print places r at the cursor. The cursor may rest one past the last
// column; the next printable then wraps to the following row.
func (g *Grid) Print(r rune) {
	if g.col >= g.cols {
		g.col = 0
		g.lineFeed()
	}
	g.cells[g.row][g.col] = r
	g.col++
}

func (g *Grid) Execute(b byte) {
	switch b {
	case '\n', '\v', '\f':
		g.col = 0
		g.lineFeed()
	case '\r':
		g.col = 0
	case '\b':
		if g.col >= g.cols {
			g.col = g.cols - 1
		}
		if g.col > 0 {
			g.col--
		}
	case '\t':
		next := (g.col/tabWidth + 1) * tabWidth
		g.col = min(next, g.cols-1)
	}
}

func (g *Grid) CSIDispatch(final byte, params []int, private bool) {
	if private {
		return
	}
	n := param(params, 0, 1)
	switch final {
	case 'A':
		g.row = clamp(g.row-n, 0, g.rows-1)
		g.col = min(g.col, g.cols-1)
	case 'B', 'e':
		g.row = clamp(g.row+n, 0, g.rows-1)
		g.col = min(g.col, g.cols-1)
	case 'C', 'a':
		g.col = clamp(g.col+n, 0, g.cols-1)
	case 'D':
		g.col = clamp(min(g.col, g.cols-1)-n, 0, g.cols-1)
	case 'E':
		g.row = clamp(g.row+n, 0, g.rows-1)
		g.col = 0
	case 'F':
		g.row = clamp(g.row-n, 0, g.rows-1)
		g.col = 0
	case 'H', 'f':
		g.row = clamp(param(params, 0, 1)-1, 0, g.rows-1)
		g.col = clamp(param(params, 1, 1)-1, 0, g.cols-1)
	case 'G', '`':
		g.col = clamp(n-1, 0, g.cols-1)
	case 'd':
		g.row = clamp(n-1, 0, g.rows-1)
	case 'K':
		g.eraseLine(param(params, 0, 0))
	case 'J':
		g.eraseDisplay(param(params, 0, 0))
	}
}

func (g *Grid) ESCDispatch(final byte, intermediates []byte) {
	if len(intermediates) > 0 {
		return
	}
	switch final {
	case 'c':
		g.Reset()
	case 'D':
		g.lineFeed()
	case 'E':
		g.col = 0
		g.lineFeed()
	case 'M':
		if g.row > 0 {
			g.row--
		}
	}
}

func (g *Grid) lineFeed() {
	if g.row+1 < g.rows {
		g.row++
		return
	}
	copy(g.cells, g.cells[1:])
	g.cells[g.rows-1] = blankRow(g.cols)
}

func (g *Grid) eraseLine(mode int) {
	col := min(g.col, g.cols-1)
	line := g.cells[g.row]
	switch mode {
	case 0:
		fill(line[col:])
	case 1:
		fill(line[:col+1])
	case 2:
		fill(line)
	}
}

func (g *Grid) eraseDisplay(mode int) {
	switch mode {
	case 0:
		g.eraseLine(0)
		for r := g.row + 1; r < g.rows; r++ {
			fill(g.cells[r])
		}
	case 1:
		for r := 0; r < g.row; r++ {
			fill(g.cells[r])
		}
		g.eraseLine(1)
	case 2, 3:
		for r := range g.cells {
			fill(g.cells[r])
		}
	}
}

func blankRow(cols int) []rune {
	row := make([]rune, cols)
	fill(row)
	return row
}

func fill(cells []rune) {
	for i := range cells {
		cells[i] = ' '
	}
}

// param returns params[i], or def when it is absent or zero.
func param(params []int, i, def int) int {
	if i >= len(params) || params[i] == 0 {
		return def
	}
	return params[i]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
