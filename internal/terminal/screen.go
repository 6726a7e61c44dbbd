package terminal

// Screen feeds raw pty output through a Parser into a Grid.
type Screen struct {
	grid   *Grid
	parser *Parser
}

func NewScreen(rows, cols int) *Screen {
	return &Screen{grid: NewGrid(rows, cols), parser: NewParser()}
}

func (s *Screen) Write(p []byte) (int, error) {
	s.parser.Advance(s.grid, p)
	return len(p), nil
}

func (s *Screen) Resize(rows, cols int) {
	s.grid.Resize(rows, cols)
}

func (s *Screen) Text() string {
	return s.grid.Text()
}

func (s *Screen) Grid() *Grid {
	return s.grid
}
