// internal/games/tetris/board.go
package tetris

import "math/rand"

// Board dimensions.
const (
	Width  = 10
	Height = 20
)

// Piece indices.
const (
	pieceI = iota
	pieceO
	pieceT
	pieceS
	pieceZ
	pieceJ
	pieceL
	pieceCount
)

// shapes[piece][rotation] lists the four occupied cells as (x, y)
// offsets from the piece origin.
var shapes = [pieceCount][][4][2]int{
	pieceI: {
		{{0, 1}, {1, 1}, {2, 1}, {3, 1}},
		{{2, 0}, {2, 1}, {2, 2}, {2, 3}},
	},
	pieceO: {
		{{1, 0}, {2, 0}, {1, 1}, {2, 1}},
	},
	pieceT: {
		{{1, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {2, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {1, 2}},
		{{1, 0}, {0, 1}, {1, 1}, {1, 2}},
	},
	pieceS: {
		{{1, 0}, {2, 0}, {0, 1}, {1, 1}},
		{{1, 0}, {1, 1}, {2, 1}, {2, 2}},
	},
	pieceZ: {
		{{0, 0}, {1, 0}, {1, 1}, {2, 1}},
		{{2, 0}, {1, 1}, {2, 1}, {1, 2}},
	},
	pieceJ: {
		{{0, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {2, 0}, {1, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {2, 2}},
		{{1, 0}, {1, 1}, {0, 2}, {1, 2}},
	},
	pieceL: {
		{{2, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {1, 2}, {2, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {0, 2}},
		{{0, 0}, {1, 0}, {1, 1}, {1, 2}},
	},
}

// lineScores maps cleared line count to awarded points.
var lineScores = [5]int{0, 100, 300, 500, 800}

// board is one player's field plus its deterministic piece stream. Two
// boards built from the same seed draw identical 7-bag sequences.
type board struct {
	cells [Height][Width]bool
	rng   *rand.Rand
	bag   []int

	piece, rot int
	x, y       int

	score  int
	lines  int
	topped bool
}

func newBoard(seed int64) *board {
	b := &board{rng: rand.New(rand.NewSource(seed))}
	b.spawn()
	return b
}

// nextPiece draws from the 7-bag: all seven pieces shuffled, dealt in
// order, then reshuffled.
func (b *board) nextPiece() int {
	if len(b.bag) == 0 {
		b.bag = b.rng.Perm(pieceCount)
	}
	p := b.bag[0]
	b.bag = b.bag[1:]
	return p
}

func (b *board) spawn() {
	b.piece = b.nextPiece()
	b.rot = 0
	b.x, b.y = 3, 0
	if b.collides(b.piece, b.rot, b.x, b.y) {
		b.topped = true
	}
}

func (b *board) collides(piece, rot, x, y int) bool {
	for _, cell := range shapes[piece][rot] {
		cx, cy := x+cell[0], y+cell[1]
		if cx < 0 || cx >= Width || cy < 0 || cy >= Height {
			return true
		}
		if b.cells[cy][cx] {
			return true
		}
	}
	return false
}

func (b *board) tryMove(dx, dy int) bool {
	if b.collides(b.piece, b.rot, b.x+dx, b.y+dy) {
		return false
	}
	b.x += dx
	b.y += dy
	return true
}

func (b *board) rotate() {
	next := (b.rot + 1) % len(shapes[b.piece])
	if !b.collides(b.piece, next, b.x, b.y) {
		b.rot = next
	}
}

// lock stamps the falling piece into the field, clears lines, scores
// them, and spawns the next piece.
func (b *board) lock() {
	for _, cell := range shapes[b.piece][b.rot] {
		b.cells[b.y+cell[1]][b.x+cell[0]] = true
	}
	cleared := b.clearLines()
	b.lines += cleared
	b.score += lineScores[cleared]
	b.spawn()
}

func (b *board) clearLines() int {
	cleared := 0
	for y := Height - 1; y >= 0; y-- {
		full := true
		for x := 0; x < Width; x++ {
			if !b.cells[y][x] {
				full = false
				break
			}
		}
		if !full {
			continue
		}
		cleared++
		copy(b.cells[1:y+1], b.cells[0:y])
		b.cells[0] = [Width]bool{}
		y++ // recheck the row that slid down
	}
	return cleared
}

// step is one gravity tick: fall, or lock if resting.
func (b *board) step() {
	if b.topped {
		return
	}
	if !b.tryMove(0, 1) {
		b.lock()
	}
}

// drop hard-drops the falling piece and locks it.
func (b *board) drop() {
	if b.topped {
		return
	}
	for b.tryMove(0, 1) {
	}
	b.lock()
}

// grid renders the field merged with the falling piece, one string per
// row, '1' for occupied cells.
func (b *board) grid() []string {
	var merged [Height][Width]bool
	for y := range b.cells {
		merged[y] = b.cells[y]
	}
	if !b.topped {
		for _, cell := range shapes[b.piece][b.rot] {
			merged[b.y+cell[1]][b.x+cell[0]] = true
		}
	}

	rows := make([]string, Height)
	buf := make([]byte, Width)
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			if merged[y][x] {
				buf[x] = '1'
			} else {
				buf[x] = '0'
			}
		}
		rows[y] = string(buf)
	}
	return rows
}
