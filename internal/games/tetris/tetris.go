// internal/games/tetris/tetris.go

// Package tetris is the first reference game: two players race on
// separate boards fed by an identical piece sequence.
package tetris

import (
	"time"

	"github.com/arcadelab/arcade/internal/match"
)

// GravityInterval is the fall cadence.
const GravityInterval = 400 * time.Millisecond

// Input tokens accepted from clients.
const (
	ActionLeft   = "left"
	ActionRight  = "right"
	ActionRotate = "rotate"
	ActionDown   = "down"
	ActionDrop   = "drop"
)

// Game drives two boards under the match engine.
type Game struct {
	players [2]string
	boards  [2]*board

	over   bool
	winner string
	reason string
}

// New builds a match between p1 and p2. Both boards share the seed so
// the clients can mirror the piece sequence.
func New(p1, p2 string, seed int64) *Game {
	return &Game{
		players: [2]string{p1, p2},
		boards:  [2]*board{newBoard(seed), newBoard(seed)},
	}
}

func (g *Game) Apply(player int, action string) {
	if g.over || player < 0 || player > 1 {
		return
	}
	b := g.boards[player]
	if b.topped {
		return
	}
	switch action {
	case ActionLeft:
		b.tryMove(-1, 0)
	case ActionRight:
		b.tryMove(1, 0)
	case ActionRotate:
		b.rotate()
	case ActionDown:
		if !b.tryMove(0, 1) {
			b.lock()
		}
	case ActionDrop:
		b.drop()
	}
	g.checkTopped()
}

func (g *Game) Advance() {
	if g.over {
		return
	}
	g.boards[0].step()
	g.boards[1].step()
	g.checkTopped()
}

// checkTopped ends the game when a board fills to the spawn row.
func (g *Game) checkTopped() {
	t0, t1 := g.boards[0].topped, g.boards[1].topped
	switch {
	case t0 && t1:
		g.over, g.winner, g.reason = true, match.WinnerTie, match.ReasonTie
	case t0:
		g.over, g.winner, g.reason = true, match.WinnerP2, match.ReasonBoardFull
	case t1:
		g.over, g.winner, g.reason = true, match.WinnerP1, match.ReasonBoardFull
	}
}

func (g *Game) TickInterval() time.Duration { return GravityInterval }

func (g *Game) Finished() (bool, string, string) {
	return g.over, g.winner, g.reason
}

func (g *Game) TimeUp() (string, string) {
	s0, s1 := g.boards[0].score, g.boards[1].score
	switch {
	case s0 > s1:
		return match.WinnerP1, match.ReasonTimeUp
	case s1 > s0:
		return match.WinnerP2, match.ReasonTimeUp
	default:
		return match.WinnerTie, match.ReasonTie
	}
}

func (g *Game) Snapshot() map[string]any {
	return map[string]any{
		"boards": []map[string]any{
			g.boardSnapshot(0),
			g.boardSnapshot(1),
		},
	}
}

func (g *Game) boardSnapshot(i int) map[string]any {
	b := g.boards[i]
	return map[string]any{
		"username": g.players[i],
		"grid":     b.grid(),
		"score":    b.score,
		"lines":    b.lines,
		"topped":   b.topped,
	}
}

func (g *Game) Results() [2]match.PlayerResult {
	var out [2]match.PlayerResult
	for i, b := range g.boards {
		out[i] = match.PlayerResult{
			"userId": g.players[i],
			"score":  b.score,
			"lines":  b.lines,
		}
	}
	return out
}
