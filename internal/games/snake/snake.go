// internal/games/snake/snake.go

// Package snake is the second reference game: two snakes share one
// grid and compete for apples.
package snake

import (
	"math/rand"
	"time"

	"github.com/arcadelab/arcade/internal/match"
)

// Grid dimensions and pacing.
const (
	GridSize     = 15
	TickEvery    = 200 * time.Millisecond
	MaxApples    = 3
	appleEvery   = 2 * time.Second
	appleTickGap = int(appleEvery / TickEvery)
)

// Input tokens accepted from clients.
const (
	ActionUp    = "up"
	ActionDown  = "down"
	ActionLeft  = "left"
	ActionRight = "right"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

var directions = map[string]point{
	ActionUp:    {0, -1},
	ActionDown:  {0, 1},
	ActionLeft:  {-1, 0},
	ActionRight: {1, 0},
}

type snake struct {
	body  []point // head first
	dir   point
	next  point
	alive bool
	score int
}

func (s *snake) head() point { return s.body[0] }

func (s *snake) occupies(p point) bool {
	for _, b := range s.body {
		if b == p {
			return true
		}
	}
	return false
}

// Game drives both snakes and the shared apple pool.
type Game struct {
	players [2]string
	snakes  [2]*snake
	apples  []point
	rng     *rand.Rand

	ticks  int
	over   bool
	winner string
	reason string
}

// New places the snakes on opposite sides, heading at each other.
func New(p1, p2 string, seed int64) *Game {
	mid := GridSize / 2
	left := &snake{
		body:  []point{{3, mid}, {2, mid}, {1, mid}},
		dir:   directions[ActionRight],
		next:  directions[ActionRight],
		alive: true,
	}
	right := &snake{
		body:  []point{{GridSize - 4, mid}, {GridSize - 3, mid}, {GridSize - 2, mid}},
		dir:   directions[ActionLeft],
		next:  directions[ActionLeft],
		alive: true,
	}
	return &Game{
		players: [2]string{p1, p2},
		snakes:  [2]*snake{left, right},
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Apply queues a direction change. Reversing into the own neck is
// ignored.
func (g *Game) Apply(player int, action string) {
	if g.over || player < 0 || player > 1 {
		return
	}
	d, ok := directions[action]
	if !ok {
		return
	}
	s := g.snakes[player]
	if d.X == -s.dir.X && d.Y == -s.dir.Y {
		return
	}
	s.next = d
}

func (g *Game) Advance() {
	if g.over {
		return
	}
	g.ticks++
	if g.ticks%appleTickGap == 0 {
		g.spawnApple()
	}

	// Both snakes move simultaneously; deaths are resolved against the
	// positions after the move.
	var heads [2]point
	var grew [2]bool
	for i, s := range g.snakes {
		s.dir = s.next
		heads[i] = point{s.head().X + s.dir.X, s.head().Y + s.dir.Y}
		grew[i] = g.eatApple(heads[i])
	}
	for i, s := range g.snakes {
		s.body = append([]point{heads[i]}, s.body...)
		if !grew[i] {
			s.body = s.body[:len(s.body)-1]
		} else {
			s.score++
		}
	}

	for i, s := range g.snakes {
		h := heads[i]
		if h.X < 0 || h.X >= GridSize || h.Y < 0 || h.Y >= GridSize {
			s.alive = false
			continue
		}
		for j, other := range g.snakes {
			for k, b := range other.body {
				if i == j && k == 0 {
					continue // own head
				}
				if b == h {
					s.alive = false
				}
			}
		}
	}

	a0, a1 := g.snakes[0].alive, g.snakes[1].alive
	switch {
	case !a0 && !a1:
		g.over, g.winner, g.reason = true, match.WinnerTie, match.ReasonTie
	case !a0:
		g.over, g.winner, g.reason = true, match.WinnerP2, match.ReasonWin
	case !a1:
		g.over, g.winner, g.reason = true, match.WinnerP1, match.ReasonWin
	}
}

// eatApple consumes an apple under p if there is one.
func (g *Game) eatApple(p point) bool {
	for i, a := range g.apples {
		if a == p {
			g.apples = append(g.apples[:i], g.apples[i+1:]...)
			return true
		}
	}
	return false
}

// spawnApple drops a new apple on a free cell, capped at MaxApples.
func (g *Game) spawnApple() {
	if len(g.apples) >= MaxApples {
		return
	}
	for tries := 0; tries < 100; tries++ {
		p := point{g.rng.Intn(GridSize), g.rng.Intn(GridSize)}
		if g.snakes[0].occupies(p) || g.snakes[1].occupies(p) {
			continue
		}
		taken := false
		for _, a := range g.apples {
			if a == p {
				taken = true
				break
			}
		}
		if !taken {
			g.apples = append(g.apples, p)
			return
		}
	}
}

func (g *Game) TickInterval() time.Duration { return TickEvery }

func (g *Game) Finished() (bool, string, string) {
	return g.over, g.winner, g.reason
}

func (g *Game) TimeUp() (string, string) {
	s0, s1 := g.snakes[0].score, g.snakes[1].score
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
		"grid_size": GridSize,
		"apples":    append([]point(nil), g.apples...),
		"snakes": []map[string]any{
			g.snakeSnapshot(0),
			g.snakeSnapshot(1),
		},
	}
}

func (g *Game) snakeSnapshot(i int) map[string]any {
	s := g.snakes[i]
	return map[string]any{
		"username": g.players[i],
		"body":     append([]point(nil), s.body...),
		"score":    s.score,
		"alive":    s.alive,
	}
}

func (g *Game) Results() [2]match.PlayerResult {
	var out [2]match.PlayerResult
	for i, s := range g.snakes {
		out[i] = match.PlayerResult{
			"userId": g.players[i],
			"score":  s.score,
			"length": len(s.body),
		}
	}
	return out
}
