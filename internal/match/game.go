// internal/match/game.go

// Package match is the framework shared by every game artifact: the
// authoritative two-player server loop and the thin client runtime.
package match

import "time"

// PlayerResult is one player's line in the final match record.
type PlayerResult map[string]any

// Game is the rule set a match engine drives. Implementations are not
// goroutine-safe; the engine serializes all calls on its main loop.
type Game interface {
	// Apply handles one input token from player 0 or 1.
	Apply(player int, action string)

	// Advance moves the simulation one tick forward.
	Advance()

	// TickInterval is the cadence Advance is called at.
	TickInterval() time.Duration

	// Snapshot renders the full state broadcast to both clients.
	Snapshot() map[string]any

	// Finished reports whether the rules ended the game, and if so the
	// winner tag (P1, P2 or TIE) and reason tag.
	Finished() (over bool, winner, reason string)

	// TimeUp decides the outcome when the match clock expires.
	TimeUp() (winner, reason string)

	// Results returns both players' result lines, index-aligned with
	// the player order.
	Results() [2]PlayerResult
}

// Winner tags.
const (
	WinnerP1  = "P1"
	WinnerP2  = "P2"
	WinnerTie = "TIE"
)

// End reason tags.
const (
	ReasonBoardFull  = "board_full"
	ReasonForfeit    = "forfeit"
	ReasonTimeUp     = "time_up"
	ReasonTie        = "tie"
	ReasonDisconnect = "disconnect"
	ReasonWin        = "win"
)
