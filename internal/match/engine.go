// internal/match/engine.go
package match

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

// DefaultDuration is the match clock.
const DefaultDuration = 60 * time.Second

const snapshotInterval = 100 * time.Millisecond

// Config parameterizes one match engine instance.
type Config struct {
	Players  [2]string
	RoomID   int
	GameID   int
	Seed     int64
	Duration time.Duration

	// Downstream endpoints for the trailing log write and room release.
	StorageAddr string
	LobbyAddr   string
}

// Engine runs one authoritative two-player match to completion.
type Engine struct {
	cfg  Config
	game Game
	log  *logrus.Logger

	ln      net.Listener
	clients [2]net.Conn
	events  chan event
	pending []event
	done    chan struct{}
	readers errgroup.Group
}

type eventKind int

const (
	evInput eventKind = iota
	evForfeit
	evDisconnect
)

type event struct {
	player int
	kind   eventKind
	action string
}

// New builds an engine for game.
func New(cfg Config, game Game, log *logrus.Logger) *Engine {
	if cfg.Duration == 0 {
		cfg.Duration = DefaultDuration
	}
	return &Engine{
		cfg:    cfg,
		game:   game,
		log:    log,
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
}

// Listen binds the match port with backlog for exactly the two players.
func (e *Engine) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding match listener: %w", err)
	}
	e.ln = ln
	e.log.WithField("addr", ln.Addr().String()).Info("match service listening")
	return nil
}

// Addr returns the bound listener address.
func (e *Engine) Addr() string {
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// Run accepts both players, drives the game to termination, persists
// the log, broadcasts GAME_OVER and releases the room. The listener is
// closed on return.
func (e *Engine) Run() error {
	defer e.ln.Close()

	if err := e.acceptPlayers(); err != nil {
		return err
	}

	start := time.Now().UTC()
	winner, reason := e.play(start)
	end := time.Now().UTC()
	close(e.done)

	e.finalize(winner, reason, start, end)

	for _, c := range e.clients {
		if c != nil {
			c.Close()
		}
	}
	e.readers.Wait()
	return nil
}

func roleTag(slot int) string { return fmt.Sprintf("P%d", slot+1) }

// acceptPlayers fills both seats. The lobby's readiness probe arrives
// as a connection that drops immediately; a seat whose occupant
// disconnects before the game starts is reopened rather than forfeited.
// Inputs that land during the settle window are replayed once the main
// loop starts.
func (e *Engine) acceptPlayers() error {
	occupied := [2]bool{}
	count := 0

	free := func(player int) {
		occupied[player] = false
		if e.clients[player] != nil {
			e.clients[player].Close()
			e.clients[player] = nil
		}
		count--
		e.log.WithField("role", roleTag(player)).Debug("seat reopened")
	}

	for {
		for count < 2 {
			conn, err := e.ln.Accept()
			if err != nil {
				return fmt.Errorf("accepting player: %w", err)
			}

		drain:
			for {
				select {
				case ev := <-e.events:
					if ev.kind == evDisconnect && occupied[ev.player] {
						free(ev.player)
					} else if ev.kind != evDisconnect {
						e.pending = append(e.pending, ev)
					}
				default:
					break drain
				}
			}

			slot := 0
			if occupied[0] {
				slot = 1
			}
			welcome := map[string]any{
				"type": protocol.MsgWelcome,
				"role": roleTag(slot),
				"seed": e.cfg.Seed,
			}
			if err := protocol.WriteJSON(conn, welcome); err != nil {
				conn.Close()
				continue
			}

			occupied[slot] = true
			e.clients[slot] = conn
			count++
			seat := slot
			e.readers.Go(func() error {
				e.readLoop(seat, conn)
				return nil
			})
			e.log.WithField("role", roleTag(slot)).Info("player connected")
		}

		// A probe's EOF can surface just after the last seat fills; give
		// it a moment before committing the lineup.
		settle := time.NewTimer(150 * time.Millisecond)
	settled:
		for {
			select {
			case ev := <-e.events:
				if ev.kind == evDisconnect && occupied[ev.player] {
					settle.Stop()
					free(ev.player)
					break settled
				}
				if ev.kind != evDisconnect {
					e.pending = append(e.pending, ev)
				}
			case <-settle.C:
				return nil
			}
		}
	}
}

// readLoop forwards one client's messages into the event channel. A
// read failure is indistinguishable from a forfeit for the other side.
func (e *Engine) readLoop(player int, conn net.Conn) {
	for {
		body, err := protocol.ReadFrame(conn)
		if err != nil {
			e.post(event{player: player, kind: evDisconnect})
			return
		}
		var msg struct {
			Type   string `json:"type"`
			Action string `json:"action"`
		}
		if err := json.Unmarshal(body, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case protocol.MsgInput:
			e.post(event{player: player, kind: evInput, action: msg.Action})
		case protocol.MsgForfeit:
			e.post(event{player: player, kind: evForfeit})
			return
		}
	}
}

// post delivers an event unless the match already ended.
func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// play runs the main loop until the rules, the clock, or a departure
// ends the match.
func (e *Engine) play(start time.Time) (winner, reason string) {
	tick := time.NewTicker(e.game.TickInterval())
	defer tick.Stop()
	snap := time.NewTicker(snapshotInterval)
	defer snap.Stop()
	clock := time.NewTimer(e.cfg.Duration)
	defer clock.Stop()

	for _, ev := range e.pending {
		switch ev.kind {
		case evInput:
			e.game.Apply(ev.player, ev.action)
		case evForfeit:
			return otherRole(ev.player), ReasonForfeit
		}
	}
	e.pending = nil

	for {
		select {
		case ev := <-e.events:
			switch ev.kind {
			case evInput:
				e.game.Apply(ev.player, ev.action)
			case evForfeit, evDisconnect:
				return otherRole(ev.player), ReasonForfeit
			}
		case <-tick.C:
			e.game.Advance()
		case <-snap.C:
			e.broadcastSnapshot(start)
			continue
		case <-clock.C:
			return e.game.TimeUp()
		}
		if over, w, r := e.game.Finished(); over {
			return w, r
		}
	}
}

func otherRole(player int) string {
	if player == 0 {
		return WinnerP2
	}
	return WinnerP1
}

func (e *Engine) broadcastSnapshot(start time.Time) {
	payload := e.game.Snapshot()
	payload["type"] = protocol.MsgSnapshot
	remaining := e.cfg.Duration - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	payload["remaining_time"] = remaining.Seconds()
	e.broadcast(payload)
}

func (e *Engine) broadcast(payload map[string]any) {
	for _, c := range e.clients {
		if c == nil {
			continue
		}
		if err := protocol.WriteJSON(c, payload); err != nil {
			e.log.WithError(err).Debug("client send failed")
		}
	}
}

// finalize persists the log, tells the clients, then tells the lobby.
// The log write comes first; its failure never blocks the broadcast,
// because the clients are the authoritative observers of the outcome.
func (e *Engine) finalize(winner, reason string, start, end time.Time) {
	matchID := "match_" + uuid.NewString()
	results := e.game.Results()

	winnerName, loserName := "", ""
	switch winner {
	case WinnerP1:
		winnerName, loserName = e.cfg.Players[0], e.cfg.Players[1]
	case WinnerP2:
		winnerName, loserName = e.cfg.Players[1], e.cfg.Players[0]
	}

	gl := storage.GameLog{
		MatchID:   matchID,
		GameID:    e.cfg.GameID,
		Users:     []string{e.cfg.Players[0], e.cfg.Players[1]},
		Results:   []map[string]any{results[0], results[1]},
		Winner:    winner,
		Reason:    reason,
		StartTime: start,
		EndTime:   end,
	}
	if e.cfg.StorageAddr != "" {
		client := storage.NewClient(e.cfg.StorageAddr)
		if resp, err := client.Do(protocol.CollectionGameLog, "create", gl); err != nil || !resp.OK() {
			e.log.WithField("matchid", matchID).Warn("game log write failed")
		}
	}

	e.broadcast(map[string]any{
		"type":            protocol.MsgGameOver,
		"winner":          winner,
		"winner_username": winnerName,
		"loser_username":  loserName,
		"reason":          reason,
		"p1_results":      results[0],
		"p2_results":      results[1],
		"room_id":         e.cfg.RoomID,
	})

	if e.cfg.LobbyAddr != "" {
		if err := e.notifyLobby(); err != nil {
			e.log.WithError(err).Warn("lobby game_over notification failed")
		}
	}
	e.log.WithFields(logrus.Fields{
		"matchid": matchID,
		"winner":  winner,
		"reason":  reason,
	}).Info("match finalized")
}

// notifyLobby releases the room over a fresh connection.
func (e *Engine) notifyLobby() error {
	conn, err := net.DialTimeout("tcp", e.cfg.LobbyAddr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dialing lobby: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(map[string]any{"room_id": e.cfg.RoomID})
	if err != nil {
		return err
	}
	req := protocol.Request{Action: protocol.ActionGameOver, Data: data}
	if err := protocol.WriteJSON(conn, req); err != nil {
		return fmt.Errorf("sending game_over: %w", err)
	}
	if _, err := protocol.ReadFrame(conn); err != nil {
		return fmt.Errorf("awaiting game_over ack: %w", err)
	}
	return nil
}
