// internal/lobby/tables.go
package lobby

import (
	"fmt"
	"net"
	"sync"

	"github.com/arcadelab/arcade/internal/protocol"
)

// Room state tags.
const (
	RoomIdle    = "idle"
	RoomPlaying = "playing"
)

// firstRoomID is where the monotonic room counter starts.
const firstRoomID = 100

// wire wraps a client connection so pushes from other goroutines and
// responses from the connection's own worker never interleave frames.
type wire struct {
	conn net.Conn
	mu   sync.Mutex
}

func (w *wire) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return protocol.WriteJSON(w.conn, v)
}

// Session is one authenticated connection.
type Session struct {
	Username    string
	IsDeveloper bool
	Status      string
	w           *wire
}

// Room is a 1-2 player aggregation around a chosen game. Player 0 is
// the host.
type Room struct {
	ID       int
	Name     string
	Host     string
	Players  []string
	Status   string
	GameID   int
	GameName string
	Public   bool
}

func (r *Room) full() bool { return len(r.Players) == 2 }

func (r *Room) remove(username string) {
	out := r.Players[:0]
	for _, p := range r.Players {
		if p != username {
			out = append(out, p)
		}
	}
	r.Players = out
}

// Invite is a one-shot capability to join a private room.
type Invite struct {
	From     string
	RoomID   int
	GameName string
}

type inviteKey struct {
	Invitee string
	RoomID  int
}

// statusInRoom renders the in_room_<N> session status for a room id.
func statusInRoom(roomID int) string {
	return fmt.Sprintf("in_room_%d", roomID)
}

// push is a queued client notification. Mutating operations build their
// push set under the table locks and deliver after releasing them.
type push struct {
	w       *wire
	payload map[string]any
}

func deliver(pushes []push) {
	for _, p := range pushes {
		p.w.send(p.payload)
	}
}

// roomUpdatePayload is the ROOM_UPDATE body sent to room members.
func roomUpdatePayload(r *Room) map[string]any {
	players := make([]string, len(r.Players))
	copy(players, r.Players)
	return map[string]any{
		"type":      protocol.MsgRoomUpdate,
		"room_id":   r.ID,
		"name":      r.Name,
		"host":      r.Host,
		"players":   players,
		"status":    r.Status,
		"game_id":   r.GameID,
		"game_name": r.GameName,
		"is_public": r.Public,
	}
}

// roomSummary is one entry of the list_rooms response.
func roomSummary(r *Room) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"name":      r.Name,
		"host":      r.Host,
		"players":   len(r.Players),
		"game_id":   r.GameID,
		"game_name": r.GameName,
	}
}

// userSummary is one entry of the list_users response.
func userSummary(s *Session) map[string]any {
	return map[string]any{"username": s.Username, "status": s.Status}
}
