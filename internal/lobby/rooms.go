// internal/lobby/rooms.go
package lobby

import (
	"encoding/json"
	"fmt"

	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

const hostLeftNotice = "The host has left the room."

// roomFor finds the room containing username. Caller holds roomsMu.
func (s *Server) roomFor(username string) *Room {
	for _, r := range s.rooms {
		for _, p := range r.Players {
			if p == username {
				return r
			}
		}
	}
	return nil
}

// removePlayerLocked takes username out of r, handling host departure.
// Caller holds sessionsMu and roomsMu. Returns the pushes to deliver
// after unlock and whether the public room list changed.
func (s *Server) removePlayerLocked(r *Room, username string) ([]push, bool) {
	var pushes []push

	if username == r.Host {
		for _, p := range r.Players {
			if p == username {
				continue
			}
			if sess := s.sessions[p]; sess != nil {
				sess.Status = storage.StatusOnline
				pushes = append(pushes, push{w: sess.w, payload: map[string]any{
					"type":    protocol.MsgKickedFromRoom,
					"room_id": r.ID,
					"reason":  hostLeftNotice,
				}})
			}
		}
		delete(s.rooms, r.ID)
		return pushes, r.Public
	}

	r.remove(username)
	payload := roomUpdatePayload(r)
	for _, p := range r.Players {
		if sess := s.sessions[p]; sess != nil {
			pushes = append(pushes, push{w: sess.w, payload: payload})
		}
	}
	return pushes, r.Public
}

func (s *Server) handleListRooms(_ *client, _ json.RawMessage) map[string]any {
	return protocol.OK(map[string]any{"rooms": s.publicRoomSummaries()})
}

func (s *Server) handleListUsers(_ *client, _ json.RawMessage) map[string]any {
	return protocol.OK(map[string]any{"users": s.userSummaries()})
}

func (s *Server) handleCreateRoom(c *client, data json.RawMessage) map[string]any {
	var p struct {
		Name     string `json:"name"`
		GameID   int    `json:"game_id"`
		IsPublic *bool  `json:"is_public"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return protocol.Error(protocol.ReasonInvalidJSON)
		}
	}
	public := true
	if p.IsPublic != nil {
		public = *p.IsPublic
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("%s's Room", c.username)
	}

	// Resolve the game name before taking any lock. An unknown game is a
	// warning, not an error; the room just shows an empty name.
	gameName := ""
	if p.GameID != 0 {
		resp, err := s.store.Do(protocol.CollectionGame, "query", map[string]any{"game_id": p.GameID})
		if err == nil && resp.OK() {
			var g storage.Game
			if resp.Get("game", &g) == nil {
				gameName = g.Name
			}
		} else {
			s.log.WithField("game_id", p.GameID).Warn("room references unknown game")
		}
	}

	var room *Room
	s.sessionsMu.Lock()
	sess := s.sessions[c.username]
	if sess == nil {
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonMustBeLoggedIn)
	}
	if sess.Status != storage.StatusOnline {
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonAlreadyInARoom)
	}

	s.roomsMu.Lock()
	id := s.nextRoomID
	s.nextRoomID++
	room = &Room{
		ID:       id,
		Name:     p.Name,
		Host:     c.username,
		Players:  []string{c.username},
		Status:   RoomIdle,
		GameID:   p.GameID,
		GameName: gameName,
		Public:   public,
	}
	s.rooms[id] = room
	sess.Status = statusInRoom(id)
	update := roomUpdatePayload(room)
	s.roomsMu.Unlock()
	s.sessionsMu.Unlock()

	c.w.send(update)
	if public {
		s.broadcastLists(false)
	}
	s.setStoredStatus(c.username, statusInRoom(id))
	s.log.WithFields(map[string]any{"room": id, "host": c.username}).Info("room created")
	return protocol.OK(map[string]any{"room_id": id})
}

func (s *Server) handleJoinRoom(c *client, data json.RawMessage) map[string]any {
	var p struct {
		RoomID int `json:"room_id"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.RoomID == 0 {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	var pushes []push
	wasPublic := false

	s.sessionsMu.Lock()
	sess := s.sessions[c.username]
	if sess == nil {
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonMustBeLoggedIn)
	}
	if sess.Status != storage.StatusOnline {
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonAlreadyInARoom)
	}

	s.roomsMu.Lock()
	room := s.rooms[p.RoomID]
	switch {
	case room == nil:
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonRoomNotFound)
	case room.Status == RoomPlaying:
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonRoomIsPlaying)
	case room.full():
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonRoomIsFull)
	}

	if !room.Public {
		s.invitesMu.Lock()
		key := inviteKey{Invitee: c.username, RoomID: room.ID}
		if _, invited := s.invites[key]; !invited {
			s.invitesMu.Unlock()
			s.roomsMu.Unlock()
			s.sessionsMu.Unlock()
			return protocol.Error(protocol.ReasonRoomIsPrivate)
		}
		delete(s.invites, key)
		s.invitesMu.Unlock()
	}

	room.Players = append(room.Players, c.username)
	sess.Status = statusInRoom(room.ID)
	wasPublic = room.Public

	payload := roomUpdatePayload(room)
	for _, member := range room.Players {
		if ms := s.sessions[member]; ms != nil {
			pushes = append(pushes, push{w: ms.w, payload: payload})
		}
	}
	roomID := room.ID
	s.roomsMu.Unlock()
	s.sessionsMu.Unlock()

	deliver(pushes)
	if wasPublic {
		s.broadcastLists(false)
	}
	s.setStoredStatus(c.username, statusInRoom(roomID))
	return protocol.OK(map[string]any{"room_id": roomID})
}

// handleLeaveRoom is deliberately silent on success; members learn the
// outcome from ROOM_UPDATE or KICKED_FROM_ROOM pushes.
func (s *Server) handleLeaveRoom(c *client, _ json.RawMessage) map[string]any {
	var pushes []push
	refresh := false

	s.sessionsMu.Lock()
	sess := s.sessions[c.username]
	if sess == nil {
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonMustBeLoggedIn)
	}

	s.roomsMu.Lock()
	room := s.roomFor(c.username)
	if room == nil {
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonNotInARoom)
	}
	if room.Status == RoomPlaying {
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonRoomIsPlaying)
	}

	pushes, refresh = s.removePlayerLocked(room, c.username)
	sess.Status = storage.StatusOnline
	s.roomsMu.Unlock()
	s.sessionsMu.Unlock()

	deliver(pushes)
	if refresh {
		s.broadcastLists(false)
	}
	s.setStoredStatus(c.username, storage.StatusOnline)
	return nil
}

func (s *Server) handleInvite(c *client, data json.RawMessage) map[string]any {
	var p struct {
		TargetUser string `json:"target_user"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.TargetUser == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}
	if p.TargetUser == c.username {
		return protocol.Error("cannot_invite_self")
	}

	var invitePush *push

	s.sessionsMu.Lock()
	target := s.sessions[p.TargetUser]
	if target == nil {
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonUserNotFound)
	}
	if target.Status != storage.StatusOnline {
		s.sessionsMu.Unlock()
		return protocol.Error("user_is_busy")
	}

	s.roomsMu.Lock()
	room := s.roomFor(c.username)
	if room == nil {
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonNotInARoom)
	}

	s.invitesMu.Lock()
	s.invites[inviteKey{Invitee: p.TargetUser, RoomID: room.ID}] = Invite{
		From:     c.username,
		RoomID:   room.ID,
		GameName: room.GameName,
	}
	s.invitesMu.Unlock()

	invitePush = &push{w: target.w, payload: map[string]any{
		"type":      protocol.MsgInviteReceived,
		"from_user": c.username,
		"room_id":   room.ID,
		"game_name": room.GameName,
	}}
	s.roomsMu.Unlock()
	s.sessionsMu.Unlock()

	invitePush.w.send(invitePush.payload)
	return protocol.OK(map[string]any{"reason": "invite_sent"})
}
