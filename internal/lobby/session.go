// internal/lobby/session.go
package lobby

import (
	"encoding/json"
	"strings"

	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

// credentials accepts both the short and long key spellings clients use.
type credentials struct {
	User     string `json:"user"`
	Pass     string `json:"pass"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c credentials) pair() (string, string) {
	user, pass := c.User, c.Pass
	if user == "" {
		user = c.Username
	}
	if pass == "" {
		pass = c.Password
	}
	return user, pass
}

func (s *Server) handleRegister(_ *client, data json.RawMessage) map[string]any {
	var creds credentials
	if reason := decodeInto(data, &creds); reason != "" {
		return protocol.Error(reason)
	}
	user, pass := creds.pair()
	if user == "" || pass == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	resp, err := s.store.Do(protocol.CollectionUser, "create", map[string]any{
		"username": user, "password": pass,
	})
	if err != nil {
		s.log.WithError(err).Error("storage unreachable during register")
		return protocol.Error(resp.Reason)
	}
	if !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	s.log.WithField("user", user).Info("registered user")
	return protocol.OK(nil)
}

func (s *Server) handleLogin(c *client, data json.RawMessage) map[string]any {
	if c.authed() {
		return protocol.Error(protocol.ReasonAlreadyLoggedIn)
	}

	var creds credentials
	if reason := decodeInto(data, &creds); reason != "" {
		return protocol.Error(reason)
	}
	user, pass := creds.pair()
	if user == "" || pass == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	if s.session(user) != nil {
		return protocol.Error(protocol.ReasonAlreadyLoggedIn)
	}

	resp, err := s.store.Do(protocol.CollectionUser, "query", map[string]any{
		"username": user, "password": pass,
	})
	if err != nil {
		s.log.WithError(err).Error("storage unreachable during login")
		return protocol.Error(resp.Reason)
	}
	if !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	var info storage.UserInfo
	if err := resp.Get("user", &info); err != nil {
		return protocol.Error(protocol.ReasonInternalError)
	}

	sess := &Session{
		Username:    info.Username,
		IsDeveloper: info.IsDeveloper,
		Status:      storage.StatusOnline,
		w:           c.w,
	}
	s.sessionsMu.Lock()
	if _, taken := s.sessions[info.Username]; taken {
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonAlreadyLoggedIn)
	}
	s.sessions[info.Username] = sess
	s.sessionsMu.Unlock()

	c.username = info.Username
	s.setStoredStatus(info.Username, storage.StatusOnline)
	s.log.WithField("user", info.Username).Info("logged in")

	return protocol.OK(map[string]any{
		"reason": "login_successful",
		"user": map[string]any{
			"username":     info.Username,
			"is_developer": info.IsDeveloper,
		},
	})
}

func (s *Server) handleLogout(c *client, _ json.RawMessage) map[string]any {
	if c.authed() {
		s.cleanupSession(c.username)
		c.username = ""
	}
	c.closing = true
	return protocol.OK(map[string]any{"reason": "logout_successful"})
}

// cleanupSession runs the shared logout/disconnect sequence: drop the
// session, leave any idle room, discard pending invites, and mark the
// user offline in storage. Playing rooms are left for the match service
// to finish.
func (s *Server) cleanupSession(username string) {
	var pushes []push
	refreshRooms := false

	s.sessionsMu.Lock()
	sess, ok := s.sessions[username]
	if !ok {
		s.sessionsMu.Unlock()
		return
	}
	delete(s.sessions, username)
	status := sess.Status
	s.sessionsMu.Unlock()

	if strings.HasPrefix(status, "in_room_") {
		s.sessionsMu.Lock()
		s.roomsMu.Lock()
		if r := s.roomFor(username); r != nil && r.Status == RoomIdle {
			pushes, refreshRooms = s.removePlayerLocked(r, username)
		}
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
	}

	s.invitesMu.Lock()
	for k := range s.invites {
		if k.Invitee == username {
			delete(s.invites, k)
		}
	}
	s.invitesMu.Unlock()

	deliver(pushes)
	if refreshRooms {
		s.broadcastLists(false)
	}
	s.setStoredStatus(username, storage.StatusOffline)
	s.log.WithField("user", username).Info("session closed")
}

// setStoredStatus is the best-effort persistent status update. Failures
// are logged and swallowed; the session table stays authoritative.
func (s *Server) setStoredStatus(username, status string) {
	resp, err := s.store.Do(protocol.CollectionUser, "update", map[string]any{
		"username": username, "status": status,
	})
	if err != nil || !resp.OK() {
		s.log.WithField("user", username).Warn("failed to persist user status")
	}
}
