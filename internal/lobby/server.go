// internal/lobby/server.go

// Package lobby implements the coordination hub: long-lived client
// connections, the session/room/invite tables, game browsing and
// developer actions, and the handoff to per-match game servers.
package lobby

import (
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arcadelab/arcade/internal/artifacts"
	"github.com/arcadelab/arcade/internal/config"
	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

// MatchLauncher starts a match service for a full room and confirms it
// is accepting connections. The production implementation spawns the
// game artifact as a child process; tests substitute their own.
type MatchLauncher interface {
	Launch(port int, p1, p2 string, roomID, gameID int) error
}

// handler processes one decoded request on behalf of conn. A nil return
// means the handler already said everything it needs to (or chose
// silence, as leave_room does).
type handler func(c *client, data json.RawMessage) map[string]any

// Server is the lobby daemon.
type Server struct {
	cfg      config.Config
	log      *logrus.Logger
	store    *storage.Client
	files    *artifacts.Repo
	launcher MatchLauncher

	// Lock order: sessionsMu, then roomsMu, then invitesMu. Never the
	// other way around, and never held across a downstream dial.
	sessionsMu sync.Mutex
	sessions   map[string]*Session

	roomsMu    sync.Mutex
	rooms      map[int]*Room
	nextRoomID int

	invitesMu sync.Mutex
	invites   map[inviteKey]Invite

	handlers map[string]handler
	preAuth  map[string]bool

	ln net.Listener
}

// New builds a lobby server talking to the storage service at
// cfg.StorageAddr(). Passing a nil launcher selects the subprocess
// launcher.
func New(cfg config.Config, log *logrus.Logger, launcher MatchLauncher) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		store:      storage.NewClient(cfg.StorageAddr()),
		files:      artifacts.NewRepo(cfg.StorageDir),
		launcher:   launcher,
		sessions:   make(map[string]*Session),
		rooms:      make(map[int]*Room),
		nextRoomID: firstRoomID,
		invites:    make(map[inviteKey]Invite),
	}
	if s.launcher == nil {
		s.launcher = newProcessLauncher(cfg, log, s.store, s.files)
	}

	s.handlers = map[string]handler{
		protocol.ActionRegister:   s.handleRegister,
		protocol.ActionLogin:      s.handleLogin,
		protocol.ActionLogout:     s.handleLogout,
		protocol.ActionListRooms:  s.handleListRooms,
		protocol.ActionListUsers:  s.handleListUsers,
		protocol.ActionCreateRoom: s.handleCreateRoom,
		protocol.ActionJoinRoom:   s.handleJoinRoom,
		protocol.ActionLeaveRoom:  s.handleLeaveRoom,
		protocol.ActionInvite:     s.handleInvite,
		protocol.ActionStartGame:  s.handleStartGame,
		protocol.ActionGameOver:   s.handleGameOver,

		protocol.ActionListGames:    s.handleListGames,
		protocol.ActionSearchGames:  s.handleSearchGames,
		protocol.ActionGetGameInfo:  s.handleGetGameInfo,
		protocol.ActionDownloadGame: s.handleDownloadGame,

		protocol.ActionUploadGame:  s.handleUploadGame,
		protocol.ActionUpdateGame:  s.handleUpdateGame,
		protocol.ActionRemoveGame:  s.handleRemoveGame,
		protocol.ActionListMyGames: s.handleListMyGames,

		protocol.ActionQueryGameLogs: s.handleQueryGameLogs,
	}
	// game_over is unauthenticated by topology: only match services the
	// lobby spawned know live room ids.
	s.preAuth = map[string]bool{
		protocol.ActionRegister: true,
		protocol.ActionLogin:    true,
		protocol.ActionLogout:   true,
		protocol.ActionGameOver: true,
	}
	return s
}

// Listen binds the lobby port.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.WithField("addr", ln.Addr().String()).Info("lobby service listening")
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until the listener closes.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.WithError(err).Error("accept failed")
			continue
		}
		go s.serveConn(conn)
	}
}

// Close shuts the listener down. Existing connections run until their
// clients leave.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// client is the per-connection worker state.
type client struct {
	w        *wire
	username string // empty before login
	closing  bool   // set by logout so the loop exits after replying
}

func (c *client) authed() bool { return c.username != "" }

// serveConn runs one connection's request loop. Frame-level violations
// and socket errors end the loop; business errors never do.
func (s *Server) serveConn(conn net.Conn) {
	c := &client{w: &wire{conn: conn}}
	defer func() {
		conn.Close()
		if c.authed() {
			s.cleanupSession(c.username)
		}
	}()

	for {
		body, err := protocol.ReadFrame(conn)
		if err != nil {
			s.log.WithField("user", c.username).WithError(err).Debug("connection closed")
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(body, &req); err != nil {
			c.w.send(protocol.Error(protocol.ReasonInvalidJSON))
			continue
		}

		if resp := s.dispatch(c, req); resp != nil {
			if err := c.w.send(resp); err != nil {
				return
			}
		}
		if c.closing {
			return
		}
	}
}

func (s *Server) dispatch(c *client, req protocol.Request) map[string]any {
	h, ok := s.handlers[req.Action]
	if !ok {
		return protocol.Error("unknown_action")
	}
	if !c.authed() && !s.preAuth[req.Action] {
		return protocol.Error(protocol.ReasonMustBeLoggedIn)
	}
	return h(c, req.Data)
}

// decodeInto parses a payload the action cannot do without.
func decodeInto(data json.RawMessage, dst any) string {
	if len(data) == 0 {
		return protocol.ReasonMissingFields
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return protocol.ReasonInvalidJSON
	}
	return ""
}

// session returns the live session for username, or nil.
func (s *Server) session(username string) *Session {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return s.sessions[username]
}

// allSessionWires copies out every connected client's wire.
func (s *Server) allSessionWires() []*wire {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	ws := make([]*wire, 0, len(s.sessions))
	for _, sess := range s.sessions {
		ws = append(ws, sess.w)
	}
	return ws
}

// broadcast sends payload to every connected session, lock-free during
// the sends.
func (s *Server) broadcast(payload map[string]any) {
	for _, w := range s.allSessionWires() {
		w.send(payload)
	}
}

// broadcastLists pushes the refreshed public room list, and optionally
// the user list, to every session.
func (s *Server) broadcastLists(includeUsers bool) {
	rooms := s.publicRoomSummaries()
	s.broadcast(map[string]any{"type": protocol.MsgRoomList, "rooms": rooms})
	if includeUsers {
		users := s.userSummaries()
		s.broadcast(map[string]any{"type": protocol.MsgUserList, "users": users})
	}
}

func (s *Server) publicRoomSummaries() []map[string]any {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	out := make([]map[string]any, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.Public && r.Status == RoomIdle {
			out = append(out, roomSummary(r))
		}
	}
	return out
}

func (s *Server) userSummaries() []map[string]any {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	out := make([]map[string]any, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, userSummary(sess))
	}
	return out
}
