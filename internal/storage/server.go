// internal/storage/server.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/arcadelab/arcade/internal/protocol"
)

// handlerFunc processes one decoded request payload and returns the
// response envelope.
type handlerFunc func(data json.RawMessage) map[string]any

// Server exposes the Store over TCP, one request per connection.
type Server struct {
	store    *Store
	log      *logrus.Logger
	handlers map[string]handlerFunc

	ln net.Listener
}

// NewServer wires the dispatch registry over store.
func NewServer(store *Store, log *logrus.Logger) *Server {
	s := &Server{store: store, log: log}
	s.handlers = map[string]handlerFunc{
		protocol.CollectionUser + "/create":        s.handleUserCreate,
		protocol.CollectionUser + "/query":         s.handleUserQuery,
		protocol.CollectionUser + "/get":           s.handleUserGet,
		protocol.CollectionUser + "/update":        s.handleUserUpdate,
		protocol.CollectionGame + "/create":        s.handleGameCreate,
		protocol.CollectionGame + "/query":         s.handleGameQuery,
		protocol.CollectionGame + "/list":          s.handleGameList,
		protocol.CollectionGame + "/list_by_author": s.handleGameListByAuthor,
		protocol.CollectionGame + "/search":        s.handleGameSearch,
		protocol.CollectionGame + "/update":        s.handleGameUpdate,
		protocol.CollectionGame + "/delete":        s.handleGameDelete,
		protocol.CollectionGameVersion + "/create": s.handleVersionCreate,
		protocol.CollectionGameVersion + "/query":  s.handleVersionQuery,
		protocol.CollectionGameLog + "/create":     s.handleLogCreate,
		protocol.CollectionGameLog + "/query":      s.handleLogQuery,
	}
	return s
}

// Listen binds addr with SO_REUSEADDR semantics and starts accepting.
// It returns once the listener is up; Serve runs in the caller's choice
// of goroutine via the returned serve func pattern below.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding storage listener: %w", err)
	}
	s.ln = ln
	s.log.WithField("addr", ln.Addr().String()).Info("storage service listening")
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
		go s.handleConn(conn)
	}
}

// Close shuts the listener down.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// handleConn runs one request/response cycle, then closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	body, err := protocol.ReadFrame(conn)
	if err != nil {
		s.log.WithError(err).Debug("client gone before request")
		return
	}

	var req protocol.StorageRequest
	resp := map[string]any{}
	if err := json.Unmarshal(body, &req); err != nil {
		resp = protocol.Error(protocol.ReasonInvalidJSON)
	} else {
		resp = s.dispatch(req)
	}

	if err := protocol.WriteJSON(conn, resp); err != nil {
		s.log.WithError(err).Warn("failed to send response")
	}
}

func (s *Server) dispatch(req protocol.StorageRequest) map[string]any {
	h, ok := s.handlers[req.Collection+"/"+req.Action]
	if !ok {
		return protocol.Error(fmt.Sprintf("unknown action '%s' for %s", req.Action, req.Collection))
	}
	return h(req.Data)
}

// decode unmarshals data into dst, tolerating an absent payload.
func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// --- User handlers ---

func (s *Server) handleUserCreate(data json.RawMessage) map[string]any {
	var p struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		IsDeveloper bool   `json:"is_developer"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.Username == "" || p.Password == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	switch err := s.store.CreateUser(p.Username, p.Password, p.IsDeveloper); {
	case err == nil:
		return protocol.OK(nil)
	case errors.Is(err, ErrUserExists):
		return protocol.Error(protocol.ReasonUserExists)
	default:
		s.log.WithError(err).Error("create user failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
}

func (s *Server) handleUserQuery(data json.RawMessage) map[string]any {
	var p struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.Username == "" || p.Password == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	info, err := s.store.AuthenticateUser(p.Username, p.Password)
	if err != nil {
		s.log.WithField("user", p.Username).Warn("login rejected")
		return protocol.Error(protocol.ReasonInvalidCredentials)
	}
	return protocol.OK(map[string]any{"user": info})
}

func (s *Server) handleUserGet(data json.RawMessage) map[string]any {
	var p struct {
		Username string `json:"username"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.Username == "" {
		return protocol.Error("missing_key:username")
	}

	info, err := s.store.GetUser(p.Username)
	if err != nil {
		return protocol.Error(protocol.ReasonUserNotFound)
	}
	return protocol.OK(map[string]any{"user": info})
}

func (s *Server) handleUserUpdate(data json.RawMessage) map[string]any {
	var p struct {
		Username    string `json:"username"`
		Status      string `json:"status"`
		IsDeveloper *bool  `json:"is_developer"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.Username == "" || (p.Status == "" && p.IsDeveloper == nil) {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	if p.Status != "" {
		if err := s.store.UpdateUserStatus(p.Username, p.Status); err != nil {
			return protocol.Error(protocol.ReasonUserNotFound)
		}
	}
	if p.IsDeveloper != nil {
		if err := s.store.SetDeveloper(p.Username, *p.IsDeveloper); err != nil {
			return protocol.Error(protocol.ReasonUserNotFound)
		}
	}
	return protocol.OK(nil)
}

// --- Game handlers ---

func (s *Server) handleGameCreate(data json.RawMessage) map[string]any {
	var p struct {
		Name        string `json:"name"`
		Author      string `json:"author"`
		Description string `json:"description"`
		Version     string `json:"version"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.Name == "" || p.Author == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	id, err := s.store.CreateGame(p.Name, p.Author, p.Description, p.Version)
	if err != nil {
		s.log.WithError(err).Error("create game failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"game_id": id})
}

func (s *Server) handleGameQuery(data json.RawMessage) map[string]any {
	var p struct {
		GameID int `json:"game_id"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.GameID == 0 {
		return protocol.Error("missing_key:game_id")
	}

	g, err := s.store.GetGame(p.GameID)
	if err != nil {
		return protocol.Error(protocol.ReasonGameNotFound)
	}
	return protocol.OK(map[string]any{"game": g})
}

func (s *Server) handleGameList(json.RawMessage) map[string]any {
	games, err := s.store.ListGames()
	if err != nil {
		s.log.WithError(err).Error("list games failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"games": games})
}

func (s *Server) handleGameListByAuthor(data json.RawMessage) map[string]any {
	var p struct {
		Author string `json:"author"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.Author == "" {
		return protocol.Error("missing_key:author")
	}

	games, err := s.store.ListGamesByAuthor(p.Author)
	if err != nil {
		s.log.WithError(err).Error("list by author failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"games": games})
}

func (s *Server) handleGameSearch(data json.RawMessage) map[string]any {
	var p struct {
		Query string `json:"query"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.Query == "" {
		return protocol.Error("missing_key:query")
	}

	games, err := s.store.SearchGames(p.Query)
	if err != nil {
		s.log.WithError(err).Error("search games failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"games": games})
}

func (s *Server) handleGameUpdate(data json.RawMessage) map[string]any {
	var p struct {
		GameID         int     `json:"game_id"`
		Name           *string `json:"name"`
		Description    *string `json:"description"`
		CurrentVersion *string `json:"current_version"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.GameID == 0 {
		return protocol.Error("missing_key:game_id")
	}

	upd := GameUpdate{Name: p.Name, Description: p.Description, CurrentVersion: p.CurrentVersion}
	if err := s.store.UpdateGame(p.GameID, upd); err != nil {
		return protocol.Error(protocol.ReasonGameNotFound)
	}
	return protocol.OK(nil)
}

func (s *Server) handleGameDelete(data json.RawMessage) map[string]any {
	var p struct {
		GameID int `json:"game_id"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.GameID == 0 {
		return protocol.Error("missing_key:game_id")
	}

	if err := s.store.DeleteGame(p.GameID); err != nil {
		return protocol.Error(protocol.ReasonGameNotFound)
	}
	return protocol.OK(nil)
}

// --- GameVersion handlers ---

func (s *Server) handleVersionCreate(data json.RawMessage) map[string]any {
	var p struct {
		GameID   int    `json:"game_id"`
		Version  string `json:"version"`
		FilePath string `json:"file_path"`
		FileHash string `json:"file_hash"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.GameID == 0 || p.Version == "" || p.FilePath == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	id, err := s.store.CreateGameVersion(p.GameID, p.Version, p.FilePath, p.FileHash)
	switch {
	case err == nil:
		return protocol.OK(map[string]any{"version_id": id})
	case errors.Is(err, ErrVersionExists):
		return protocol.Error("version_already_exists")
	default:
		s.log.WithError(err).Error("create version failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
}

func (s *Server) handleVersionQuery(data json.RawMessage) map[string]any {
	var p struct {
		GameID  int    `json:"game_id"`
		Version string `json:"version"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if p.GameID == 0 {
		return protocol.Error("missing_key:game_id")
	}

	var (
		v   GameVersion
		err error
	)
	if p.Version != "" {
		v, err = s.store.GetGameVersion(p.GameID, p.Version)
	} else {
		v, err = s.store.LatestGameVersion(p.GameID)
	}
	if err != nil {
		return protocol.Error(protocol.ReasonVersionNotFound)
	}
	return protocol.OK(map[string]any{"version": v})
}

// --- GameLog handlers ---

func (s *Server) handleLogCreate(data json.RawMessage) map[string]any {
	var gl GameLog
	if err := decode(data, &gl); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}
	if gl.MatchID == "" {
		return protocol.Error("missing_key:matchid")
	}

	switch err := s.store.CreateGameLog(gl); {
	case err == nil:
		return protocol.OK(nil)
	case errors.Is(err, ErrGameLogExists):
		return protocol.Error(protocol.ReasonGameLogExists)
	default:
		s.log.WithError(err).Error("create game log failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
}

func (s *Server) handleLogQuery(data json.RawMessage) map[string]any {
	var p struct {
		UserID string `json:"userId"`
	}
	if err := decode(data, &p); err != nil {
		return protocol.Error(protocol.ReasonInvalidJSON)
	}

	logs, err := s.store.ListGameLogs(p.UserID)
	if err != nil {
		s.log.WithError(err).Error("query game logs failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"logs": logs})
}
