// internal/lobby/games.go
package lobby

import (
	"encoding/base64"
	"encoding/json"

	"github.com/arcadelab/arcade/internal/artifacts"
	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

// --- Browsing (any authenticated user) ---

func (s *Server) handleListGames(_ *client, _ json.RawMessage) map[string]any {
	resp, err := s.store.Do(protocol.CollectionGame, "list", nil)
	if err != nil || !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	var games []storage.Game
	if err := resp.Get("games", &games); err != nil {
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"games": games})
}

func (s *Server) handleSearchGames(_ *client, data json.RawMessage) map[string]any {
	var p struct {
		Query string `json:"query"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.Query == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	resp, err := s.store.Do(protocol.CollectionGame, "search", map[string]any{"query": p.Query})
	if err != nil || !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	var games []storage.Game
	if err := resp.Get("games", &games); err != nil {
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"games": games})
}

func (s *Server) handleGetGameInfo(_ *client, data json.RawMessage) map[string]any {
	var p struct {
		GameID int `json:"game_id"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.GameID == 0 {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	g, reason := s.fetchGame(p.GameID)
	if reason != "" {
		return protocol.Error(reason)
	}
	return protocol.OK(map[string]any{"game": g})
}

func (s *Server) handleDownloadGame(_ *client, data json.RawMessage) map[string]any {
	var p struct {
		GameID  int    `json:"game_id"`
		Version string `json:"version"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.GameID == 0 {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	g, reason := s.fetchGame(p.GameID)
	if reason != "" {
		return protocol.Error(reason)
	}
	version := p.Version
	if version == "" {
		version = g.CurrentVersion
	}

	q := map[string]any{"game_id": p.GameID}
	if version != "" {
		q["version"] = version
	}
	resp, err := s.store.Do(protocol.CollectionGameVersion, "query", q)
	if err != nil || !resp.OK() {
		return protocol.Error(protocol.ReasonVersionNotFound)
	}
	var v storage.GameVersion
	if err := resp.Get("version", &v); err != nil {
		return protocol.Error(protocol.ReasonInternalError)
	}

	blob, err := s.files.Read(v.FilePath)
	if err != nil {
		s.log.WithField("path", v.FilePath).WithError(err).Warn("artifact missing on disk")
		return protocol.Error(protocol.ReasonFileNotFound)
	}

	return protocol.OK(map[string]any{
		"action":    protocol.ActionDownloadGame,
		"game_id":   g.ID,
		"game_name": g.Name,
		"version":   v.Version,
		"file_data": base64.StdEncoding.EncodeToString(blob),
		"file_hash": v.FileHash,
	})
}

// --- Developer actions ---

// requireDeveloper re-checks the flag against storage on every call so
// revocations take effect without re-login.
func (s *Server) requireDeveloper(username string) string {
	resp, err := s.store.Do(protocol.CollectionUser, "get", map[string]any{"username": username})
	if err != nil || !resp.OK() {
		return protocol.ReasonUserNotFound
	}
	var info storage.UserInfo
	if err := resp.Get("user", &info); err != nil || !info.IsDeveloper {
		return protocol.ReasonNotDeveloper
	}
	return ""
}

func (s *Server) handleUploadGame(c *client, data json.RawMessage) map[string]any {
	if reason := s.requireDeveloper(c.username); reason != "" {
		return protocol.Error(reason)
	}

	var p struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Version     string `json:"version"`
		FileData    string `json:"file_data"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.Name == "" || p.Version == "" || p.FileData == "" {
		return protocol.Error(protocol.ReasonMissingFields)
	}
	blob, err := base64.StdEncoding.DecodeString(p.FileData)
	if err != nil {
		return protocol.Error("invalid_file_data")
	}

	resp, err := s.store.Do(protocol.CollectionGame, "create", map[string]any{
		"name":        p.Name,
		"author":      c.username,
		"description": p.Description,
		"version":     p.Version,
	})
	if err != nil || !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	var gameID int
	if err := resp.Get("game_id", &gameID); err != nil {
		return protocol.Error(protocol.ReasonInternalError)
	}

	// Partial failures past this point leave orphan rows; they are
	// logged and tolerated.
	rel, hash, err := s.files.Save(gameID, p.Version, artifacts.DefaultFileName, blob)
	if err != nil {
		s.log.WithField("game_id", gameID).WithError(err).Error("artifact write failed")
		return protocol.Error(protocol.ReasonInternalError)
	}
	resp, err = s.store.Do(protocol.CollectionGameVersion, "create", map[string]any{
		"game_id":   gameID,
		"version":   p.Version,
		"file_path": rel,
		"file_hash": hash,
	})
	if err != nil || !resp.OK() {
		s.log.WithField("game_id", gameID).Error("version row create failed")
		return protocol.Error(protocol.ReasonInternalError)
	}

	s.log.WithFields(map[string]any{"game_id": gameID, "version": p.Version, "author": c.username}).
		Info("game uploaded")
	return protocol.OK(map[string]any{"game_id": gameID, "version": p.Version})
}

func (s *Server) handleUpdateGame(c *client, data json.RawMessage) map[string]any {
	if reason := s.requireDeveloper(c.username); reason != "" {
		return protocol.Error(reason)
	}

	var p struct {
		GameID      int     `json:"game_id"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Version     string  `json:"version"`
		FileData    string  `json:"file_data"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.GameID == 0 {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	g, reason := s.fetchGame(p.GameID)
	if reason != "" {
		return protocol.Error(reason)
	}
	if g.Author != c.username {
		return protocol.Error(protocol.ReasonNotGameOwner)
	}

	upd := map[string]any{"game_id": p.GameID}
	if p.Name != nil {
		upd["name"] = *p.Name
	}
	if p.Description != nil {
		upd["description"] = *p.Description
	}

	if p.FileData != "" {
		if p.Version == "" {
			return protocol.Error(protocol.ReasonMissingFields)
		}
		blob, err := base64.StdEncoding.DecodeString(p.FileData)
		if err != nil {
			return protocol.Error("invalid_file_data")
		}
		rel, hash, err := s.files.Save(p.GameID, p.Version, artifacts.DefaultFileName, blob)
		if err != nil {
			s.log.WithField("game_id", p.GameID).WithError(err).Error("artifact write failed")
			return protocol.Error(protocol.ReasonInternalError)
		}
		resp, err := s.store.Do(protocol.CollectionGameVersion, "create", map[string]any{
			"game_id":   p.GameID,
			"version":   p.Version,
			"file_path": rel,
			"file_hash": hash,
		})
		if err != nil || !resp.OK() {
			return protocol.Error(resp.Reason)
		}
		upd["current_version"] = p.Version
	} else if p.Version != "" {
		upd["current_version"] = p.Version
	}

	resp, err := s.store.Do(protocol.CollectionGame, "update", upd)
	if err != nil || !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	return protocol.OK(nil)
}

func (s *Server) handleRemoveGame(c *client, data json.RawMessage) map[string]any {
	if reason := s.requireDeveloper(c.username); reason != "" {
		return protocol.Error(reason)
	}

	var p struct {
		GameID int `json:"game_id"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}
	if p.GameID == 0 {
		return protocol.Error(protocol.ReasonMissingFields)
	}

	g, reason := s.fetchGame(p.GameID)
	if reason != "" {
		return protocol.Error(reason)
	}
	if g.Author != c.username {
		return protocol.Error(protocol.ReasonNotGameOwner)
	}

	resp, err := s.store.Do(protocol.CollectionGame, "delete", map[string]any{"game_id": p.GameID})
	if err != nil || !resp.OK() {
		return protocol.Error(resp.Reason)
	}

	// Clients purge their local copies on this push.
	s.broadcast(map[string]any{"type": protocol.MsgGameDeleted, "game_id": p.GameID})
	s.log.WithFields(map[string]any{"game_id": p.GameID, "author": c.username}).Info("game removed")
	return protocol.OK(nil)
}

func (s *Server) handleListMyGames(c *client, _ json.RawMessage) map[string]any {
	if reason := s.requireDeveloper(c.username); reason != "" {
		return protocol.Error(reason)
	}

	resp, err := s.store.Do(protocol.CollectionGame, "list_by_author", map[string]any{"author": c.username})
	if err != nil || !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	var games []storage.Game
	if err := resp.Get("games", &games); err != nil {
		return protocol.Error(protocol.ReasonInternalError)
	}
	return protocol.OK(map[string]any{"games": games})
}

// --- Match history ---

func (s *Server) handleQueryGameLogs(c *client, data json.RawMessage) map[string]any {
	var p struct {
		UserID string `json:"userId"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return protocol.Error(protocol.ReasonInvalidJSON)
		}
	}

	resp, err := s.store.Do(protocol.CollectionGameLog, "query", map[string]any{"userId": p.UserID})
	if err != nil || !resp.OK() {
		return protocol.Error(resp.Reason)
	}
	var logs []storage.GameLog
	if err := resp.Get("logs", &logs); err != nil {
		return protocol.Error(protocol.ReasonInternalError)
	}
	return map[string]any{"type": protocol.MsgGameLogResponse, "logs": logs}
}

// fetchGame pulls a game row, mapping failures into a reason token.
func (s *Server) fetchGame(gameID int) (storage.Game, string) {
	resp, err := s.store.Do(protocol.CollectionGame, "query", map[string]any{"game_id": gameID})
	if err != nil {
		return storage.Game{}, resp.Reason
	}
	if !resp.OK() {
		return storage.Game{}, protocol.ReasonGameNotFound
	}
	var g storage.Game
	if err := resp.Get("game", &g); err != nil {
		return storage.Game{}, protocol.ReasonInternalError
	}
	return g, ""
}
