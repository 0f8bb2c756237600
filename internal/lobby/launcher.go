// internal/lobby/launcher.go
package lobby

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcadelab/arcade/internal/artifacts"
	"github.com/arcadelab/arcade/internal/config"
	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

// handleStartGame moves a full idle room into play and hands both
// players the match endpoint. The playing transition happens first,
// under the locks; the launch itself runs outside them and rolls the
// room back if it fails.
func (s *Server) handleStartGame(c *client, _ json.RawMessage) map[string]any {
	s.sessionsMu.Lock()
	s.roomsMu.Lock()
	room := s.roomFor(c.username)
	switch {
	case room == nil:
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonNotInARoom)
	case room.Host != c.username:
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonNotRoomHost)
	case room.Status == RoomPlaying:
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonRoomIsPlaying)
	case !room.full():
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonRoomNotFull)
	}

	room.Status = RoomPlaying
	players := [2]string{room.Players[0], room.Players[1]}
	roomID, gameID := room.ID, room.GameID
	var wires []*wire
	for _, p := range players {
		if sess := s.sessions[p]; sess != nil {
			sess.Status = storage.StatusPlaying
			wires = append(wires, sess.w)
		}
	}
	s.roomsMu.Unlock()
	s.sessionsMu.Unlock()

	for _, p := range players {
		s.setStoredStatus(p, storage.StatusPlaying)
	}

	port, err := pickFreePort(s.cfg.GamePortBase)
	if err == nil {
		err = s.launcher.Launch(port, players[0], players[1], roomID, gameID)
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"room": roomID}).WithError(err).Error("match launch failed")
		s.rollbackStart(roomID, players)
		return protocol.Error("game_launch_failed")
	}

	payload := map[string]any{
		"type":    protocol.MsgGameStart,
		"host":    s.cfg.LobbyHost,
		"port":    port,
		"room_id": roomID,
	}
	for _, w := range wires {
		w.send(payload)
	}
	s.log.WithFields(logrus.Fields{"room": roomID, "port": port}).Info("match started")
	return protocol.OK(nil)
}

// rollbackStart undoes the playing transition after a failed launch.
func (s *Server) rollbackStart(roomID int, players [2]string) {
	s.sessionsMu.Lock()
	s.roomsMu.Lock()
	if room := s.rooms[roomID]; room != nil && room.Status == RoomPlaying {
		room.Status = RoomIdle
	}
	for _, p := range players {
		if sess := s.sessions[p]; sess != nil {
			sess.Status = statusInRoom(roomID)
		}
	}
	s.roomsMu.Unlock()
	s.sessionsMu.Unlock()

	for _, p := range players {
		s.setStoredStatus(p, statusInRoom(roomID))
	}
}

// handleGameOver is the unauthenticated notification from a finished
// match service. The room dissolves and both players return to the
// lobby floor.
func (s *Server) handleGameOver(_ *client, data json.RawMessage) map[string]any {
	var p struct {
		RoomID int `json:"room_id"`
	}
	if reason := decodeInto(data, &p); reason != "" {
		return protocol.Error(reason)
	}

	s.sessionsMu.Lock()
	s.roomsMu.Lock()
	room := s.rooms[p.RoomID]
	if room == nil {
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error(protocol.ReasonRoomNotFound)
	}
	if room.Status != RoomPlaying {
		s.roomsMu.Unlock()
		s.sessionsMu.Unlock()
		return protocol.Error("room_not_playing")
	}
	players := append([]string(nil), room.Players...)
	delete(s.rooms, p.RoomID)
	for _, member := range players {
		if sess := s.sessions[member]; sess != nil {
			sess.Status = storage.StatusOnline
		}
	}
	s.roomsMu.Unlock()
	s.sessionsMu.Unlock()

	for _, member := range players {
		s.setStoredStatus(member, storage.StatusOnline)
	}
	s.broadcastLists(true)
	s.log.WithField("room", p.RoomID).Info("match finished, room dissolved")
	return protocol.OK(nil)
}

// pickFreePort trial-binds ports upward from base and returns the first
// one that accepts a listener.
func pickFreePort(base int) (int, error) {
	for port := base; port < base+1000; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in [%d, %d)", base, base+1000)
}

// processLauncher spawns the game artifact as a child process and
// confirms readiness by connect-probe.
type processLauncher struct {
	cfg   config.Config
	log   *logrus.Logger
	store *storage.Client
	files *artifacts.Repo
}

func newProcessLauncher(cfg config.Config, log *logrus.Logger, store *storage.Client, files *artifacts.Repo) *processLauncher {
	return &processLauncher{cfg: cfg, log: log, store: store, files: files}
}

func (l *processLauncher) Launch(port int, p1, p2 string, roomID, gameID int) error {
	name, args := l.command(gameID)
	args = append(args,
		"--mode", "server",
		"--port", strconv.Itoa(port),
		"--p1", p1,
		"--p2", p2,
		"--room_id", strconv.Itoa(roomID),
	)

	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning match service: %w", err)
	}
	go cmd.Wait()

	if err := probePort(port, 5*time.Second); err != nil {
		return fmt.Errorf("match service never came up on port %d: %w", port, err)
	}
	return nil
}

// command resolves the executable for a room's game. Uploaded artifacts
// are launched directly when executable, or through the configured
// interpreter for source uploads; anything unresolved falls back to the
// built-in default game.
func (l *processLauncher) command(gameID int) (string, []string) {
	if gameID == 0 {
		return l.cfg.DefaultGameCommand, nil
	}

	path, err := l.artifactPath(gameID)
	if err != nil {
		l.log.WithField("game_id", gameID).WithError(err).Warn("falling back to default game")
		return l.cfg.DefaultGameCommand, nil
	}

	if strings.HasSuffix(path, ".py") && l.cfg.ArtifactInterpreter != "" {
		return l.cfg.ArtifactInterpreter, []string{path}
	}
	if info, err := os.Stat(path); err == nil && info.Mode()&0o111 != 0 {
		return path, nil
	}
	if l.cfg.ArtifactInterpreter != "" {
		return l.cfg.ArtifactInterpreter, []string{path}
	}
	return l.cfg.DefaultGameCommand, nil
}

// artifactPath walks game -> current version -> stored file path.
func (l *processLauncher) artifactPath(gameID int) (string, error) {
	resp, err := l.store.Do(protocol.CollectionGame, "query", map[string]any{"game_id": gameID})
	if err != nil || !resp.OK() {
		return "", fmt.Errorf("game %d not resolvable: %s", gameID, resp.Reason)
	}
	var g storage.Game
	if err := resp.Get("game", &g); err != nil {
		return "", err
	}

	q := map[string]any{"game_id": gameID}
	if g.CurrentVersion != "" {
		q["version"] = g.CurrentVersion
	}
	resp, err = l.store.Do(protocol.CollectionGameVersion, "query", q)
	if err != nil || !resp.OK() {
		return "", fmt.Errorf("no version for game %d: %s", gameID, resp.Reason)
	}
	var v storage.GameVersion
	if err := resp.Get("version", &v); err != nil {
		return "", err
	}
	return l.files.Abs(v.FilePath)
}

// probePort dials the port until it answers or the deadline passes.
func probePort(port int, within time.Duration) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("connect probe timed out after %s", within)
}
