// internal/lobby/server_test.go
package lobby

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadelab/arcade/internal/artifacts"
	"github.com/arcadelab/arcade/internal/config"
	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

type fakeLauncher struct {
	mu       sync.Mutex
	err      error
	launched []int // room ids
}

func (f *fakeLauncher) Launch(port int, p1, p2 string, roomID, gameID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.launched = append(f.launched, roomID)
	return nil
}

type fixture struct {
	cfg      config.Config
	lobby    *Server
	store    *storage.Client
	launcher *fakeLauncher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	dir := t.TempDir()
	st, err := storage.Open(dir, log)
	require.NoError(t, err)
	storageSrv := storage.NewServer(st, log)
	require.NoError(t, storageSrv.Listen("127.0.0.1:0"))
	go storageSrv.Serve()
	t.Cleanup(func() { storageSrv.Close() })

	host, portStr, err := net.SplitHostPort(storageSrv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.StorageHost = host
	cfg.StoragePort = port
	cfg.StorageDir = dir
	cfg.LobbyHost = "127.0.0.1"

	launcher := &fakeLauncher{}
	srv := New(cfg, log, launcher)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	return &fixture{
		cfg:      cfg,
		lobby:    srv,
		store:    storage.NewClient(storageSrv.Addr()),
		launcher: launcher,
	}
}

// testConn is a scripted lobby client. Messages read while waiting for
// something else are buffered, since pushes interleave with responses.
type testConn struct {
	t    *testing.T
	conn net.Conn
	buf  []map[string]any
}

func (f *fixture) dial(t *testing.T) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", f.lobby.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (tc *testConn) send(action string, data map[string]any) {
	tc.t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(tc.t, err)
		raw = b
	}
	require.NoError(tc.t, protocol.WriteJSON(tc.conn, protocol.Request{Action: action, Data: raw}))
}

func (tc *testConn) next(match func(map[string]any) bool) map[string]any {
	tc.t.Helper()
	for i, m := range tc.buf {
		if match(m) {
			tc.buf = append(tc.buf[:i], tc.buf[i+1:]...)
			return m
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		tc.conn.SetReadDeadline(deadline)
		body, err := protocol.ReadFrame(tc.conn)
		require.NoError(tc.t, err, "waiting for message")
		var m map[string]any
		require.NoError(tc.t, json.Unmarshal(body, &m))
		if match(m) {
			return m
		}
		tc.buf = append(tc.buf, m)
	}
}

// response returns the next message that is a reply rather than a push.
func (tc *testConn) response() map[string]any {
	return tc.next(func(m map[string]any) bool {
		_, typed := m["type"]
		return !typed
	})
}

// push returns the next push with the given type tag.
func (tc *testConn) push(tag string) map[string]any {
	return tc.next(func(m map[string]any) bool { return m["type"] == tag })
}

func (tc *testConn) register(user, pass string) map[string]any {
	tc.send(protocol.ActionRegister, map[string]any{"user": user, "pass": pass})
	return tc.response()
}

func (tc *testConn) login(user, pass string) map[string]any {
	tc.send(protocol.ActionLogin, map[string]any{"user": user, "pass": pass})
	return tc.response()
}

func (f *fixture) loginFresh(t *testing.T, user, pass string) *testConn {
	t.Helper()
	tc := f.dial(t)
	require.Equal(t, "ok", tc.register(user, pass)["status"])
	require.Equal(t, "ok", tc.login(user, pass)["status"])
	return tc
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := f.dial(t)

	resp := alice.register("alice", "pw")
	assert.Equal(t, "ok", resp["status"])

	resp = alice.register("alice", "pw")
	assert.Equal(t, protocol.ReasonUserExists, resp["reason"])

	resp = alice.login("alice", "pw")
	require.Equal(t, "ok", resp["status"])
	assert.Equal(t, "login_successful", resp["reason"])
	user := resp["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, false, user["is_developer"])

	second := f.dial(t)
	resp = second.login("alice", "pw")
	assert.Equal(t, protocol.ReasonAlreadyLoggedIn, resp["reason"])
}

func TestActionsRequireLogin(t *testing.T) {
	f := newFixture(t)
	tc := f.dial(t)

	tc.send(protocol.ActionListRooms, nil)
	assert.Equal(t, protocol.ReasonMustBeLoggedIn, tc.response()["reason"])
}

func TestWrongPassword(t *testing.T) {
	f := newFixture(t)
	tc := f.dial(t)
	require.Equal(t, "ok", tc.register("alice", "pw")["status"])

	resp := tc.login("alice", "nope")
	assert.Equal(t, protocol.ReasonInvalidCredentials, resp["reason"])
}

func TestRoomFullFlow(t *testing.T) {
	f := newFixture(t)
	alice := f.loginFresh(t, "alice", "pw")
	bob := f.loginFresh(t, "bob", "pw")
	carol := f.loginFresh(t, "carol", "pw")

	alice.send(protocol.ActionCreateRoom, map[string]any{"name": "arena"})
	resp := alice.response()
	require.Equal(t, "ok", resp["status"])
	roomID := int(resp["room_id"].(float64))
	assert.Equal(t, 100, roomID)

	update := alice.push(protocol.MsgRoomUpdate)
	assert.Equal(t, "alice", update["host"])
	assert.Equal(t, []any{"alice"}, update["players"])

	bob.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	require.Equal(t, "ok", bob.response()["status"])
	for _, tc := range []*testConn{alice, bob} {
		update = tc.push(protocol.MsgRoomUpdate)
		assert.Equal(t, []any{"alice", "bob"}, update["players"])
	}

	carol.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	assert.Equal(t, protocol.ReasonRoomIsFull, carol.response()["reason"])

	// Only the host of a full room may start.
	bob.send(protocol.ActionStartGame, nil)
	assert.Equal(t, protocol.ReasonNotRoomHost, bob.response()["reason"])

	alice.send(protocol.ActionStartGame, nil)
	require.Equal(t, "ok", alice.response()["status"])
	for _, tc := range []*testConn{alice, bob} {
		start := tc.push(protocol.MsgGameStart)
		assert.Equal(t, float64(roomID), start["room_id"])
		assert.NotZero(t, start["port"])
	}

	// The match service reports completion over a fresh connection.
	system := f.dial(t)
	system.send(protocol.ActionGameOver, map[string]any{"room_id": roomID})
	require.Equal(t, "ok", system.response()["status"])

	alice.send(protocol.ActionListRooms, nil)
	rooms := alice.response()["rooms"].([]any)
	assert.Empty(t, rooms)

	alice.send(protocol.ActionListUsers, nil)
	users := alice.response()["users"].([]any)
	for _, u := range users {
		assert.Equal(t, "online", u.(map[string]any)["status"])
	}
}

func TestStartGameRequiresFullRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.loginFresh(t, "alice", "pw")

	alice.send(protocol.ActionCreateRoom, nil)
	require.Equal(t, "ok", alice.response()["status"])

	alice.send(protocol.ActionStartGame, nil)
	assert.Equal(t, protocol.ReasonRoomNotFull, alice.response()["reason"])
}

func TestStartGameLaunchFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.launcher.err = assert.AnError

	alice := f.loginFresh(t, "alice", "pw")
	bob := f.loginFresh(t, "bob", "pw")

	alice.send(protocol.ActionCreateRoom, nil)
	resp := alice.response()
	require.Equal(t, "ok", resp["status"])
	roomID := int(resp["room_id"].(float64))

	bob.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	require.Equal(t, "ok", bob.response()["status"])

	alice.send(protocol.ActionStartGame, nil)
	assert.Equal(t, "game_launch_failed", alice.response()["reason"])

	// The room fell back to idle and can start again once launches work.
	f.launcher.mu.Lock()
	f.launcher.err = nil
	f.launcher.mu.Unlock()

	alice.send(protocol.ActionStartGame, nil)
	assert.Equal(t, "ok", alice.response()["status"])
}

func TestHostDisconnectKicksGuests(t *testing.T) {
	f := newFixture(t)
	alice := f.loginFresh(t, "alice", "pw")
	bob := f.loginFresh(t, "bob", "pw")

	alice.send(protocol.ActionCreateRoom, nil)
	resp := alice.response()
	require.Equal(t, "ok", resp["status"])
	roomID := int(resp["room_id"].(float64))

	bob.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	require.Equal(t, "ok", bob.response()["status"])

	alice.conn.Close()

	kicked := bob.push(protocol.MsgKickedFromRoom)
	assert.Equal(t, hostLeftNotice, kicked["reason"])

	bob.send(protocol.ActionListRooms, nil)
	assert.Empty(t, bob.response()["rooms"].([]any))

	bob.send(protocol.ActionListUsers, nil)
	users := bob.response()["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "online", users[0].(map[string]any)["status"])
}

func TestGuestLeaveUpdatesRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.loginFresh(t, "alice", "pw")
	bob := f.loginFresh(t, "bob", "pw")

	alice.send(protocol.ActionCreateRoom, nil)
	resp := alice.response()
	require.Equal(t, "ok", resp["status"])
	roomID := int(resp["room_id"].(float64))

	update := alice.push(protocol.MsgRoomUpdate)
	assert.Equal(t, []any{"alice"}, update["players"])

	bob.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	require.Equal(t, "ok", bob.response()["status"])
	update = alice.push(protocol.MsgRoomUpdate)
	assert.Equal(t, []any{"alice", "bob"}, update["players"])

	// leave_room succeeds silently; the host learns from ROOM_UPDATE.
	bob.send(protocol.ActionLeaveRoom, nil)
	update = alice.push(protocol.MsgRoomUpdate)
	assert.Equal(t, []any{"alice"}, update["players"])
}

func TestPrivateRoomInviteFlow(t *testing.T) {
	f := newFixture(t)
	alice := f.loginFresh(t, "alice", "pw")
	bob := f.loginFresh(t, "bob", "pw")
	carol := f.loginFresh(t, "carol", "pw")

	alice.send(protocol.ActionCreateRoom, map[string]any{"is_public": false})
	resp := alice.response()
	require.Equal(t, "ok", resp["status"])
	roomID := int(resp["room_id"].(float64))

	carol.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	assert.Equal(t, protocol.ReasonRoomIsPrivate, carol.response()["reason"])

	alice.send(protocol.ActionInvite, map[string]any{"target_user": "bob"})
	resp = alice.response()
	require.Equal(t, "ok", resp["status"])
	assert.Equal(t, "invite_sent", resp["reason"])

	invite := bob.push(protocol.MsgInviteReceived)
	assert.Equal(t, "alice", invite["from_user"])
	assert.Equal(t, float64(roomID), invite["room_id"])

	bob.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	require.Equal(t, "ok", bob.response()["status"])

	bob.send(protocol.ActionLeaveRoom, nil)

	// The invite was consumed on the first join.
	bob.send(protocol.ActionJoinRoom, map[string]any{"room_id": roomID})
	assert.Equal(t, protocol.ReasonRoomIsPrivate, bob.response()["reason"])
}

func TestInviteValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.loginFresh(t, "alice", "pw")
	f.loginFresh(t, "bob", "pw")

	alice.send(protocol.ActionInvite, map[string]any{"target_user": "bob"})
	assert.Equal(t, protocol.ReasonNotInARoom, alice.response()["reason"])

	alice.send(protocol.ActionCreateRoom, nil)
	require.Equal(t, "ok", alice.response()["status"])

	alice.send(protocol.ActionInvite, map[string]any{"target_user": "alice"})
	assert.Equal(t, "cannot_invite_self", alice.response()["reason"])

	alice.send(protocol.ActionInvite, map[string]any{"target_user": "ghost"})
	assert.Equal(t, protocol.ReasonUserNotFound, alice.response()["reason"])
}

func TestUploadDownloadRemove(t *testing.T) {
	f := newFixture(t)

	// Developers are provisioned through the storage maintenance path.
	resp, err := f.store.Do(protocol.CollectionUser, "create", map[string]any{
		"username": "dev", "password": "pw", "is_developer": true,
	})
	require.NoError(t, err)
	require.True(t, resp.OK())

	dev := f.dial(t)
	require.Equal(t, "ok", dev.login("dev", "pw")["status"])
	alice := f.loginFresh(t, "alice", "pw")

	payload := []byte("PRINT HELLO")
	dev.send(protocol.ActionUploadGame, map[string]any{
		"name":        "tetris",
		"description": "falling blocks",
		"version":     "1",
		"file_data":   base64.StdEncoding.EncodeToString(payload),
	})
	up := dev.response()
	require.Equal(t, "ok", up["status"])
	gameID := int(up["game_id"].(float64))

	alice.send(protocol.ActionDownloadGame, map[string]any{"game_id": gameID})
	down := alice.response()
	require.Equal(t, "ok", down["status"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), down["file_data"])
	assert.Equal(t, artifacts.Hash(payload), down["file_hash"])
	assert.Equal(t, "tetris", down["game_name"])

	// Non-developers cannot upload.
	alice.send(protocol.ActionUploadGame, map[string]any{
		"name": "x", "version": "1", "file_data": base64.StdEncoding.EncodeToString(payload),
	})
	assert.Equal(t, protocol.ReasonNotDeveloper, alice.response()["reason"])

	dev.send(protocol.ActionRemoveGame, map[string]any{"game_id": gameID})
	require.Equal(t, "ok", dev.response()["status"])

	for _, tc := range []*testConn{dev, alice} {
		deleted := tc.push(protocol.MsgGameDeleted)
		assert.Equal(t, float64(gameID), deleted["game_id"])
	}

	alice.send(protocol.ActionListGames, nil)
	assert.Empty(t, alice.response()["games"].([]any))

	// Soft-deleted games stay addressable by id.
	alice.send(protocol.ActionGetGameInfo, map[string]any{"game_id": gameID})
	info := alice.response()
	require.Equal(t, "ok", info["status"])
	assert.Equal(t, true, info["game"].(map[string]any)["deleted"])
}

func TestOnlyOwnerMayRemove(t *testing.T) {
	f := newFixture(t)
	for _, u := range []string{"dev1", "dev2"} {
		resp, err := f.store.Do(protocol.CollectionUser, "create", map[string]any{
			"username": u, "password": "pw", "is_developer": true,
		})
		require.NoError(t, err)
		require.True(t, resp.OK())
	}

	dev1 := f.dial(t)
	require.Equal(t, "ok", dev1.login("dev1", "pw")["status"])
	dev2 := f.dial(t)
	require.Equal(t, "ok", dev2.login("dev2", "pw")["status"])

	dev1.send(protocol.ActionUploadGame, map[string]any{
		"name": "snake", "version": "1",
		"file_data": base64.StdEncoding.EncodeToString([]byte("code")),
	})
	up := dev1.response()
	require.Equal(t, "ok", up["status"])
	gameID := int(up["game_id"].(float64))

	dev2.send(protocol.ActionRemoveGame, map[string]any{"game_id": gameID})
	assert.Equal(t, protocol.ReasonNotGameOwner, dev2.response()["reason"])
}

func TestQueryGameLogs(t *testing.T) {
	f := newFixture(t)

	resp, err := f.store.Do(protocol.CollectionGameLog, "create", map[string]any{
		"matchid": "m123",
		"users":   []string{"alice", "bob"},
		"winner":  "P1",
		"reason":  "time_up",
	})
	require.NoError(t, err)
	require.True(t, resp.OK())

	alice := f.loginFresh(t, "alice", "pw")
	alice.send(protocol.ActionQueryGameLogs, map[string]any{"userId": "alice"})
	reply := alice.push(protocol.MsgGameLogResponse)
	logs := reply["logs"].([]any)
	require.Len(t, logs, 1)
	entry := logs[0].(map[string]any)
	assert.Equal(t, "m123", entry["matchid"])
	assert.Equal(t, []any{"alice", "bob"}, entry["users"])
}
