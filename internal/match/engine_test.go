// internal/match/engine_test.go
package match

import (
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadelab/arcade/internal/protocol"
	"github.com/arcadelab/arcade/internal/storage"
)

// stubGame ends as soon as player 0 sends "win".
type stubGame struct {
	inputs []string
	over   bool
	winner string
	reason string
}

func (g *stubGame) Apply(player int, action string) {
	g.inputs = append(g.inputs, action)
	if player == 0 && action == "win" {
		g.over, g.winner, g.reason = true, WinnerP1, ReasonWin
	}
}

func (g *stubGame) Advance()                    {}
func (g *stubGame) TickInterval() time.Duration { return 10 * time.Millisecond }
func (g *stubGame) Snapshot() map[string]any {
	return map[string]any{"inputs": len(g.inputs)}
}
func (g *stubGame) Finished() (bool, string, string) { return g.over, g.winner, g.reason }
func (g *stubGame) TimeUp() (string, string)         { return WinnerTie, ReasonTie }
func (g *stubGame) Results() [2]PlayerResult {
	return [2]PlayerResult{
		{"userId": "alice", "score": 10},
		{"userId": "bob", "score": 5},
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeLobby accepts one game_over notification and acks it.
func fakeLobby(t *testing.T) (addr string, rooms <-chan int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan int, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		body, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		var req protocol.Request
		if json.Unmarshal(body, &req) == nil && req.Action == protocol.ActionGameOver {
			var p struct {
				RoomID int `json:"room_id"`
			}
			json.Unmarshal(req.Data, &p)
			ch <- p.RoomID
		}
		protocol.WriteJSON(conn, protocol.OK(nil))
	}()
	return ln.Addr().String(), ch
}

func startEngine(t *testing.T, cfg Config, game Game) *Engine {
	t.Helper()
	e := New(cfg, game, quietLogger())
	require.NoError(t, e.Listen("127.0.0.1:0"))
	return e
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestMatchFullLifecycle(t *testing.T) {
	log := quietLogger()

	dir := t.TempDir()
	st, err := storage.Open(dir, log)
	require.NoError(t, err)
	storageSrv := storage.NewServer(st, log)
	require.NoError(t, storageSrv.Listen("127.0.0.1:0"))
	go storageSrv.Serve()
	t.Cleanup(func() { storageSrv.Close() })

	lobbyAddr, rooms := fakeLobby(t)

	e := startEngine(t, Config{
		Players:     [2]string{"alice", "bob"},
		RoomID:      104,
		Seed:        42,
		Duration:    10 * time.Second,
		StorageAddr: storageSrv.Addr(),
		LobbyAddr:   lobbyAddr,
	}, &stubGame{})

	done := make(chan error, 1)
	go func() { done <- e.Run() }()

	host, port := hostPort(t, e.Addr())

	// The lobby's readiness probe connects and drops immediately; the
	// seat it briefly held must go to a real player.
	probe, err := net.Dial("tcp", e.Addr())
	require.NoError(t, err)
	probe.Close()
	time.Sleep(50 * time.Millisecond)

	p1, err := Connect(host, port, log)
	require.NoError(t, err)
	defer p1.Close()
	assert.Equal(t, "P1", p1.Welcome().Role)
	assert.Equal(t, int64(42), p1.Welcome().Seed)

	p2, err := Connect(host, port, log)
	require.NoError(t, err)
	defer p2.Close()
	assert.Equal(t, "P2", p2.Welcome().Role)

	overCh := make(chan GameOverMsg, 2)
	snapCh := make(chan map[string]any, 16)
	for _, c := range []*Client{p1, p2} {
		c.Listen(Handlers{
			OnSnapshot: func(s map[string]any) {
				select {
				case snapCh <- s:
				default:
				}
			},
			OnGameOver: func(o GameOverMsg) { overCh <- o },
		})
	}

	// Wait for the engine to commit the lineup, then win as P1.
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, p1.SendInput("win"))

	for i := 0; i < 2; i++ {
		select {
		case over := <-overCh:
			assert.Equal(t, WinnerP1, over.Winner)
			assert.Equal(t, "alice", over.WinnerUsername)
			assert.Equal(t, "bob", over.LoserUsername)
			assert.Equal(t, ReasonWin, over.Reason)
			assert.Equal(t, 104, over.RoomID)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for GAME_OVER")
		}
	}

	select {
	case roomID := <-rooms:
		assert.Equal(t, 104, roomID)
	case <-time.After(5 * time.Second):
		t.Fatal("lobby never notified")
	}

	require.NoError(t, <-done)

	// Exactly one log row, players in seat order.
	client := storage.NewClient(storageSrv.Addr())
	resp, err := client.Do(protocol.CollectionGameLog, "query", map[string]any{"userId": "alice"})
	require.NoError(t, err)
	require.True(t, resp.OK())
	var logs []storage.GameLog
	require.NoError(t, resp.Get("logs", &logs))
	require.Len(t, logs, 1)
	assert.True(t, strings.HasPrefix(logs[0].MatchID, "match_"))
	assert.Equal(t, []string{"alice", "bob"}, logs[0].Users)
	assert.Equal(t, WinnerP1, logs[0].Winner)
}

func TestDisconnectForfeits(t *testing.T) {
	log := quietLogger()
	e := startEngine(t, Config{
		Players:  [2]string{"alice", "bob"},
		RoomID:   101,
		Duration: 10 * time.Second,
	}, &stubGame{})

	done := make(chan error, 1)
	go func() { done <- e.Run() }()
	host, port := hostPort(t, e.Addr())

	p1, err := Connect(host, port, log)
	require.NoError(t, err)
	defer p1.Close()
	p2, err := Connect(host, port, log)
	require.NoError(t, err)

	overCh := make(chan GameOverMsg, 1)
	p1.Listen(Handlers{OnGameOver: func(o GameOverMsg) { overCh <- o }})

	// Wait out the lineup settle window so the drop counts as forfeit.
	time.Sleep(300 * time.Millisecond)
	p2.Close()

	select {
	case over := <-overCh:
		assert.Equal(t, WinnerP1, over.Winner)
		assert.Equal(t, ReasonForfeit, over.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for GAME_OVER")
	}
	require.NoError(t, <-done)
}

func TestClockExpiryAsksGameForOutcome(t *testing.T) {
	log := quietLogger()
	e := startEngine(t, Config{
		Players:  [2]string{"alice", "bob"},
		RoomID:   102,
		Duration: 600 * time.Millisecond,
	}, &stubGame{})

	done := make(chan error, 1)
	go func() { done <- e.Run() }()
	host, port := hostPort(t, e.Addr())

	p1, err := Connect(host, port, log)
	require.NoError(t, err)
	defer p1.Close()
	p2, err := Connect(host, port, log)
	require.NoError(t, err)
	defer p2.Close()

	overCh := make(chan GameOverMsg, 1)
	p1.Listen(Handlers{OnGameOver: func(o GameOverMsg) { overCh <- o }})

	select {
	case over := <-overCh:
		assert.Equal(t, WinnerTie, over.Winner)
		assert.Equal(t, ReasonTie, over.Reason)
		assert.Empty(t, over.WinnerUsername)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for GAME_OVER")
	}
	require.NoError(t, <-done)
}

func TestConnectRetriesBeforeFailing(t *testing.T) {
	start := time.Now()
	_, err := Connect("127.0.0.1", 1, quietLogger())
	require.Error(t, err)
	// five attempts with growing backoff take a measurable while
	assert.Greater(t, time.Since(start), 2*time.Second)
}
