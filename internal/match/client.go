// internal/match/client.go
package match

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcadelab/arcade/internal/protocol"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// Welcome is the handshake the server sends on accept.
type Welcome struct {
	Role string `json:"role"`
	Seed int64  `json:"seed"`
}

// GameOverMsg is the final broadcast.
type GameOverMsg struct {
	Winner         string         `json:"winner"`
	WinnerUsername string         `json:"winner_username"`
	LoserUsername  string         `json:"loser_username"`
	Reason         string         `json:"reason"`
	P1Results      map[string]any `json:"p1_results"`
	P2Results      map[string]any `json:"p2_results"`
	RoomID         int            `json:"room_id"`
}

// Handlers receive the server's pushes. Nil callbacks are skipped.
type Handlers struct {
	OnSnapshot func(map[string]any)
	OnGameOver func(GameOverMsg)
}

// Client is the thin runtime game artifacts use in client mode.
type Client struct {
	conn    net.Conn
	log     *logrus.Logger
	welcome Welcome

	sendMu sync.Mutex
	doneCh chan struct{}
}

// Connect dials the match service with bounded retry and exponential
// backoff, then completes the WELCOME handshake.
func Connect(host string, port int, log *logrus.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	var conn net.Conn
	var err error
	delay := connectBackoff
	for attempt := 0; attempt < connectAttempts; attempt++ {
		conn, err = net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			break
		}
		time.Sleep(delay)
		delay = delay * 3 / 2
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to match service at %s: %w", addr, err)
	}

	body, err := protocol.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("awaiting welcome: %w", err)
	}
	var w Welcome
	if err := json.Unmarshal(body, &w); err != nil {
		conn.Close()
		return nil, fmt.Errorf("parsing welcome: %w", err)
	}

	c := &Client{conn: conn, log: log, welcome: w, doneCh: make(chan struct{})}
	log.WithField("role", w.Role).Info("joined match")
	return c, nil
}

// Welcome returns the handshake the server assigned this client.
func (c *Client) Welcome() Welcome { return c.welcome }

// Listen consumes server pushes until GAME_OVER or disconnect. It runs
// in its own goroutine; Done is closed when the stream ends.
func (c *Client) Listen(h Handlers) {
	go func() {
		defer close(c.doneCh)
		for {
			body, err := protocol.ReadFrame(c.conn)
			if err != nil {
				return
			}
			var tag struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(body, &tag); err != nil {
				continue
			}
			switch tag.Type {
			case protocol.MsgSnapshot:
				if h.OnSnapshot != nil {
					var snap map[string]any
					if err := json.Unmarshal(body, &snap); err == nil {
						h.OnSnapshot(snap)
					}
				}
			case protocol.MsgGameOver:
				var over GameOverMsg
				if err := json.Unmarshal(body, &over); err != nil {
					return
				}
				if h.OnGameOver != nil {
					h.OnGameOver(over)
				}
				return
			}
		}
	}()
}

// Done is closed once the server stream ends.
func (c *Client) Done() <-chan struct{} { return c.doneCh }

// SendInput forwards one game action token.
func (c *Client) SendInput(action string) error {
	return c.send(map[string]any{"type": protocol.MsgInput, "action": action})
}

// Forfeit concedes the match.
func (c *Client) Forfeit() error {
	return c.send(map[string]any{"type": protocol.MsgForfeit})
}

func (c *Client) send(v any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.WriteJSON(c.conn, v)
}

// Close tears the connection down.
func (c *Client) Close() error { return c.conn.Close() }
