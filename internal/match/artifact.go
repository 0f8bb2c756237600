// internal/match/artifact.go
package match

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/arcadelab/arcade/internal/config"
)

// GameFactory builds a game for the two named players from a shared
// seed.
type GameFactory func(p1, p2 string, seed int64) Game

// ArtifactMain is the uniform entry point every game artifact wraps:
// `--mode server --port N --p1 U1 --p2 U2 --room_id R [--seed S]` runs
// the authoritative match, `--mode client --host H --port N` joins one.
func ArtifactMain(newGame GameFactory) {
	mode := pflag.String("mode", "server", "server or client")
	host := pflag.String("host", "127.0.0.1", "match service host (client mode)")
	port := pflag.Int("port", 0, "match service port")
	p1 := pflag.String("p1", "player1", "first player username")
	p2 := pflag.String("p2", "player2", "second player username")
	roomID := pflag.Int("room_id", 0, "lobby room id")
	seed := pflag.Int64("seed", 0, "shared rng seed (0 picks one)")
	pflag.Parse()

	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if *port == 0 {
		logger.Fatal("--port is required")
	}

	switch *mode {
	case "server":
		runServer(cfg, logger, newGame, *port, *p1, *p2, *roomID, *seed)
	case "client":
		runClient(logger, *host, *port)
	default:
		logger.Fatalf("unknown mode %q", *mode)
	}
}

func runServer(cfg config.Config, logger *logrus.Logger, newGame GameFactory, port int, p1, p2 string, roomID int, seed int64) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	engine := New(Config{
		Players:     [2]string{p1, p2},
		RoomID:      roomID,
		Seed:        seed,
		StorageAddr: cfg.StorageAddr(),
		LobbyAddr:   cfg.LobbyAddr(),
	}, newGame(p1, p2, seed), logger)

	if err := engine.Listen(fmt.Sprintf(":%d", port)); err != nil {
		logger.Fatalf("bind failed: %v", err)
	}
	if err := engine.Run(); err != nil {
		logger.Fatalf("match aborted: %v", err)
	}
}

// runClient is the terminal client: snapshots print to stdout, input
// tokens are read line by line from stdin.
func runClient(logger *logrus.Logger, host string, port int) {
	c, err := Connect(host, port, logger)
	if err != nil {
		logger.Fatalf("join failed: %v", err)
	}
	defer c.Close()

	c.Listen(Handlers{
		OnSnapshot: func(snap map[string]any) {
			fmt.Printf("snapshot: %v\n", snap)
		},
		OnGameOver: func(over GameOverMsg) {
			fmt.Printf("game over: winner=%s (%s) reason=%s\n",
				over.Winner, over.WinnerUsername, over.Reason)
		},
	})

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			token := strings.TrimSpace(sc.Text())
			if token == "" {
				continue
			}
			if token == "forfeit" {
				c.Forfeit()
				return
			}
			if err := c.SendInput(token); err != nil {
				return
			}
		}
	}()

	<-c.Done()
}
