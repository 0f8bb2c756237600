// cmd/lobbyserver/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/arcadelab/arcade/internal/config"
	"github.com/arcadelab/arcade/internal/lobby"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	srv := lobby.New(cfg, logger, nil)
	if err := srv.Listen(cfg.LobbyAddr()); err != nil {
		logger.Fatalf("bind failed: %v", err)
	}
	go srv.Serve()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	srv.Close()
}
