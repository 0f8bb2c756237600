// cmd/storageserver/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/arcadelab/arcade/internal/config"
	"github.com/arcadelab/arcade/internal/storage"
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

	store, err := storage.Open(cfg.StorageDir, logger)
	if err != nil {
		logger.Fatalf("opening store: %v", err)
	}

	srv := storage.NewServer(store, logger)
	if err := srv.Listen(cfg.StorageAddr()); err != nil {
		logger.Fatalf("bind failed: %v", err)
	}
	go srv.Serve()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	srv.Close()
}
