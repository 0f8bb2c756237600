// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the lobby and storage daemons.
//
// Values come from three layers, later layers winning: built-in defaults,
// an optional yaml file (ARCADE_CONFIG, default ./arcade.yaml), and
// environment variables. A .env file is loaded by godotenv autoload in
// each main before this package reads the environment.
type Config struct {
	// Lobby service
	LobbyHost string `yaml:"lobby_host"`
	LobbyPort int    `yaml:"lobby_port"`

	// Storage service
	StorageHost string `yaml:"storage_host"`
	StoragePort int    `yaml:"storage_port"`

	// Directory holding the collection files and game artifacts.
	StorageDir string `yaml:"storage_dir"`

	// Match services are assigned ports by trial-bind starting here.
	GamePortBase int `yaml:"game_port_base"`

	// Interpreter used to launch .py artifacts. Empty disables it.
	ArtifactInterpreter string `yaml:"artifact_interpreter"`

	// Command run when a room has no resolvable artifact.
	DefaultGameCommand string `yaml:"default_game_command"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file or env overrides
// are present.
func Default() Config {
	return Config{
		LobbyHost:           "127.0.0.1",
		LobbyPort:           5555,
		StorageHost:         "127.0.0.1",
		StoragePort:         5556,
		StorageDir:          "storage",
		GamePortBase:        6000,
		ArtifactInterpreter: "python3",
		DefaultGameCommand:  "./tetris",
		LogLevel:            "info",
	}
}

// Load builds the effective configuration.
func Load() (Config, error) {
	cfg := Default()

	path := os.Getenv("ARCADE_CONFIG")
	if path == "" {
		path = "arcade.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// LobbyAddr returns the lobby's host:port.
func (c Config) LobbyAddr() string {
	return fmt.Sprintf("%s:%d", c.LobbyHost, c.LobbyPort)
}

// StorageAddr returns the storage service's host:port.
func (c Config) StorageAddr() string {
	return fmt.Sprintf("%s:%d", c.StorageHost, c.StoragePort)
}

func applyEnv(cfg *Config) {
	envString("ARCADE_LOBBY_HOST", &cfg.LobbyHost)
	envInt("ARCADE_LOBBY_PORT", &cfg.LobbyPort)
	envString("ARCADE_STORAGE_HOST", &cfg.StorageHost)
	envInt("ARCADE_STORAGE_PORT", &cfg.StoragePort)
	envString("ARCADE_STORAGE_DIR", &cfg.StorageDir)
	envInt("ARCADE_GAME_PORT_BASE", &cfg.GamePortBase)
	envString("ARCADE_ARTIFACT_INTERPRETER", &cfg.ArtifactInterpreter)
	envString("ARCADE_DEFAULT_GAME", &cfg.DefaultGameCommand)
	envString("ARCADE_LOG_LEVEL", &cfg.LogLevel)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
