// internal/storage/store.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcadelab/arcade/internal/auth"
)

// Errors surfaced by Store operations. The storage server maps these to
// wire reason tokens.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrGameNotFound       = errors.New("game not found")
	ErrVersionNotFound    = errors.New("version not found")
	ErrVersionExists      = errors.New("version already exists")
	ErrGameLogExists      = errors.New("gamelog already exists")
)

// Store owns the four persistent collections, one JSON file and one lock
// each. Every write rewrites the whole file through a same-directory temp
// file and an atomic rename.
type Store struct {
	dir string
	log *logrus.Logger

	usersMu    sync.Mutex
	gamesMu    sync.Mutex
	versionsMu sync.Mutex
	logsMu     sync.Mutex
}

type usersFile struct {
	Users  []User `json:"users"`
	NextID int    `json:"next_id"`
}

type gamesFile struct {
	Games  []Game `json:"games"`
	NextID int    `json:"next_id"`
}

type versionsFile struct {
	Versions []GameVersion `json:"game_versions"`
	NextID   int           `json:"next_id"`
}

type logsFile struct {
	Logs   []GameLog `json:"game_logs"`
	NextID int       `json:"next_id"`
}

// Open prepares a Store rooted at dir, creating the directory and any
// missing collection files with an empty structure.
func Open(dir string, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	s := &Store{dir: dir, log: log}

	// Materialize empty files so a fresh deployment has a visible layout.
	if err := s.initFile("users.json", usersFile{NextID: 1}); err != nil {
		return nil, err
	}
	if err := s.initFile("games.json", gamesFile{NextID: 1}); err != nil {
		return nil, err
	}
	if err := s.initFile("game_versions.json", versionsFile{NextID: 1}); err != nil {
		return nil, err
	}
	if err := s.initFile("game_logs.json", logsFile{NextID: 1}); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the directory the store persists into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) initFile(name string, def any) error {
	p := s.path(name)
	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking %s: %w", p, err)
	}
	if err := saveAtomic(p, def); err != nil {
		return err
	}
	s.log.WithField("file", p).Info("created collection file")
	return nil
}

// loadFile reads a collection file into dst. Missing or corrupt files
// leave dst at its zero value so the caller's default applies.
func loadFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// saveAtomic serializes v to a temp file beside path and renames it into
// place. The temp file is unlinked if any step fails.
func saveAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// --- Users ---

// CreateUser registers a new account, hashing the password before it
// touches disk.
func (s *Store) CreateUser(username, password string, isDeveloper bool) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	var f usersFile
	if err := loadFile(s.path("users.json"), &f); err != nil {
		return err
	}
	if f.NextID == 0 {
		f.NextID = 1
	}
	for _, u := range f.Users {
		if u.Username == username {
			return ErrUserExists
		}
	}

	f.Users = append(f.Users, User{
		ID:           f.NextID,
		Username:     username,
		PasswordHash: hash,
		Status:       StatusOffline,
		IsDeveloper:  isDeveloper,
		CreatedAt:    time.Now().UTC(),
	})
	f.NextID++

	if err := saveAtomic(s.path("users.json"), f); err != nil {
		return err
	}
	s.log.WithField("user", username).Info("created user")
	return nil
}

// AuthenticateUser verifies credentials and returns the hash-free
// projection. A missing user and a wrong password are indistinguishable
// to the caller.
func (s *Store) AuthenticateUser(username, password string) (UserInfo, error) {
	u, err := s.getUser(username)
	if err != nil {
		return UserInfo{}, ErrInvalidCredentials
	}
	if !auth.VerifyPassword(password, u.PasswordHash) {
		return UserInfo{}, ErrInvalidCredentials
	}
	return UserInfo{Username: u.Username, IsDeveloper: u.IsDeveloper}, nil
}

// GetUser returns the projection for username without checking a password.
func (s *Store) GetUser(username string) (UserInfo, error) {
	u, err := s.getUser(username)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{Username: u.Username, IsDeveloper: u.IsDeveloper}, nil
}

func (s *Store) getUser(username string) (User, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	var f usersFile
	if err := loadFile(s.path("users.json"), &f); err != nil {
		return User{}, err
	}
	for _, u := range f.Users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

// UpdateUserStatus sets the persisted status tag for username.
func (s *Store) UpdateUserStatus(username, status string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	var f usersFile
	if err := loadFile(s.path("users.json"), &f); err != nil {
		return err
	}
	for i := range f.Users {
		if f.Users[i].Username == username {
			f.Users[i].Status = status
			return saveAtomic(s.path("users.json"), f)
		}
	}
	return ErrUserNotFound
}

// SetDeveloper flips the developer flag for username.
func (s *Store) SetDeveloper(username string, isDeveloper bool) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	var f usersFile
	if err := loadFile(s.path("users.json"), &f); err != nil {
		return err
	}
	for i := range f.Users {
		if f.Users[i].Username == username {
			f.Users[i].IsDeveloper = isDeveloper
			return saveAtomic(s.path("users.json"), f)
		}
	}
	return ErrUserNotFound
}

// --- Games ---

// CreateGame adds a catalog entry and returns its assigned id.
func (s *Store) CreateGame(name, author, description, version string) (int, error) {
	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()

	var f gamesFile
	if err := loadFile(s.path("games.json"), &f); err != nil {
		return 0, err
	}
	if f.NextID == 0 {
		f.NextID = 1
	}

	now := time.Now().UTC()
	id := f.NextID
	f.Games = append(f.Games, Game{
		ID:             id,
		Name:           name,
		Author:         author,
		Description:    description,
		CurrentVersion: version,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	f.NextID++

	if err := saveAtomic(s.path("games.json"), f); err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"game": name, "id": id}).Info("created game")
	return id, nil
}

// GetGame returns a game by id, deleted or not.
func (s *Store) GetGame(id int) (Game, error) {
	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()

	var f gamesFile
	if err := loadFile(s.path("games.json"), &f); err != nil {
		return Game{}, err
	}
	for _, g := range f.Games {
		if g.ID == id {
			return g, nil
		}
	}
	return Game{}, ErrGameNotFound
}

// ListGames returns all non-deleted games, most recently updated first.
func (s *Store) ListGames() ([]Game, error) {
	return s.filterGames(func(g Game) bool { return !g.Deleted })
}

// ListGamesByAuthor returns author's non-deleted games.
func (s *Store) ListGamesByAuthor(author string) ([]Game, error) {
	return s.filterGames(func(g Game) bool {
		return g.Author == author && !g.Deleted
	})
}

// SearchGames matches the query case-insensitively against name, author
// and description of non-deleted games.
func (s *Store) SearchGames(query string) ([]Game, error) {
	q := strings.ToLower(query)
	return s.filterGames(func(g Game) bool {
		if g.Deleted {
			return false
		}
		return strings.Contains(strings.ToLower(g.Name), q) ||
			strings.Contains(strings.ToLower(g.Author), q) ||
			strings.Contains(strings.ToLower(g.Description), q)
	})
}

func (s *Store) filterGames(keep func(Game) bool) ([]Game, error) {
	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()

	var f gamesFile
	if err := loadFile(s.path("games.json"), &f); err != nil {
		return nil, err
	}
	games := make([]Game, 0, len(f.Games))
	for _, g := range f.Games {
		if keep(g) {
			games = append(games, g)
		}
	}
	sort.Slice(games, func(i, j int) bool {
		return games[i].UpdatedAt.After(games[j].UpdatedAt)
	})
	return games, nil
}

// GameUpdate carries the optional fields of UpdateGame; nil means leave
// the stored value alone.
type GameUpdate struct {
	Name           *string
	Description    *string
	CurrentVersion *string
}

// UpdateGame applies upd to the game with the given id.
func (s *Store) UpdateGame(id int, upd GameUpdate) error {
	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()

	var f gamesFile
	if err := loadFile(s.path("games.json"), &f); err != nil {
		return err
	}
	for i := range f.Games {
		if f.Games[i].ID != id {
			continue
		}
		if upd.Name != nil {
			f.Games[i].Name = *upd.Name
		}
		if upd.Description != nil {
			f.Games[i].Description = *upd.Description
		}
		if upd.CurrentVersion != nil {
			f.Games[i].CurrentVersion = *upd.CurrentVersion
		}
		f.Games[i].UpdatedAt = time.Now().UTC()
		return saveAtomic(s.path("games.json"), f)
	}
	return ErrGameNotFound
}

// DeleteGame soft-deletes a game. Versions and files stay addressable.
func (s *Store) DeleteGame(id int) error {
	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()

	var f gamesFile
	if err := loadFile(s.path("games.json"), &f); err != nil {
		return err
	}
	for i := range f.Games {
		if f.Games[i].ID == id {
			f.Games[i].Deleted = true
			f.Games[i].UpdatedAt = time.Now().UTC()
			return saveAtomic(s.path("games.json"), f)
		}
	}
	return ErrGameNotFound
}

// --- Game versions ---

// CreateGameVersion appends a version row; (gameID, version) must be new.
func (s *Store) CreateGameVersion(gameID int, version, filePath, fileHash string) (int, error) {
	s.versionsMu.Lock()
	defer s.versionsMu.Unlock()

	var f versionsFile
	if err := loadFile(s.path("game_versions.json"), &f); err != nil {
		return 0, err
	}
	if f.NextID == 0 {
		f.NextID = 1
	}
	for _, v := range f.Versions {
		if v.GameID == gameID && v.Version == version {
			return 0, ErrVersionExists
		}
	}

	id := f.NextID
	f.Versions = append(f.Versions, GameVersion{
		ID:         id,
		GameID:     gameID,
		Version:    version,
		FilePath:   filePath,
		FileHash:   fileHash,
		UploadedAt: time.Now().UTC(),
	})
	f.NextID++

	if err := saveAtomic(s.path("game_versions.json"), f); err != nil {
		return 0, err
	}
	return id, nil
}

// GetGameVersion returns the row for (gameID, version).
func (s *Store) GetGameVersion(gameID int, version string) (GameVersion, error) {
	s.versionsMu.Lock()
	defer s.versionsMu.Unlock()

	var f versionsFile
	if err := loadFile(s.path("game_versions.json"), &f); err != nil {
		return GameVersion{}, err
	}
	for _, v := range f.Versions {
		if v.GameID == gameID && v.Version == version {
			return v, nil
		}
	}
	return GameVersion{}, ErrVersionNotFound
}

// LatestGameVersion returns gameID's most recently uploaded version.
func (s *Store) LatestGameVersion(gameID int) (GameVersion, error) {
	s.versionsMu.Lock()
	defer s.versionsMu.Unlock()

	var f versionsFile
	if err := loadFile(s.path("game_versions.json"), &f); err != nil {
		return GameVersion{}, err
	}
	var latest GameVersion
	found := false
	for _, v := range f.Versions {
		if v.GameID != gameID {
			continue
		}
		if !found || v.UploadedAt.After(latest.UploadedAt) {
			latest = v
			found = true
		}
	}
	if !found {
		return GameVersion{}, ErrVersionNotFound
	}
	return latest, nil
}

// --- Game logs ---

// CreateGameLog persists a match record. Match ids are unique; a replayed
// create returns ErrGameLogExists without duplicating.
func (s *Store) CreateGameLog(gl GameLog) error {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()

	var f logsFile
	if err := loadFile(s.path("game_logs.json"), &f); err != nil {
		return err
	}
	if f.NextID == 0 {
		f.NextID = 1
	}
	for _, l := range f.Logs {
		if l.MatchID == gl.MatchID {
			return ErrGameLogExists
		}
	}

	gl.ID = f.NextID
	if gl.Users == nil {
		gl.Users = []string{}
	}
	if gl.Results == nil {
		gl.Results = []map[string]any{}
	}
	f.Logs = append(f.Logs, gl)
	f.NextID++

	if err := saveAtomic(s.path("game_logs.json"), f); err != nil {
		return err
	}
	s.log.WithField("matchid", gl.MatchID).Info("saved game log")
	return nil
}

// ListGameLogs returns logs, optionally filtered to matches the user
// participated in, newest match first.
func (s *Store) ListGameLogs(user string) ([]GameLog, error) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()

	var f logsFile
	if err := loadFile(s.path("game_logs.json"), &f); err != nil {
		return nil, err
	}
	logs := make([]GameLog, 0, len(f.Logs))
	for _, l := range f.Logs {
		if user != "" && !containsString(l.Users, user) {
			continue
		}
		logs = append(logs, l)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].StartTime.After(logs[j].StartTime)
	})
	return logs, nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
