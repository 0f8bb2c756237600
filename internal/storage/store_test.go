// internal/storage/store_test.go
package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	s, err := Open(t.TempDir(), log)
	require.NoError(t, err)
	return s
}

func TestOpenCreatesCollectionFiles(t *testing.T) {
	s := testStore(t)
	for _, name := range []string{"users.json", "games.json", "game_versions.json", "game_logs.json"} {
		_, err := os.Stat(filepath.Join(s.Dir(), name))
		assert.NoError(t, err, name)
	}
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateUser("alice", "hunter2", false))

	info, err := s.AuthenticateUser("alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)
	assert.False(t, info.IsDeveloper)

	_, err = s.AuthenticateUser("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.AuthenticateUser("nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserDuplicate(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateUser("alice", "pw", false))
	assert.ErrorIs(t, s.CreateUser("alice", "pw2", true), ErrUserExists)
}

func TestSetDeveloperAndStatus(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.CreateUser("dev", "pw", false))

	require.NoError(t, s.SetDeveloper("dev", true))
	info, err := s.GetUser("dev")
	require.NoError(t, err)
	assert.True(t, info.IsDeveloper)

	require.NoError(t, s.UpdateUserStatus("dev", StatusOnline))
	assert.ErrorIs(t, s.UpdateUserStatus("nobody", StatusOnline), ErrUserNotFound)
}

func TestGameLifecycle(t *testing.T) {
	s := testStore(t)

	id, err := s.CreateGame("Tetris", "dev", "falling blocks", "1.0")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	g, err := s.GetGame(id)
	require.NoError(t, err)
	assert.Equal(t, "Tetris", g.Name)
	assert.Equal(t, "1.0", g.CurrentVersion)

	name := "Tetris DX"
	require.NoError(t, s.UpdateGame(id, GameUpdate{Name: &name}))
	g, err = s.GetGame(id)
	require.NoError(t, err)
	assert.Equal(t, "Tetris DX", g.Name)

	require.NoError(t, s.DeleteGame(id))

	// Deleted games vanish from listings but stay addressable by id.
	games, err := s.ListGames()
	require.NoError(t, err)
	assert.Empty(t, games)
	g, err = s.GetGame(id)
	require.NoError(t, err)
	assert.True(t, g.Deleted)
}

func TestSearchGames(t *testing.T) {
	s := testStore(t)
	_, err := s.CreateGame("Tetris", "dev", "falling blocks", "1.0")
	require.NoError(t, err)
	_, err = s.CreateGame("Snake", "other", "grid chase", "1.0")
	require.NoError(t, err)

	games, err := s.SearchGames("TET")
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "Tetris", games[0].Name)

	games, err = s.SearchGames("grid")
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "Snake", games[0].Name)
}

func TestListGamesByAuthorSortsByUpdate(t *testing.T) {
	s := testStore(t)
	first, err := s.CreateGame("One", "dev", "", "1.0")
	require.NoError(t, err)
	second, err := s.CreateGame("Two", "dev", "", "1.0")
	require.NoError(t, err)

	desc := "touched"
	require.NoError(t, s.UpdateGame(first, GameUpdate{Description: &desc}))

	games, err := s.ListGamesByAuthor("dev")
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, first, games[0].ID)
	assert.Equal(t, second, games[1].ID)
}

func TestGameVersions(t *testing.T) {
	s := testStore(t)
	gameID, err := s.CreateGame("Tetris", "dev", "", "1.0")
	require.NoError(t, err)

	_, err = s.CreateGameVersion(gameID, "1.0", "games/1/v1.0/game.py", "abc")
	require.NoError(t, err)
	_, err = s.CreateGameVersion(gameID, "1.0", "games/1/v1.0/game.py", "abc")
	assert.ErrorIs(t, err, ErrVersionExists)

	_, err = s.CreateGameVersion(gameID, "1.1", "games/1/v1.1/game.py", "def")
	require.NoError(t, err)

	v, err := s.GetGameVersion(gameID, "1.0")
	require.NoError(t, err)
	assert.Equal(t, "abc", v.FileHash)

	latest, err := s.LatestGameVersion(gameID)
	require.NoError(t, err)
	assert.Equal(t, "1.1", latest.Version)

	_, err = s.GetGameVersion(gameID, "9.9")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestGameLogDedupAndFilter(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC()
	gl := GameLog{
		MatchID:   "match_1",
		Users:     []string{"alice", "bob"},
		Winner:    "alice",
		Reason:    "board_full",
		StartTime: now.Add(-time.Minute),
		EndTime:   now,
	}
	require.NoError(t, s.CreateGameLog(gl))
	assert.ErrorIs(t, s.CreateGameLog(gl), ErrGameLogExists)

	other := gl
	other.MatchID = "match_2"
	other.Users = []string{"carol", "dan"}
	other.StartTime = now
	require.NoError(t, s.CreateGameLog(other))

	logs, err := s.ListGameLogs("")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "match_2", logs[0].MatchID)

	logs, err = s.ListGameLogs("alice")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "match_1", logs[0].MatchID)
}
