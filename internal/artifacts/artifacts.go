// internal/artifacts/artifacts.go

// Package artifacts manages uploaded game files on disk. Artifacts live
// under <root>/games/<game_id>/v<version>/ next to the storage
// collection files, and are addressed by the relative path recorded in
// the version row.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileName is used when an upload does not name its file.
const DefaultFileName = "game.py"

// Repo reads and writes artifact files under root.
type Repo struct {
	root string
}

// NewRepo returns a Repo rooted at dir.
func NewRepo(dir string) *Repo {
	return &Repo{root: dir}
}

// RelPath returns the canonical relative path for an artifact.
func RelPath(gameID int, version, filename string) string {
	if filename == "" {
		filename = DefaultFileName
	}
	return filepath.Join("games", fmt.Sprintf("%d", gameID), "v"+version, filename)
}

// Save writes data to the canonical location for (gameID, version) and
// returns the stored relative path with the content hash.
func (r *Repo) Save(gameID int, version, filename string, data []byte) (string, string, error) {
	rel := RelPath(gameID, version, filename)
	abs := filepath.Join(r.root, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", "", fmt.Errorf("creating artifact dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o755); err != nil {
		return "", "", fmt.Errorf("writing artifact: %w", err)
	}
	return rel, Hash(data), nil
}

// Read loads the artifact at the stored relative path. Paths escaping
// the root are rejected.
func (r *Repo) Read(rel string) ([]byte, error) {
	abs, err := r.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", rel, err)
	}
	return data, nil
}

// Abs resolves a stored relative path to its absolute location.
func (r *Repo) Abs(rel string) (string, error) {
	return r.resolve(rel)
}

func (r *Repo) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("artifact path %q escapes storage root", rel)
	}
	return filepath.Join(r.root, clean), nil
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
