// internal/storage/models.go
package storage

import "time"

// User is a registered account. PasswordHash never leaves the storage
// service; callers receive UserInfo projections instead.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Status       string    `json:"status"`
	IsDeveloper  bool      `json:"is_developer"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserInfo is the projection returned to authenticating callers.
type UserInfo struct {
	Username    string `json:"username"`
	IsDeveloper bool   `json:"is_developer"`
}

// Game is a catalog entry. Deleted games stay on disk and remain
// addressable by id but are hidden from listings and search.
type Game struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	Author         string    `json:"author"`
	Description    string    `json:"description"`
	CurrentVersion string    `json:"current_version"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GameVersion records one uploaded artifact revision. Rows are appended,
// never rewritten; (GameID, Version) is unique.
type GameVersion struct {
	ID         int       `json:"id"`
	GameID     int       `json:"game_id"`
	Version    string    `json:"version"`
	FilePath   string    `json:"file_path"`
	FileHash   string    `json:"file_hash"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// GameLog is the immutable record of one completed match.
type GameLog struct {
	ID        int              `json:"id"`
	MatchID   string           `json:"matchid"`
	GameID    int              `json:"game_id,omitempty"`
	Users     []string         `json:"users"`
	Results   []map[string]any `json:"results"`
	Winner    string           `json:"winner"`
	Reason    string           `json:"reason"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
}

// User status values tracked by the platform.
const (
	StatusOffline = "offline"
	StatusOnline  = "online"
	StatusPlaying = "playing"
)
