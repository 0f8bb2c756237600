// internal/protocol/message.go
package protocol

import "encoding/json"

// Request is the client-to-server envelope carried on lobby connections.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// StorageRequest is the envelope the storage service dispatches on.
type StorageRequest struct {
	Collection string          `json:"collection"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OK builds a success response, merging extra key/value pairs into the
// envelope. Callers pass pairs as ("key", value) sequences.
func OK(extra map[string]any) map[string]any {
	resp := map[string]any{"status": StatusOK}
	for k, v := range extra {
		resp[k] = v
	}
	return resp
}

// Error builds an error response with the given reason token.
func Error(reason string) map[string]any {
	return map[string]any{"status": StatusError, "reason": reason}
}

// Lobby action tokens.
const (
	ActionRegister   = "register"
	ActionLogin      = "login"
	ActionLogout     = "logout"
	ActionListRooms  = "list_rooms"
	ActionListUsers  = "list_users"
	ActionCreateRoom = "create_room"
	ActionJoinRoom   = "join_room"
	ActionLeaveRoom  = "leave_room"
	ActionStartGame  = "start_game"
	ActionInvite     = "invite"
	ActionGameOver   = "game_over"

	ActionListGames    = "list_games"
	ActionSearchGames  = "search_games"
	ActionDownloadGame = "download_game"
	ActionGetGameInfo  = "get_game_info"

	ActionUploadGame  = "upload_game"
	ActionUpdateGame  = "update_game"
	ActionRemoveGame  = "remove_game"
	ActionListMyGames = "list_my_games"

	ActionQueryGameLogs = "query_gamelogs"
)

// Unsolicited lobby push tags.
const (
	MsgRoomUpdate      = "ROOM_UPDATE"
	MsgKickedFromRoom  = "KICKED_FROM_ROOM"
	MsgInviteReceived  = "INVITE_RECEIVED"
	MsgGameStart       = "GAME_START"
	MsgGameDeleted     = "GAME_DELETED"
	MsgRoomList        = "ROOM_LIST"
	MsgUserList        = "USER_LIST"
	MsgGameLogResponse = "gamelog_response"
)

// Match service message tags.
const (
	MsgWelcome  = "WELCOME"
	MsgInput    = "INPUT"
	MsgForfeit  = "FORFEIT"
	MsgSnapshot = "SNAPSHOT"
	MsgGameOver = "GAME_OVER"
)

// Storage collection names.
const (
	CollectionUser        = "User"
	CollectionGame        = "Game"
	CollectionGameVersion = "GameVersion"
	CollectionGameLog     = "GameLog"
)

// Shared error reason tokens. Handlers translate downstream failures into
// this taxonomy instead of forwarding raw messages.
const (
	ReasonMissingFields      = "missing_fields"
	ReasonInvalidJSON        = "invalid_json_format"
	ReasonInternalError      = "internal_server_error"
	ReasonMustBeLoggedIn     = "must_be_logged_in"
	ReasonAlreadyLoggedIn    = "already_logged_in"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonUserExists         = "user_exists"
	ReasonUserNotFound       = "user_not_found"
	ReasonNotDeveloper       = "not_developer"
	ReasonNotGameOwner       = "not_game_owner"
	ReasonGameNotFound       = "game_not_found"
	ReasonVersionNotFound    = "version_not_found"
	ReasonFileNotFound       = "file_not_found"
	ReasonRoomNotFound       = "room_not_found"
	ReasonRoomIsFull         = "room_is_full"
	ReasonRoomIsPlaying      = "room_is_playing"
	ReasonRoomIsPrivate      = "room_is_private_not_invited"
	ReasonAlreadyInARoom     = "already_in_a_room"
	ReasonNotInARoom         = "not_in_a_room"
	ReasonNotRoomHost        = "not_room_host"
	ReasonRoomNotFull        = "room_not_full"
	ReasonGameLogExists      = "gamelog_already_exists"
	ReasonDBNoResponse       = "db_server_no_response"
	ReasonDBConnectionError  = "db_server_connection_error"
)
