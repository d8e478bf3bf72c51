package models

import "encoding/json"

// Client -> server events
const (
	EventJoinRoom     = "join-room"
	EventPlay         = "play"
	EventPause        = "pause"
	EventSeek         = "seek"
	EventBuffering    = "buffering"
	EventSyncPosition = "sync-position"
	EventChatMessage  = "chat-message"
	EventUserAction   = "user-action"
)

// Server -> client events. play, pause, seek, buffering, chat-message and
// user-action are reused in both directions.
const (
	EventRoomState       = "room-state"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventHostTransferred = "host-transferred"
	EventJoinError       = "join-error"
)

// WSMessage is the envelope for every frame on the socket.
type WSMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeMessage renders an envelope for event with payload.
func EncodeMessage(event string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(WSMessage{Event: event, Payload: raw})
}

// ChatMessage is immutable once appended to a room's history.
type ChatMessage struct {
	ID          int64  `json:"id"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

type JoinRoomPayload struct {
	RoomCode string    `json:"roomCode"`
	User     *Identity `json:"user"`
	Passcode string    `json:"passcode,omitempty"`
}

// PlaybackPayload carries play, pause and seek from a client.
type PlaybackPayload struct {
	RoomCode string  `json:"roomCode"`
	Time     float64 `json:"time"`
}

type SyncPositionPayload struct {
	RoomCode  string  `json:"roomCode"`
	Time      float64 `json:"time"`
	IsPlaying bool    `json:"isPlaying"`
}

type BufferingPayload struct {
	RoomCode    string `json:"roomCode"`
	IsBuffering bool   `json:"isBuffering"`
}

type ChatPayload struct {
	RoomCode string `json:"roomCode"`
	Message  string `json:"message"`
}

type UserActionPayload struct {
	RoomCode string `json:"roomCode"`
	Action   string `json:"action"`
	Message  string `json:"message"`
}

// RoomStatePayload is the snapshot a joiner receives, and only the joiner.
type RoomStatePayload struct {
	// ConnectionID is the recipient's own connection.
	ConnectionID string        `json:"connectionId,omitempty"`
	Room         RoomInfo      `json:"room"`
	Participants []Participant `json:"participants"`
	Playback     PlaybackState `json:"playback"`
	ChatHistory  []ChatMessage `json:"chatHistory"`
	ServerTime   int64         `json:"serverTime"`
}

type UserLeftPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// PlaybackEventPayload is what other members see after play, pause or seek.
type PlaybackEventPayload struct {
	Time         float64 `json:"time"`
	UserID       string  `json:"userId"`
	ConnectionID string  `json:"connectionId"`
	DisplayName  string  `json:"displayName"`
}

type BufferingEventPayload struct {
	UserID      string `json:"userId"`
	IsBuffering bool   `json:"isBuffering"`
}

type UserActionEventPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Action      string `json:"action"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

type HostTransferredPayload struct {
	NewHostID    string `json:"newHostId"`
	ConnectionID string `json:"connectionId"`
}

type JoinErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
