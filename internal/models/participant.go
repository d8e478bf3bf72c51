package models

// Identity is the authenticated user a connection acts for.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar,omitempty"`
}

// Participant is one connection's seat in a room. It is keyed by connection
// id, so the same user reconnecting shows up as a new participant.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	IsHost       bool   `json:"isHost"`
	IsConnected  bool   `json:"isConnected"`
	JoinedAt     int64  `json:"joinedAt"`
}
