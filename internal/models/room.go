package models

import "time"

// RoomMeta is the persisted description of a watch party. Live state never
// lives here.
type RoomMeta struct {
	Code         string    `json:"roomCode"`
	HostID       string    `json:"hostId"`
	SubjectID    string    `json:"subjectId"`
	SubjectType  string    `json:"subjectType,omitempty"`
	Title        string    `json:"title"`
	PasscodeHash string    `json:"-"`
	HasPasscode  bool      `json:"hasPasscode"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RoomInfo is the room section of a room-state snapshot.
type RoomInfo struct {
	Code        string `json:"roomCode"`
	SubjectID   string `json:"subjectId,omitempty"`
	SubjectType string `json:"subjectType,omitempty"`
	Title       string `json:"title,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

type CreateRoomRequest struct {
	SubjectID   string `json:"subjectId"`
	SubjectType string `json:"subjectType"`
	Title       string `json:"title"`
	Passcode    string `json:"passcode,omitempty"`
}

// RoomResponse is returned by the room lookup endpoint.
type RoomResponse struct {
	Room         *RoomMeta      `json:"room,omitempty"`
	Live         bool           `json:"live"`
	Participants []Participant  `json:"participants"`
	Playback     *PlaybackState `json:"playback,omitempty"`
}
