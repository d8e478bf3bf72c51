package services

import (
	"errors"
	"time"

	"watchparty-backend/internal/models"
	"watchparty-backend/internal/room"
)

var (
	// ErrNotInRoom covers every message from a connection that holds no
	// seat in the named room. The gateway drops these silently.
	ErrNotInRoom = errors.New("connection is not in this room")

	ErrInvalidRoomCode = errors.New("invalid room code")
	ErrAlreadyJoined   = errors.New("connection already joined a room")
	ErrInvalidTime     = errors.New("invalid playback time")
	ErrNotHost         = errors.New("only the host can control playback")
	ErrEmptyMessage    = errors.New("message is empty")
)

// MaxRoomCodeLength bounds codes accepted from clients.
const MaxRoomCodeLength = 32

// withSeat runs fn inside one room transition, provided connID is seated in
// the room named by code.
func withSeat(reg *room.Registry, code, connID string, fn func(s *room.State, p models.Participant) error) error {
	rm, ok := reg.Get(room.NormalizeCode(code))
	if !ok {
		return ErrNotInRoom
	}
	err := rm.Apply(func(s *room.State) error {
		p, ok := s.Participant(connID)
		if !ok {
			return ErrNotInRoom
		}
		return fn(s, p)
	})
	if errors.Is(err, room.ErrRoomClosed) {
		return ErrNotInRoom
	}
	return err
}

func nowOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
