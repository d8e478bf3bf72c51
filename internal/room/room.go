package room

import (
	"errors"
	"sync"
	"time"

	"watchparty-backend/internal/models"
)

// ErrRoomClosed is returned by Apply when the room was removed from its
// registry while the caller waited for it.
var ErrRoomClosed = errors.New("room closed")

// Peer is the delivery end of a connection bound to a room. Send must not
// block; it reports whether the frame was queued.
type Peer interface {
	ID() string
	Send(frame []byte) bool
}

type member struct {
	participant models.Participant
	peer        Peer
}

// Room is one live watch party. All reads and writes of its state go through
// Apply, which holds the room lock for exactly one transition.
type Room struct {
	Code      string
	CreatedAt time.Time

	mu     sync.Mutex
	closed bool
	state  *State
}

func newRoom(code string, createdAt time.Time, historySize int) *Room {
	return &Room{
		Code:      code,
		CreatedAt: createdAt,
		state: &State{
			info:    models.RoomInfo{Code: code, CreatedAt: createdAt.UnixMilli()},
			members: make(map[string]*member),
			chat:    NewChatHistory(historySize),
			playback: models.PlaybackState{
				Timestamp: createdAt.UnixMilli(),
			},
		},
	}
}

// Apply runs fn with the room locked. fn must not call back into the
// Registry, since the registry lock is always taken before a room lock.
func (r *Room) Apply(fn func(s *State) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	return fn(r.state)
}

// State is the mutable part of a Room. It is only reachable inside Apply.
type State struct {
	info       models.RoomInfo
	hasMeta    bool
	hostConnID string
	members    map[string]*member
	order      []string
	playback   models.PlaybackState
	chat       *ChatHistory
	nextChatID int64
}

func (s *State) Info() models.RoomInfo { return s.info }

// AttachMeta copies the persisted subject fields onto the live room. Only the
// first call has any effect.
func (s *State) AttachMeta(meta *models.RoomMeta) {
	if meta == nil || s.hasMeta {
		return
	}
	s.info.SubjectID = meta.SubjectID
	s.info.SubjectType = meta.SubjectType
	s.info.Title = meta.Title
	s.hasMeta = true
}

func (s *State) Len() int { return len(s.members) }

func (s *State) HostConnectionID() string { return s.hostConnID }

// AddParticipant seats p under its connection id. The first participant of an
// empty room becomes host.
func (s *State) AddParticipant(p models.Participant, peer Peer) (becameHost bool) {
	if _, exists := s.members[p.ConnectionID]; exists {
		return false
	}
	p.IsConnected = true
	s.members[p.ConnectionID] = &member{participant: p, peer: peer}
	s.order = append(s.order, p.ConnectionID)
	if s.hostConnID == "" {
		s.hostConnID = p.ConnectionID
		return true
	}
	return false
}

// RemoveParticipant unseats connID. When the host leaves and someone remains,
// the earliest remaining joiner becomes host and is returned as newHost.
func (s *State) RemoveParticipant(connID string) (removed models.Participant, newHost *models.Participant, ok bool) {
	m, exists := s.members[connID]
	if !exists {
		return models.Participant{}, nil, false
	}
	wasHost := s.hostConnID == connID
	delete(s.members, connID)
	for i, id := range s.order {
		if id == connID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	removed = m.participant
	removed.IsHost = wasHost
	removed.IsConnected = false

	if !wasHost {
		return removed, nil, true
	}
	s.hostConnID = ""
	if len(s.order) > 0 {
		s.hostConnID = s.order[0]
		p := s.participantLocked(s.hostConnID)
		newHost = &p
	}
	return removed, newHost, true
}

// Participant returns the seat held by connID.
func (s *State) Participant(connID string) (models.Participant, bool) {
	if _, ok := s.members[connID]; !ok {
		return models.Participant{}, false
	}
	return s.participantLocked(connID), true
}

func (s *State) participantLocked(connID string) models.Participant {
	p := s.members[connID].participant
	p.IsHost = connID == s.hostConnID
	return p
}

// Participants lists everyone in join order.
func (s *State) Participants() []models.Participant {
	out := make([]models.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.participantLocked(id))
	}
	return out
}

func (s *State) Playback() models.PlaybackState { return s.playback }

func (s *State) SetPlayback(p models.PlaybackState) { s.playback = p }

// AppendChat creates the next message id and stores the message in history.
func (s *State) AppendChat(userID, displayName, text string, now time.Time) models.ChatMessage {
	s.nextChatID++
	msg := models.ChatMessage{
		ID:          s.nextChatID,
		UserID:      userID,
		DisplayName: displayName,
		Message:     text,
		Timestamp:   now.UnixMilli(),
	}
	s.chat.Append(msg)
	return msg
}

func (s *State) ChatHistory() []models.ChatMessage { return s.chat.Messages() }

// Snapshot is the room-state payload for a joiner.
func (s *State) Snapshot(now time.Time) models.RoomStatePayload {
	return models.RoomStatePayload{
		Room:         s.info,
		Participants: s.Participants(),
		Playback:     s.playback,
		ChatHistory:  s.chat.Messages(),
		ServerTime:   now.UnixMilli(),
	}
}

// Broadcast delivers event to every member except excludeConnID (may be
// empty). The frame is encoded once. It returns how many members were
// skipped because their queue was full.
func (s *State) Broadcast(event string, payload interface{}, excludeConnID string) (int, error) {
	frame, err := models.EncodeMessage(event, payload)
	if err != nil {
		return 0, err
	}
	dropped := 0
	for _, id := range s.order {
		if id == excludeConnID {
			continue
		}
		if !s.members[id].peer.Send(frame) {
			dropped++
		}
	}
	return dropped, nil
}

// SendTo delivers event to a single member.
func (s *State) SendTo(connID, event string, payload interface{}) error {
	m, ok := s.members[connID]
	if !ok {
		return nil
	}
	frame, err := models.EncodeMessage(event, payload)
	if err != nil {
		return err
	}
	m.peer.Send(frame)
	return nil
}
