package services

import (
	"go.uber.org/zap"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/models"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/utils"
)

// DefaultMaxMessageLength bounds a chat message, in runes.
const DefaultMaxMessageLength = 500

const maxActionLength = 32

// ChatService relays chat into a room's bounded history and out to every
// member, sender included.
type ChatService struct {
	deps      Deps
	maxLength int
}

func NewChatService(d Deps, maxLength int) *ChatService {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &ChatService{deps: d.normalized(), maxLength: maxLength}
}

// PostMessage appends text to the room's history and broadcasts it to all
// members. The sender's UI renders its own message from that broadcast.
func (s *ChatService) PostMessage(code, connID, text string) (models.ChatMessage, error) {
	text = utils.SanitizeString(text, s.maxLength)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	var msg models.ChatMessage
	err := withSeat(s.deps.Registry, code, connID, func(st *room.State, p models.Participant) error {
		msg = st.AppendChat(p.UserID, p.DisplayName, text, s.deps.Now())
		dropped, err := st.Broadcast(models.EventChatMessage, msg, "")
		s.deps.Metrics.AddDropped(metrics.DropBufferFull, dropped)
		return err
	})
	if err != nil {
		return models.ChatMessage{}, err
	}

	s.deps.Metrics.IncEvent(models.EventChatMessage)
	s.deps.Logger.Debug("chat message",
		zap.String("room_code", room.NormalizeCode(code)),
		zap.String("connection_id", connID),
		zap.Int64("message_id", msg.ID))
	return msg, nil
}

// PostUserAction broadcasts an ephemeral notice such as "skipped forward".
// Notices never enter chat history.
func (s *ChatService) PostUserAction(code, connID, action, text string) (models.UserActionEventPayload, error) {
	action = utils.SanitizeString(action, maxActionLength)
	text = utils.SanitizeString(text, s.maxLength)
	if action == "" && text == "" {
		return models.UserActionEventPayload{}, ErrEmptyMessage
	}

	var notice models.UserActionEventPayload
	err := withSeat(s.deps.Registry, code, connID, func(st *room.State, p models.Participant) error {
		notice = models.UserActionEventPayload{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Action:      action,
			Message:     text,
			Timestamp:   s.deps.Now().UnixMilli(),
		}
		dropped, err := st.Broadcast(models.EventUserAction, notice, "")
		s.deps.Metrics.AddDropped(metrics.DropBufferFull, dropped)
		return err
	})
	if err != nil {
		return models.UserActionEventPayload{}, err
	}
	s.deps.Metrics.IncEvent(models.EventUserAction)
	return notice, nil
}

// History returns the room's chat history, oldest first.
func (s *ChatService) History(code string) ([]models.ChatMessage, bool) {
	rm, ok := s.deps.Registry.Get(room.NormalizeCode(code))
	if !ok {
		return nil, false
	}
	var out []models.ChatMessage
	err := rm.Apply(func(st *room.State) error {
		out = st.ChatHistory()
		return nil
	})
	return out, err == nil
}
