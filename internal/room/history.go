package room

import "watchparty-backend/internal/models"

// DefaultHistorySize is used when a non-positive capacity is requested.
const DefaultHistorySize = 100

// ChatHistory is a fixed-capacity ring of chat messages. Once full, each
// append evicts the oldest entry.
type ChatHistory struct {
	buf   []models.ChatMessage
	start int
	size  int
}

// NewChatHistory returns an empty history holding at most capacity messages.
func NewChatHistory(capacity int) *ChatHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &ChatHistory{buf: make([]models.ChatMessage, capacity)}
}

// Append stores msg, evicting the oldest message when the ring is full.
func (h *ChatHistory) Append(msg models.ChatMessage) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = msg
		h.size++
		return
	}
	h.buf[h.start] = msg
	h.start = (h.start + 1) % len(h.buf)
}

// Messages returns a copy of the history, oldest first.
func (h *ChatHistory) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

func (h *ChatHistory) Len() int { return h.size }

func (h *ChatHistory) Cap() int { return len(h.buf) }
