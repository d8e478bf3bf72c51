package services

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty-backend/internal/models"
)

func TestChat_BroadcastIncludesSender(t *testing.T) {
	f := newFixture(0)
	a := f.join(t, "ABCD", "conn-a", "user-a")
	b := f.join(t, "ABCD", "conn-b", "user-b")
	a.reset()
	b.reset()

	msg, err := f.chat.PostMessage("ABCD", "conn-a", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)

	for _, peer := range []*fakePeer{a, b} {
		var got models.ChatMessage
		peer.last(t, models.EventChatMessage, &got)
		assert.Equal(t, msg, got)
	}
}

func TestChat_RejectsEmptyAndUnjoined(t *testing.T) {
	f := newFixture(0)
	f.join(t, "ABCD", "conn-a", "user-a")

	_, err := f.chat.PostMessage("ABCD", "conn-a", "   \x07 ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.chat.PostMessage("ABCD", "conn-x", "hi")
	assert.ErrorIs(t, err, ErrNotInRoom)

	history, ok := f.chat.History("ABCD")
	require.True(t, ok)
	assert.Empty(t, history)
}

func TestChat_TruncatesLongMessages(t *testing.T) {
	f := newFixture(0)
	f.join(t, "ABCD", "conn-a", "user-a")

	msg, err := f.chat.PostMessage("ABCD", "conn-a", strings.Repeat("é", DefaultMaxMessageLength+20))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMessageLength, utf8.RuneCountInString(msg.Message))
}

func TestChat_HistoryIsBounded(t *testing.T) {
	const capacity = 5
	f := newFixture(capacity)
	f.join(t, "ABCD", "conn-a", "user-a")

	for i := 1; i <= capacity+1; i++ {
		_, err := f.chat.PostMessage("ABCD", "conn-a", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	late := f.join(t, "ABCD", "conn-b", "user-b")
	var snap models.RoomStatePayload
	late.last(t, models.EventRoomState, &snap)

	require.Len(t, snap.ChatHistory, capacity)
	for i, m := range snap.ChatHistory {
		assert.Equal(t, fmt.Sprintf("m%d", i+2), m.Message)
		assert.Equal(t, int64(i+2), m.ID)
	}
}

func TestChat_UserActionIsNotPersisted(t *testing.T) {
	f := newFixture(0)
	a := f.join(t, "ABCD", "conn-a", "user-a")
	b := f.join(t, "ABCD", "conn-b", "user-b")
	a.reset()
	b.reset()

	notice, err := f.chat.PostUserAction("ABCD", "conn-b", "skip", "skipped forward")
	require.NoError(t, err)
	assert.Equal(t, "user-b", notice.UserID)

	for _, peer := range []*fakePeer{a, b} {
		var got models.UserActionEventPayload
		peer.last(t, models.EventUserAction, &got)
		assert.Equal(t, "skip", got.Action)
		assert.Equal(t, "skipped forward", got.Message)
	}

	history, _ := f.chat.History("ABCD")
	assert.Empty(t, history)

	_, err = f.chat.PostUserAction("ABCD", "conn-a", "", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
