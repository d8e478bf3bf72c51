package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty-backend/internal/models"
)

type recordingPeer struct {
	id     string
	mu     sync.Mutex
	frames []models.WSMessage
	full   bool
}

func (p *recordingPeer) ID() string { return p.id }

func (p *recordingPeer) Send(frame []byte) bool {
	if p.full {
		return false
	}
	var msg models.WSMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		panic(err)
	}
	p.mu.Lock()
	p.frames = append(p.frames, msg)
	p.mu.Unlock()
	return true
}

func (p *recordingPeer) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f.Event)
	}
	return out
}

func seat(t *testing.T, rm *Room, connID, userID string) *recordingPeer {
	t.Helper()
	peer := &recordingPeer{id: connID}
	err := rm.Apply(func(s *State) error {
		s.AddParticipant(models.Participant{ConnectionID: connID, UserID: userID, DisplayName: userID}, peer)
		return nil
	})
	require.NoError(t, err)
	return peer
}

func TestChatHistory_EvictsOldest(t *testing.T) {
	h := NewChatHistory(3)
	for i := 1; i <= 4; i++ {
		h.Append(models.ChatMessage{ID: int64(i), Message: fmt.Sprintf("m%d", i)})
	}

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 3, h.Cap())
}

func TestChatHistory_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultHistorySize, NewChatHistory(0).Cap())
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry(10)

	_, ok := reg.Get("ABCD")
	assert.False(t, ok)

	rm := reg.GetOrCreate("ABCD")
	assert.Same(t, rm, reg.GetOrCreate("ABCD"))
	assert.Equal(t, 1, reg.Len())

	seat(t, rm, "c1", "alice")
	assert.False(t, reg.RemoveIfEmpty("ABCD"), "occupied room must survive")

	require.NoError(t, rm.Apply(func(s *State) error {
		_, _, ok := s.RemoveParticipant("c1")
		assert.True(t, ok)
		return nil
	}))
	assert.True(t, reg.RemoveIfEmpty("ABCD"))
	_, ok = reg.Get("ABCD")
	assert.False(t, ok)

	err := rm.Apply(func(s *State) error { return nil })
	assert.ErrorIs(t, err, ErrRoomClosed)

	fresh := reg.GetOrCreate("ABCD")
	assert.NotSame(t, rm, fresh)
	require.NoError(t, fresh.Apply(func(s *State) error {
		assert.Empty(t, s.ChatHistory())
		assert.Equal(t, 0.0, s.Playback().CurrentPosition)
		assert.False(t, s.Playback().IsPlaying)
		return nil
	}))
}

func TestRegistry_Codes(t *testing.T) {
	reg := NewRegistry(0)
	reg.GetOrCreate("ZZZ")
	reg.GetOrCreate("AAA")
	assert.Equal(t, []string{"AAA", "ZZZ"}, reg.Codes())
	assert.Equal(t, "ABC1", NormalizeCode("  abc1 "))
}

func TestState_HostAssignmentAndTransfer(t *testing.T) {
	reg := NewRegistry(10)
	rm := reg.GetOrCreate("ROOM")
	seat(t, rm, "c1", "alice")
	seat(t, rm, "c2", "bob")
	seat(t, rm, "c3", "carol")

	require.NoError(t, rm.Apply(func(s *State) error {
		assert.Equal(t, "c1", s.HostConnectionID())
		ps := s.Participants()
		require.Len(t, ps, 3)
		assert.True(t, ps[0].IsHost)
		assert.False(t, ps[1].IsHost)
		assert.True(t, ps[1].IsConnected)

		// non-host leaving does not move host
		_, newHost, ok := s.RemoveParticipant("c2")
		require.True(t, ok)
		assert.Nil(t, newHost)
		assert.Equal(t, "c1", s.HostConnectionID())

		removed, newHost, ok := s.RemoveParticipant("c1")
		require.True(t, ok)
		assert.True(t, removed.IsHost)
		require.NotNil(t, newHost)
		assert.Equal(t, "c3", newHost.ConnectionID)
		assert.True(t, newHost.IsHost)

		removed, newHost, ok = s.RemoveParticipant("c3")
		require.True(t, ok)
		assert.True(t, removed.IsHost)
		assert.Nil(t, newHost)
		assert.Equal(t, "", s.HostConnectionID())

		_, _, ok = s.RemoveParticipant("c3")
		assert.False(t, ok)
		return nil
	}))
}

func TestState_BroadcastExcludes(t *testing.T) {
	reg := NewRegistry(10)
	rm := reg.GetOrCreate("ROOM")
	a := seat(t, rm, "c1", "alice")
	b := seat(t, rm, "c2", "bob")
	c := seat(t, rm, "c3", "carol")
	c.full = true

	require.NoError(t, rm.Apply(func(s *State) error {
		dropped, err := s.Broadcast(models.EventSeek, models.PlaybackEventPayload{Time: 1}, "c2")
		require.NoError(t, err)
		assert.Equal(t, 1, dropped)
		return s.SendTo("c2", models.EventRoomState, s.Snapshot(time.Now()))
	}))

	assert.Equal(t, []string{models.EventSeek}, a.events())
	assert.Equal(t, []string{models.EventRoomState}, b.events())
}

func TestState_AttachMetaOnce(t *testing.T) {
	reg := NewRegistry(10)
	rm := reg.GetOrCreate("ROOM")
	require.NoError(t, rm.Apply(func(s *State) error {
		s.AttachMeta(&models.RoomMeta{SubjectID: "tt1", Title: "First"})
		s.AttachMeta(&models.RoomMeta{SubjectID: "tt2", Title: "Second"})
		s.AttachMeta(nil)
		assert.Equal(t, "tt1", s.Info().SubjectID)
		assert.Equal(t, "First", s.Info().Title)
		return nil
	}))
}

func TestState_AppendChatAssignsMonotonicIDs(t *testing.T) {
	reg := NewRegistry(2)
	rm := reg.GetOrCreate("ROOM")
	now := time.UnixMilli(1000)
	require.NoError(t, rm.Apply(func(s *State) error {
		m1 := s.AppendChat("u1", "alice", "one", now)
		m2 := s.AppendChat("u1", "alice", "two", now)
		m3 := s.AppendChat("u2", "bob", "three", now)
		assert.Less(t, m1.ID, m2.ID)
		assert.Less(t, m2.ID, m3.ID)

		hist := s.ChatHistory()
		require.Len(t, hist, 2)
		assert.Equal(t, "two", hist[0].Message)
		assert.Equal(t, "three", hist[1].Message)
		return nil
	}))
}
