package handlers

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/models"
)

func TestClient_SendNeverBlocks(t *testing.T) {
	c := newClient("conn-1", nil, 2, nil)

	assert.True(t, c.Send([]byte("1")))
	assert.True(t, c.Send([]byte("2")))
	assert.False(t, c.Send([]byte("3")), "full queue drops")

	assert.Equal(t, "1", string(<-c.send))
	assert.True(t, c.Send([]byte("4")))
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := newClient("conn-1", nil, 0, nil)
	assert.Equal(t, DefaultSendBuffer, cap(c.send))

	c.close()
	c.close()
	assert.False(t, c.Send([]byte("late")))

	_, open := <-c.send
	assert.False(t, open)
}

func TestClient_BindsOnce(t *testing.T) {
	c := newClient("conn-1", nil, 1, nil)
	assert.Equal(t, "", c.RoomCode())
	assert.True(t, c.bind("ABCD"))
	assert.False(t, c.bind("EFGH"))
	assert.Equal(t, "ABCD", c.RoomCode())
}

func TestClient_SendEventCountsDrops(t *testing.T) {
	m := metrics.New()
	c := newClient("conn-1", nil, 1, m)

	require.True(t, c.sendEvent(models.EventJoinError, models.JoinErrorPayload{Code: "x"}))
	assert.False(t, c.sendEvent(models.EventJoinError, models.JoinErrorPayload{Code: "y"}))

	n, err := testutil.GatherAndCount(m.Registry(), "watchparty_dropped_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClientManager(t *testing.T) {
	m := NewClientManager()
	a := newClient("b-conn", nil, 1, nil)
	b := newClient("a-conn", nil, 1, nil)
	m.Register(a)
	m.Register(b)
	a.bind("ROOM")

	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 1, m.CountInRoom("ROOM"))
	assert.Equal(t, []string{"a-conn", "b-conn"}, m.IDs())

	got, ok := m.Get("a-conn")
	require.True(t, ok)
	assert.Same(t, b, got)

	m.CloseAll()
	assert.False(t, a.Send([]byte("x")))
	assert.False(t, b.Send([]byte("x")))

	assert.True(t, m.Unregister("a-conn"))
	assert.False(t, m.Unregister("a-conn"))
	assert.Equal(t, 1, m.Count())
}
