package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncEvent("play")
		m.IncDropped(DropProtocol)
		m.AddDropped(DropBufferFull, 3)
		m.IncHostTransfers()
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.SetActiveRooms(2)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.IncEvent("play")
	m.IncEvent("play")
	m.IncDropped(DropProtocol)
	m.AddDropped(DropBufferFull, 2)
	m.IncHostTransfers()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("play")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues(DropProtocol)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues(DropBufferFull)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hostTransfers))
}

func TestMetrics_HandlerAndMiddleware(t *testing.T) {
	m := New()
	app := fiber.New()
	app.Use(RequestMiddleware(m))
	app.Get("/metrics", m.Handler(func() { m.SetActiveRooms(3) }))
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "watchparty_active_rooms 3"))
	assert.True(t, strings.Contains(text, "watchparty_http_errors_total 1"))
}
