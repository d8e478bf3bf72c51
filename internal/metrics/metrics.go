package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons recorded by IncDropped.
const (
	DropProtocol   = "protocol"
	DropBufferFull = "buffer_full"
	DropForbidden  = "forbidden"
)

// Metrics holds Prometheus counters and gauges for the watch-party server.
// All methods are safe on a nil receiver so tests can run without metrics.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	droppedTotal      *prometheus.CounterVec
	hostTransfers     prometheus.Counter
	activeRooms       prometheus.Gauge
	activeConnections prometheus.Gauge
}

// New creates and registers the server metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchparty_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchparty_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_events_total",
		Help: "Protocol events applied, by event name",
	}, []string{"event"})
	droppedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_dropped_messages_total",
		Help: "Inbound or outbound messages dropped, by reason",
	}, []string{"reason"})
	hostTransfers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchparty_host_transfers_total",
		Help: "Number of times host passed to another participant",
	})
	activeRooms := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_active_rooms",
		Help: "Number of live rooms",
	})
	activeConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_active_connections",
		Help: "Number of open websocket connections",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		eventsTotal,
		droppedTotal,
		hostTransfers,
		activeRooms,
		activeConnections,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		eventsTotal:       eventsTotal,
		droppedTotal:      droppedTotal,
		hostTransfers:     hostTransfers,
		activeRooms:       activeRooms,
		activeConnections: activeConnections,
	}
}

func (m *Metrics) IncEvent(event string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) IncHostTransfers() {
	if m == nil {
		return
	}
	m.hostTransfers.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a Fiber handler serving the metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) fiber.Handler {
	h := adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return func(c *fiber.Ctx) error {
		if updateGauges != nil {
			updateGauges()
		}
		return h(c)
	}
}

// RequestMiddleware records request count and error count (status >= 400).
func RequestMiddleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if m == nil {
			return err
		}
		m.requestsTotal.Inc()
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		if err != nil && status < 400 {
			status = fiber.StatusInternalServerError
		}
		if status >= 400 {
			m.errorsTotal.Inc()
		}
		return err
	}
}
