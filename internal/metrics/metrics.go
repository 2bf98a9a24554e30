// Package metrics holds the prometheus collectors for the asset gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetgate"

// Metrics implements the observer interfaces of the assets, devproxy and
// supervisor packages. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ProxyRequests       *prometheus.CounterVec
	ProxyDuration       prometheus.Histogram
	UpstreamUnreachable prometheus.Counter

	TunnelsActive  prometheus.Gauge
	TunnelsTotal   *prometheus.CounterVec
	TunnelMessages *prometheus.CounterVec

	AssetResponses *prometheus.CounterVec

	ChildRunning prometheus.Gauge
	ChildExits   *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Requests forwarded to the upstream dev server by response status",
			},
			[]string{"code"},
		),
		ProxyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "duration_seconds",
				Help:      "Time until the upstream response headers were forwarded",
				Buckets:   prometheus.DefBuckets,
			},
		),
		UpstreamUnreachable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_unreachable_total",
				Help:      "Requests answered with 502 because the upstream could not be reached",
			},
		),

		TunnelsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tunnel",
				Name:      "active",
				Help:      "Open hot-reload websocket tunnels",
			},
		),
		TunnelsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tunnel",
				Name:      "total",
				Help:      "Hot-reload tunnel attempts by result",
			},
			[]string{"result"},
		),
		TunnelMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tunnel",
				Name:      "messages_total",
				Help:      "Websocket messages relayed by direction",
			},
			[]string{"direction"},
		),

		AssetResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "assets",
				Name:      "responses_total",
				Help:      "Static asset responses by fallback outcome and status",
			},
			[]string{"outcome", "code"},
		),

		ChildRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "child",
				Name:      "running",
				Help:      "1 while the supervised dev server process is running",
			},
		),
		ChildExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "child",
				Name:      "exits_total",
				Help:      "Supervised process exits by exit code",
			},
			[]string{"code"},
		),
	}
	m.registry.MustRegister(
		m.ProxyRequests,
		m.ProxyDuration,
		m.UpstreamUnreachable,
		m.TunnelsActive,
		m.TunnelsTotal,
		m.TunnelMessages,
		m.AssetResponses,
		m.ChildRunning,
		m.ChildExits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProxy(status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.ProxyDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveUpstreamUnreachable() {
	if m == nil {
		return
	}
	m.UpstreamUnreachable.Inc()
}

func (m *Metrics) TunnelOpened() {
	if m == nil {
		return
	}
	m.TunnelsActive.Inc()
	m.TunnelsTotal.WithLabelValues("opened").Inc()
}

func (m *Metrics) TunnelClosed() {
	if m == nil {
		return
	}
	m.TunnelsActive.Dec()
}

func (m *Metrics) TunnelHandshakeFailed() {
	if m == nil {
		return
	}
	m.TunnelsTotal.WithLabelValues("handshake_failed").Inc()
}

func (m *Metrics) TunnelMessage(direction string) {
	if m == nil {
		return
	}
	m.TunnelMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) ObserveAsset(outcome string, status int) {
	if m == nil {
		return
	}
	m.AssetResponses.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ProcessStarted() {
	if m == nil {
		return
	}
	m.ChildRunning.Set(1)
}

func (m *Metrics) ProcessExited(code int) {
	if m == nil {
		return
	}
	m.ChildRunning.Set(0)
	m.ChildExits.WithLabelValues(strconv.Itoa(code)).Inc()
}
