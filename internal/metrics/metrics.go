// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const namespace = "triarb"

// Metrics owns a private registry so several instances (tests, modes) never
// collide on registration.
type Metrics struct {
	reg *prometheus.Registry

	Opportunities   *prometheus.CounterVec
	GroupsCreated   prometheus.Counter
	GroupsActive    prometheus.Gauge
	GroupsEvicted   prometheus.Counter
	GroupsExpired   prometheus.Counter
	ChecksPerSecond prometheus.Gauge
	PriceMapSize    prometheus.Gauge
	EngineFaults    prometheus.Counter
	EngineRestarts  prometheus.Counter
	StaleEvents     prometheus.Counter
	RecorderFlush   prometheus.Histogram
	RecorderErrors  prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Raw opportunities emitted by the detection engine.",
		}, []string{"category"}),
		GroupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_created_total",
			Help:      "Opportunity groups created by the aggregator.",
		}),
		GroupsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups_retained",
			Help:      "Groups currently retained by the aggregator.",
		}),
		GroupsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_evicted_total",
			Help:      "Groups dropped to keep the aggregator within capacity.",
		}),
		GroupsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_expired_total",
			Help:      "Groups replaced by a new group for the same key after the stale window.",
		}),
		ChecksPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_checks_per_second",
			Help:      "Price updates evaluated per second.",
		}),
		PriceMapSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_price_map_size",
			Help:      "Symbols with a known quote.",
		}),
		EngineFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_faults_total",
			Help:      "Recovered detection engine faults.",
		}),
		EngineRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_restarts_total",
			Help:      "Engine instances started, including config and universe reloads.",
		}),
		StaleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_stale_events_total",
			Help:      "Events discarded because they came from a replaced engine session.",
		}),
		RecorderFlush: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recorder_flush_seconds",
			Help:      "Duration of history flushes to Postgres.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		RecorderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_errors_total",
			Help:      "Failed history flushes.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Opportunities, m.GroupsCreated, m.GroupsActive, m.GroupsEvicted, m.GroupsExpired,
		m.ChecksPerSecond, m.PriceMapSize, m.EngineFaults, m.EngineRestarts, m.StaleEvents,
		m.RecorderFlush, m.RecorderErrors,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// RegisterFeed exports the market feed's counters, read from status on
// every scrape.
func (m *Metrics) RegisterFeed(status func() domain.FeedStatus) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_messages_per_second",
			Help:      "Market data frames received per second.",
		}, func() float64 { return status().MessagesPerSec }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "1 when every feed connection is up.",
		}, func() float64 {
			if status().State == domain.FeedConnected {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_messages_total",
			Help:      "Market data frames received.",
		}, func() float64 { return float64(status().TotalMessages) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_total",
			Help:      "Frames dropped because the engine queue was full.",
		}, func() float64 { return float64(status().Dropped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Feed reconnect attempts.",
		}, func() float64 { return float64(status().Reconnects) }),
	)
}

// RegisterHub exports the websocket hub's client count and the updates it
// dropped because it was backed up.
func (m *Metrics) RegisterHub(clients func() int, dropped func() int64) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients.",
		}, func() float64 { return float64(clients()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_total",
			Help:      "Updates the websocket hub dropped while backed up.",
		}, func() float64 { return float64(dropped()) }),
	)
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, code int, took time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(took.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
