// Package metrics exposes Prometheus collectors for the event bus, the
// background converters, the stage registry and the HTTP API.
//
// A Metrics value owns its registry. It implements event.Observer and
// converter.Observer, so it is passed straight to event.WithObserver and
// converter.WithObserver.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/event/dispatch"
	"github.com/dshills/negstation/internal/event/topic"
	"github.com/dshills/negstation/internal/pipeline"
)

// Namespace prefixes every metric name.
const Namespace = "negstation"

// Metrics holds the application collectors.
type Metrics struct {
	reg *prometheus.Registry

	eventsPublished *prometheus.CounterVec
	handlerResults  *prometheus.CounterVec

	conversions        *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight *prometheus.GaugeVec

	loopTicks    prometheus.Counter
	loopDuration prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "events_published_total",
				Help:      "Total number of events accepted by the bus",
			},
			[]string{"topic"},
		),
		handlerResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "handler_invocations_total",
				Help:      "Total number of handler invocations by outcome",
			},
			[]string{"topic", "mode", "result"},
		),

		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "converter",
				Name:      "items_total",
				Help:      "Total number of converted items by outcome",
			},
			[]string{"converter", "result"},
		),
		conversionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "converter",
				Name:      "item_duration_seconds",
				Help:      "Duration of one conversion in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"converter"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
		httpInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "In-flight HTTP requests",
			},
			[]string{"path"},
		),

		loopTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Total number of main loop ticks",
		}),
		loopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "loop",
			Name:      "drain_duration_seconds",
			Help:      "Time spent running main-thread deliveries per tick",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.016, 0.033, 0.1, 0.5, 1},
		}),
	}

	m.reg.MustRegister(
		m.eventsPublished, m.handlerResults,
		m.conversions, m.conversionDuration,
		m.httpRequests, m.httpDuration, m.httpInflight,
		m.loopTicks, m.loopDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// EventPublished implements event.Observer.
func (m *Metrics) EventPublished(t topic.Topic) {
	m.eventsPublished.WithLabelValues(string(t)).Inc()
}

// HandlerCompleted implements event.Observer.
func (m *Metrics) HandlerCompleted(t topic.Topic, mode event.DeliveryMode, result dispatch.Result) {
	outcome := "ok"
	switch {
	case result.Panicked:
		outcome = "panic"
	case !result.Success:
		outcome = "error"
	}
	m.handlerResults.WithLabelValues(string(t), mode.String(), outcome).Inc()
}

// ItemCompleted implements converter.Observer.
func (m *Metrics) ItemCompleted(name string, ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.conversions.WithLabelValues(name, outcome).Inc()
	m.conversionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// LoopTick records one main loop iteration and the time spent draining.
func (m *Metrics) LoopTick(elapsed time.Duration) {
	m.loopTicks.Inc()
	m.loopDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(path, method string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(path, method, code).Inc()
	m.httpDuration.WithLabelValues(path, method, code).Observe(elapsed.Seconds())
}

// TrackInflight increments the in-flight gauge of path and returns the
// matching decrement.
func (m *Metrics) TrackInflight(path string) func() {
	g := m.httpInflight.WithLabelValues(path)
	g.Inc()
	return g.Dec
}

// WatchBus exports queue depths and subscription count of bus, read at
// scrape time.
func (m *Metrics) WatchBus(bus *event.Bus) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "bus",
			Name:      "main_queue_depth",
			Help:      "Invocations waiting for the main thread",
		}, func() float64 { return float64(bus.Stats().MainQueueDepth) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "bus",
			Name:      "publish_queue_depth",
			Help:      "Events waiting for dispatch",
		}, func() float64 { return float64(bus.Stats().PublishQueueDepth) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "bus",
			Name:      "active_subscriptions",
			Help:      "Current number of active subscriptions",
		}, func() float64 { return float64(bus.Stats().ActiveSubscriptions) }),
	)
}

// WatchRegistry exports the number of stages in reg, read at scrape time.
func (m *Metrics) WatchRegistry(reg *pipeline.Registry) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "pipeline",
		Name:      "stages",
		Help:      "Number of registered stages",
	}, func() float64 { return float64(reg.Len()) }))
}
