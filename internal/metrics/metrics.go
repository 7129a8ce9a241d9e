// Package metrics exposes Prometheus metrics for the relay: delivery
// outcomes and session events fed from the event bus, plus HTTP middleware.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noticebot/internal/eventbus"
)

const namespace = "noticebot"

type Metrics struct {
	reg *prometheus.Registry

	deliveries        *prometheus.CounterVec
	parts             prometheus.Counter
	qrChallenges      prometheus.Counter
	authenticated     prometheus.Counter
	authFailures      prometheus.Counter
	broadcasts        prometheus.Counter
	broadcastDuration prometheus.Histogram
	deduped           prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-chat delivery outcomes by mode (file, split, link, none).",
		}, []string{"mode"}),
		parts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_parts_total",
			Help:      "File messages sent, counting each part of a split attachment.",
		}),
		qrChallenges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_challenges_total",
			Help:      "QR challenges surfaced to the operator.",
		}),
		authenticated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_authenticated_total",
			Help:      "Authentication flows that reached WORKING.",
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_auth_failures_total",
			Help:      "Authentication flows that ended in failure.",
		}),
		broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Notices broadcast to all chats.",
		}),
		broadcastDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Wall time of one broadcast across all chats.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		deduped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_deduped_total",
			Help:      "Notices suppressed as duplicates.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchdogStats reports session checks run and failed so far.
type WatchdogStats func() (runs, failures int64)

// RegisterWatchdog exposes the watchdog's counters. Call it at most once.
func (m *Metrics) RegisterWatchdog(stats WatchdogStats) {
	f := promauto.With(m.reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watchdog_checks_total",
		Help:      "Scheduled session checks run by the watchdog.",
	}, func() float64 {
		runs, _ := stats()
		return float64(runs)
	})
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watchdog_check_failures_total",
		Help:      "Scheduled session checks that failed.",
	}, func() float64 {
		_, failures := stats()
		return float64(failures)
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe updates counters for one bus event. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeQRChallenge:
		m.qrChallenges.Inc()
	case eventbus.TypeAuthenticated:
		m.authenticated.Inc()
	case eventbus.TypeAuthFailed:
		m.authFailures.Inc()
	case eventbus.TypeDeliverySent, eventbus.TypeDeliveryFallback, eventbus.TypeDeliveryFailed:
		if d, ok := e.Data.(eventbus.DeliveryEvent); ok {
			m.deliveries.WithLabelValues(d.Mode).Inc()
			m.parts.Add(float64(d.Parts))
		}
	case eventbus.TypeBroadcastFinished:
		m.broadcasts.Inc()
		if b, ok := e.Data.(eventbus.BroadcastEvent); ok {
			m.broadcastDuration.Observe(b.Took.Seconds())
		}
	case eventbus.TypeNoticeDeduped:
		m.deduped.Inc()
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request count, latency and in-flight requests, labeled
// by chi route pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
