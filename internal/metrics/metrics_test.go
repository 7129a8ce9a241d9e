package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/internal/eventbus"
)

func TestObserveDeliveryEvents(t *testing.T) {
	m := New()
	m.Observe(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: eventbus.DeliveryEvent{Mode: "split", Parts: 3}})
	m.Observe(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: eventbus.DeliveryEvent{Mode: "file", Parts: 1}})
	m.Observe(eventbus.Event{Type: eventbus.TypeDeliveryFallback, Data: eventbus.DeliveryEvent{Mode: "link"}})
	m.Observe(eventbus.Event{Type: eventbus.TypeQRChallenge})
	m.Observe(eventbus.Event{Type: eventbus.TypeBroadcastFinished, Data: eventbus.BroadcastEvent{Took: 3 * time.Second}})
	m.Observe(eventbus.Event{Type: "unrelated"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("split")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("link")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.parts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.qrChallenges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcasts))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/jobs/{id}", "404")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "noticebot_http_requests_total"))
}

func TestRegisterWatchdogReadsStats(t *testing.T) {
	m := New()
	runs, failures := int64(0), int64(0)
	m.RegisterWatchdog(func() (int64, int64) { return runs, failures })
	runs, failures = 3, 1

	const want = `
# HELP noticebot_watchdog_check_failures_total Scheduled session checks that failed.
# TYPE noticebot_watchdog_check_failures_total counter
noticebot_watchdog_check_failures_total 1
# HELP noticebot_watchdog_checks_total Scheduled session checks run by the watchdog.
# TYPE noticebot_watchdog_checks_total counter
noticebot_watchdog_checks_total 3
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(want),
		"noticebot_watchdog_checks_total", "noticebot_watchdog_check_failures_total"))
}
