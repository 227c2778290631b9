package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEvaluation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvaluation("ok", 20*time.Millisecond, 2)
	m.ObserveEvaluation("ok", 10*time.Millisecond, 0)
	m.ObserveEvaluation("forbidden", time.Millisecond, 0)

	if got := testutil.ToFloat64(m.Evaluations.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok evaluations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Evaluations.WithLabelValues("forbidden")); got != 1 {
		t.Errorf("forbidden evaluations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UngradableAnswers); got != 2 {
		t.Errorf("ungradable = %v, want 2", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveEvaluation("ok", time.Second, 1)

	called := false
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil middleware should pass through")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/sessions/{sessionID}/result", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/result", nil))
	}

	got := testutil.ToFloat64(m.RequestCounter.WithLabelValues(http.MethodGet, "/api/sessions/{sessionID}/result", "404"))
	if got != 3 {
		t.Errorf("request counter = %v, want 3", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Error("exposition output missing http_requests_total")
	}
}
