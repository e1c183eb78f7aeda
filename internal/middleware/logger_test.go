package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_WritesRoutePattern(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(Logger(zap.New(core)))
	r.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}

	first := entries[0].ContextMap()
	if first["route"] != "/api/orders/{id}" {
		t.Fatalf("route = %v, want /api/orders/{id}", first["route"])
	}
	if first["status"] != int64(http.StatusTeapot) {
		t.Fatalf("status = %v, want %d", first["status"], http.StatusTeapot)
	}

	if entries[1].Level != zap.WarnLevel {
		t.Fatalf("level for 500 = %s, want warn", entries[1].Level)
	}
}

func TestMetrics_CountsByRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/api/services/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/services/{id}", "200")
	before := testutil.ToFloat64(counter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/services/1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/services/2", nil))

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("counter delta = %v, want 2", got)
	}
}

func TestRecordOrderOperation(t *testing.T) {
	ok := orderOperations.WithLabelValues("create", "success")
	failed := orderOperations.WithLabelValues("create", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordOrderOperation("create", nil)
	RecordOrderOperation("create", errors.New("boom"))

	if testutil.ToFloat64(ok)-okBefore != 1 || testutil.ToFloat64(failed)-failedBefore != 1 {
		t.Fatalf("operation counters not incremented")
	}
}
