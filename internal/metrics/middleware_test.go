package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/api/update-item/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "422"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/update-item/"+id, nil))
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "422")) - before; got != 2 {
		t.Errorf("expected 2 POST 422 requests, got %f", got)
	}
	// Both ids collapse into one route series.
	hist, err := httpRequestDurationSeconds.GetMetricWithLabelValues(http.MethodPost, "/api/update-item/{id}")
	if err != nil {
		t.Fatal(err)
	}
	if testutil.CollectAndCount(hist.(prometheus.Histogram)) != 1 {
		t.Errorf("expected the route histogram to be observed")
	}
}

func TestMiddlewareUnknownRoute(t *testing.T) {
	Init()
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418")) - before; got != 1 {
		t.Errorf("expected one GET 418 request, got %f", got)
	}
}

func TestMiddlewareFlushesThrough(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Error("expected wrapped writer to implement http.Flusher")
			return
		}
		_, _ = w.Write([]byte("data: x\n\n"))
		f.Flush()
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if !rec.Flushed {
		t.Error("expected the recorder to be flushed")
	}
}
