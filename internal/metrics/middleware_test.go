package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
)

func TestHTTPMiddlewareRecordsRoutePattern(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/campaigns/550e8400-e29b-41d4-a716-446655440000", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	counter, err := m.APIRequestsTotal.GetMetricWithLabelValues("GET", "/campaigns/{id}", "200")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	var got dto.Metric
	if err := counter.Write(&got); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got.Counter.GetValue() != 1 {
		t.Errorf("requests for route pattern = %v, want 1", got.Counter.GetValue())
	}
}

func TestHTTPMiddlewareNoGlobal(t *testing.T) {
	SetGlobal(nil)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/ping", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestRoutePatternMasksIDs(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/campaigns/550e8400-e29b-41d4-a716-446655440000", "/campaigns/{id}"},
		{"/campaigns/550e8400-e29b-41d4-a716-446655440000/recipients", "/campaigns/{id}/recipients"},
		{"/health", "/health"},
		{"/campaigns/not-a-uuid", "/campaigns/not-a-uuid"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		if got := routePattern(req); got != tt.want {
			t.Errorf("routePattern(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
