package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/observable"
)

func TestRecoveryReturnsJSONWithRequestID(t *testing.T) {
	s := newTestServer(newFakeLifecycle(), fakeTracking{snap: observable.New[*models.TrackingSnapshot](nil)})
	s.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected caller request id echoed, got %q", rec.Header().Get("X-Request-ID"))
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["request_id"] != "req-42" || body["error"] != "internal error" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRouteTemplateLabelsByRoute(t *testing.T) {
	s := newTestServer(newFakeLifecycle(), fakeTracking{snap: observable.New[*models.TrackingSnapshot](nil)})
	var got string
	s.mux.HandleFunc("/lookup/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) { got = routeTemplate(r) })

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lookup/17", nil))
	if got != "/lookup/{id:[0-9]+}" {
		t.Fatalf("expected route template, got %q", got)
	}
}
