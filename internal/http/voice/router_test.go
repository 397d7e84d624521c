package voice

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinicvoice/scheduler/internal/observability/metrics"
)

func TestRouter_Healthz(t *testing.T) {
	s := &Server{Metrics: metrics.New(prometheus.NewRegistry())}
	r := s.Router(RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_MetricsEndpointExposesBookingCounters(t *testing.T) {
	// promhttp.Handler() always gathers from the default registry, so this
	// is the one test in the package that registers Metrics against it
	// rather than an isolated prometheus.NewRegistry() — registering twice
	// against the default registry in the same test binary would panic.
	m := metrics.New(nil)
	m.ObserveBooking("book", "confirmed")

	s := &Server{Metrics: m}
	r := s.Router(RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clinicvoice_booking_outcomes_total") {
		t.Errorf("expected booking outcomes counter to be exported, got body: %s", rec.Body.String())
	}
}
