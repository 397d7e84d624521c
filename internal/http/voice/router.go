package voice

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicvoice/scheduler/internal/http/middleware"
)

// RouterConfig bounds the CORS and per-IP rate-limit middleware Router
// installs ahead of every endpoint.
type RouterConfig struct {
	AllowedOrigins  []string
	RateLimitPerSec float64
	RateLimitBurst  int
	// SyncCacheJWTSecret, when set, requires a valid bearer JWT on the
	// admin-facing sync-cache trigger (both the POST and its status GET).
	// Empty disables the check, matching dev mode.
	SyncCacheJWTSecret string
}

// Router builds the chi.Router exposing every endpoint spec.md §6 names.
// Each handler resolves its own clinic from dialedNumber, so no
// per-clinic auth or routing lives here — this is a flat, single-tenant-
// looking surface that fans out internally.
func (s *Server) Router(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.RateLimitPerSec > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.SyncCacheJWTSecret))
		r.Post("/sync-cache", s.SyncCache)
		r.Get("/sync-cache/{jobId}", s.SyncCacheStatus)
	})
	r.Post("/location-resolver", s.LocationResolver)
	r.Post("/confirm-location", s.ConfirmLocation)
	r.Post("/get-practitioner-services", s.GetPractitionerServices)
	r.Post("/availability-checker", s.AvailabilityChecker)
	r.Post("/find-next-available", s.FindNextAvailable)
	r.Post("/appointment-handler", s.AppointmentHandler)
	r.Post("/cancel-appointment", s.CancelAppointment)

	return r
}
