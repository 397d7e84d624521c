// Package voice implements the HTTP/JSON surface the voice agent calls
// into: one handler per booking-flow endpoint, each resolving the calling
// clinic from the dialed number before touching any booking component.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/availsearch"
	"github.com/clinicvoice/scheduler/internal/booking"
	"github.com/clinicvoice/scheduler/internal/clinic"
	"github.com/clinicvoice/scheduler/internal/observability/metrics"
	"github.com/clinicvoice/scheduler/internal/oracle"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/internal/ratelimit"
	"github.com/clinicvoice/scheduler/internal/resolver"
	"github.com/clinicvoice/scheduler/internal/session"
	"github.com/clinicvoice/scheduler/internal/sync"
	"github.com/clinicvoice/scheduler/internal/syncqueue"
	"github.com/clinicvoice/scheduler/internal/transactor"
	"github.com/clinicvoice/scheduler/pkg/logging"
)

// Server holds every long-lived component the voice-agent endpoints share.
// Components that don't bake in a clinic's PMS client (cache, resolver,
// oracle, sessions, syncer, searcher) are built once; a Transactor is built
// fresh per request from the per-clinic cached pms.Client since it's a
// cheap struct wrapping references.
type Server struct {
	Clinics    *clinic.Repository
	Sessions   *session.Store
	Cache      *availcache.Cache
	Oracle     *oracle.Oracle
	Resolver   *resolver.Resolver
	Syncer     *sync.Syncer
	Searcher   *availsearch.Searcher
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	HandoffCfg booking.ManualHandoffConfig
	Handoff    *booking.ManualHandoffAdapter

	// SyncQueue and Jobs back C4's async sync-job path (POST /sync-cache
	// returns a jobId instead of blocking). Both nil means the endpoint
	// falls back to running the sync pass inline.
	SyncQueue syncqueue.Queue
	Jobs      *syncqueue.JobStore

	pool       *pgxpool.Pool
	limiter    *ratelimit.Limiter
	pmsTimeout time.Duration

	clientsMu sync.Mutex
	clients   map[string]*pms.Client
}

// Config bundles the dependencies needed to build a Server.
type Config struct {
	Pool     *pgxpool.Pool
	Clinics  *clinic.Repository
	Sessions *session.Store
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Handoff  *booking.ManualHandoffAdapter
	SyncQueue syncqueue.Queue
	Jobs      *syncqueue.JobStore
	// PMSCallLimit/PMSCallWindow bound the shared rate limiter every
	// per-clinic pms.Client is built with — one PMS account's call budget
	// is process-wide, not per-clinic, matching C1's design.
	PMSCallLimit  int
	PMSCallWindow time.Duration
	PMSTimeout    time.Duration
}

// New builds a Server wiring every booking component over the shared pool.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	cache := availcache.New(cfg.Pool).WithMetrics(m)
	ora := oracle.New(cfg.Pool)
	limit := cfg.PMSCallLimit
	if limit == 0 {
		limit = 50
	}
	window := cfg.PMSCallWindow
	if window == 0 {
		window = time.Second
	}
	timeout := cfg.PMSTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		Clinics:    cfg.Clinics,
		Sessions:   cfg.Sessions,
		Cache:      cache,
		Oracle:     ora,
		Resolver:   resolver.New(cfg.Pool),
		Syncer:     sync.New(cfg.Pool, cache, logger),
		Searcher:   availsearch.New(cfg.Pool, cache, ora, cfg.Sessions),
		Logger:     logger,
		Metrics:    m,
		Handoff:    cfg.Handoff,
		SyncQueue:  cfg.SyncQueue,
		Jobs:       cfg.Jobs,
		pool:       cfg.Pool,
		limiter:    ratelimit.New(limit, window),
		pmsTimeout: timeout,
		clients:    make(map[string]*pms.Client),
	}
}

// pmsClientFor returns the cached pms.Client for c, constructing one on
// first use. Every clinic's client shares the process-wide rate limiter.
func (s *Server) pmsClientFor(c *clinic.Clinic) (*pms.Client, error) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if client, ok := s.clients[c.ID]; ok {
		return client, nil
	}
	client, err := pms.New(pms.Config{
		BaseURL: c.PMSBaseURL,
		APIKey:  c.PMSAPIKey,
		Timeout: s.pmsTimeout,
		Limiter: s.limiter,
	})
	if err != nil {
		return nil, err
	}
	client = client.WithMetrics(s.Metrics)
	s.clients[c.ID] = client
	return client, nil
}

// transactorFor builds a Transactor bound to clinic c's PMS client.
func (s *Server) transactorFor(c *clinic.Clinic) (*transactor.Transactor, error) {
	client, err := s.pmsClientFor(c)
	if err != nil {
		return nil, err
	}
	return transactor.New(s.pool, client, s.Logger), nil
}

// resolveClinic looks up the clinic for dialedNumber, returning a structured
// apierror on miss so every handler reports the same clinic_not_found shape.
func (s *Server) resolveClinic(ctx context.Context, dialedNumber string) (*clinic.Clinic, error) {
	c, err := s.Clinics.GetByDialedNumber(ctx, dialedNumber)
	if err != nil {
		if err == clinic.ErrNotFound {
			return nil, apierror.New(apierror.ClinicNotFound, "I'm sorry, I couldn't find this clinic's account. Please contact the clinic directly.")
		}
		return nil, apierror.Internal(err)
	}
	return c, nil
}
