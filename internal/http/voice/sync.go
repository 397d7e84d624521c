package voice

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/clinic"
	"github.com/clinicvoice/scheduler/internal/syncqueue"
)

type syncRequest struct {
	SessionID     string `json:"sessionId"`
	DialedNumber  string `json:"dialedNumber"`
	ForceFullSync bool   `json:"forceFullSync"`
}

type syncResponse struct {
	envelope
	SyncType  string `json:"syncType"`
	SyncStats struct {
		Updated int `json:"updated"`
		Errors  int `json:"errors"`
	} `json:"syncStats"`
	DurationMs   int64     `json:"durationMs"`
	LastSyncTime time.Time `json:"lastSyncTime"`
}

type syncQueuedResponse struct {
	envelope
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type syncStatusResponse struct {
	envelope
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	SyncType  string `json:"syncType,omitempty"`
	SyncStats struct {
		Updated int `json:"updated"`
		Errors  int `json:"errors"`
	} `json:"syncStats"`
	DurationMs int64 `json:"durationMs,omitempty"`
}

// SyncCache handles POST /sync-cache. When an async queue (C4's
// UseMemoryQueue/SQS path) is wired, it enqueues a job and returns
// immediately with a jobId the caller polls via GET /sync-cache/{jobId};
// otherwise it falls back to running the sync pass inline, synchronously.
func (s *Server) SyncCache(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "", err)
		return
	}

	c, err := s.resolveClinic(r.Context(), req.DialedNumber)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	if s.SyncQueue != nil && s.Jobs != nil {
		jobID := uuid.NewString()
		if err := s.Jobs.PutPending(r.Context(), jobID, c.ID, req.ForceFullSync); err != nil {
			writeError(w, req.SessionID, err)
			return
		}
		if err := s.SyncQueue.Send(r.Context(), jobID); err != nil {
			writeError(w, req.SessionID, err)
			return
		}
		writeJSON(w, http.StatusAccepted, syncQueuedResponse{
			envelope: envelope{SessionID: req.SessionID, Success: true},
			JobID:    jobID,
			Status:   string(syncqueue.JobPending),
		})
		return
	}

	result, err := s.runSyncFor(r.Context(), c, req.ForceFullSync)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	resp := syncResponse{
		envelope:     envelope{SessionID: req.SessionID, Success: true},
		SyncType:     result.SyncType,
		DurationMs:   result.Duration.Milliseconds(),
		LastSyncTime: time.Now().UTC(),
	}
	resp.SyncStats.Updated = result.Updated
	resp.SyncStats.Errors = result.Errors
	writeJSON(w, http.StatusOK, resp)
}

// SyncCacheStatus handles GET /sync-cache/{jobId}, returning a previously
// queued sync job's current state and, once completed, its stats.
func (s *Server) SyncCacheStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if s.Jobs == nil {
		writeError(w, "", apierror.New(apierror.InternalError, "sync job tracking is not configured"))
		return
	}

	job, err := s.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, "", err)
		return
	}

	resp := syncStatusResponse{
		envelope:   envelope{Success: true},
		JobID:      job.JobID,
		Status:     string(job.State),
		SyncType:   job.SyncType,
		DurationMs: job.DurationMs,
	}
	resp.SyncStats.Updated = job.Updated
	resp.SyncStats.Errors = job.Errors
	writeJSON(w, http.StatusOK, resp)
}

// runSync loads clinicID (used by syncRunner, which only has the ID a
// queued job carried) and runs its sync pass.
func (s *Server) runSync(ctx context.Context, clinicID string, forceFull bool) (syncqueue.Outcome, error) {
	c, err := s.Clinics.GetByID(ctx, clinicID)
	if err != nil {
		return syncqueue.Outcome{}, err
	}
	return s.runSyncFor(ctx, c, forceFull)
}

// runSyncFor runs one already-resolved clinic's sync pass inline.
func (s *Server) runSyncFor(ctx context.Context, c *clinic.Clinic, forceFull bool) (syncqueue.Outcome, error) {
	client, err := s.pmsClientFor(c)
	if err != nil {
		return syncqueue.Outcome{}, err
	}
	result, err := s.Syncer.Sync(ctx, c.ID, client, forceFull)
	if err != nil {
		return syncqueue.Outcome{}, err
	}
	return syncqueue.Outcome{SyncType: string(result.Status), Updated: result.Updated, Errors: result.Errors, Duration: result.Duration}, nil
}

// syncRunner adapts Server.runSync to syncqueue.Runner so internal/syncqueue
// never needs to know about clinics or PMS clients.
type syncRunner struct {
	s *Server
}

func (sr *syncRunner) Run(ctx context.Context, clinicID string, forceFull bool) (syncqueue.Outcome, error) {
	return sr.s.runSync(ctx, clinicID, forceFull)
}

// SyncRunner exposes Server's clinic+PMS-client-aware sync execution as a
// syncqueue.Runner, so cmd/api can hand it to a syncqueue.Worker without
// internal/syncqueue importing anything about clinics or PMS clients.
func (s *Server) SyncRunner() syncqueue.Runner {
	return &syncRunner{s: s}
}
