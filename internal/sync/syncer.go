// Package sync implements incremental synchronization (C4): pulling changed
// appointments from the PMS since a watermark and refreshing or invalidating
// the availability cache accordingly.
package sync

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/pkg/logging"
)

// Status reports what kind of sync actually ran.
type Status string

const (
	StatusSkipped     Status = "skipped"
	StatusIncremental Status = "incremental"
	StatusFull        Status = "full"
)

// Result is returned to the caller (and mirrors the HTTP /sync-cache
// response shape).
type Result struct {
	Status   Status
	Updated  int
	Errors   int
	Duration time.Duration
}

// LockWait is the bounded wait for the per-clinic lock before a caller gets
// "skipped, in-progress".
const LockWait = time.Second

// fullSyncLookback is how far back a forced or first-ever sync looks.
const fullSyncLookback = 7 * 24 * time.Hour

// clockSkewOverlap covers clock skew between this process and the PMS.
const clockSkewOverlap = 5 * time.Minute

// db is the narrow interface this package needs for the watermark read and
// sync-log write.
type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Syncer drives C4 for every clinic in the process. There is one Syncer per
// process; it serializes syncs per clinic via an in-memory lock table.
type Syncer struct {
	db     db
	cache  *availcache.Cache
	logger *logging.Logger
	locks  *clinicLocks
	now    func() time.Time
}

// New creates a Syncer.
func New(database db, cache *availcache.Cache, logger *logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Syncer{db: database, cache: cache, logger: logger, locks: newClinicLocks(), now: time.Now}
}

// Sync runs one sync pass for clinicID using client. If another sync for
// the same clinic is already in flight, returns StatusSkipped without
// touching the cache.
func (s *Syncer) Sync(ctx context.Context, clinicID string, client *pms.Client, forceFull bool) (Result, error) {
	return s.syncWithWait(ctx, clinicID, client, forceFull, LockWait)
}

func (s *Syncer) syncWithWait(ctx context.Context, clinicID string, client *pms.Client, forceFull bool, lockWait time.Duration) (Result, error) {
	release, ok := s.locks.tryAcquire(clinicID, lockWait)
	if !ok {
		return Result{Status: StatusSkipped}, nil
	}
	defer release()

	start := s.now()
	watermark, err := s.readWatermark(ctx, clinicID)
	if err != nil {
		return Result{}, err
	}

	status := StatusIncremental
	if forceFull || watermark.IsZero() {
		watermark = start.Add(-fullSyncLookback)
		status = StatusFull
	}

	changes, err := client.ListChanged(ctx, watermark.Add(-clockSkewOverlap))
	if err != nil {
		_ = s.writeSyncLog(ctx, clinicID, status, 0, 0, s.now().Sub(start), err)
		return Result{}, err
	}

	var updated, failed int
	for _, change := range changes {
		if err := s.applyChange(ctx, clinicID, client, change); err != nil {
			s.logger.Warn("sync: failed to apply change",
				"clinic_id", clinicID, "appointment_id", change.AppointmentID, "error", err)
			failed++
			continue
		}
		updated++
	}

	duration := s.now().Sub(start)
	if err := s.writeSyncLog(ctx, clinicID, status, updated, failed, duration, nil); err != nil {
		s.logger.Warn("sync: failed to write sync log", "clinic_id", clinicID, "error", err)
	}

	return Result{Status: status, Updated: updated, Errors: failed, Duration: duration}, nil
}

// applyChange derives the (practitioner, location, date) cache key for one
// changed appointment and either invalidates or refreshes it.
func (s *Syncer) applyChange(ctx context.Context, clinicID string, client *pms.Client, change pms.ChangedEntity) error {
	day := truncateToDay(change.Start)
	key := availcache.Key{
		ClinicID:       clinicID,
		PractitionerID: change.PractitionerID,
		LocationID:     change.LocationID,
		Date:           day,
	}

	if change.Kind == pms.ChangeRemoved {
		return s.cache.Invalidate(ctx, key)
	}

	slots, err := client.GetAvailableTimes(ctx, change.LocationID, change.PractitionerID, change.ServiceID, day, day)
	if err != nil {
		return err
	}
	return s.cache.Put(ctx, key, slots, availcache.DefaultTTL)
}

func (s *Syncer) readWatermark(ctx context.Context, clinicID string) (time.Time, error) {
	const query = `SELECT MAX(cached_at) FROM availability_cache WHERE clinic_id = $1`
	var watermark *time.Time
	if err := s.db.QueryRow(ctx, query, clinicID).Scan(&watermark); err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if watermark == nil {
		return time.Time{}, nil
	}
	return *watermark, nil
}

func (s *Syncer) writeSyncLog(ctx context.Context, clinicID string, status Status, updated, failed int, duration time.Duration, syncErr error) error {
	const query = `
		INSERT INTO sync_log (clinic_id, status, sync_type, updated_count, error_count, duration_ms, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	logStatus := "ok"
	var failedAt *time.Time
	if syncErr != nil {
		logStatus = "failed"
		now := s.now()
		failedAt = &now
	}
	_, err := s.db.Exec(ctx, query, clinicID, logStatus, status, updated, failed, duration.Milliseconds(), failedAt)
	return err
}

func truncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
