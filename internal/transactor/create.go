package transactor

import (
	"context"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/fanout"
	"github.com/clinicvoice/scheduler/internal/pms"
)

const insertFailedAttemptQuery = `
INSERT INTO failed_booking_attempts (clinic_id, session_id, practitioner_id, location_id, requested_start, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
`

// createAppointmentOrFail implements step 5: a single PMS create call run
// through C6 so a transient upstream failure gets the same retry/backoff
// policy a batch task would, while a conflict (slot just taken by another
// caller) fails fast without retrying.
//
// The caller's tx never sees the failure: CreateBooking/Reschedule return
// a non-nil error on every path out of this function, which runs the
// caller's deferred tx.Rollback and would otherwise take the failed-attempt
// row and the cache invalidation down with it. Both are written and
// committed through a short side transaction instead, so a conflict is
// still durably recorded even though the booking attempt itself is not.
func (t *Transactor) createAppointmentOrFail(ctx context.Context, clinicID, sessionID, patientID string, b *booked) (*pms.Appointment, error) {
	task := fanout.Task{Run: func(ctx context.Context) (any, error) {
		return t.client.CreateAppointment(ctx, pms.CreateAppointmentRequest{
			PatientID:      patientID,
			PractitionerID: b.practitionerID,
			ServiceID:      b.serviceID,
			LocationID:     b.locationID,
			StartUTC:       b.startUTC,
			EndUTC:         b.endUTC,
		})
	}}

	results := t.engine.Run(ctx, []fanout.Task{task}, batchDeadline)
	res := results[0]
	if res.Status == fanout.StatusOK {
		return res.Data.(*pms.Appointment), nil
	}

	if execErr := t.recordFailedAttempt(ctx, clinicID, sessionID, b, res.Status); execErr != nil {
		return nil, apierror.Internal(execErr)
	}

	if pmsErr, ok := pms.AsError(res.Err); ok && pmsErr.Class == pms.ClassConflict {
		if cacheErr := t.invalidateAfterConflict(ctx, clinicID, b); cacheErr != nil {
			return nil, apierror.Internal(cacheErr)
		}
		return nil, apierror.New(apierror.TimeJustTaken, "That time was just booked by someone else. Could you pick another time?")
	}

	return nil, apierror.Wrap(apierror.BookingFailed, "I wasn't able to complete that booking. Please try again.", res.Err)
}

// recordFailedAttempt and invalidateAfterConflict each open and commit
// their own short transaction against t.db rather than the caller's tx,
// since the caller's tx is always rolled back on this path.
func (t *Transactor) recordFailedAttempt(ctx context.Context, clinicID, sessionID string, b *booked, status fanout.Status) error {
	side, err := t.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer side.Rollback(ctx)

	if _, err := side.Exec(ctx, insertFailedAttemptQuery, clinicID, sessionID, b.practitionerID, b.locationID, b.startUTC, status); err != nil {
		return err
	}
	return side.Commit(ctx)
}

func (t *Transactor) invalidateAfterConflict(ctx context.Context, clinicID string, b *booked) error {
	side, err := t.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer side.Rollback(ctx)

	if err := availcache.NewWithDB(side).Invalidate(ctx, availcache.Key{
		ClinicID: clinicID, PractitionerID: b.practitionerID, LocationID: b.locationID, Date: truncateToDay(b.startUTC),
	}); err != nil {
		return err
	}
	return side.Commit(ctx)
}
