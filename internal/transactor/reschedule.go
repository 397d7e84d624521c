package transactor

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/phonenum"
)

// ReschedRequest is a voice-agent reschedule request. AppointmentID is
// optional; when empty the target is resolved by fuzzy match over the
// caller's own booked appointments using Details. Any New* field left
// empty keeps the existing value.
type ReschedRequest struct {
	ClinicID        string
	ClinicTimezone  string
	CountryCode     string
	SessionID       string
	CallerPhone     string
	AppointmentID   string
	Details         string
	NewPractitioner string
	NewService      string
	NewLocationID   string
	NewDate         string
	NewTime         string
	Notes           string
}

const markCancelledQuery = `UPDATE appointments SET status = 'cancelled' WHERE id = $1`

const insertReconciliationTaskQuery = `
INSERT INTO reconciliation_tasks (clinic_id, kind, appointment_id, detail, created_at)
VALUES ($1, 'cancel_after_reschedule_failed', $2, $3, now())
`

// Reschedule implements the create-then-cancel contract: the new
// appointment is created first, and the old one is only cancelled once that
// succeeds, so a caller is never left without any appointment at all. A
// failed cancel of the old appointment is logged and queued for manual
// reconciliation rather than failing the reschedule outright.
func (t *Transactor) Reschedule(ctx context.Context, req ReschedRequest) (*BookResult, error) {
	ctx, span := t.tracer.Start(ctx, "transactor.Reschedule")
	defer span.End()

	loc, localStart, err := parseLocalDateTime(req.ClinicTimezone, req.NewDate, req.NewTime)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidDateTime, "I didn't understand that date or time. Could you say it again?", err)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	defer tx.Rollback(ctx)

	normalizedPhone := phonenum.Normalize(req.CallerPhone, req.CountryCode)
	old, err := t.findAppointment(ctx, tx, req.ClinicID, req.AppointmentID, normalizedPhone, req.Details)
	if err != nil {
		return nil, err
	}

	practitionerQuery := req.NewPractitioner
	if practitionerQuery == "" {
		practitionerQuery = old.practitionerName
	}
	serviceQuery := req.NewService
	if serviceQuery == "" {
		serviceQuery = old.serviceName
	}
	locationID := req.NewLocationID
	if locationID == "" {
		locationID = old.locationID
	}

	b, err := t.resolveAndProbe(ctx, tx, req.ClinicID, locationID, practitionerQuery, serviceQuery, loc, localStart)
	if err != nil {
		return nil, err
	}

	appt, err := t.createAppointmentOrFail(ctx, req.ClinicID, req.SessionID, old.patientID, b)
	if err != nil {
		return nil, err
	}

	notes := req.Notes
	if notes == "" {
		notes = fmt.Sprintf("Rescheduled from appointment %s", old.id)
	}
	if err := t.persistBooking(ctx, tx, req.ClinicID, req.SessionID, req.CallerPhone, old.patientID, b, appt.ID, notes); err != nil {
		return nil, apierror.Internal(err)
	}

	if _, cancelErr := t.client.CancelAppointment(ctx, old.id); cancelErr != nil {
		t.logger.Warn("transactor: failed to cancel old appointment after reschedule",
			"clinic_id", req.ClinicID, "old_appointment_id", old.id, "new_appointment_id", appt.ID, "error", cancelErr)
		if _, execErr := tx.Exec(ctx, insertReconciliationTaskQuery, req.ClinicID, old.id, cancelErr.Error()); execErr != nil {
			return nil, apierror.Internal(execErr)
		}
	} else if _, execErr := tx.Exec(ctx, markCancelledQuery, old.id); execErr != nil {
		return nil, apierror.Internal(execErr)
	}

	cache := availcache.NewWithDB(tx)
	if err := cache.Invalidate(ctx, availcache.Key{
		ClinicID: req.ClinicID, PractitionerID: old.practitionerID, LocationID: old.locationID, Date: truncateToDay(old.startUTC),
	}); err != nil {
		return nil, apierror.Internal(err)
	}
	if err := cache.Invalidate(ctx, availcache.Key{
		ClinicID: req.ClinicID, PractitionerID: b.practitionerID, LocationID: b.locationID, Date: truncateToDay(b.startUTC),
	}); err != nil {
		return nil, apierror.Internal(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.Internal(err)
	}

	t.logger.Info("transactor: reschedule completed",
		"clinic_id", req.ClinicID, "session_id", req.SessionID,
		"old_appointment_id", old.id, "new_appointment_id", appt.ID)

	return &BookResult{
		AppointmentID:    appt.ID,
		PractitionerName: b.practitionerName,
		ServiceName:      b.serviceName,
		LocationName:     b.locationName,
		StartUTC:         b.startUTC,
		DurationMinutes:  b.durationMinutes,
		Message:          "Perfect! I've rescheduled your appointment to " + bookingWhen(b, loc) + ".",
	}, nil
}

func bookingWhen(b *booked, loc *time.Location) string {
	local := b.startUTC.In(loc)
	return local.Format("Monday, January 2") + " at " + local.Format("3:04 PM")
}
