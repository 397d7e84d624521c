package transactor

import (
	"context"
	"fmt"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/phonenum"
)

// CancelRequest is a voice-agent cancellation request. AppointmentID is
// optional; when empty the target is resolved by fuzzy match using Details.
type CancelRequest struct {
	ClinicID       string
	ClinicTimezone string
	CountryCode    string
	SessionID      string
	CallerPhone    string
	AppointmentID  string
	Details        string
}

const insertVoiceCancellationQuery = `
INSERT INTO voice_bookings (clinic_id, session_id, caller_phone, appointment_id, action, created_at)
VALUES ($1, $2, $3, $4, 'cancel', now())
`

// Cancel finds the target appointment (by id or fuzzy match), cancels it
// PMS-side, marks it cancelled locally, invalidates its cache entry, and
// logs the cancellation, all inside one transaction.
func (t *Transactor) Cancel(ctx context.Context, req CancelRequest) (string, error) {
	ctx, span := t.tracer.Start(ctx, "transactor.Cancel")
	defer span.End()

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return "", apierror.Internal(err)
	}
	defer tx.Rollback(ctx)

	normalizedPhone := phonenum.Normalize(req.CallerPhone, req.CountryCode)
	appt, err := t.findAppointment(ctx, tx, req.ClinicID, req.AppointmentID, normalizedPhone, req.Details)
	if err != nil {
		return "", err
	}

	ok, cancelErr := t.client.CancelAppointment(ctx, appt.id)
	if cancelErr != nil || !ok {
		return "", apierror.Wrap(apierror.CancellationFailed,
			"I wasn't able to cancel that appointment. It may have already been cancelled or completed.", cancelErr)
	}

	if _, err := tx.Exec(ctx, markCancelledQuery, appt.id); err != nil {
		return "", apierror.Internal(err)
	}
	if _, err := tx.Exec(ctx, insertVoiceCancellationQuery, req.ClinicID, req.SessionID, req.CallerPhone, appt.id); err != nil {
		return "", apierror.Internal(err)
	}

	if err := availcache.NewWithDB(tx).Invalidate(ctx, availcache.Key{
		ClinicID: req.ClinicID, PractitionerID: appt.practitionerID, LocationID: appt.locationID, Date: truncateToDay(appt.startUTC),
	}); err != nil {
		return "", apierror.Internal(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", apierror.Internal(err)
	}

	t.logger.Info("transactor: cancellation completed",
		"clinic_id", req.ClinicID, "session_id", req.SessionID, "appointment_id", appt.id)

	loc, _ := loadLocationOrUTC(req.ClinicTimezone)
	local := appt.startUTC.In(loc)
	message := fmt.Sprintf("I found your %s appointment with %s on %s at %s. Your appointment has been successfully cancelled.",
		appt.serviceName, appt.practitionerName, local.Format("Monday, January 2"), local.Format("3:04 PM"))

	return message, nil
}
