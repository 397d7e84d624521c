package transactor

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const insertAppointmentQuery = `
INSERT INTO appointments
	(id, clinic_id, patient_id, practitioner_id, service_id, location_id, starts_at, ends_at, status, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'booked', $9, now())
`

const insertVoiceBookingQuery = `
INSERT INTO voice_bookings (clinic_id, session_id, caller_phone, appointment_id, action, created_at)
VALUES ($1, $2, $3, $4, 'book', now())
`

// persistBooking implements steps 6 and 7: the local appointment row that
// mirrors the PMS-side booking, plus the voice_bookings audit row tying the
// booking back to the call session that produced it.
func (t *Transactor) persistBooking(ctx context.Context, tx pgx.Tx, clinicID, sessionID, callerPhone, patientID string, b *booked, appointmentID, notes string) error {
	if _, err := tx.Exec(ctx, insertAppointmentQuery,
		appointmentID, clinicID, patientID, b.practitionerID, b.serviceID, b.locationID, b.startUTC, b.endUTC, notes,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, insertVoiceBookingQuery, clinicID, sessionID, callerPhone, appointmentID); err != nil {
		return err
	}
	return nil
}
