package transactor

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicvoice/scheduler/internal/apierror"
)

// existingAppointment is a booked appointment fetched back out of local
// storage, enough to drive a reschedule or cancellation without another
// round trip to the PMS just to learn what was booked.
type existingAppointment struct {
	id               string
	patientID        string
	practitionerID   string
	practitionerName string
	serviceID        string
	serviceName      string
	durationMinutes  int
	locationID       string
	locationName     string
	startUTC         time.Time
	endUTC           time.Time
}

const findAppointmentByIDQuery = `
SELECT a.id, a.patient_id, a.practitioner_id, trim(pr.given_name || ' ' || pr.family_name),
       a.service_id, s.name, s.duration_minutes, a.location_id, l.name, a.starts_at, a.ends_at
FROM appointments a
JOIN practitioners pr ON pr.id = a.practitioner_id
JOIN services s ON s.id = a.service_id
JOIN locations l ON l.id = a.location_id
WHERE a.clinic_id = $1 AND a.id = $2 AND a.status = 'booked'
`

// findAppointmentByDetailsQuery mirrors find_appointment_by_details: the
// caller's own booked appointments, ranked by trigram similarity between
// free-text details and a practitioner/service/notes blob, since voice
// callers rarely know their own appointment id.
const findAppointmentByDetailsQuery = `
SELECT a.id, a.patient_id, a.practitioner_id, trim(pr.given_name || ' ' || pr.family_name),
       a.service_id, s.name, s.duration_minutes, a.location_id, l.name, a.starts_at, a.ends_at
FROM appointments a
JOIN patients p ON p.id = a.patient_id
JOIN practitioners pr ON pr.id = a.practitioner_id
JOIN services s ON s.id = a.service_id
JOIN locations l ON l.id = a.location_id
WHERE a.clinic_id = $1 AND p.normalized_phone = $2 AND a.status = 'booked' AND a.starts_at > now()
ORDER BY similarity(lower(trim(pr.given_name || ' ' || pr.family_name) || ' ' || s.name || ' ' || coalesce(a.notes, '')), lower($3)) DESC
LIMIT 1
`

func scanAppointment(row pgx.Row) (*existingAppointment, error) {
	a := &existingAppointment{}
	err := row.Scan(&a.id, &a.patientID, &a.practitionerID, &a.practitionerName,
		&a.serviceID, &a.serviceName, &a.durationMinutes, &a.locationID, &a.locationName, &a.startUTC, &a.endUTC)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// findAppointment resolves the caller's target appointment by id when given
// one, otherwise by fuzzy match against their own booked appointments.
func (t *Transactor) findAppointment(ctx context.Context, tx pgx.Tx, clinicID, appointmentID, normalizedPhone, details string) (*existingAppointment, error) {
	var row pgx.Row
	if appointmentID != "" {
		row = tx.QueryRow(ctx, findAppointmentByIDQuery, clinicID, appointmentID)
	} else {
		row = tx.QueryRow(ctx, findAppointmentByDetailsQuery, clinicID, normalizedPhone, details)
	}

	appt, err := scanAppointment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierror.New(apierror.AppointmentNotFound,
				"I couldn't find your appointment. Could you provide more details like the practitioner's name or the appointment time?")
		}
		return nil, apierror.Internal(err)
	}
	return appt, nil
}
