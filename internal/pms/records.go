package pms

import (
	"strings"
	"time"
)

// patientRecord is the wire shape of a patient resource; translated into
// the component-local Patient type before leaving this package.
type patientRecord struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phones    []struct {
		Number string `json:"number"`
	} `json:"patient_phone_numbers"`
}

func (r patientRecord) normalizedPhone() string {
	if len(r.Phones) == 0 {
		return ""
	}
	return onlyDigits(r.Phones[0].Number)
}

func (r patientRecord) toPatient() Patient {
	return Patient{
		ID:              r.ID,
		GivenName:       r.FirstName,
		FamilyName:      r.LastName,
		Email:           r.Email,
		NormalizedPhone: r.normalizedPhone(),
	}
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// appointmentRecord is the wire shape of a booked appointment.
type appointmentRecord struct {
	ID                string    `json:"id"`
	PatientID         string    `json:"patient_id"`
	PractitionerID    string    `json:"practitioner_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
	BusinessID        string    `json:"business_id"`
	StartsAt          time.Time `json:"starts_at"`
	EndsAt            time.Time `json:"ends_at"`
	Notes             string    `json:"notes"`
	CancelledAt       string    `json:"cancelled_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r appointmentRecord) toAppointment() Appointment {
	return Appointment{
		ID:             r.ID,
		PatientID:      r.PatientID,
		PractitionerID: r.PractitionerID,
		ServiceID:      r.AppointmentTypeID,
		LocationID:     r.BusinessID,
		Start:          r.StartsAt.UTC(),
		End:            r.EndsAt.UTC(),
		Notes:          r.Notes,
	}
}
