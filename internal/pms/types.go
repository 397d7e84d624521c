package pms

import "time"

// Patient mirrors the PMS's patient record, scoped to a single clinic.
type Patient struct {
	ID              string
	GivenName       string
	FamilyName      string
	NormalizedPhone string
	Email           string
}

// Slot is a single available appointment instant reported by the PMS.
// Start/End are always UTC; callers derive local display separately.
type Slot struct {
	PractitionerID string
	LocationID     string
	ServiceID      string
	Start          time.Time
	End            time.Time
}

// Appointment is a confirmed booking, keyed by the PMS-assigned ID.
type Appointment struct {
	ID             string
	PatientID      string
	PractitionerID string
	ServiceID      string
	LocationID     string
	Start          time.Time
	End            time.Time
	Notes          string
}

// ChangeKind distinguishes an upsert from a cancellation/deletion in the
// incremental sync feed.
type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangedEntity is one row from list_changed: enough to let C4 derive the
// (practitioner, location, date) key to invalidate or refresh.
type ChangedEntity struct {
	Kind           ChangeKind
	AppointmentID  string
	PractitionerID string
	LocationID     string
	ServiceID      string
	Start          time.Time
	ChangedAt      time.Time
}

// CreateAppointmentRequest is the C8 booking request shape.
type CreateAppointmentRequest struct {
	PatientID      string
	PractitionerID string
	ServiceID      string
	LocationID     string
	StartUTC       time.Time
	EndUTC         time.Time
	Notes          string
}
