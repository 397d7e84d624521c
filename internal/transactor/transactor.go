// Package transactor implements C8: the single-transaction booking core.
// A create, reschedule, or cancel either lands completely — local row,
// PMS-side appointment, invalidated cache, audit log — or is rolled back
// whole. No step here is allowed to leave the caller's phone call and the
// PMS account disagreeing about what was booked.
package transactor

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/fanout"
	"github.com/clinicvoice/scheduler/internal/phonenum"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/pkg/logging"
)

// maxRetries/backoffBase/perTaskTimeout configure the single-task fan-out
// run that wraps the PMS create/cancel call with C6's retry policy. A
// booking is one task, not a batch, so maxConcurrency is irrelevant.
const (
	maxRetries     = 2
	backoffBase    = 500 * time.Millisecond
	perTaskTimeout = 15 * time.Second
	batchDeadline  = 45 * time.Second
)

// maxAlternatives bounds how many same-day times are offered back to the
// caller when the requested instant isn't available.
const maxAlternatives = 5

// db is the narrow interface this package needs to open a transaction;
// *pgxpool.Pool and pgxmock's pool both satisfy it. Every read and write
// inside the transaction goes through the pgx.Tx it returns, never through
// db directly, so step 3's practitioner/service resolution shares the
// same snapshot as every other step.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transactor is the booking core.
type Transactor struct {
	db     db
	client *pms.Client
	engine *fanout.Engine
	logger *logging.Logger
	tracer trace.Tracer
}

// New creates a Transactor backed by a live connection pool.
func New(pool *pgxpool.Pool, client *pms.Client, logger *logging.Logger) *Transactor {
	return newTransactor(pool, client, logger)
}

// NewWithDB allows tests to inject a pgxmock pool.
func NewWithDB(d db, client *pms.Client, logger *logging.Logger) *Transactor {
	return newTransactor(d, client, logger)
}

func newTransactor(d db, client *pms.Client, logger *logging.Logger) *Transactor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Transactor{
		db:     d,
		client: client,
		engine: fanout.New(1, perTaskTimeout, maxRetries, backoffBase),
		logger: logger,
		tracer: otel.Tracer("clinicvoice.internal.transactor"),
	}
}

// Request is a voice-agent booking request. Practitioner and Service are
// free text, resolved inside the transaction's read snapshot; LocationID
// must already be resolved (by the location-resolver/confirm-location
// flow) before this is called, and ClinicTimezone/CountryCode come from
// the clinic lookup the HTTP surface performs before reaching C8.
type Request struct {
	ClinicID       string
	ClinicTimezone string
	CountryCode    string
	SessionID      string
	CallerPhone    string
	PatientPhone   string // falls back to CallerPhone when empty
	PatientName    string
	Practitioner   string
	Service        string
	LocationID     string
	Date           string // "2006-01-02", clinic-local
	Time           string // "15:04", clinic-local
	Notes          string
}

// BookResult is the outcome of a successful booking operation.
type BookResult struct {
	AppointmentID     string
	PractitionerName  string
	ServiceName       string
	LocationName      string
	StartUTC          time.Time
	DurationMinutes   int
	PatientGivenName  string
	PatientFamilyName string
	Message           string
}

// booked is the fully-resolved shape a create or reschedule needs to reach
// step 5 (create_appointment), shared by CreateBooking and Reschedule.
type booked struct {
	practitionerID   string
	practitionerName string
	locationID       string
	locationName     string
	serviceID        string
	serviceName      string
	durationMinutes  int
	startUTC         time.Time
	endUTC           time.Time
}

// CreateBooking runs the full nine-step transaction described by C8: parse,
// upsert-patient, resolve, probe availability, create, persist, log,
// invalidate, commit.
func (t *Transactor) CreateBooking(ctx context.Context, req Request) (*BookResult, error) {
	ctx, span := t.tracer.Start(ctx, "transactor.CreateBooking")
	defer span.End()

	loc, localStart, err := parseLocalDateTime(req.ClinicTimezone, req.Date, req.Time)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidDateTime, "I didn't understand that date or time. Could you say it again?", err)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	defer tx.Rollback(ctx)

	patientID, givenName, familyName, err := t.upsertPatient(ctx, tx, req.ClinicID, req.CountryCode, req.PatientPhone, req.CallerPhone, req.PatientName)
	if err != nil {
		return nil, err
	}

	b, err := t.resolveAndProbe(ctx, tx, req.ClinicID, req.LocationID, req.Practitioner, req.Service, loc, localStart)
	if err != nil {
		return nil, err
	}

	appt, err := t.createAppointmentOrFail(ctx, req.ClinicID, req.SessionID, patientID, b)
	if err != nil {
		return nil, err
	}

	if err := t.persistBooking(ctx, tx, req.ClinicID, req.SessionID, req.CallerPhone, patientID, b, appt.ID, req.Notes); err != nil {
		return nil, apierror.Internal(err)
	}

	if err := availcache.NewWithDB(tx).Invalidate(ctx, availcache.Key{
		ClinicID: req.ClinicID, PractitionerID: b.practitionerID, LocationID: b.locationID, Date: truncateToDay(b.startUTC),
	}); err != nil {
		return nil, apierror.Internal(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.Internal(err)
	}

	t.logger.Info("transactor: booking completed",
		"clinic_id", req.ClinicID, "session_id", req.SessionID, "appointment_id", appt.ID,
		"caller_phone", phonenum.Mask(phonenum.Normalize(req.CallerPhone, req.CountryCode)))

	return &BookResult{
		AppointmentID:     appt.ID,
		PractitionerName:  b.practitionerName,
		ServiceName:       b.serviceName,
		LocationName:      b.locationName,
		StartUTC:          b.startUTC,
		DurationMinutes:   b.durationMinutes,
		PatientGivenName:  givenName,
		PatientFamilyName: familyName,
		Message:           bookingConfirmation(b, loc),
	}, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// parseLocalDateTime loads the clinic's timezone and combines date/clock
// strings into a local instant, failing invalid_datetime on either error.
func parseLocalDateTime(tz, date, clock string) (*time.Location, time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, time.Time{}, err
	}
	combined, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return nil, time.Time{}, err
	}
	return loc, combined, nil
}

// loadLocationOrUTC loads tz, falling back to UTC for display purposes when
// the clinic's own timezone is somehow invalid by the time a confirmation
// message is being built for an operation that doesn't otherwise fail on it.
func loadLocationOrUTC(tz string) (*time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}
