package transactor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/internal/ratelimit"
)

func testPMSClient(t *testing.T, handler http.HandlerFunc) *pms.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := pms.New(pms.Config{
		BaseURL: server.URL,
		APIKey:  "key",
		Limiter: ratelimit.New(1000, time.Minute),
	})
	if err != nil {
		t.Fatalf("pms.New: %v", err)
	}
	return c
}

func TestCreateBooking_HappyPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	date := tomorrow.Format("2006-01-02")
	slotStart := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 14, 0, 0, 0, time.UTC)

	client := testPMSClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/patients":
			json.NewEncoder(w).Encode(map[string]any{"id": "pat-1", "first_name": "Jane", "last_name": "Doe"})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"available_times": []map[string]any{{"appointment_start": slotStart.Format(time.RFC3339)}},
				"links":           map[string]string{},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/individual_appointments":
			json.NewEncoder(w).Encode(map[string]any{
				"id": "appt-1", "appointment_start": slotStart.Format(time.RFC3339),
				"appointment_end": slotStart.Add(30 * time.Minute).Format(time.RFC3339),
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	tr := NewWithDB(mock, client, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, given_name, family_name FROM patients").
		WithArgs("clinic-1", "15551234567").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO patients").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE patients SET id").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectQuery("SELECT id, full_name, works_at_location, location_names").
		WithArgs("clinic-1", "Dr Smith", "loc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name", "works_at_location", "location_names"}).
			AddRow("pr-1", "Dr Smith", true, []string{"Main Clinic"}))

	matchJSON := []byte(`{"match":{"service_id":"svc-1","name":"Consultation","duration_minutes":30},"offerings":[]}`)
	mock.ExpectQuery("SELECT json_build_object").
		WithArgs("pr-1", "consultation").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(matchJSON))

	mock.ExpectQuery("SELECT name FROM locations").
		WithArgs("loc-1").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Main Clinic"))

	mock.ExpectQuery("SELECT available_slots").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO availability_cache").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec("INSERT INTO appointments").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO voice_bookings").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE availability_cache").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := tr.CreateBooking(context.Background(), Request{
		ClinicID:       "clinic-1",
		ClinicTimezone: "UTC",
		CountryCode:    "US",
		SessionID:      "sess-1",
		CallerPhone:    "+15551234567",
		PatientName:    "Jane Doe",
		Practitioner:   "Dr Smith",
		Service:        "consultation",
		LocationID:     "loc-1",
		Date:           date,
		Time:           "14:00",
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if res.AppointmentID != "appt-1" {
		t.Errorf("AppointmentID = %q, want appt-1", res.AppointmentID)
	}
	if res.PractitionerName != "Dr Smith" || res.LocationName != "Main Clinic" {
		t.Errorf("unexpected result %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateBooking_PractitionerLocationMismatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	client := testPMSClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "pat-1"})
	})
	tr := NewWithDB(mock, client, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, given_name, family_name FROM patients").
		WillReturnRows(pgxmock.NewRows([]string{"id", "given_name", "family_name"}).AddRow("pat-1", "Jane", "Doe"))

	mock.ExpectQuery("SELECT id, full_name, works_at_location, location_names").
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name", "works_at_location", "location_names"}).
			AddRow("pr-1", "Dr Smith", false, []string{"Downtown"}))
	mock.ExpectRollback()

	_, err = tr.CreateBooking(context.Background(), Request{
		ClinicID:       "clinic-1",
		ClinicTimezone: "UTC",
		CountryCode:    "US",
		CallerPhone:    "+15551234567",
		Practitioner:   "Dr Smith",
		Service:        "consultation",
		LocationID:     "loc-1",
		Date:           "2026-08-01",
		Time:           "14:00",
	})
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Code != apierror.PractitionerLocationMismatch {
		t.Fatalf("expected practitioner_location_mismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// TestCreateBooking_ConflictRecordsFailedAttemptOutsideMainTx pins down that
// a create_appointment conflict writes the failed_booking_attempts row and
// invalidates the cache through their own short transactions, committed
// independently of the main booking transaction that the caller rolls back
// on this error path.
func TestCreateBooking_ConflictRecordsFailedAttemptOutsideMainTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	date := tomorrow.Format("2006-01-02")
	slotStart := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 14, 0, 0, 0, time.UTC)

	client := testPMSClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/patients":
			json.NewEncoder(w).Encode(map[string]any{"id": "pat-1", "first_name": "Jane", "last_name": "Doe"})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"available_times": []map[string]any{{"appointment_start": slotStart.Format(time.RFC3339)}},
				"links":           map[string]string{},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/individual_appointments":
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{"error": "slot already booked"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	tr := NewWithDB(mock, client, nil)

	// Main booking transaction: upsert patient, resolve practitioner/service/
	// location, probe availability, then the PMS create call above conflicts.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, given_name, family_name FROM patients").
		WithArgs("clinic-1", "15551234567").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO patients").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE patients SET id").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectQuery("SELECT id, full_name, works_at_location, location_names").
		WithArgs("clinic-1", "Dr Smith", "loc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "full_name", "works_at_location", "location_names"}).
			AddRow("pr-1", "Dr Smith", true, []string{"Main Clinic"}))

	matchJSON := []byte(`{"match":{"service_id":"svc-1","name":"Consultation","duration_minutes":30},"offerings":[]}`)
	mock.ExpectQuery("SELECT json_build_object").
		WithArgs("pr-1", "consultation").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(matchJSON))

	mock.ExpectQuery("SELECT name FROM locations").
		WithArgs("loc-1").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Main Clinic"))

	mock.ExpectQuery("SELECT available_slots").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO availability_cache").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// Side transaction #1: the failed-attempt row, committed on its own.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO failed_booking_attempts").
		WithArgs("clinic-1", "sess-1", "pr-1", "loc-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	// Side transaction #2: the stale-cache invalidation, also committed on
	// its own rather than riding the doomed main transaction.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE availability_cache SET is_stale").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	// The main transaction never reaches a commit on this path.
	mock.ExpectRollback()

	_, err = tr.CreateBooking(context.Background(), Request{
		ClinicID:       "clinic-1",
		ClinicTimezone: "UTC",
		CountryCode:    "US",
		SessionID:      "sess-1",
		CallerPhone:    "+15551234567",
		PatientName:    "Jane Doe",
		Practitioner:   "Dr Smith",
		Service:        "consultation",
		LocationID:     "loc-1",
		Date:           date,
		Time:           "14:00",
	})
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Code != apierror.TimeJustTaken {
		t.Fatalf("expected time_just_taken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations (side transactions must commit independently of the main tx): %v", err)
	}
}
