package availsearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"

	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/oracle"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/internal/ratelimit"
	"github.com/clinicvoice/scheduler/internal/session"
)

func testSessionStore(t *testing.T) *session.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return session.New(client)
}

func testPMSClient(t *testing.T, server *httptest.Server) *pms.Client {
	t.Helper()
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

func TestFindNextAvailable_HappyPathReturnsEarliestSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	triplesRaw := []byte(`{"triples":[{"practitioner_id":"pr1","location_id":"loc1","service_id":"svc1","is_primary":true}],"offerings":[]}`)
	mock.ExpectQuery("WITH valid").
		WithArgs([]string{"pr1"}, []string{"loc1"}, []string{"svc1"}, "clinic-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(triplesRaw))

	mock.ExpectQuery("SELECT weekday").
		WithArgs("pr1", "loc1").
		WillReturnRows(pgxmock.NewRows([]string{"weekday", "earliest_of_day", "latest_of_day", "effective_from", "effective_to"}))

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT available_slots").
			WillReturnRows(pgxmock.NewRows([]string{"available_slots"}))
	}
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO availability_cache").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectQuery("SELECT appointment_date").
		WillReturnRows(pgxmock.NewRows([]string{"appointment_date", "time"}))

	wantSlotDay := time.Now().UTC().AddDate(0, 0, 1)
	slotStart := time.Date(wantSlotDay.Year(), wantSlotDay.Month(), wantSlotDay.Day(), 14, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"available_times": []map[string]any{
				{"appointment_start": slotStart.Format(time.RFC3339)},
			},
			"links": map[string]string{},
		})
	}))
	defer server.Close()

	cache := availcache.NewWithDB(mock)
	ora := oracle.NewWithDB(mock)
	sessions := testSessionStore(t)
	client := testPMSClient(t, server)

	s := NewWithDB(mock, cache, ora, sessions)

	result, err := s.FindNextAvailable(context.Background(), client, Criteria{
		ClinicID:        "clinic-1",
		PractitionerIDs: []string{"pr1"},
		LocationIDs:     []string{"loc1"},
		ServiceIDs:      []string{"svc1"},
	}, 3, "sess-1")
	if err != nil {
		t.Fatalf("FindNextAvailable: %v", err)
	}
	if len(result.Slots) != 1 {
		t.Fatalf("Slots = %+v, want 1", result.Slots)
	}
	if !result.Slots[0].StartUTC.Equal(slotStart) {
		t.Fatalf("StartUTC = %v, want %v", result.Slots[0].StartUTC, slotStart)
	}
	if result.Slots[0].PractitionerID != "pr1" {
		t.Fatalf("PractitionerID = %q, want pr1", result.Slots[0].PractitionerID)
	}
}

// TestFindNextAvailable_SecondCallSuppressesSlotsOfferedByTheFirst exercises
// rejected-slot suppression: a second find_next_available call against the
// same session and the same criteria fingerprint must treat the two slots
// the first call offered as declined, and return the next slot instead of
// repeating them.
func TestFindNextAvailable_SecondCallSuppressesSlotsOfferedByTheFirst(t *testing.T) {
	day := time.Now().UTC().AddDate(0, 0, 1)
	slot1 := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)
	slot2 := time.Date(day.Year(), day.Month(), day.Day(), 11, 0, 0, 0, time.UTC)
	slot3 := time.Date(day.Year(), day.Month(), day.Day(), 14, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"available_times": []map[string]any{
				{"appointment_start": slot1.Format(time.RFC3339)},
				{"appointment_start": slot2.Format(time.RFC3339)},
				{"appointment_start": slot3.Format(time.RFC3339)},
			},
			"links": map[string]string{},
		})
	}))
	defer server.Close()
	client := testPMSClient(t, server)
	sessions := testSessionStore(t)

	criteria := Criteria{
		ClinicID:        "clinic-1",
		PractitionerIDs: []string{"pr1"},
		LocationIDs:     []string{"loc1"},
		ServiceIDs:      []string{"svc1"},
	}
	triplesRaw := []byte(`{"triples":[{"practitioner_id":"pr1","location_id":"loc1","service_id":"svc1","is_primary":true}],"offerings":[]}`)

	newMockSearcher := func(t *testing.T) *Searcher {
		t.Helper()
		mock, err := pgxmock.NewPool()
		if err != nil {
			t.Fatalf("pgxmock.NewPool: %v", err)
		}
		t.Cleanup(mock.Close)
		mock.MatchExpectationsInOrder(false)

		mock.ExpectQuery("WITH valid").
			WithArgs([]string{"pr1"}, []string{"loc1"}, []string{"svc1"}, "clinic-1").
			WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(triplesRaw))
		mock.ExpectQuery("SELECT weekday").
			WithArgs("pr1", "loc1").
			WillReturnRows(pgxmock.NewRows([]string{"weekday", "earliest_of_day", "latest_of_day", "effective_from", "effective_to"}))
		for i := 0; i < 3; i++ {
			mock.ExpectQuery("SELECT available_slots").
				WillReturnRows(pgxmock.NewRows([]string{"available_slots"}))
		}
		for i := 0; i < 3; i++ {
			mock.ExpectExec("INSERT INTO availability_cache").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mock.ExpectQuery("SELECT appointment_date").
			WillReturnRows(pgxmock.NewRows([]string{"appointment_date", "time"}))

		cache := availcache.NewWithDB(mock)
		ora := oracle.NewWithDB(mock)
		return NewWithDB(mock, cache, ora, sessions)
	}

	first := newMockSearcher(t)
	firstResult, err := first.FindNextAvailable(context.Background(), client, criteria, 3, "sess-1")
	if err != nil {
		t.Fatalf("first FindNextAvailable: %v", err)
	}
	if len(firstResult.Slots) != 2 || !firstResult.Slots[0].StartUTC.Equal(slot1) || !firstResult.Slots[1].StartUTC.Equal(slot2) {
		t.Fatalf("first call slots = %+v, want [slot1, slot2]", firstResult.Slots)
	}

	second := newMockSearcher(t)
	secondResult, err := second.FindNextAvailable(context.Background(), client, criteria, 3, "sess-1")
	if err != nil {
		t.Fatalf("second FindNextAvailable: %v", err)
	}
	if len(secondResult.Slots) != 1 || !secondResult.Slots[0].StartUTC.Equal(slot3) {
		t.Fatalf("second call slots = %+v, want [slot3] (slot1/slot2 already offered)", secondResult.Slots)
	}
}

func TestFindNextAvailable_NoValidCombinationReturnsError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"triples":[],"offerings":[]}`)
	mock.ExpectQuery("WITH valid").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	s := NewWithDB(mock, nil, nil, nil)
	_, err = s.FindNextAvailable(context.Background(), nil, Criteria{ClinicID: "clinic-1"}, 7, "sess-1")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLessTiebreak_PrefersPreferredLocationThenPrimaryThenPractitionerID(t *testing.T) {
	a := OfferedSlot{PractitionerID: "pr2", LocationID: "loc-preferred", IsPrimaryLocation: false}
	b := OfferedSlot{PractitionerID: "pr1", LocationID: "loc-other", IsPrimaryLocation: true}
	if !lessTiebreak(a, b, "loc-preferred") {
		t.Fatal("preferred location should win regardless of primary/practitioner ID")
	}

	c := OfferedSlot{PractitionerID: "pr2", LocationID: "loc1", IsPrimaryLocation: true}
	d := OfferedSlot{PractitionerID: "pr1", LocationID: "loc2", IsPrimaryLocation: false}
	if !lessTiebreak(c, d, "") {
		t.Fatal("primary location should win when no preference is set")
	}

	e := OfferedSlot{PractitionerID: "pr1", LocationID: "loc1", IsPrimaryLocation: false}
	f := OfferedSlot{PractitionerID: "pr2", LocationID: "loc2", IsPrimaryLocation: false}
	if !lessTiebreak(e, f, "") {
		t.Fatal("lowest practitioner ID should win as final tie-break")
	}
}
