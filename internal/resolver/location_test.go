package resolver

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestResolveLocation_SingleLocationClinicShortCircuits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"matches":[],"all_locations":[{"location_id":"loc1","name":"Downtown","is_primary":true,"visit_count":0,"score":0}]}`)
	mock.ExpectQuery("WITH caller_history").
		WithArgs("clinic-1", "somewhere", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	r := NewWithDB(mock)
	result, err := r.ResolveLocation(context.Background(), "clinic-1", "somewhere", "", "")
	if err != nil {
		t.Fatalf("ResolveLocation: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Score != 1.0 {
		t.Fatalf("got %+v, want single high-confidence match", result.Matches)
	}
	if result.Tier() != TierHigh {
		t.Fatalf("Tier() = %v, want high", result.Tier())
	}
}

func TestResolveLocation_MediumConfidenceTier(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"matches":[{"location_id":"loc1","name":"Eastside","is_primary":false,"visit_count":0,"score":0.6}],"all_locations":[{"location_id":"loc1","name":"Eastside","is_primary":false,"visit_count":0,"score":0},{"location_id":"loc2","name":"Westside","is_primary":true,"visit_count":0,"score":0}]}`)
	mock.ExpectQuery("WITH caller_history").
		WithArgs("clinic-1", "east", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	r := NewWithDB(mock)
	result, err := r.ResolveLocation(context.Background(), "clinic-1", "east", "", "")
	if err != nil {
		t.Fatalf("ResolveLocation: %v", err)
	}
	if result.Tier() != TierMedium {
		t.Fatalf("Tier() = %v, want medium", result.Tier())
	}
}

func TestResolveLocation_NoMatchesEnumeratesAll(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"matches":[],"all_locations":[{"location_id":"loc1","name":"Eastside","is_primary":false,"visit_count":0,"score":0},{"location_id":"loc2","name":"Westside","is_primary":true,"visit_count":0,"score":0}]}`)
	mock.ExpectQuery("WITH caller_history").
		WithArgs("clinic-1", "gibberish", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	r := NewWithDB(mock)
	result, err := r.ResolveLocation(context.Background(), "clinic-1", "gibberish", "", "")
	if err != nil {
		t.Fatalf("ResolveLocation: %v", err)
	}
	if len(result.Matches) != 0 || len(result.AllLocations) != 2 {
		t.Fatalf("got matches=%+v all=%+v, want no matches and 2 locations", result.Matches, result.AllLocations)
	}
}
