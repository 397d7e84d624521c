package resolver

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestResolvePractitioner_SingleMatchNotAmbiguous(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"matches":[{"practitioner_id":"pr1","given_name":"Jane","family_name":"Smith","full_name":"Jane Smith","active":true,"score":0.95}],"suggestions":[]}`)
	mock.ExpectQuery("WITH scored").
		WithArgs("clinic-1", "dr smith", "smith", "loc-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))
	mock.ExpectQuery("SELECT COUNT\\(DISTINCT p.id\\) > 1").
		WithArgs("clinic-1", "loc-1", "jane").
		WillReturnRows(pgxmock.NewRows([]string{"ambiguous"}).AddRow(false))

	r := NewWithDB(mock)
	result, err := r.ResolvePractitioner(context.Background(), "clinic-1", "loc-1", "Dr Smith")
	if err != nil {
		t.Fatalf("ResolvePractitioner: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].PractitionerID != "pr1" {
		t.Fatalf("got %+v, want single match pr1", result.Matches)
	}
	if result.NeedsFullName {
		t.Fatal("NeedsFullName = true, want false")
	}
}

func TestResolvePractitioner_AmbiguousGivenNameFlagsFullName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"matches":[{"practitioner_id":"pr1","given_name":"Jane","family_name":"Smith","full_name":"Jane Smith","active":true,"score":1.0}],"suggestions":[]}`)
	mock.ExpectQuery("WITH scored").
		WithArgs("clinic-1", "jane", "jane", "loc-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))
	mock.ExpectQuery("SELECT COUNT\\(DISTINCT p.id\\) > 1").
		WithArgs("clinic-1", "loc-1", "jane").
		WillReturnRows(pgxmock.NewRows([]string{"ambiguous"}).AddRow(true))

	r := NewWithDB(mock)
	result, err := r.ResolvePractitioner(context.Background(), "clinic-1", "loc-1", "Jane")
	if err != nil {
		t.Fatalf("ResolvePractitioner: %v", err)
	}
	if !result.NeedsFullName {
		t.Fatal("NeedsFullName = false, want true")
	}
}

func TestResolvePractitioner_NoMatchReturnsSuggestions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"matches":[],"suggestions":["Ann Lee","Ben Lim"]}`)
	mock.ExpectQuery("WITH scored").
		WithArgs("clinic-1", "zzz", "zzz", "loc-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	r := NewWithDB(mock)
	result, err := r.ResolvePractitioner(context.Background(), "clinic-1", "loc-1", "Zzz")
	if err != nil {
		t.Fatalf("ResolvePractitioner: %v", err)
	}
	if len(result.Matches) != 0 || len(result.Suggestions) != 2 {
		t.Fatalf("got matches=%+v suggestions=%+v, want 0 matches / 2 suggestions", result.Matches, result.Suggestions)
	}
}
