package availsearch

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestValidateTriples_ReturnsValidatedCombinations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"triples":[{"practitioner_id":"pr1","location_id":"loc1","service_id":"svc1","is_primary":true}],"offerings":[]}`)
	mock.ExpectQuery("WITH valid").
		WithArgs([]string{"pr1"}, []string{"loc1"}, []string{"svc1"}, "clinic-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	s := NewWithDB(mock, nil, nil, nil)
	triples, err := s.validateTriples(context.Background(), Criteria{
		ClinicID:        "clinic-1",
		PractitionerIDs: []string{"pr1"},
		LocationIDs:     []string{"loc1"},
		ServiceIDs:      []string{"svc1"},
	})
	if err != nil {
		t.Fatalf("validateTriples: %v", err)
	}
	if len(triples) != 1 || triples[0].PractitionerID != "pr1" || !triples[0].IsPrimaryLocation {
		t.Fatalf("got %+v", triples)
	}
}

func TestValidateTriples_EmptyReturnsOfferingsInError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"triples":[],"offerings":[{"service_id":"svc2","name":"Facial"}]}`)
	mock.ExpectQuery("WITH valid").
		WithArgs([]string{"pr1"}, []string{"loc1"}, []string{"svc1"}, "clinic-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	s := NewWithDB(mock, nil, nil, nil)
	_, err = s.validateTriples(context.Background(), Criteria{
		ClinicID:        "clinic-1",
		PractitionerIDs: []string{"pr1"},
		LocationIDs:     []string{"loc1"},
		ServiceIDs:      []string{"svc1"},
	})
	var nce *NoCombinationError
	if !errors.As(err, &nce) {
		t.Fatalf("err = %v, want *NoCombinationError", err)
	}
	if len(nce.Offerings) != 1 || nce.Offerings[0].ServiceID != "svc2" {
		t.Fatalf("Offerings = %+v", nce.Offerings)
	}
}
