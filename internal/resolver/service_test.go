package resolver

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestResolveService_ExactMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"match":{"service_id":"svc1","name":"Initial Consultation","duration_minutes":60},"offerings":[{"service_id":"svc1","name":"Initial Consultation","duration_minutes":60}]}`)
	mock.ExpectQuery("SELECT json_build_object").
		WithArgs("pr1", "initial consultation").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	r := NewWithDB(mock)
	match, offerings, err := r.ResolveService(context.Background(), "pr1", "Initial Consultation")
	if err != nil {
		t.Fatalf("ResolveService: %v", err)
	}
	if match == nil || match.ServiceID != "svc1" {
		t.Fatalf("got %+v, want svc1", match)
	}
	if len(offerings) != 1 {
		t.Fatalf("offerings = %+v, want 1", offerings)
	}
}

func TestResolveService_NoMatchReturnsOfferings(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	raw := []byte(`{"match":null,"offerings":[{"service_id":"svc1","name":"Massage","duration_minutes":30}]}`)
	mock.ExpectQuery("SELECT json_build_object").
		WithArgs("pr1", "acupuncture").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(raw))

	r := NewWithDB(mock)
	match, offerings, err := r.ResolveService(context.Background(), "pr1", "Acupuncture")
	if err != ErrServiceNotFound {
		t.Fatalf("err = %v, want ErrServiceNotFound", err)
	}
	if match != nil {
		t.Fatalf("match = %+v, want nil", match)
	}
	if len(offerings) != 1 {
		t.Fatalf("offerings = %+v, want 1", offerings)
	}
}
