package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestGet_UnknownSessionReturnsZeroValue(t *testing.T) {
	s := testStore(t)
	state, err := s.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(state.RejectedSlotInstants) != 0 || state.CriteriaFingerprint != "" || state.PreferredLocation != nil {
		t.Fatalf("got %+v, want zero value", state)
	}
}

func TestUpsertAndGet_RoundTrips(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	want := State{
		CriteriaFingerprint: "fp1",
		PreferredLocation:   &PreferredLocation{LocationID: "loc1", Name: "Downtown"},
	}
	if err := s.Upsert(ctx, "sess-1", want); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CriteriaFingerprint != want.CriteriaFingerprint {
		t.Fatalf("CriteriaFingerprint = %q, want %q", got.CriteriaFingerprint, want.CriteriaFingerprint)
	}
	if got.PreferredLocation == nil || got.PreferredLocation.LocationID != "loc1" {
		t.Fatalf("PreferredLocation = %+v, want loc1", got.PreferredLocation)
	}
}

func TestAppendRejectedSlot_Accumulates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	t1 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := s.AppendRejectedSlot(ctx, "sess-1", t1); err != nil {
		t.Fatalf("AppendRejectedSlot: %v", err)
	}
	if err := s.AppendRejectedSlot(ctx, "sess-1", t2); err != nil {
		t.Fatalf("AppendRejectedSlot: %v", err)
	}

	state, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !state.IsRejected(t1) || !state.IsRejected(t2) {
		t.Fatalf("state %+v missing rejected slots", state)
	}
}

func TestResetIfFingerprintChanged_ClearsRejectedSet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	instant := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	if err := s.AppendRejectedSlot(ctx, "sess-1", instant); err != nil {
		t.Fatalf("AppendRejectedSlot: %v", err)
	}
	if _, err := s.ResetIfFingerprintChanged(ctx, "sess-1", "fp1"); err != nil {
		t.Fatalf("ResetIfFingerprintChanged: %v", err)
	}

	reset, err := s.ResetIfFingerprintChanged(ctx, "sess-1", "fp2")
	if err != nil {
		t.Fatalf("ResetIfFingerprintChanged: %v", err)
	}
	if !reset {
		t.Fatal("reset = false, want true on fingerprint change")
	}

	state, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(state.RejectedSlotInstants) != 0 {
		t.Fatalf("RejectedSlotInstants = %+v, want empty after fingerprint change", state.RejectedSlotInstants)
	}
	if state.CriteriaFingerprint != "fp2" {
		t.Fatalf("CriteriaFingerprint = %q, want fp2", state.CriteriaFingerprint)
	}

	same, err := s.ResetIfFingerprintChanged(ctx, "sess-1", "fp2")
	if err != nil {
		t.Fatalf("ResetIfFingerprintChanged: %v", err)
	}
	if same {
		t.Fatal("reset = true, want false when fingerprint unchanged")
	}
}
