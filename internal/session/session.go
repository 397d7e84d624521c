// Package session implements C9: per-session booking state — rejected slot
// instants, the last search criteria fingerprint, and a remembered
// preferred location — backed by Redis with a 24-hour+ purge TTL.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// purgeTTL is refreshed on every write; an idle session disappears after
// this horizon, per spec's ">24h" purge requirement.
const purgeTTL = 26 * time.Hour

// PreferredLocation is the caller's remembered location, used by C5 as a
// resolution boost and by C7 for tie-breaking.
type PreferredLocation struct {
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
}

// State is the full per-session record.
type State struct {
	RejectedSlotInstants []time.Time        `json:"rejected_slot_instants"`
	CriteriaFingerprint  string             `json:"criteria_fingerprint"`
	PreferredLocation    *PreferredLocation `json:"preferred_location,omitempty"`
}

// Store is the Redis-backed session state repository.
type Store struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// New creates a Store. Panics on a nil client, matching the teacher's
// convention that a missing Redis dependency is a wiring bug, not a
// runtime condition to tolerate.
func New(client *redis.Client) *Store {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	return &Store{redis: client, tracer: otel.Tracer("clinicvoice.internal.session")}
}

func key(sessionID string) string {
	return "session:" + sessionID
}

// Get loads sessionID's state. A never-seen session returns a zero-value
// State and no error — callers treat an empty state as "no history yet".
func (s *Store) Get(ctx context.Context, sessionID string) (State, error) {
	ctx, span := s.tracer.Start(ctx, "session.get")
	defer span.End()

	data, err := s.redis.Get(ctx, key(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return State{}, nil
		}
		span.RecordError(err)
		return State{}, fmt.Errorf("session: load %s: %w", sessionID, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		span.RecordError(err)
		return State{}, fmt.Errorf("session: decode %s: %w", sessionID, err)
	}
	return state, nil
}

// Upsert writes state for sessionID, resetting the purge TTL.
func (s *Store) Upsert(ctx context.Context, sessionID string, state State) error {
	ctx, span := s.tracer.Start(ctx, "session.upsert")
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: encode %s: %w", sessionID, err)
	}
	if err := s.redis.Set(ctx, key(sessionID), data, purgeTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: persist %s: %w", sessionID, err)
	}
	return nil
}

// AppendRejectedSlot records instant as declined by the caller, so C7 never
// re-offers it for the current criteria.
func (s *Store) AppendRejectedSlot(ctx context.Context, sessionID string, instant time.Time) error {
	return s.AppendRejectedSlots(ctx, sessionID, []time.Time{instant})
}

// AppendRejectedSlots records every instant in instants as declined in a
// single read-modify-write, used when a search offers more than one slot at
// once so the next search doesn't re-offer any of them.
func (s *Store) AppendRejectedSlots(ctx context.Context, sessionID string, instants []time.Time) error {
	if len(instants) == 0 {
		return nil
	}
	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, instant := range instants {
		state.RejectedSlotInstants = append(state.RejectedSlotInstants, instant.UTC())
	}
	return s.Upsert(ctx, sessionID, state)
}

// ResetIfFingerprintChanged clears the rejected-slot set when newFP differs
// from the session's last recorded fingerprint, then stores newFP. Returns
// whether a reset occurred.
func (s *Store) ResetIfFingerprintChanged(ctx context.Context, sessionID, newFP string) (bool, error) {
	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if state.CriteriaFingerprint == newFP {
		return false, nil
	}
	state.CriteriaFingerprint = newFP
	state.RejectedSlotInstants = nil
	return true, s.Upsert(ctx, sessionID, state)
}

// SetPreferredLocation records loc as the caller's preferred location.
func (s *Store) SetPreferredLocation(ctx context.Context, sessionID string, loc PreferredLocation) error {
	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	state.PreferredLocation = &loc
	return s.Upsert(ctx, sessionID, state)
}

// IsRejected reports whether instant is in sessionID's rejected set.
func (s *State) IsRejected(instant time.Time) bool {
	instant = instant.UTC()
	for _, r := range s.RejectedSlotInstants {
		if r.Equal(instant) {
			return true
		}
	}
	return false
}
