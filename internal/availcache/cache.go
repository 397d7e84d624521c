// Package availcache is the per-(practitioner, location, date) availability
// cache (C3): a thin, narrow API over the relational store. It is the only
// writer of cached_at/expires_at; C4 and C8 may only invalidate through the
// same contract, never write the table directly.
package availcache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicvoice/scheduler/internal/observability/metrics"
	"github.com/clinicvoice/scheduler/internal/pms"
)

// DefaultTTL is the freshness window applied by Put when the caller does
// not supply one.
const DefaultTTL = 15 * time.Minute

// ErrMiss is returned by Get when there is no usable entry: absent, stale,
// or expired. Callers never distinguish these three — all three mean "go to
// the PMS".
var ErrMiss = errors.New("availcache: miss")

// Key identifies one cache entry.
type Key struct {
	ClinicID       string
	PractitionerID string
	LocationID     string
	Date           time.Time // truncated to a clinic-local calendar day
}

// db is the narrow interface this package needs from a pgx pool or
// transaction, mirroring the rest of the codebase's injectable-mock style
// (see internal/clinic's statsDB). *pgxpool.Pool and pgxmock's pool both
// satisfy it.
type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Cache is the availability cache, backed by Postgres.
type Cache struct {
	db      db
	metrics *metrics.Metrics
}

// New creates a Cache backed by a live connection pool.
func New(pool *pgxpool.Pool) *Cache {
	return &Cache{db: pool}
}

// NewWithDB allows tests to inject a pgxmock pool.
func NewWithDB(d db) *Cache {
	return &Cache{db: d}
}

// WithMetrics attaches a metrics sink that Get observes hit/miss against.
// Returns c so callers can chain it onto New/NewWithDB.
func (c *Cache) WithMetrics(m *metrics.Metrics) *Cache {
	c.metrics = m
	return c
}

// Get returns the cached slot set, or ErrMiss if there is no usable entry.
func (c *Cache) Get(ctx context.Context, key Key) ([]pms.Slot, error) {
	const query = `
		SELECT available_slots
		FROM availability_cache
		WHERE clinic_id = $1 AND practitioner_id = $2 AND location_id = $3 AND date = $4
		  AND expires_at > now() AND NOT is_stale
	`
	var raw []byte
	err := c.db.QueryRow(ctx, query, key.ClinicID, key.PractitionerID, key.LocationID, key.Date.UTC()).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.metrics.ObserveCacheMiss()
			return nil, ErrMiss
		}
		return nil, err
	}

	var slots []pms.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, err
	}
	c.metrics.ObserveCacheHit()
	return slots, nil
}

// Put writes the slot set as the current entry for key, last-writer-wins
// on cached_at. Clears is_stale on write.
func (c *Cache) Put(ctx context.Context, key Key, slots []pms.Slot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO availability_cache
			(clinic_id, practitioner_id, location_id, date, available_slots, cached_at, expires_at, is_stale)
		VALUES ($1, $2, $3, $4, $5, now(), now() + make_interval(secs => $6), false)
		ON CONFLICT (practitioner_id, location_id, date)
		DO UPDATE SET
			available_slots = EXCLUDED.available_slots,
			cached_at       = EXCLUDED.cached_at,
			expires_at      = EXCLUDED.expires_at,
			is_stale        = false
		WHERE availability_cache.cached_at <= EXCLUDED.cached_at
	`
	_, err = c.db.Exec(ctx, query, key.ClinicID, key.PractitionerID, key.LocationID, key.Date.UTC(), raw, ttl.Seconds())
	return err
}

// Invalidate marks the entry for key stale without deleting it, so the
// sweep/eviction path still has a row to reason about.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	const query = `
		UPDATE availability_cache
		SET is_stale = true
		WHERE clinic_id = $1 AND practitioner_id = $2 AND location_id = $3 AND date = $4
	`
	_, err := c.db.Exec(ctx, query, key.ClinicID, key.PractitionerID, key.LocationID, key.Date.UTC())
	return err
}

// StalePredicate narrows MarkAllStale to a subset of a clinic's entries;
// zero-value fields are wildcards.
type StalePredicate struct {
	PractitionerID string
	LocationID     string
}

// MarkAllStale flips is_stale for every entry matching clinic and the
// optional predicate. Used by C4 on a forced full resync.
func (c *Cache) MarkAllStale(ctx context.Context, clinicID string, pred StalePredicate) error {
	query := `UPDATE availability_cache SET is_stale = true WHERE clinic_id = $1`
	args := []any{clinicID}
	if pred.PractitionerID != "" {
		args = append(args, pred.PractitionerID)
		query += " AND practitioner_id = $" + strconv.Itoa(len(args))
	}
	if pred.LocationID != "" {
		args = append(args, pred.LocationID)
		query += " AND location_id = $" + strconv.Itoa(len(args))
	}
	_, err := c.db.Exec(ctx, query, args...)
	return err
}

// SweepExpired deletes entries whose expires_at fell behind now by more
// than grace — the periodic eviction sweep referenced in the component's
// eviction policy. Get never needs this: it already filters on expires_at.
func (c *Cache) SweepExpired(ctx context.Context, grace time.Duration) (int64, error) {
	const query = `DELETE FROM availability_cache WHERE expires_at < now() - make_interval(secs => $1)`
	tag, err := c.db.Exec(ctx, query, grace.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
