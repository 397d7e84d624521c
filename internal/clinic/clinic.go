// Package clinic resolves a dialed phone number to the clinic it belongs
// to: PMS credentials, timezone, country code, and shadow-booking status.
// Every voice-agent request starts here, exactly once, before any PMS or
// resolver call — the rest of the request then treats the clinic as
// immutable, per spec.
package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no clinic is registered for a dialed number.
var ErrNotFound = errors.New("clinic: not found")

// configTTL bounds how long a cached clinic record is trusted before the
// next lookup re-reads Postgres — clinic config changes rarely but PMS
// credentials can rotate, so this is a short read-through cache, not a
// write-through one.
const configTTL = 5 * time.Minute

// Clinic is the immutable-per-call identity and PMS configuration
// resolved from a dialed phone number.
type Clinic struct {
	ID            string
	Name          string
	ContactEmail  string
	Timezone      string // IANA, e.g. "America/New_York"
	CountryCode   string // e.g. "61" for phone normalization
	PMSBaseURL    string
	PMSAPIKey     string
	ShadowBooking bool // no live PMS booking API; C8 falls back to manual handoff
}

type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository resolves and caches clinic records.
type Repository struct {
	db    db
	redis *redis.Client
}

// New creates a Repository backed by a live connection pool and an
// optional Redis client (nil disables the read-through cache).
func New(pool *pgxpool.Pool, redisClient *redis.Client) *Repository {
	return &Repository{db: pool, redis: redisClient}
}

// NewWithDB allows tests to inject a pgxmock pool.
func NewWithDB(d db, redisClient *redis.Client) *Repository {
	return &Repository{db: d, redis: redisClient}
}

func cacheKey(dialedNumber string) string {
	return "clinic:by-number:" + dialedNumber
}

const byDialedNumberQuery = `
SELECT c.id, c.name, c.contact_email, c.timezone, c.country_code,
       c.pms_base_url, c.pms_api_key, c.shadow_booking
FROM clinics c
JOIN clinic_phone_numbers n ON n.clinic_id = c.id
WHERE n.dialed_number = $1
`

const byIDQuery = `
SELECT c.id, c.name, c.contact_email, c.timezone, c.country_code,
       c.pms_base_url, c.pms_api_key, c.shadow_booking
FROM clinics c
WHERE c.id = $1
`

// GetByDialedNumber resolves the clinic that owns dialedNumber, consulting
// Redis first when configured and falling back to Postgres on a miss.
func (r *Repository) GetByDialedNumber(ctx context.Context, dialedNumber string) (*Clinic, error) {
	if r.redis != nil {
		if raw, err := r.redis.Get(ctx, cacheKey(dialedNumber)).Bytes(); err == nil {
			var c Clinic
			if jsonErr := json.Unmarshal(raw, &c); jsonErr == nil {
				return &c, nil
			}
		}
	}

	var c Clinic
	err := r.db.QueryRow(ctx, byDialedNumberQuery, dialedNumber).Scan(
		&c.ID, &c.Name, &c.ContactEmail, &c.Timezone, &c.CountryCode,
		&c.PMSBaseURL, &c.PMSAPIKey, &c.ShadowBooking,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("clinic: lookup %q: %w", dialedNumber, err)
	}

	if r.redis != nil {
		if raw, jsonErr := json.Marshal(c); jsonErr == nil {
			r.redis.Set(ctx, cacheKey(dialedNumber), raw, configTTL)
		}
	}
	return &c, nil
}

// GetByID resolves a clinic by its primary key, bypassing the dialed-number
// cache — used by the async sync-job worker, which only has the clinic ID
// that was queued, not the caller's dialed number.
func (r *Repository) GetByID(ctx context.Context, clinicID string) (*Clinic, error) {
	var c Clinic
	err := r.db.QueryRow(ctx, byIDQuery, clinicID).Scan(
		&c.ID, &c.Name, &c.ContactEmail, &c.Timezone, &c.CountryCode,
		&c.PMSBaseURL, &c.PMSAPIKey, &c.ShadowBooking,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("clinic: lookup id %q: %w", clinicID, err)
	}
	return &c, nil
}

// Invalidate drops the cached record for dialedNumber, used after an admin
// updates a clinic's PMS credentials or shadow-booking flag.
func (r *Repository) Invalidate(ctx context.Context, dialedNumber string) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.Del(ctx, cacheKey(dialedNumber)).Err()
}
