// Package availsearch implements C7: the availability search that backs
// find_next_available and check_day. It validates the practitioner ×
// location × service cross product, prunes candidate dates with C10, fans
// the remaining work out through C6, and filters the result through C9's
// rejected set and the FailedBookingAttempt suppression window.
package availsearch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/fanout"
	"github.com/clinicvoice/scheduler/internal/oracle"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/internal/session"
)

// chunkDays is the size of the date-range batches submitted to C6, matching
// the teacher's progressive chunking rather than one fan-out task per day.
const chunkDays = 4

// suppressionWindow is how long a failed booking attempt continues to
// suppress the same time-of-day from being re-offered.
const suppressionWindow = 2 * time.Hour

// maxConcurrency/backoff mirror the constants the teacher's manager used
// for its Cliniko-bound worker pool.
const (
	maxConcurrency = 25
	maxRetries     = 2
	backoffBase    = time.Second
)

type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Searcher is the availability search engine.
type Searcher struct {
	db      db
	cache   *availcache.Cache
	oracle  *oracle.Oracle
	session *session.Store
	engine  *fanout.Engine
	now     func() time.Time
}

// New creates a Searcher backed by a live connection pool.
func New(pool *pgxpool.Pool, cache *availcache.Cache, ora *oracle.Oracle, sessions *session.Store) *Searcher {
	return newSearcher(pool, cache, ora, sessions)
}

// NewWithDB allows tests to inject a pgxmock pool.
func NewWithDB(d db, cache *availcache.Cache, ora *oracle.Oracle, sessions *session.Store) *Searcher {
	return newSearcher(d, cache, ora, sessions)
}

func newSearcher(d db, cache *availcache.Cache, ora *oracle.Oracle, sessions *session.Store) *Searcher {
	return &Searcher{
		db:      d,
		cache:   cache,
		oracle:  ora,
		session: sessions,
		engine:  fanout.New(maxConcurrency, fanout.MidTimeout, maxRetries, backoffBase),
		now:     time.Now,
	}
}

// Triple is one validated (practitioner, location, service) combination.
type Triple struct {
	PractitionerID    string
	LocationID        string
	ServiceID         string
	IsPrimaryLocation bool
}

// Criteria is the caller's search request, prior to cross-product
// validation. Every field is a candidate set rather than a single ID
// because the caller's query may still be ambiguous at this point (e.g.
// "any practitioner who does facials").
type Criteria struct {
	ClinicID            string
	PractitionerIDs     []string
	LocationIDs         []string
	ServiceIDs          []string
	PreferredLocationID string
}

// OfferedSlot is one slot surfaced to the caller.
type OfferedSlot struct {
	PractitionerID    string
	LocationID        string
	ServiceID         string
	StartUTC          time.Time
	IsPrimaryLocation bool
}

// Result is the outcome of FindNextAvailable.
type Result struct {
	Slots   []OfferedSlot
	Message string
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateRange(from time.Time, horizonDays int) []time.Time {
	dates := make([]time.Time, 0, horizonDays)
	start := truncateToDay(from)
	for i := 0; i < horizonDays; i++ {
		dates = append(dates, start.AddDate(0, 0, i))
	}
	return dates
}

func chunk(dates []time.Time, size int) [][]time.Time {
	var chunks [][]time.Time
	for i := 0; i < len(dates); i += size {
		end := i + size
		if end > len(dates) {
			end = len(dates)
		}
		chunks = append(chunks, dates[i:end])
	}
	return chunks
}

// checkOneDay consults C3, falling back to C2 on a miss and writing the
// result back via Put. Shared by the batched fan-out path and CheckDay.
func checkOneDay(ctx context.Context, cache *availcache.Cache, client *pms.Client, t Triple, clinicID string, date time.Time) ([]pms.Slot, error) {
	key := availcache.Key{
		ClinicID:       clinicID,
		PractitionerID: t.PractitionerID,
		LocationID:     t.LocationID,
		Date:           date,
	}
	slots, err := cache.Get(ctx, key)
	if err == nil {
		return slots, nil
	}
	if err != availcache.ErrMiss {
		return nil, err
	}

	fetched, err := client.GetAvailableTimes(ctx, t.LocationID, t.PractitionerID, t.ServiceID, date, date)
	if err != nil {
		return nil, err
	}
	if putErr := cache.Put(ctx, key, fetched, 0); putErr != nil {
		return nil, putErr
	}
	return fetched, nil
}

// CheckDay is the single-day variant reusing the same cache/client path as
// the batched search, still honoring the FailedBookingAttempt suppression
// window (invariant iii).
func (s *Searcher) CheckDay(ctx context.Context, client *pms.Client, clinicID string, t Triple, date time.Time) ([]pms.Slot, error) {
	day := truncateToDay(date)
	slots, err := checkOneDay(ctx, s.cache, client, t, clinicID, day)
	if err != nil {
		return nil, err
	}

	suppressed, err := s.suppressedTimes(ctx, t, []time.Time{day})
	if err != nil {
		return nil, err
	}
	filtered := slots[:0]
	for _, slot := range slots {
		if suppressed[day][timeOfDay(slot.Start)] {
			continue
		}
		filtered = append(filtered, slot)
	}
	return filtered, nil
}
