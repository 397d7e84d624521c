// Package oracle implements C10: the schedule oracle, a precomputed
// working-day map used purely to prune candidate dates before C7 spends a
// fan-out task probing them. It is never authoritative for "no
// availability" — a pruned date simply isn't probed.
package oracle

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkingDay is one (practitioner, location, weekday) observation: the
// earliest and latest slot-of-day ever seen, and the date interval over
// which the observation is considered valid.
type WorkingDay struct {
	PractitionerID string
	LocationID     string
	Weekday        time.Weekday
	EarliestOfDay  time.Duration // offset from local midnight
	LatestOfDay    time.Duration
	EffectiveFrom  time.Time
	EffectiveTo    time.Time
}

type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Oracle reads the precomputed practitioner_schedules table.
type Oracle struct {
	db db
}

// New creates an Oracle backed by a live connection pool.
func New(pool *pgxpool.Pool) *Oracle {
	return &Oracle{db: pool}
}

// NewWithDB allows tests to inject a pgxmock pool.
func NewWithDB(d db) *Oracle {
	return &Oracle{db: d}
}

const scheduledDaysQuery = `
SELECT weekday, earliest_of_day, latest_of_day, effective_from, effective_to
FROM practitioner_schedules
WHERE practitioner_id = $1 AND location_id = $2
`

// ScheduledDays filters candidates down to the dates that fall on a
// weekday and within the effective interval this practitioner/location
// pair is known to work. An Oracle with no rows for the pair (never
// scanned, or a brand-new practitioner) returns candidates unfiltered —
// pruning only ever removes dates it is confident about.
func (o *Oracle) ScheduledDays(ctx context.Context, practitionerID, locationID string, candidates []time.Time) ([]time.Time, error) {
	rows, err := o.db.Query(ctx, scheduledDaysQuery, practitionerID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []WorkingDay
	for rows.Next() {
		var d WorkingDay
		var weekday int
		if err := rows.Scan(&weekday, &d.EarliestOfDay, &d.LatestOfDay, &d.EffectiveFrom, &d.EffectiveTo); err != nil {
			return nil, err
		}
		d.Weekday = time.Weekday(weekday)
		d.PractitionerID = practitionerID
		d.LocationID = locationID
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(days) == 0 {
		return candidates, nil
	}

	byWeekday := make(map[time.Weekday][]WorkingDay, len(days))
	for _, d := range days {
		byWeekday[d.Weekday] = append(byWeekday[d.Weekday], d)
	}

	var kept []time.Time
	for _, c := range candidates {
		for _, d := range byWeekday[c.Weekday()] {
			if !c.Before(d.EffectiveFrom) && !c.After(d.EffectiveTo) {
				kept = append(kept, c)
				break
			}
		}
	}
	return kept, nil
}
