package availsearch

import (
	"context"
	"time"
)

// suppressedTimesQuery returns the (date, time-of-day) of every recent
// failed booking attempt for this (practitioner, location) pair across the
// given date range, so a chunk spanning several days can filter each day's
// slots against its own suppression set in one round trip.
const suppressedTimesQuery = `
SELECT appointment_date, to_char(appointment_time, 'HH24:MI')
FROM failed_booking_attempts
WHERE practitioner_id = $1
  AND location_id = $2
  AND appointment_date = ANY($3)
  AND created_at > now() - make_interval(secs => $4)
`

// suppressedTimes returns, per calendar day in dates, the set of HH:MM
// time-of-day strings to exclude for t, per the FailedBookingAttempt
// suppression window.
func (s *Searcher) suppressedTimes(ctx context.Context, t Triple, dates []time.Time) (map[time.Time]map[string]bool, error) {
	days := make([]time.Time, len(dates))
	for i, d := range dates {
		days[i] = truncateToDay(d)
	}

	rows, err := s.db.Query(ctx, suppressedTimesQuery, t.PractitionerID, t.LocationID, days, suppressionWindow.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppressed := make(map[time.Time]map[string]bool)
	for rows.Next() {
		var date time.Time
		var hhmm string
		if err := rows.Scan(&date, &hhmm); err != nil {
			return nil, err
		}
		date = truncateToDay(date)
		if suppressed[date] == nil {
			suppressed[date] = make(map[string]bool)
		}
		suppressed[date][hhmm] = true
	}
	return suppressed, rows.Err()
}

func timeOfDay(t time.Time) string {
	return t.UTC().Format("15:04")
}
