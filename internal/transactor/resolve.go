package transactor

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/availcache"
	"github.com/clinicvoice/scheduler/internal/pms"
	"github.com/clinicvoice/scheduler/internal/resolver"
)

// matchPractitionerQuery mirrors booking_router_simplified.py's
// matched_practitioner/practitioner_locations CTE: the clinic-wide best
// trigram match, plus whether that practitioner works at the requested
// location and, if not, the locations they actually work at.
const matchPractitionerQuery = `
WITH scored AS (
	SELECT p.id, p.given_name, p.family_name,
	       trim(p.given_name || ' ' || p.family_name) AS full_name,
	       similarity(lower(trim(p.given_name || ' ' || p.family_name)), lower($2)) AS score
	FROM practitioners p
	WHERE p.clinic_id = $1 AND p.active
	ORDER BY score DESC
	LIMIT 1
),
loc_check AS (
	SELECT s.id, s.full_name,
	       COALESCE(bool_or(pl.location_id = $3), false) AS works_at_location,
	       COALESCE(array_agg(l.name ORDER BY l.name) FILTER (WHERE l.id IS NOT NULL), ARRAY[]::text[]) AS location_names
	FROM scored s
	LEFT JOIN practitioner_locations pl ON pl.practitioner_id = s.id
	LEFT JOIN locations l ON l.id = pl.location_id
	GROUP BY s.id, s.full_name
)
SELECT id, full_name, works_at_location, location_names FROM loc_check
`

const locationNameQuery = `SELECT name FROM locations WHERE id = $1`

// matchPractitioner implements step 3's practitioner half: resolve
// clinic-wide, then validate the location join separately so a real
// mismatch (works elsewhere) is distinguishable from no match at all.
func (t *Transactor) matchPractitioner(ctx context.Context, tx pgx.Tx, clinicID, locationID, query string) (id, fullName string, err error) {
	var worksAtLocation bool
	var locationNames []string
	row := tx.QueryRow(ctx, matchPractitionerQuery, clinicID, query, locationID)
	if err := row.Scan(&id, &fullName, &worksAtLocation, &locationNames); err != nil {
		if err == pgx.ErrNoRows {
			return "", "", apierror.New(apierror.PractitionerNotFound, "I couldn't find a practitioner named \""+query+"\".")
		}
		return "", "", apierror.Internal(err)
	}
	if !worksAtLocation {
		return "", "", apierror.New(apierror.PractitionerLocationMismatch, fullName+" doesn't work at that location.").
			WithRemediation(locationNames)
	}
	return id, fullName, nil
}

// resolveAndProbe implements steps 3 and 4: resolve practitioner/service
// inside the open transaction, then validate the requested instant
// against C3, fetching fresh via C2 and retrying once on a stale/missing
// cache entry.
func (t *Transactor) resolveAndProbe(ctx context.Context, tx pgx.Tx, clinicID, locationID, practitionerQuery, serviceQuery string, loc *time.Location, localStart time.Time) (*booked, error) {
	practitionerID, practitionerName, err := t.matchPractitioner(ctx, tx, clinicID, locationID, practitionerQuery)
	if err != nil {
		return nil, err
	}

	match, offerings, err := resolver.NewWithDB(tx).ResolveService(ctx, practitionerID, serviceQuery)
	if err != nil {
		if errors.Is(err, resolver.ErrServiceNotFound) {
			names := make([]string, 0, len(offerings))
			for _, o := range offerings {
				names = append(names, o.Name)
			}
			return nil, apierror.New(apierror.ServiceNotFound, practitionerName+" doesn't offer \""+serviceQuery+"\".").
				WithRemediation(names)
		}
		return nil, apierror.Internal(err)
	}

	var locationName string
	if err := tx.QueryRow(ctx, locationNameQuery, locationID).Scan(&locationName); err != nil {
		return nil, apierror.Internal(err)
	}

	startUTC := localStart.UTC()
	endUTC := startUTC.Add(time.Duration(match.DurationMinutes) * time.Minute)

	cache := availcache.NewWithDB(tx)
	key := availcache.Key{ClinicID: clinicID, PractitionerID: practitionerID, LocationID: locationID, Date: truncateToDay(startUTC)}

	slots, cacheErr := cache.Get(ctx, key)
	switch {
	case cacheErr == nil:
		if _, ok := matchSlot(slots, startUTC); !ok {
			return nil, notAvailableError(slots, loc)
		}
	case errors.Is(cacheErr, availcache.ErrMiss):
		fetched, fetchErr := t.client.GetAvailableTimes(ctx, locationID, practitionerID, match.ServiceID, key.Date, key.Date)
		if fetchErr != nil {
			return nil, apierror.Wrap(apierror.UpstreamUnavailable, "I'm having trouble reaching the booking system. Please try again.", fetchErr)
		}
		if err := cache.Put(ctx, key, fetched, 0); err != nil {
			return nil, apierror.Internal(err)
		}
		if _, ok := matchSlot(fetched, startUTC); !ok {
			return nil, notAvailableError(fetched, loc)
		}
	default:
		return nil, apierror.Internal(cacheErr)
	}

	return &booked{
		practitionerID:   practitionerID,
		practitionerName: practitionerName,
		locationID:       locationID,
		locationName:     locationName,
		serviceID:        match.ServiceID,
		serviceName:      match.Name,
		durationMinutes:  match.DurationMinutes,
		startUTC:         startUTC,
		endUTC:           endUTC,
	}, nil
}

func matchSlot(slots []pms.Slot, start time.Time) (pms.Slot, bool) {
	for _, s := range slots {
		d := s.Start.Sub(start)
		if d < 0 {
			d = -d
		}
		if d < time.Minute {
			return s, true
		}
	}
	return pms.Slot{}, false
}

func notAvailableError(slots []pms.Slot, loc *time.Location) *apierror.Error {
	alts := formatAlternatives(slots, loc, maxAlternatives)
	msg := "That time is no longer available."
	if len(alts) > 0 {
		msg = "That time isn't available. Other times that day: " + joinAlternatives(alts) + "."
	}
	return apierror.New(apierror.TimeNotAvailable, msg).WithRemediation(alts)
}
