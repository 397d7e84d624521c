package availsearch

import (
	"context"
	"encoding/json"
	"errors"
)

// errNoValidCombination is the sentinel NoCombinationError wraps, so callers
// can still use errors.Is against a stable value.
var errNoValidCombination = errors.New("availsearch: no valid practitioner/location/service combination")

// NoCombinationError is returned when no (practitioner, location, service)
// triple in the candidate cross product is actually offered — e.g. the
// practitioner doesn't work at that location, or doesn't perform that
// service there. Offerings lists what the practitioner(s) actually do, so
// the caller can surface an actionable suggestion.
type NoCombinationError struct {
	Offerings []Offering
}

func (e *NoCombinationError) Error() string { return errNoValidCombination.Error() }
func (e *NoCombinationError) Unwrap() error { return errNoValidCombination }

type tripleRow struct {
	PractitionerID string `json:"practitioner_id"`
	LocationID     string `json:"location_id"`
	ServiceID      string `json:"service_id"`
	IsPrimary      bool   `json:"is_primary"`
}

// validateTriplesQuery joins practitioner_locations and practitioner_services
// to narrow the candidate cross product down to combinations the clinic
// actually offers. offerings is populated only when no triple validates, so
// the caller can surface an actionable suggestion (the practitioner's real
// service list).
const validateTriplesQuery = `
WITH valid AS (
	SELECT
		pl.practitioner_id,
		pl.location_id,
		ps.service_id,
		l.is_primary
	FROM practitioner_locations pl
	JOIN practitioner_services ps ON ps.practitioner_id = pl.practitioner_id
	JOIN locations l ON l.id = pl.location_id
	WHERE pl.practitioner_id = ANY($1)
	  AND pl.location_id = ANY($2)
	  AND ps.service_id = ANY($3)
	  AND l.clinic_id = $4
)
SELECT json_build_object(
	'triples', COALESCE((SELECT json_agg(json_build_object(
		'practitioner_id', practitioner_id, 'location_id', location_id,
		'service_id', service_id, 'is_primary', is_primary
	)) FROM valid), '[]'::json),
	'offerings', COALESCE((
		SELECT json_agg(json_build_object('service_id', s.id, 'name', s.name))
		FROM services s
		JOIN practitioner_services ps2 ON ps2.service_id = s.id
		WHERE ps2.practitioner_id = ANY($1) AND s.active
	), '[]'::json)
)
`

// Offering is a service the queried practitioner(s) actually provide,
// surfaced as a suggestion when the requested cross product is empty.
type Offering struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name"`
}

// validateTriples narrows criteria's candidate sets to the combinations the
// clinic actually offers. Returns a *NoCombinationError when nothing
// validates.
func (s *Searcher) validateTriples(ctx context.Context, criteria Criteria) ([]Triple, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, validateTriplesQuery,
		criteria.PractitionerIDs, criteria.LocationIDs, criteria.ServiceIDs, criteria.ClinicID,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Triples   []tripleRow `json:"triples"`
		Offerings []Offering  `json:"offerings"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}

	if len(envelope.Triples) == 0 {
		return nil, &NoCombinationError{Offerings: envelope.Offerings}
	}

	triples := make([]Triple, 0, len(envelope.Triples))
	for _, t := range envelope.Triples {
		triples = append(triples, Triple{
			PractitionerID:    t.PractitionerID,
			LocationID:        t.LocationID,
			ServiceID:         t.ServiceID,
			IsPrimaryLocation: t.IsPrimary,
		})
	}
	return triples, nil
}
