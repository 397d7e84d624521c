package resolver

import (
	"context"
	"encoding/json"
)

// LocationMatch is one scored candidate location.
type LocationMatch struct {
	LocationID string  `json:"location_id"`
	Name       string  `json:"name"`
	IsPrimary  bool    `json:"is_primary"`
	VisitCount int     `json:"visit_count"`
	Score      float64 `json:"score"`
}

// LocationResult is the outcome of resolving a free-text location query
// against a clinic's businesses.
type LocationResult struct {
	Matches []LocationMatch
	// AllLocations is populated only when Matches is empty, so the caller
	// can enumerate every location the clinic has.
	AllLocations []LocationMatch
}

// Tier classifies the best match in r, or TierLow if there is none.
func (r LocationResult) Tier() Tier {
	if len(r.Matches) == 0 {
		return TierLow
	}
	return TierFor(r.Matches[0].Score)
}

// locationRow is the shape of one json_build_object row in the resolver
// query; decoded once per call via json_agg from Postgres.
type locationRow struct {
	LocationID string  `json:"location_id"`
	Name       string  `json:"name"`
	IsPrimary  bool    `json:"is_primary"`
	VisitCount int     `json:"visit_count"`
	Score      float64 `json:"score"`
}

const resolveLocationQuery = `
WITH caller_history AS (
	SELECT a.location_id, COUNT(*) AS visit_count
	FROM appointments a
	JOIN patients p ON a.patient_id = p.id
	WHERE p.normalized_phone = $3
	  AND a.clinic_id = $1
	  AND a.status NOT IN ('cancelled', 'no_show')
	GROUP BY a.location_id
),
scored AS (
	SELECT
		l.id AS location_id,
		l.name,
		l.is_primary,
		COALESCE(ch.visit_count, 0) AS visit_count,
		LEAST(1.0, GREATEST(
			similarity(lower(l.name), lower($2)),
			COALESCE((SELECT MAX(similarity(lower(la.alias), lower($2)))
			          FROM location_aliases la WHERE la.location_id = l.id), 0),
			CASE WHEN l.is_primary AND lower($2) IN ('main', 'primary', 'main clinic', 'your clinic')
			     THEN 0.9 ELSE 0 END
		) + CASE WHEN l.id = $4 THEN 0.3 ELSE 0 END) AS score
	FROM locations l
	LEFT JOIN caller_history ch ON ch.location_id = l.id
	WHERE l.clinic_id = $1
),
filtered AS (
	SELECT * FROM scored
	WHERE lower($2) IN ('', 'location', 'clinic', 'office', 'any', 'anywhere')
	   OR score > 0.2
)
SELECT json_build_object(
	'matches', COALESCE((
		SELECT json_agg(json_build_object(
			'location_id', location_id, 'name', name, 'is_primary', is_primary,
			'visit_count', visit_count, 'score', score
		) ORDER BY score DESC, visit_count DESC, is_primary DESC)
		FROM filtered WHERE score > 0
	), '[]'::json),
	'all_locations', (
		SELECT json_agg(json_build_object(
			'location_id', id, 'name', name, 'is_primary', is_primary, 'visit_count', 0, 'score', 0
		) ORDER BY is_primary DESC, name)
		FROM locations WHERE clinic_id = $1
	)
)
`

// ResolveLocation matches a free-text location query against a clinic's
// locations. normalizedCallerPhone may be empty (no history boost).
// preferredLocationID is C9's remembered preference, if any; it adds 0.3 to
// that location's text-match score, capped at 1.0.
func (r *Resolver) ResolveLocation(ctx context.Context, clinicID, query, normalizedCallerPhone, preferredLocationID string) (LocationResult, error) {
	normalized := Normalize(query)

	var raw []byte
	err := r.db.QueryRow(ctx, resolveLocationQuery, clinicID, normalized, normalizedCallerPhone, preferredLocationID).Scan(&raw)
	if err != nil {
		return LocationResult{}, err
	}

	var envelope struct {
		Matches      []locationRow `json:"matches"`
		AllLocations []locationRow `json:"all_locations"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return LocationResult{}, err
	}

	result := LocationResult{}
	if len(envelope.AllLocations) == 1 {
		// Single-location clinic short-circuits to high confidence
		// regardless of the query text.
		m := envelope.AllLocations[0]
		m.Score = 1.0
		result.Matches = []LocationMatch{toLocationMatch(m)}
		return result, nil
	}
	for _, m := range envelope.Matches {
		result.Matches = append(result.Matches, toLocationMatch(m))
	}
	for _, m := range envelope.AllLocations {
		result.AllLocations = append(result.AllLocations, toLocationMatch(m))
	}
	return result, nil
}

func toLocationMatch(r locationRow) LocationMatch {
	return LocationMatch{
		LocationID: r.LocationID,
		Name:       r.Name,
		IsPrimary:  r.IsPrimary,
		VisitCount: r.VisitCount,
		Score:      r.Score,
	}
}
