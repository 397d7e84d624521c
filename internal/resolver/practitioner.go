package resolver

import (
	"context"
	"encoding/json"
	"strings"
)

// recognizedPrefixes are honorifics the parser strips off the front of a
// spoken practitioner name, with or without a trailing period.
var recognizedPrefixes = map[string]bool{
	"dr": true, "mr": true, "ms": true, "mrs": true, "prof": true,
}

// NameQuery is a spoken practitioner name split into its parts. Given or
// Family may be empty when the caller said only one name.
type NameQuery struct {
	Prefix string
	Given  string
	Family string
}

// ParseName splits a free-text practitioner name into prefix/given/family.
// A single bare word is treated as ambiguous between given and family and
// left in Family with Given empty; callers match against either column.
func ParseName(raw string) NameQuery {
	fields := strings.Fields(Normalize(raw))
	var q NameQuery
	if len(fields) == 0 {
		return q
	}
	if first := strings.TrimSuffix(fields[0], "."); recognizedPrefixes[first] {
		q.Prefix = first
		fields = fields[1:]
	}
	switch len(fields) {
	case 0:
		return q
	case 1:
		q.Family = fields[0]
	default:
		q.Given = fields[0]
		q.Family = strings.Join(fields[1:], " ")
	}
	return q
}

// PractitionerMatch is one scored candidate practitioner.
type PractitionerMatch struct {
	PractitionerID string
	GivenName      string
	FamilyName     string
	FullName       string
	Active         bool
	Score          float64
}

// PractitionerResult is the outcome of resolving a spoken practitioner
// name, plus the ambiguity signal the voice agent needs to decide whether
// it must use the full name instead of a given name.
type PractitionerResult struct {
	Matches []PractitionerMatch
	// Suggestions lists up to 3 other active practitioners, populated when
	// Matches is empty.
	Suggestions []string
	// NeedsFullName is true when two or more active practitioners at the
	// queried location share a given name: downstream voice responses must
	// disambiguate with the full name rather than the first name alone.
	NeedsFullName bool
}

func (r PractitionerResult) Tier() Tier {
	if len(r.Matches) == 0 {
		return TierLow
	}
	return TierFor(r.Matches[0].Score)
}

type practitionerRow struct {
	PractitionerID string  `json:"practitioner_id"`
	GivenName      string  `json:"given_name"`
	FamilyName     string  `json:"family_name"`
	FullName       string  `json:"full_name"`
	Active         bool    `json:"active"`
	Score          float64 `json:"score"`
}

const resolvePractitionerQuery = `
WITH scored AS (
	SELECT
		p.id AS practitioner_id,
		p.given_name,
		p.family_name,
		trim(p.given_name || ' ' || p.family_name) AS full_name,
		p.active,
		GREATEST(
			CASE WHEN lower(p.given_name) = $2 OR lower(p.family_name) = $2
			          OR lower(p.given_name || ' ' || p.family_name) = $2
			     THEN 1.0 ELSE 0 END,
			CASE WHEN $3 <> '' AND lower(p.family_name) = $3 THEN 0.95 ELSE 0 END,
			similarity(lower(p.given_name || ' ' || p.family_name), $2)
		) AS score
	FROM practitioners p
	JOIN practitioner_locations pl ON pl.practitioner_id = p.id
	WHERE p.clinic_id = $1 AND pl.location_id = $4
),
matches AS (
	SELECT * FROM scored WHERE score > 0.3 ORDER BY active DESC, score DESC
),
suggestions AS (
	SELECT array_agg(trim(given_name || ' ' || family_name) ORDER BY family_name, given_name) AS names
	FROM (
		SELECT given_name, family_name FROM practitioners
		WHERE clinic_id = $1 AND active = true
		  AND id NOT IN (SELECT practitioner_id FROM matches)
		LIMIT 3
	) top
)
SELECT json_build_object(
	'matches', COALESCE((SELECT json_agg(json_build_object(
		'practitioner_id', practitioner_id, 'given_name', given_name, 'family_name', family_name,
		'full_name', full_name, 'active', active, 'score', score
	)) FROM matches), '[]'::json),
	'suggestions', COALESCE((SELECT names FROM suggestions), ARRAY[]::text[])
)
`

const ambiguousGivenNameQuery = `
SELECT COUNT(DISTINCT p.id) > 1
FROM practitioners p
JOIN practitioner_locations pl ON pl.practitioner_id = p.id
WHERE p.clinic_id = $1 AND pl.location_id = $2 AND lower(p.given_name) = $3 AND p.active
`

const activePractitionersQuery = `
SELECT COALESCE(json_agg(json_build_object(
	'practitioner_id', p.id, 'given_name', p.given_name, 'family_name', p.family_name,
	'full_name', trim(p.given_name || ' ' || p.family_name), 'active', p.active, 'score', 1.0
) ORDER BY p.family_name, p.given_name), '[]'::json)
FROM practitioners p
JOIN practitioner_locations pl ON pl.practitioner_id = p.id
WHERE p.clinic_id = $1 AND pl.location_id = $2 AND p.active
`

// ActivePractitionersAtLocation lists every active practitioner who works at
// locationID, for callers that need a candidate set rather than a single
// named match (e.g. a voice-agent search that omits the practitioner field).
func (r *Resolver) ActivePractitionersAtLocation(ctx context.Context, clinicID, locationID string) ([]PractitionerMatch, error) {
	var raw []byte
	if err := r.db.QueryRow(ctx, activePractitionersQuery, clinicID, locationID).Scan(&raw); err != nil {
		return nil, err
	}
	var rows []practitionerRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	matches := make([]PractitionerMatch, 0, len(rows))
	for _, m := range rows {
		matches = append(matches, PractitionerMatch{
			PractitionerID: m.PractitionerID, GivenName: m.GivenName, FamilyName: m.FamilyName,
			FullName: m.FullName, Active: m.Active, Score: m.Score,
		})
	}
	return matches, nil
}

// ResolvePractitioner matches rawQuery against a clinic's practitioners at
// locationID, and flags given-name ambiguity per spec: when the winning
// match's given name is shared by another active practitioner at the same
// location, downstream messages must use the full name.
func (r *Resolver) ResolvePractitioner(ctx context.Context, clinicID, locationID, rawQuery string) (PractitionerResult, error) {
	name := ParseName(rawQuery)
	searchTerm := Normalize(rawQuery)

	var raw []byte
	err := r.db.QueryRow(ctx, resolvePractitionerQuery, clinicID, searchTerm, name.Family, locationID).Scan(&raw)
	if err != nil {
		return PractitionerResult{}, err
	}

	var envelope struct {
		Matches     []practitionerRow `json:"matches"`
		Suggestions []string          `json:"suggestions"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PractitionerResult{}, err
	}

	result := PractitionerResult{Suggestions: envelope.Suggestions}
	for _, m := range envelope.Matches {
		result.Matches = append(result.Matches, PractitionerMatch{
			PractitionerID: m.PractitionerID,
			GivenName:      m.GivenName,
			FamilyName:     m.FamilyName,
			FullName:       m.FullName,
			Active:         m.Active,
			Score:          m.Score,
		})
	}
	if len(result.Matches) == 0 {
		return result, nil
	}

	var ambiguous bool
	err = r.db.QueryRow(ctx, ambiguousGivenNameQuery, clinicID, locationID, strings.ToLower(result.Matches[0].GivenName)).Scan(&ambiguous)
	if err != nil {
		return PractitionerResult{}, err
	}
	result.NeedsFullName = ambiguous
	return result, nil
}
