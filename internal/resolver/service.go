package resolver

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrServiceNotFound is returned when no service offered by the queried
// practitioner matches, exact or substring, per spec's strict-match rule.
var ErrServiceNotFound = errors.New("resolver: no matching service for this practitioner")

// ServiceMatch is a single offering, always scoped to one practitioner.
type ServiceMatch struct {
	ServiceID       string
	Name            string
	DurationMinutes int
}

type serviceRow struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

const resolveServiceQuery = `
SELECT json_build_object(
	'match', (
		SELECT json_build_object('service_id', s.id, 'name', s.name, 'duration_minutes', s.duration_minutes)
		FROM services s
		JOIN practitioner_services ps ON ps.service_id = s.id
		WHERE ps.practitioner_id = $1 AND s.active
		  AND (lower(s.name) = $2 OR lower(s.name) LIKE '%' || $2 || '%')
		ORDER BY (lower(s.name) = $2) DESC, length(s.name) ASC
		LIMIT 1
	),
	'offerings', COALESCE((
		SELECT json_agg(json_build_object('service_id', s.id, 'name', s.name, 'duration_minutes', s.duration_minutes) ORDER BY s.name)
		FROM services s
		JOIN practitioner_services ps ON ps.service_id = s.id
		WHERE ps.practitioner_id = $1 AND s.active
	), '[]'::json)
)
`

// ResolveService matches rawQuery against practitionerID's own offerings
// only — this never crosses to another practitioner's services, per spec.
// On no match, returns ErrServiceNotFound along with the practitioner's
// full offering list so the caller can present alternatives.
func (r *Resolver) ResolveService(ctx context.Context, practitionerID, rawQuery string) (*ServiceMatch, []ServiceMatch, error) {
	normalized := Normalize(rawQuery)

	var raw []byte
	if err := r.db.QueryRow(ctx, resolveServiceQuery, practitionerID, normalized).Scan(&raw); err != nil {
		return nil, nil, err
	}

	var envelope struct {
		Match     *serviceRow  `json:"match"`
		Offerings []serviceRow `json:"offerings"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, err
	}

	offerings := make([]ServiceMatch, 0, len(envelope.Offerings))
	for _, o := range envelope.Offerings {
		offerings = append(offerings, ServiceMatch{ServiceID: o.ServiceID, Name: o.Name, DurationMinutes: o.DurationMinutes})
	}
	if envelope.Match == nil {
		return nil, offerings, ErrServiceNotFound
	}
	return &ServiceMatch{
		ServiceID:       envelope.Match.ServiceID,
		Name:            envelope.Match.Name,
		DurationMinutes: envelope.Match.DurationMinutes,
	}, offerings, nil
}
