package voice

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/availsearch"
	"github.com/clinicvoice/scheduler/internal/clinic"
	"github.com/clinicvoice/scheduler/internal/resolver"
)

// findHorizonDays is the fallback search window find_next_available uses
// when a caller doesn't say how far out to look, and the window
// availability-checker falls back to on an empty result for the requested
// date, per spec.
const findHorizonDays = 14

type slotResponse struct {
	PractitionerID string `json:"practitionerId"`
	LocationID     string `json:"locationId"`
	ServiceID      string `json:"serviceId"`
	StartLocal     string `json:"startLocal"`
	StartUTC       string `json:"startUtc"`
}

func formatSlot(t time.Time, loc *time.Location) slotResponse {
	return slotResponse{StartUTC: t.UTC().Format(time.RFC3339), StartLocal: t.In(loc).Format("Mon Jan 2 3:04 PM")}
}

// resolveLocationID picks a single candidate location: the explicit
// request field, then the caller's remembered preference, then the
// clinic's only location if it has just one. Anything more ambiguous
// surfaces as location_not_found with the full list as remediation.
func (s *Server) resolveLocationID(ctx context.Context, c *clinic.Clinic, sessionID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if sessionID != "" {
		if state, err := s.Sessions.Get(ctx, sessionID); err == nil && state.PreferredLocation != nil {
			return state.PreferredLocation.LocationID, nil
		}
	}
	result, err := s.Resolver.ResolveLocation(ctx, c.ID, "", "", "")
	if err != nil {
		return "", apierror.Internal(err)
	}
	if len(result.Matches) == 1 {
		return result.Matches[0].LocationID, nil
	}
	return "", apierror.New(apierror.LocationNotFound, "Which location would you like?").WithRemediation(result.AllLocations)
}

// resolvePractitionerSingle resolves rawQuery to exactly one practitioner
// at locationID, the shape availability-checker and the booking flow need.
func (s *Server) resolvePractitionerSingle(ctx context.Context, clinicID, locationID, rawQuery string) (resolver.PractitionerMatch, error) {
	result, err := s.Resolver.ResolvePractitioner(ctx, clinicID, locationID, rawQuery)
	if err != nil {
		return resolver.PractitionerMatch{}, apierror.Internal(err)
	}
	if len(result.Matches) == 0 {
		return resolver.PractitionerMatch{}, apierror.New(apierror.PractitionerNotFound,
			"I couldn't find a practitioner named \""+rawQuery+"\".").WithRemediation(result.Suggestions)
	}
	return result.Matches[0], nil
}

type availabilityRequest struct {
	Practitioner    string `json:"practitioner"`
	AppointmentType string `json:"appointmentType"`
	Date            string `json:"date"`
	SessionID       string `json:"sessionId"`
	DialedNumber    string `json:"dialedNumber"`
	LocationID      string `json:"locationId"`
}

type availabilityResponse struct {
	envelope
	Slots   []slotResponse `json:"slots"`
	Summary string         `json:"summary"`
	Message string         `json:"message"`
}

// AvailabilityChecker handles POST /availability-checker: checks a single
// requested date for one practitioner/service, falling back to the next
// open slot within findHorizonDays when that date is empty.
func (s *Server) AvailabilityChecker(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "", err)
		return
	}

	c, err := s.resolveClinic(r.Context(), req.DialedNumber)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	locationID, err := s.resolveLocationID(r.Context(), c, req.SessionID, req.LocationID)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	practitioner, err := s.resolvePractitionerSingle(r.Context(), c.ID, locationID, req.Practitioner)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	service, offerings, err := s.Resolver.ResolveService(r.Context(), practitioner.PractitionerID, req.AppointmentType)
	if err != nil {
		if err == resolver.ErrServiceNotFound {
			writeError(w, req.SessionID, apierror.New(apierror.ServiceNotFound,
				practitioner.FullName+" doesn't offer \""+req.AppointmentType+"\".").WithRemediation(offerings))
			return
		}
		writeError(w, req.SessionID, apierror.Internal(err))
		return
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		writeError(w, req.SessionID, apierror.Internal(err))
		return
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, loc)
	if err != nil {
		writeError(w, req.SessionID, apierror.New(apierror.InvalidDate, "I didn't catch that date. Could you say it again?"))
		return
	}

	client, err := s.pmsClientFor(c)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	triple := availsearch.Triple{
		PractitionerID: practitioner.PractitionerID,
		LocationID:     locationID,
		ServiceID:      service.ServiceID,
	}

	slots, err := s.Searcher.CheckDay(r.Context(), client, c.ID, triple, date)
	if err != nil {
		writeError(w, req.SessionID, apierror.Internal(err))
		return
	}

	resp := availabilityResponse{envelope: envelope{SessionID: req.SessionID, Success: true}}
	if len(slots) > 0 {
		for _, slot := range slots {
			resp.Slots = append(resp.Slots, formatSlot(slot.Start, loc))
		}
		resp.Summary = practitioner.FullName + " has " + itemCount(len(slots)) + " on " + date.Format("Jan 2") + "."
		resp.Message = resp.Summary
		writeJSON(w, http.StatusOK, resp)
		return
	}

	criteria := availsearch.Criteria{
		ClinicID:            c.ID,
		PractitionerIDs:     []string{practitioner.PractitionerID},
		LocationIDs:         []string{locationID},
		ServiceIDs:          []string{service.ServiceID},
		PreferredLocationID: locationID,
	}
	result, err := s.Searcher.FindNextAvailable(r.Context(), client, criteria, findHorizonDays, req.SessionID)
	if err != nil {
		writeNoCombinationOrInternal(w, req.SessionID, err)
		return
	}
	for _, slot := range result.Slots {
		resp.Slots = append(resp.Slots, formatSlot(slot.StartUTC, loc))
	}
	resp.Summary = "Nothing on " + date.Format("Jan 2") + "."
	if len(result.Slots) > 0 {
		resp.Message = resp.Summary + " The next opening is " + formatSlot(result.Slots[0].StartUTC, loc).StartLocal + "."
	} else {
		resp.Message = result.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

type findNextAvailableRequest struct {
	Practitioner string `json:"practitioner"`
	Service      string `json:"service"`
	LocationID   string `json:"locationId"`
	MaxDays      int    `json:"maxDays"`
	SessionID    string `json:"sessionId"`
	DialedNumber string `json:"dialedNumber"`
}

type findNextAvailableResponse struct {
	envelope
	Slots   []slotResponse `json:"slots"`
	Message string         `json:"message"`
}

// FindNextAvailable handles POST /find-next-available: every field beyond
// sessionId/dialedNumber is optional, so an omitted practitioner or service
// widens the candidate set to everyone/everything the resolved location
// offers rather than narrowing to one.
func (s *Server) FindNextAvailable(w http.ResponseWriter, r *http.Request) {
	var req findNextAvailableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "", err)
		return
	}

	c, err := s.resolveClinic(r.Context(), req.DialedNumber)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	locationID, err := s.resolveLocationID(r.Context(), c, req.SessionID, req.LocationID)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	var practitionerIDs []string
	if req.Practitioner != "" {
		match, err := s.resolvePractitionerSingle(r.Context(), c.ID, locationID, req.Practitioner)
		if err != nil {
			writeError(w, req.SessionID, err)
			return
		}
		practitionerIDs = []string{match.PractitionerID}
	} else {
		all, err := s.Resolver.ActivePractitionersAtLocation(r.Context(), c.ID, locationID)
		if err != nil {
			writeError(w, req.SessionID, apierror.Internal(err))
			return
		}
		for _, m := range all {
			practitionerIDs = append(practitionerIDs, m.PractitionerID)
		}
	}
	if len(practitionerIDs) == 0 {
		writeError(w, req.SessionID, apierror.New(apierror.PractitionerNotFound, "This location doesn't have any practitioners available right now."))
		return
	}

	serviceIDs, err := s.resolveServiceCandidates(r.Context(), practitionerIDs, req.Service)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	maxDays := req.MaxDays
	if maxDays <= 0 {
		maxDays = findHorizonDays
	}

	client, err := s.pmsClientFor(c)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	criteria := availsearch.Criteria{
		ClinicID:            c.ID,
		PractitionerIDs:     practitionerIDs,
		LocationIDs:         []string{locationID},
		ServiceIDs:          serviceIDs,
		PreferredLocationID: locationID,
	}
	result, err := s.Searcher.FindNextAvailable(r.Context(), client, criteria, maxDays, req.SessionID)
	if err != nil {
		writeNoCombinationOrInternal(w, req.SessionID, err)
		return
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.UTC
	}
	resp := findNextAvailableResponse{
		envelope: envelope{SessionID: req.SessionID, Success: true},
		Message:  result.Message,
	}
	for _, slot := range result.Slots {
		resp.Slots = append(resp.Slots, formatSlot(slot.StartUTC, loc))
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveServiceCandidates returns the distinct service IDs rawQuery
// resolves to across practitionerIDs, or every active service any of them
// offers when rawQuery is empty.
func (s *Server) resolveServiceCandidates(ctx context.Context, practitionerIDs []string, rawQuery string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	var lastOfferings []resolver.ServiceMatch
	for _, practitionerID := range practitionerIDs {
		match, offerings, err := s.Resolver.ResolveService(ctx, practitionerID, rawQuery)
		if err != nil && err != resolver.ErrServiceNotFound {
			return nil, apierror.Internal(err)
		}
		lastOfferings = offerings
		if rawQuery == "" {
			for _, o := range offerings {
				if !seen[o.ServiceID] {
					seen[o.ServiceID] = true
					ids = append(ids, o.ServiceID)
				}
			}
			continue
		}
		if match != nil && !seen[match.ServiceID] {
			seen[match.ServiceID] = true
			ids = append(ids, match.ServiceID)
		}
	}
	if len(ids) == 0 {
		msg := "I couldn't find that service."
		if rawQuery == "" {
			msg = "Nobody at this location has any active services right now."
		}
		return nil, apierror.New(apierror.ServiceNotFound, msg).WithRemediation(lastOfferings)
	}
	return ids, nil
}

// writeNoCombinationOrInternal maps a *availsearch.NoCombinationError to a
// service_not_found response surfacing the practitioner's real offerings,
// folding anything else into Internal.
func writeNoCombinationOrInternal(w http.ResponseWriter, sessionID string, err error) {
	var noCombo *availsearch.NoCombinationError
	if errors.As(err, &noCombo) {
		writeError(w, sessionID, apierror.New(apierror.ServiceNotFound,
			"That combination of practitioner, location, and service isn't offered.").WithRemediation(noCombo.Offerings))
		return
	}
	writeError(w, sessionID, apierror.Internal(err))
}
