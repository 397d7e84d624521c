package voice

import (
	"net/http"
	"strings"

	"github.com/clinicvoice/scheduler/internal/phonenum"
	"github.com/clinicvoice/scheduler/internal/resolver"
	"github.com/clinicvoice/scheduler/internal/session"
)

type locationRequest struct {
	LocationQuery string `json:"locationQuery"`
	SessionID     string `json:"sessionId"`
	DialedNumber  string `json:"dialedNumber"`
	CallerPhone   string `json:"callerPhone"`
	CountryCode   string `json:"countryCode"`
}

type locationResponse struct {
	envelope
	Resolved           bool                     `json:"resolved"`
	NeedsClarification bool                     `json:"needsClarification"`
	Message            string                   `json:"message"`
	Location           *resolver.LocationMatch  `json:"location,omitempty"`
	Options            []resolver.LocationMatch `json:"options,omitempty"`
	Confidence         resolver.Tier            `json:"confidence"`
}

// LocationResolver handles POST /location-resolver.
func (s *Server) LocationResolver(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "", err)
		return
	}

	c, err := s.resolveClinic(r.Context(), req.DialedNumber)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	var preferredLocationID string
	var state session.State
	if req.SessionID != "" {
		state, _ = s.Sessions.Get(r.Context(), req.SessionID)
		if state.PreferredLocation != nil {
			preferredLocationID = state.PreferredLocation.LocationID
		}
	}

	normalizedPhone := phonenum.Normalize(req.CallerPhone, req.CountryCode)
	result, err := s.Resolver.ResolveLocation(r.Context(), c.ID, req.LocationQuery, normalizedPhone, preferredLocationID)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	resp := locationResponse{
		envelope:   envelope{SessionID: req.SessionID, Success: true},
		Confidence: result.Tier(),
	}
	writeLocationResolution(w, &resp, result)
}

type confirmLocationRequest struct {
	UserResponse string                   `json:"userResponse"`
	Options      []resolver.LocationMatch `json:"options"`
	SessionID    string                   `json:"sessionId"`
	DialedNumber string                   `json:"dialedNumber"`
}

// ConfirmLocation handles POST /confirm-location: the caller's free-text
// reply to a previous clarification is matched against the options that
// were offered, since re-running the trigram query against single-word
// answers like "the second one" would not help.
func (s *Server) ConfirmLocation(w http.ResponseWriter, r *http.Request) {
	var req confirmLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "", err)
		return
	}

	resp := locationResponse{envelope: envelope{SessionID: req.SessionID, Success: true}}

	answer := strings.ToLower(strings.TrimSpace(req.UserResponse))
	var match *resolver.LocationMatch
	for i := range req.Options {
		name := strings.ToLower(req.Options[i].Name)
		if answer != "" && (strings.Contains(name, answer) || strings.Contains(answer, name)) {
			match = &req.Options[i]
			break
		}
	}

	if match != nil {
		resp.Resolved = true
		resp.Location = match
		resp.Confidence = resolver.TierHigh
		resp.Message = "Got it, " + match.Name + "."
		if req.SessionID != "" {
			_ = s.Sessions.SetPreferredLocation(r.Context(), req.SessionID, session.PreferredLocation{
				LocationID: match.LocationID, Name: match.Name,
			})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.NeedsClarification = true
	resp.Options = req.Options
	resp.Confidence = resolver.TierLow
	resp.Message = "Sorry, I didn't catch which location you meant. Could you say the name again?"
	writeJSON(w, http.StatusOK, resp)
}

func writeLocationResolution(w http.ResponseWriter, resp *locationResponse, result resolver.LocationResult) {
	switch {
	case len(result.Matches) == 1 && result.Tier() == resolver.TierHigh:
		loc := result.Matches[0]
		resp.Resolved = true
		resp.Location = &loc
		resp.Message = "Got it, " + loc.Name + "."
	case len(result.Matches) > 0:
		resp.NeedsClarification = true
		resp.Options = result.Matches
		resp.Message = "Did you mean " + result.Matches[0].Name + "?"
	default:
		resp.NeedsClarification = true
		resp.Options = result.AllLocations
		resp.Message = "Which location would you like?"
	}
	writeJSON(w, http.StatusOK, *resp)
}
