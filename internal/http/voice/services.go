package voice

import (
	"net/http"
	"strconv"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/resolver"
)

type practitionerServicesRequest struct {
	Practitioner string `json:"practitioner"`
	LocationID   string `json:"locationId"`
	SessionID    string `json:"sessionId"`
	DialedNumber string `json:"dialedNumber"`
}

type offeringResponse struct {
	ServiceID       string `json:"serviceId"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
}

type practitionerServicesResponse struct {
	envelope
	Practitioner string             `json:"practitioner,omitempty"`
	Services     []offeringResponse `json:"services"`
	Message      string             `json:"message"`
}

// GetPractitionerServices handles POST /get-practitioner-services.
func (s *Server) GetPractitionerServices(w http.ResponseWriter, r *http.Request) {
	var req practitionerServicesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "", err)
		return
	}

	c, err := s.resolveClinic(r.Context(), req.DialedNumber)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	locationID := req.LocationID
	if locationID == "" && req.SessionID != "" {
		if state, stateErr := s.Sessions.Get(r.Context(), req.SessionID); stateErr == nil && state.PreferredLocation != nil {
			locationID = state.PreferredLocation.LocationID
		}
	}

	practitionerResult, err := s.Resolver.ResolvePractitioner(r.Context(), c.ID, locationID, req.Practitioner)
	if err != nil {
		writeError(w, req.SessionID, apierror.Internal(err))
		return
	}
	if len(practitionerResult.Matches) == 0 {
		writeError(w, req.SessionID, apierror.New(apierror.PractitionerNotFound,
			"I couldn't find a practitioner named \""+req.Practitioner+"\".").WithRemediation(practitionerResult.Suggestions))
		return
	}
	practitioner := practitionerResult.Matches[0]

	// An empty query matches nothing in the WHERE clause but the
	// offerings list is independent of the match, so this surfaces every
	// active service the practitioner offers.
	_, offerings, err := s.Resolver.ResolveService(r.Context(), practitioner.PractitionerID, "")
	if err != nil && err != resolver.ErrServiceNotFound {
		writeError(w, req.SessionID, apierror.Internal(err))
		return
	}

	resp := practitionerServicesResponse{
		envelope:     envelope{SessionID: req.SessionID, Success: true},
		Practitioner: practitioner.FullName,
	}
	for _, o := range offerings {
		resp.Services = append(resp.Services, offeringResponse{
			ServiceID: o.ServiceID, Name: o.Name, DurationMinutes: o.DurationMinutes,
		})
	}
	if len(offerings) == 0 {
		resp.Message = practitioner.FullName + " doesn't have any services listed right now."
	} else {
		resp.Message = practitioner.FullName + " offers " + itemCount(len(offerings)) + "."
	}
	writeJSON(w, http.StatusOK, resp)
}

func itemCount(n int) string {
	if n == 1 {
		return "1 service"
	}
	return strconv.Itoa(n) + " services"
}
