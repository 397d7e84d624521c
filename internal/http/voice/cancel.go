package voice

import (
	"net/http"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/transactor"
)

type cancelAppointmentRequest struct {
	AppointmentID      string `json:"appointmentId"`
	AppointmentDetails string `json:"appointmentDetails"`
	SessionID          string `json:"sessionId"`
	DialedNumber       string `json:"dialedNumber"`
	CallerPhone        string `json:"callerPhone"`
}

type cancelAppointmentResponse struct {
	envelope
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// CancelAppointment handles POST /cancel-appointment, a standalone
// cancellation entry point distinct from /appointment-handler's cancel
// action — the voice agent calls this one when the caller's intent is
// cancellation from the start rather than part of a booking flow.
func (s *Server) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req cancelAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "", err)
		return
	}

	c, err := s.resolveClinic(r.Context(), req.DialedNumber)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	if c.ShadowBooking {
		s.Metrics.ObserveBooking("cancel", "unsupported_shadow")
		writeError(w, req.SessionID, apierror.New(apierror.CancellationFailed,
			"This clinic books by hand, so I can't cancel automatically. Please call the clinic directly."))
		return
	}

	t, err := s.transactorFor(c)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	message, err := t.Cancel(r.Context(), transactor.CancelRequest{
		ClinicID:       c.ID,
		ClinicTimezone: c.Timezone,
		CountryCode:    c.CountryCode,
		SessionID:      req.SessionID,
		CallerPhone:    req.CallerPhone,
		AppointmentID:  req.AppointmentID,
		Details:        req.AppointmentDetails,
	})
	if err != nil {
		s.Metrics.ObserveBooking("cancel", "failed")
		writeError(w, req.SessionID, err)
		return
	}
	s.Metrics.ObserveBooking("cancel", "confirmed")

	writeJSON(w, http.StatusOK, cancelAppointmentResponse{
		envelope:  envelope{SessionID: req.SessionID, Success: true},
		Cancelled: true,
		Message:   message,
	})
}
