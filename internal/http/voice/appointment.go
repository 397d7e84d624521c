package voice

import (
	"net/http"
	"time"

	"github.com/clinicvoice/scheduler/internal/apierror"
	"github.com/clinicvoice/scheduler/internal/booking"
	"github.com/clinicvoice/scheduler/internal/clinic"
	"github.com/clinicvoice/scheduler/internal/transactor"
)

type appointmentRequest struct {
	Action          string `json:"action"` // book | reschedule | cancel
	PatientName     string `json:"patientName"`
	PatientPhone    string `json:"patientPhone"`
	Practitioner    string `json:"practitioner"`
	AppointmentType string `json:"appointmentType"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	BusinessID      string `json:"business_id"`
	SessionID       string `json:"sessionId"`
	DialedNumber    string `json:"dialedNumber"`
	CallerPhone     string `json:"callerPhone"`
	Notes           string `json:"notes"`
	AppointmentID   string `json:"appointmentId"`
	NewDate         string `json:"newDate"`
	NewTime         string `json:"newTime"`
}

type appointmentResponse struct {
	envelope
	Confirmed          bool   `json:"confirmed"`
	AppointmentID      string `json:"appointmentId,omitempty"`
	ConfirmationNumber string `json:"confirmationNumber,omitempty"`
	Message            string `json:"message"`
}

// AppointmentHandler handles POST /appointment-handler, dispatching on
// action to the live PMS transactor or, for clinics flagged ShadowBooking,
// to the manual-handoff adapter that a human staffer follows up on.
func (s *Server) AppointmentHandler(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
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
		s.handleShadowBooking(w, r, c, req)
		return
	}

	t, err := s.transactorFor(c)
	if err != nil {
		writeError(w, req.SessionID, err)
		return
	}

	switch req.Action {
	case "book":
		s.handleBook(w, r, t, c, req)
	case "reschedule":
		s.handleReschedule(w, r, t, c, req)
	case "cancel":
		s.handleCancel(w, r, t, c, req)
	default:
		writeError(w, req.SessionID, apierror.New(apierror.BookingFailed, "I didn't understand whether you wanted to book, reschedule, or cancel."))
	}
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request, t *transactor.Transactor, c *clinic.Clinic, req appointmentRequest) {
	result, err := t.CreateBooking(r.Context(), transactor.Request{
		ClinicID:       c.ID,
		ClinicTimezone: c.Timezone,
		CountryCode:    c.CountryCode,
		SessionID:      req.SessionID,
		CallerPhone:    req.CallerPhone,
		PatientPhone:   req.PatientPhone,
		PatientName:    req.PatientName,
		Practitioner:   req.Practitioner,
		Service:        req.AppointmentType,
		LocationID:     req.BusinessID,
		Date:           req.AppointmentDate,
		Time:           req.AppointmentTime,
		Notes:          req.Notes,
	})
	if err != nil {
		s.Metrics.ObserveBooking("book", "failed")
		writeError(w, req.SessionID, err)
		return
	}
	s.Metrics.ObserveBooking("book", "confirmed")
	writeJSON(w, http.StatusOK, appointmentResponse{
		envelope:           envelope{SessionID: req.SessionID, Success: true},
		Confirmed:          true,
		AppointmentID:      result.AppointmentID,
		ConfirmationNumber: result.AppointmentID,
		Message:            result.Message,
	})
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request, t *transactor.Transactor, c *clinic.Clinic, req appointmentRequest) {
	result, err := t.Reschedule(r.Context(), transactor.ReschedRequest{
		ClinicID:        c.ID,
		ClinicTimezone:  c.Timezone,
		CountryCode:     c.CountryCode,
		SessionID:       req.SessionID,
		CallerPhone:     req.CallerPhone,
		AppointmentID:   req.AppointmentID,
		Details:         req.PatientName + " " + req.AppointmentType,
		NewPractitioner: req.Practitioner,
		NewService:      req.AppointmentType,
		NewLocationID:   req.BusinessID,
		NewDate:         req.NewDate,
		NewTime:         req.NewTime,
		Notes:           req.Notes,
	})
	if err != nil {
		s.Metrics.ObserveBooking("reschedule", "failed")
		writeError(w, req.SessionID, err)
		return
	}
	s.Metrics.ObserveBooking("reschedule", "confirmed")
	writeJSON(w, http.StatusOK, appointmentResponse{
		envelope:           envelope{SessionID: req.SessionID, Success: true},
		Confirmed:          true,
		AppointmentID:      result.AppointmentID,
		ConfirmationNumber: result.AppointmentID,
		Message:            result.Message,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, t *transactor.Transactor, c *clinic.Clinic, req appointmentRequest) {
	message, err := t.Cancel(r.Context(), transactor.CancelRequest{
		ClinicID:       c.ID,
		ClinicTimezone: c.Timezone,
		CountryCode:    c.CountryCode,
		SessionID:      req.SessionID,
		CallerPhone:    req.CallerPhone,
		AppointmentID:  req.AppointmentID,
		Details:        req.PatientName,
	})
	if err != nil {
		s.Metrics.ObserveBooking("cancel", "failed")
		writeError(w, req.SessionID, err)
		return
	}
	s.Metrics.ObserveBooking("cancel", "confirmed")
	writeJSON(w, http.StatusOK, appointmentResponse{
		envelope:  envelope{SessionID: req.SessionID, Success: true},
		Confirmed: true,
		Message:   message,
	})
}

// handleShadowBooking routes book/reschedule/cancel requests for clinics
// without a live PMS booking API to the manual-handoff adapter: no
// appointment is created automatically, a staffer is notified instead.
func (s *Server) handleShadowBooking(w http.ResponseWriter, r *http.Request, c *clinic.Clinic, req appointmentRequest) {
	if req.Action == "cancel" {
		s.Metrics.ObserveBooking("cancel", "unsupported_shadow")
		writeError(w, req.SessionID, apierror.New(apierror.CancellationFailed,
			"This clinic books by hand, so I can't cancel automatically. Please call the clinic directly."))
		return
	}
	if s.Handoff == nil {
		s.Metrics.ObserveBooking("book", "failed")
		writeError(w, req.SessionID, apierror.New(apierror.BookingFailed,
			"I'm not able to book automatically for this clinic right now. Please contact the clinic directly."))
		return
	}

	result, err := s.Handoff.CreateBooking(r.Context(), booking.HandoffRequest{
		ClinicName:         c.Name,
		PatientName:        req.PatientName,
		PatientPhone:       valueOrCaller(req.PatientPhone, req.CallerPhone),
		ServiceRequested:   req.AppointmentType,
		SchedulePreference: req.AppointmentDate + " " + req.AppointmentTime,
		Notes:              req.Notes,
		RequestedAt:        time.Now().UTC(),
	})
	if err != nil {
		s.Metrics.ObserveBooking("book", "failed")
		writeError(w, req.SessionID, apierror.Internal(err))
		return
	}
	s.Metrics.ObserveBooking("book", "handoff")
	writeJSON(w, http.StatusOK, appointmentResponse{
		envelope:  envelope{SessionID: req.SessionID, Success: true},
		Confirmed: result.Booked,
		Message:   result.HandoffMessage,
	})
}

func valueOrCaller(patientPhone, callerPhone string) string {
	if patientPhone != "" {
		return patientPhone
	}
	return callerPhone
}
