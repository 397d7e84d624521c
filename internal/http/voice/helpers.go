package voice

import (
	"encoding/json"
	"net/http"

	"github.com/clinicvoice/scheduler/internal/apierror"
)

// envelope is the common shape every endpoint's JSON response embeds:
// sessionId + success, plus either the handler's own fields or an error.
type envelope struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
}

type errorResponse struct {
	envelope
	Error       string `json:"error"`
	Message     string `json:"message"`
	Remediation any    `json:"remediation,omitempty"`
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a structured apierror (or a plain error, folded into
// Internal) to its JSON envelope and an HTTP status appropriate to the
// failure's nature — 404 for not-found classes, 409 for conflicts, 400 for
// malformed caller input, 502 for upstream PMS failures, 500 otherwise.
func writeError(w http.ResponseWriter, sessionID string, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.Internal(err)
	}

	status := http.StatusInternalServerError
	switch apiErr.Code {
	case apierror.ClinicNotFound, apierror.LocationNotFound, apierror.PractitionerNotFound,
		apierror.ServiceNotFound, apierror.AppointmentNotFound, apierror.NoAvailability:
		status = http.StatusNotFound
	case apierror.TimeJustTaken, apierror.TimeNotAvailable, apierror.DuplicateBooking,
		apierror.PractitionerLocationMismatch, apierror.PractitionerInactive:
		status = http.StatusConflict
	case apierror.InvalidPhoneNumber, apierror.InvalidDate, apierror.InvalidTime, apierror.InvalidDateTime:
		status = http.StatusBadRequest
	case apierror.UpstreamUnauthorized, apierror.UpstreamUnavailable:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, errorResponse{
		envelope:    envelope{SessionID: sessionID, Success: false},
		Error:       string(apiErr.Code),
		Message:     apiErr.Message,
		Remediation: apiErr.Remediation,
	})
}
