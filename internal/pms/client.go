// Package pms is the typed façade over the remote practice-management
// system's REST surface (C2). Every outbound request acquires the shared
// rate limiter first; retries are never performed here, that policy lives
// in the fan-out engine.
package pms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinicvoice/scheduler/internal/observability/metrics"
	"github.com/clinicvoice/scheduler/internal/ratelimit"
)

// Config configures a Client for one clinic's PMS account.
type Config struct {
	BaseURL string // e.g. "https://api.au4.cliniko.com/v1"
	APIKey  string // sent as HTTP Basic auth, password left empty
	Timeout time.Duration

	Limiter *ratelimit.Limiter // shared across the process; required
}

// Client is a thin wrapper over the PMS's paginated JSON REST API.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
}

// WithMetrics attaches a metrics sink every call observes outcome and
// latency against. Returns c so callers can chain it onto New.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// New creates a PMS client. Auth follows the documented Basic scheme: the
// API key is the username, the password is empty.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pms: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pms: APIKey is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("pms: Limiter is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	token := base64.StdEncoding.EncodeToString([]byte(cfg.APIKey + ":"))

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		authHeader: "Basic " + token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    cfg.Limiter,
	}, nil
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body any) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("pms: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("pms: build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObservePMSCall(operation, "error", time.Since(start).Seconds())
		return nil, wrapTransient(endpoint, err)
	}
	outcome := "ok"
	if resp.StatusCode >= 400 {
		outcome = "http_error"
	}
	c.metrics.ObservePMSCall(operation, outcome, time.Since(start).Seconds())
	return resp, nil
}

// decodeOrClassify reads resp's body, decoding into out on 2xx and returning
// a classified *Error otherwise. The body is always drained and closed.
func decodeOrClassify(endpoint string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(endpoint, resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return wrapTransient(endpoint, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// getAllPages follows links.next until exhausted, collecting each page's
// `key` array via the decode callback.
func (c *Client) getAllPages(ctx context.Context, operation, endpoint, key string, decodeOne func(raw json.RawMessage) error) error {
	next := endpoint
	for next != "" {
		resp, err := c.do(ctx, operation, http.MethodGet, next, nil)
		if err != nil {
			return err
		}

		var links struct {
			Next string `json:"next"`
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return wrapTransient(endpoint, readErr)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classifyStatus(endpoint, resp.StatusCode, body)
		}

		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return wrapTransient(endpoint, fmt.Errorf("decode page: %w", err))
		}
		if err := json.Unmarshal(envelope["links"], &links); err != nil {
			return wrapTransient(endpoint, fmt.Errorf("decode links: %w", err))
		}

		if items, ok := envelope[key]; ok {
			var arr []json.RawMessage
			if err := json.Unmarshal(items, &arr); err != nil {
				return wrapTransient(endpoint, fmt.Errorf("decode %s: %w", key, err))
			}
			for _, item := range arr {
				if err := decodeOne(item); err != nil {
					return err
				}
			}
		}

		next = links.Next
	}
	return nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// FindPatientByPhone returns at most one patient with an exact normalized
// phone match. Partial matches surfaced by the PMS's own fuzzy search are
// filtered out client-side.
func (c *Client) FindPatientByPhone(ctx context.Context, normalizedPhone string) (*Patient, error) {
	params := url.Values{}
	params.Set("q[]", "patient_phone_numbers:number:="+normalizedPhone)

	var found *Patient
	endpoint := c.endpoint("/patients", params)
	err := c.getAllPages(ctx, "find_patient_by_phone", endpoint, "patients", func(raw json.RawMessage) error {
		var rec patientRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return wrapTransient(endpoint, err)
		}
		if rec.normalizedPhone() != normalizedPhone {
			return nil
		}
		if found == nil {
			p := rec.toPatient()
			found = &p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// CreatePatient mints a new patient record scoped to this clinic account.
func (c *Client) CreatePatient(ctx context.Context, givenName, familyName, normalizedPhone string) (*Patient, error) {
	endpoint := c.endpoint("/patients", nil)
	body := map[string]any{
		"first_name": givenName,
		"last_name":  familyName,
		"patient_phone_numbers": []map[string]string{
			{"number": normalizedPhone, "phone_type": "Mobile"},
		},
	}
	resp, err := c.do(ctx, "create_patient", http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	var rec patientRecord
	if err := decodeOrClassify(endpoint, resp, &rec); err != nil {
		return nil, err
	}
	p := rec.toPatient()
	return &p, nil
}

// GetAvailableTimes returns open slots across an inclusive clinic-local date
// range. Returned instants are UTC.
func (c *Client) GetAvailableTimes(ctx context.Context, locationID, practitionerID, serviceID string, dateFrom, dateTo time.Time) ([]Slot, error) {
	params := url.Values{}
	params.Set("from", dateFrom.Format("2006-01-02"))
	params.Set("to", dateTo.Format("2006-01-02"))

	endpoint := c.endpoint(
		fmt.Sprintf("/businesses/%s/practitioners/%s/appointment_types/%s/available_times", locationID, practitionerID, serviceID),
		params,
	)

	var slots []Slot
	err := c.getAllPages(ctx, "get_available_times", endpoint, "available_times", func(raw json.RawMessage) error {
		var rec struct {
			AppointmentStart time.Time `json:"appointment_start"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return wrapTransient(endpoint, err)
		}
		slots = append(slots, Slot{
			PractitionerID: practitionerID,
			LocationID:     locationID,
			ServiceID:      serviceID,
			Start:          rec.AppointmentStart.UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// CreateAppointment books the slot. A slot already taken by another caller
// surfaces as a classified ClassConflict error.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	endpoint := c.endpoint("/individual_appointments", nil)
	body := map[string]any{
		"patient_id":          req.PatientID,
		"practitioner_id":     req.PractitionerID,
		"appointment_type_id": req.ServiceID,
		"business_id":         req.LocationID,
		"starts_at":           req.StartUTC.UTC().Format(time.RFC3339),
		"ends_at":             req.EndUTC.UTC().Format(time.RFC3339),
		"notes":               req.Notes,
	}
	resp, err := c.do(ctx, "create_appointment", http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	var rec appointmentRecord
	if err := decodeOrClassify(endpoint, resp, &rec); err != nil {
		return nil, err
	}
	a := rec.toAppointment()
	return &a, nil
}

// CancelAppointment cancels a booked appointment by its PMS ID.
func (c *Client) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	endpoint := c.endpoint(fmt.Sprintf("/individual_appointments/%s/cancel", appointmentID), nil)
	resp, err := c.do(ctx, "cancel_appointment", http.MethodPatch, endpoint, map[string]any{})
	if err != nil {
		return false, err
	}
	if err := decodeOrClassify(endpoint, resp, nil); err != nil {
		return false, err
	}
	return true, nil
}

// ListChanged lists appointments touched since sinceUTC, used by C4 to
// derive which (practitioner, location, date) cache keys need refreshing.
func (c *Client) ListChanged(ctx context.Context, sinceUTC time.Time) ([]ChangedEntity, error) {
	params := url.Values{}
	params.Set("q[]", "updated_at:>"+sinceUTC.UTC().Format(time.RFC3339))

	var changes []ChangedEntity
	endpoint := c.endpoint("/individual_appointments", params)
	err := c.getAllPages(ctx, "list_changed", endpoint, "individual_appointments", func(raw json.RawMessage) error {
		var rec appointmentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return wrapTransient(endpoint, err)
		}
		kind := ChangeUpserted
		if rec.CancelledAt != "" {
			kind = ChangeRemoved
		}
		changes = append(changes, ChangedEntity{
			Kind:           kind,
			AppointmentID:  rec.ID,
			PractitionerID: rec.PractitionerID,
			LocationID:     rec.BusinessID,
			ServiceID:      rec.AppointmentTypeID,
			Start:          rec.StartsAt.UTC(),
			ChangedAt:      rec.UpdatedAt.UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}
