package pms

import (
	"errors"
	"fmt"
	"net/http"
)

// Class classifies an upstream failure the way C6's retry policy needs it
// classified: whether a retry can possibly help.
type Class string

const (
	ClassAuth        Class = "auth"
	ClassNotFound    Class = "not_found"
	ClassRateLimited Class = "rate_limited" // the PMS itself said no, distinct from our own limiter
	ClassConflict    Class = "conflict"     // e.g. slot already booked
	ClassTransient   Class = "transient"    // 5xx, network, timeout
	ClassPermanent   Class = "permanent"    // other 4xx
)

// Error is the classified error this client returns for every failed call.
// It never performs retries itself — that policy lives in the fan-out engine.
type Error struct {
	Class      Class
	StatusCode int
	Endpoint   string
	Body       string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("pms: %s %s: %s: %v", e.Class, e.Endpoint, e.Body, e.cause)
	}
	return fmt.Sprintf("pms: %s %s (status %d): %s", e.Class, e.Endpoint, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether C6 should consider retrying a call that failed
// with this error. Conflict and permanent failures never are.
func (e *Error) Retryable() bool {
	return e.Class == ClassTransient || e.Class == ClassRateLimited
}

func classifyStatus(endpoint string, status int, body []byte) *Error {
	e := &Error{StatusCode: status, Endpoint: endpoint, Body: string(body)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Class = ClassAuth
	case status == http.StatusNotFound:
		e.Class = ClassNotFound
	case status == http.StatusTooManyRequests:
		e.Class = ClassRateLimited
	case status == http.StatusConflict:
		e.Class = ClassConflict
	case status >= 500:
		e.Class = ClassTransient
	case status >= 400:
		e.Class = ClassPermanent
	default:
		e.Class = ClassPermanent
	}
	return e
}

func wrapTransient(endpoint string, cause error) *Error {
	return &Error{Class: ClassTransient, Endpoint: endpoint, cause: cause}
}

// AsError extracts a *Error from err, the way callers branch on Class.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
