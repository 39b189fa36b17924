// ABOUTME: Typed adapter errors and HTTP/transport failure classification
// ABOUTME: Distinguishes transient failures (retried) from permanent ones

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies an adapter failure
type ErrorKind string

const (
	KindTimeout             ErrorKind = "timeout"
	KindUnavailable         ErrorKind = "unavailable"
	KindAuthFailure         ErrorKind = "auth_failure"
	KindMalformedResponse   ErrorKind = "malformed_response"
	KindLocationNotResolved ErrorKind = "location_not_resolved"
)

// Adapter names used in errors and logs
const (
	AdapterAdvisory = "advisory"
	AdapterVision   = "vision"
	AdapterWeather  = "weather"
)

// Error is the error type returned by every adapter
type Error struct {
	Adapter string
	Kind    ErrorKind
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s adapter: %s", e.Adapter, e.Kind)
	}
	return fmt.Sprintf("%s adapter: %s: %v", e.Adapter, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying
func (e *Error) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnavailable
}

// IsKind reports whether err is an adapter error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// KindOf returns the adapter error kind of err, or "" when err is not an *Error
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func newError(adapter string, kind ErrorKind, err error) *Error {
	return &Error{Adapter: adapter, Kind: kind, Err: err}
}

// classifyTransport maps an http.Client error to an adapter error
func classifyTransport(adapter string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(adapter, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(adapter, KindTimeout, err)
	}
	return newError(adapter, KindUnavailable, err)
}

// classifyStatus maps a non-2xx status to an adapter error
func classifyStatus(adapter string, status int, body []byte) *Error {
	err := fmt.Errorf("status=%d body=%s", status, truncate(string(body), 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(adapter, KindAuthFailure, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return newError(adapter, KindTimeout, err)
	case status == http.StatusTooManyRequests || status >= 500:
		return newError(adapter, KindUnavailable, err)
	default:
		return newError(adapter, KindMalformedResponse, err)
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
