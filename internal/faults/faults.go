// Package faults maps failures from the store and recognition clients
// to a closed set of variants with stable human-readable messages. The
// variants are what surface in validation responses; raw errors and
// stack traces never do.
package faults

import (
	"context"
	"encoding/json"
	"net"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sigval/internal/resilience"
	"github.com/sells-group/sigval/pkg/identifi"
	"github.com/sells-group/sigval/pkg/recognition"
)

// ConfigError means a required secret or setting is missing. Raised
// before any network call; never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// TransportError means the HTTP exchange failed: either the server
// answered with a failure status, or (Status zero) the connection
// itself could not be established.
type TransportError struct {
	Status int
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return "Network error: Failed to connect to the API endpoint."
	}
	return messageForStatus(e.Status)
}

// TimeoutError means a call exceeded its deadline.
type TimeoutError struct{}

func (e *TimeoutError) Error() string {
	return "Timeout: The API request took too long to respond."
}

// MalformedResponseError means a response parsed but was not usable
// (invalid JSON, missing required fields). Fatal, never retried.
type MalformedResponseError struct{}

func (e *MalformedResponseError) Error() string {
	return "Invalid response: The API returned data that could not be interpreted."
}

// UnknownError is the catch-all variant.
type UnknownError struct{}

func (e *UnknownError) Error() string {
	return "Unexpected error: An unknown issue occurred during processing."
}

// Classify reduces an arbitrary failure to one of the closed variants.
// Retry-exhaustion wrappers are unwrapped first so the underlying cause
// drives classification.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var exhausted *resilience.ExhaustedError
	if eris.As(err, &exhausted) {
		err = exhausted.Err
	}

	var cfgErr *ConfigError
	if eris.As(err, &cfgErr) {
		return cfgErr
	}

	if status, ok := statusOf(err); ok {
		return &TransportError{Status: status}
	}

	if isTimeout(err) {
		return &TimeoutError{}
	}

	if isMalformed(err) {
		return &MalformedResponseError{}
	}

	if resilience.IsTransient(err) {
		// Transient but not a status failure or timeout: transport-level.
		return &TransportError{}
	}

	return &UnknownError{}
}

// Message returns the stable human-readable message for a failure.
func Message(err error) string {
	variant := Classify(err)
	if variant == nil {
		return ""
	}
	return variant.Error()
}

func statusOf(err error) (int, bool) {
	var storeErr *identifi.APIError
	if eris.As(err, &storeErr) {
		return storeErr.StatusCode, true
	}
	var recErr *recognition.APIError
	if eris.As(err, &recErr) {
		return recErr.StatusCode, true
	}
	var transient *resilience.TransientError
	if eris.As(err, &transient) && transient.StatusCode != 0 {
		return transient.StatusCode, true
	}
	return 0, false
}

func isTimeout(err error) bool {
	if eris.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return eris.As(err, &netErr) && netErr.Timeout()
}

func isMalformed(err error) bool {
	if eris.Is(err, recognition.ErrMissingConfidence) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if eris.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return eris.As(err, &typeErr)
}

func messageForStatus(status int) string {
	switch status {
	case 400:
		return "Bad request: The server could not understand the request due to invalid data."
	case 401:
		return "Unauthorized: Invalid API key or authentication credentials."
	case 403:
		return "Forbidden: Access to the resource is restricted."
	case 404:
		return "Not found: The requested resource (e.g., document or smart folder) does not exist."
	case 429:
		return "Too many requests: Rate limit exceeded, please try again later."
	case 500:
		return "Server error: The server encountered an internal error."
	default:
		return "HTTP error occurred while processing the request."
	}
}
