// Package resilience provides the failure taxonomy and retry policy shared
// by connectors and the acquisition runner.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout). On retry exhaustion the request fails with a placeholder or
// fallback artifact.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermissionError is a 401/403-class failure: the credential exists but the
// source refused it. Never retried; surfaced distinctly so operators are
// pointed at approval steps rather than waiting out a retry loop.
type PermissionError struct {
	Err        error
	StatusCode int
}

func (e *PermissionError) Error() string { return e.Err.Error() }
func (e *PermissionError) Unwrap() error { return e.Err }

// NewPermissionError wraps an authorization failure.
func NewPermissionError(err error, statusCode int) *PermissionError {
	return &PermissionError{Err: err, StatusCode: statusCode}
}

// ConfigurationError means a precondition for running a request is missing
// (credential, coordinates, rule parameter). The request is disabled and
// stays visible; it is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return e.Reason }

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// MalformedInputError means a local computation connector was handed invalid
// or missing evidenced input. Never retried.
type MalformedInputError struct {
	Err error
}

func (e *MalformedInputError) Error() string { return e.Err.Error() }
func (e *MalformedInputError) Unwrap() error { return e.Err }

// NewMalformedInputError wraps a bad-input failure.
func NewMalformedInputError(format string, args ...any) *MalformedInputError {
	return &MalformedInputError{Err: fmt.Errorf(format, args...)}
}

// DataConflictError is a merge-time key collision between fan-out results
// without a declared priority order. Fatal for that field only.
type DataConflictError struct {
	Field  string
	Key    string
	Column string
	A, B   any
}

func (e *DataConflictError) Error() string {
	return fmt.Sprintf("data conflict on %s: key=%s col=%s %v != %v", e.Field, e.Key, e.Column, e.A, e.B)
}

// IsTransient reports whether the error chain contains a TransientError or
// matches common transient network patterns. Permission and malformed-input
// errors are never transient, even when wrapped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermission(err) || IsMalformedInput(err) || IsConfiguration(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsPermission reports whether the error chain contains a PermissionError.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsConfiguration reports whether the error chain contains a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsMalformedInput reports whether the error chain contains a MalformedInputError.
func IsMalformedInput(err error) bool {
	var me *MalformedInputError
	return errors.As(err, &me)
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsPermissionHTTPStatus reports whether an HTTP status is an
// authorization/approval failure.
func IsPermissionHTTPStatus(statusCode int) bool {
	return statusCode == 401 || statusCode == 403
}
