// Package errdefs defines the error classes shared by the server packages.
//
// Bootstrap failures are wrapped with one of the sentinels below so callers can
// tell a misconfigured server apart from a broken plugin or a failed setup step
// with errors.Is. Request-time failures carry an HTTP status via StatusError.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration marks invalid options, duplicate registrations and
	// malformed setup dependency graphs.
	ErrConfiguration = errors.New("configuration error")
	// ErrPluginLoad marks a plugin that could not be resolved or validated.
	ErrPluginLoad = errors.New("plugin load error")
	// ErrSetupAction marks a setup action that failed during execution.
	ErrSetupAction = errors.New("setup action failed")
)

// Configuration wraps err as a configuration error.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// StatusError is an error that should be answered with Status.
type StatusError struct {
	Status int
	Err    error
}

// NewStatusError returns err annotated with the given HTTP status.
func NewStatusError(status int, err error) *StatusError {
	return &StatusError{Status: status, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode reports the HTTP status attached to err, defaulting to 500.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Status != 0 {
		return se.Status
	}
	return http.StatusInternalServerError
}
