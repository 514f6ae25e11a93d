package service

import (
	"errors"
	"fmt"

	"github.com/loykin/remoto/internal/capture"
)

var (
	// ErrDependencyMissing means a required executable was not found or did
	// not run. Nothing is spawned when this is returned.
	ErrDependencyMissing = errors.New("dependency missing")
	// ErrStartVerification means a service was spawned but never reached a
	// verifiable running state within its settle window.
	ErrStartVerification = errors.New("service did not verify as running")
	// ErrCaptureTimeout and ErrStreamClosed mean a tunnel never printed a URL.
	ErrCaptureTimeout = capture.ErrTimeout
	ErrStreamClosed   = capture.ErrStreamClosed
)

// StartError describes a fatal start failure with a suggested remedy.
type StartError struct {
	Service string
	Err     error
	Remedy  string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Service, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

func startErr(svc string, err error, remedy string) *StartError {
	return &StartError{Service: svc, Err: err, Remedy: remedy}
}

// Reason maps an error to a short label used in metrics and history.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDependencyMissing):
		return "dependency_missing"
	case errors.Is(err, ErrCaptureTimeout):
		return "capture_timeout"
	case errors.Is(err, ErrStreamClosed):
		return "stream_closed"
	case errors.Is(err, ErrStartVerification):
		return "verification_failed"
	default:
		return "error"
	}
}

// StopError records a failure to stop one service. Stopping continues with
// the remaining services; the caller receives all of them joined.
type StopError struct {
	Service string
	Err     error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop %s: %v", e.Service, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
