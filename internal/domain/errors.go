package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientIO covers network failures against geocoding and routing backends
	ErrTransientIO = errors.New("transient io failure")
	// ErrPermissionDenied is returned when the device refuses to share its location
	ErrPermissionDenied = errors.New("geolocation permission denied")
	// ErrGeolocationUnsupported is a PermissionDenied raised when no location source exists
	ErrGeolocationUnsupported = fmt.Errorf("%w: geolocation is not supported", ErrPermissionDenied)
	// ErrTimeout is returned when a one-shot position fetch runs out of time
	ErrTimeout = errors.New("timed out")
	// ErrInvariantViolation marks requests the engine refuses to act on
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrRoutingFailed is a rendering failure of the fallback router
	ErrRoutingFailed = errors.New("fallback routing failed")
	// ErrUnknownDepot is returned for depot names outside the catalogue
	ErrUnknownDepot = errors.New("unknown depot")
)

// ErrorKind names the category of an error for clients
type ErrorKind string

const (
	KindTransientIO        ErrorKind = "transient_io"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindTimeout            ErrorKind = "timeout"
	KindInvariantViolation ErrorKind = "invariant_violation"
	KindRoutingFailed      ErrorKind = "routing_failed"
	KindUnknown            ErrorKind = "unknown"
)

// Classify maps an error onto its category
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvariantViolation), errors.Is(err, ErrUnknownDepot):
		return KindInvariantViolation
	case errors.Is(err, ErrRoutingFailed):
		return KindRoutingFailed
	case errors.Is(err, ErrTransientIO):
		return KindTransientIO
	default:
		return KindUnknown
	}
}
