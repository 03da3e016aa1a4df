package browser

import "fmt"

// FailureKind classifies why a login attempt failed. The set is closed;
// callers switch over it to decide how to report the failure.
type FailureKind string

const (
	// FailureTimeout - the attempt exceeded its time bound
	FailureTimeout FailureKind = "timeout"
	// FailureLocatorNotFound - a configured form selector matched nothing
	FailureLocatorNotFound FailureKind = "locator_not_found"
	// FailureIndicatorMismatch - the flow completed but the success indicator never fired
	FailureIndicatorMismatch FailureKind = "indicator_mismatch"
	// FailureRejectedByTarget - the platform refused the credentials (still on the login page)
	FailureRejectedByTarget FailureKind = "rejected_by_target"
	// FailureUnknown - browser automation failed for an unclassified reason
	FailureUnknown FailureKind = "unknown"
)

// LoginError is a structured login failure. Never contains credential values.
type LoginError struct {
	Kind       FailureKind
	PlatformID string
	Detail     string
	Err        error
}

func (e *LoginError) Error() string {
	msg := fmt.Sprintf("login failed (%s) for platform %s", e.Kind, e.PlatformID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoginError) Unwrap() error {
	return e.Err
}
