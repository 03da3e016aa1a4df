package coordinator

import (
	"errors"
	"fmt"
)

// ErrPlatformNotFound - the requested platform is not configured
var ErrPlatformNotFound = errors.New("platform not found")

// ErrAccountNotFound - the platform has no account under the requested key
var ErrAccountNotFound = errors.New("account not found")

// CredentialError - stored credentials could not be produced in usable
// form. Fatal for the request: retrying cannot recover a bad key or
// corrupt ciphertext.
type CredentialError struct {
	PlatformID string
	Key        string
	Err        error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error for %s/%s: %v", e.PlatformID, e.Key, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}
