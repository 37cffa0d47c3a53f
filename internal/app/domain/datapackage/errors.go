package datapackage

import "errors"

// Sentinel errors forming the error taxonomy of the hot path. Callers match
// them with errors.Is; services wrap them with context via fmt.Errorf.
var (
	// ErrValidation marks malformed caller input (client fault, not retried).
	ErrValidation = errors.New("invalid request")

	// ErrAuthentication marks a batch signature that does not recover to a
	// submitter identity. Raised before any persistence side effect.
	ErrAuthentication = errors.New("request authentication failed")

	// ErrEmptyResponse means no eligible stored package exists for the
	// requested partition and window. It is distinct from a store fault so
	// callers can tell "nothing reported" from a transient error. Empty
	// responses are never cached.
	ErrEmptyResponse = errors.New("no data packages for requested criteria")
)
