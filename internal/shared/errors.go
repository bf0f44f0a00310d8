package shared

import "errors"

var (
	// ErrMissingActor indicates a request reached the engine without identity headers.
	ErrMissingActor = errors.New("actor identity missing")
	// ErrMissingCompany indicates a request without a tenant scope.
	ErrMissingCompany = errors.New("company scope missing")
)
