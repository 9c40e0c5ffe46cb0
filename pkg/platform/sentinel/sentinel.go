// Package sentinel names the infrastructure facts stores report. Services
// translate them into domain errors; validation failures never use them.
package sentinel

import "errors"

var (
	// ErrNotFound: no settings row, or no cache entry, exists.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable: a backing service did not answer.
	ErrUnavailable = errors.New("unavailable")
)
