// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// commerce services to distinguish between different failure scenarios
// without knowing which store backs them.
package repository

import "errors"

// ErrNotFound is returned when a session or a non-deleted session product
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert would violate the natural key
// (session, product, variant) among non-deleted rows. Handlers should
// translate this into an HTTP 409 response.
var ErrDuplicate = errors.New("duplicate")

// ErrConflict is returned when an update lost an optimistic version check:
// the row changed between read and write.
var ErrConflict = errors.New("conflict")
