package database

import "errors"

var (
	// ErrCodeTaken is returned when an attempt is made to create
	// a link with a short code that already exists.
	ErrCodeTaken = errors.New("short code taken")
	// ErrLinkNotFound is returned when no link exists for a short code,
	// or when the link has expired. The two cases are indistinguishable
	// to callers.
	ErrLinkNotFound = errors.New("link not found")
	// ErrCursorConflict is returned when a compare-and-swap cursor
	// advance loses to a concurrent advance on the same link.
	ErrCursorConflict = errors.New("cursor conflict")
)
