package service

import "errors"

var (
	// ErrMaxRetriesExceeded is returned when the maximum number of retries
	// for generating a unique short code is exceeded.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")
	// ErrInvalidDestinations is returned when the destination set is empty,
	// over the limit, or contains a malformed URL.
	ErrInvalidDestinations = errors.New("invalid destination set")
	// ErrInvalidRotationPolicy is returned for an unknown rotation policy.
	ErrInvalidRotationPolicy = errors.New("invalid rotation policy")
	// ErrInvalidCustomCode is returned when a requested custom code is
	// malformed or reserved.
	ErrInvalidCustomCode = errors.New("invalid custom code")
	// ErrCustomCodeForbidden is returned when a guest requests a custom code.
	ErrCustomCodeForbidden = errors.New("custom codes require a registered account")
	// ErrLinkLimitReached is returned when an owner already holds the
	// maximum number of links.
	ErrLinkLimitReached = errors.New("link limit reached")
	// ErrWrongPassword is returned when password verification fails.
	// No grant is issued and no state changes.
	ErrWrongPassword = errors.New("wrong password")
	// ErrPermissionDenied is returned when an actor mutates a link they
	// do not own.
	ErrPermissionDenied = errors.New("permission denied")
)
