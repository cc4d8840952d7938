package models

import "time"

// RotationPolicy determines how a destination is chosen when a link
// holds more than one destination URL.
type RotationPolicy string

const (
	// RotationRoundRobin serves destinations in order, advancing a
	// persisted cursor on every resolution.
	RotationRoundRobin RotationPolicy = "round_robin"
	// RotationRandom serves a uniformly random destination and keeps
	// no per-link state.
	RotationRandom RotationPolicy = "random"
)

// Valid reports whether p is a known rotation policy.
func (p RotationPolicy) Valid() bool {
	return p == RotationRoundRobin || p == RotationRandom
}

// Link represents a short code mapping to one or more destination URLs.
type Link struct {
	// ID is the unique identifier for the link record.
	ID int64
	// OwnerID identifies the owning account; nil for guest-created links.
	OwnerID *int64
	// ShortCode is the unique, URL-safe path segment of the link.
	ShortCode string
	// Destinations is the ordered, non-empty list of destination URLs.
	// Order is significant under round-robin rotation.
	Destinations []string
	// RotationPolicy is the rule for picking a destination among several.
	RotationPolicy RotationPolicy
	// Cursor is the round-robin position, always in [0, len(Destinations)).
	// It is meaningless under the random policy.
	Cursor int
	// PasswordHash is the bcrypt hash gating access to the link; nil when
	// the link is public.
	PasswordHash *string
	// ExpiresAt is the absolute expiry time; nil means the link is permanent.
	ExpiresAt *time.Time
	// CreatedAt is the timestamp indicating when the link was created.
	CreatedAt time.Time
	// UpdatedAt is bumped on any mutation, including cursor advances.
	UpdatedAt time.Time
}

// Protected reports whether the link is gated behind a password.
func (l *Link) Protected() bool {
	return l.PasswordHash != nil && *l.PasswordHash != ""
}

// Expired reports whether the link is past its expiry at the given time.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}
