package models

import "time"

// AccessGrant is a time-bounded proof that a client has supplied the
// correct password for a short code. Grants are scoped to a single
// client and never stored alongside the link itself.
type AccessGrant struct {
	ShortCode string
	ClientID  string
	GrantedAt time.Time
}

// ValidAt reports whether the grant is still usable at the given time.
func (g *AccessGrant) ValidAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(g.GrantedAt) < ttl
}
