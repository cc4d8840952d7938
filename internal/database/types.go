package database

import (
	"time"

	"github.com/porkli/link-rotator/internal/models"
)

// CreateLinkParams carries the fields needed to insert a new link.
type CreateLinkParams struct {
	OwnerID        *int64
	ShortCode      string
	Destinations   []string
	RotationPolicy models.RotationPolicy
	PasswordHash   *string
	ExpiresAt      *time.Time
}

// ActiveLink is the sitemap projection of an unexpired link.
type ActiveLink struct {
	ShortCode string    `db:"short_code"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UserAgentCount pairs a raw user-agent string with its click count.
// Classification into browser families happens in the service layer.
type UserAgentCount struct {
	UserAgent *string `db:"user_agent"`
	Clicks    int64   `db:"clicks"`
}
