package http

import (
	"strings"
	"time"

	"github.com/porkli/link-rotator/internal/models"
)

// createLinkRequest is the payload for registering a new short link.
type createLinkRequest struct {
	Destinations   []string `json:"destinations" validate:"required,min=1,dive,required"`
	RotationPolicy string   `json:"rotation_policy" validate:"omitempty,oneof=round_robin random"`
	CustomCode     string   `json:"custom_code" validate:"omitempty,min=3,max=50"`
	Password       string   `json:"password" validate:"omitempty,min=4,max=72"`
	ExpiresIn      int64    `json:"expires_in_seconds" validate:"omitempty,min=60"`
	CaptchaAnswer  string   `json:"captcha_answer"`
}

// updateLinkRequest replaces the destination set of an existing link.
type updateLinkRequest struct {
	Destinations   []string `json:"destinations" validate:"required,min=1,dive,required"`
	RotationPolicy string   `json:"rotation_policy" validate:"omitempty,oneof=round_robin random"`
}

// setPasswordRequest sets or, with an empty password, removes the
// password gate on a link.
type setPasswordRequest struct {
	Password string `json:"password" validate:"omitempty,min=4,max=72"`
}

// verifyPasswordRequest unlocks a protected link for the calling client.
type verifyPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// linkResponse is the representation of a link in API responses. The
// password itself never leaves the server, only the fact that one is set.
type linkResponse struct {
	ID             int64      `json:"id"`
	ShortCode      string     `json:"short_code"`
	ShortURL       string     `json:"short_url"`
	Destinations   []string   `json:"destinations"`
	RotationPolicy string     `json:"rotation_policy"`
	HasPassword    bool       `json:"has_password"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toLinkResponse(link *models.Link, baseURL string) linkResponse {
	return linkResponse{
		ID:             link.ID,
		ShortCode:      link.ShortCode,
		ShortURL:       shortURL(baseURL, link.ShortCode),
		Destinations:   link.Destinations,
		RotationPolicy: string(link.RotationPolicy),
		HasPassword:    link.Protected(),
		ExpiresAt:      link.ExpiresAt,
		CreatedAt:      link.CreatedAt,
		UpdatedAt:      link.UpdatedAt,
	}
}

// linkListResponse is a paginated page of links.
type linkListResponse struct {
	Links   []linkResponse `json:"links"`
	Total   int64          `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

// statsResponse carries the aggregate counters for a link.
type statsResponse struct {
	linkResponse
	TotalClicks   int64 `json:"total_clicks"`
	UniqueClients int64 `json:"unique_clients"`
	TodayClicks   int64 `json:"today_clicks"`
	WeekClicks    int64 `json:"week_clicks"`
}

// analyticsResponse carries the detailed click breakdown for a link.
type analyticsResponse struct {
	ShortCode string            `json:"short_code"`
	Daily     []dailyResponse   `json:"daily"`
	Browsers  []browserResponse `json:"browsers"`
	Recent    []clickResponse   `json:"recent"`
}

type dailyResponse struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

type browserResponse struct {
	Browser string `json:"browser"`
	Clicks  int64  `json:"clicks"`
}

type clickResponse struct {
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	ClickedAt time.Time `json:"clicked_at"`
}

func toClickResponse(click models.ClickEvent) clickResponse {
	resp := clickResponse{
		ClickedAt: click.ClickedAt,
	}

	if click.IPAddress != nil {
		resp.IPAddress = *click.IPAddress
	}
	if click.UserAgent != nil {
		resp.UserAgent = *click.UserAgent
	}

	return resp
}

// linkPreviewResponse is what automated agents receive instead of a
// redirect: enough metadata to render a preview without following the
// rotation.
type linkPreviewResponse struct {
	ShortCode   string `json:"short_code"`
	ShortURL    string `json:"short_url"`
	Destination string `json:"destination"`
	Domain      string `json:"domain"`
}

func shortURL(baseURL, code string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + code
}
