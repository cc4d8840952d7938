package models

import "time"

// ClickEvent is an append-only record of a single resolved visit.
// Events are never updated and are removed only when their owning
// link is deleted.
type ClickEvent struct {
	ID        int64
	LinkID    int64
	ClickedAt time.Time
	// IPAddress is the client address, when known.
	IPAddress *string
	// UserAgent is the raw User-Agent header, when present.
	UserAgent *string
}

// DailyClicks is a single bucket of the per-day click histogram.
type DailyClicks struct {
	Date   time.Time
	Clicks int64
}

// BrowserClicks counts clicks attributed to a browser family.
type BrowserClicks struct {
	Browser string
	Clicks  int64
}

// LinkStats aggregates click analytics for a single link.
type LinkStats struct {
	TotalClicks   int64
	UniqueClients int64
	TodayClicks   int64
	WeekClicks    int64
	Daily         []DailyClicks
	Browsers      []BrowserClicks
	Recent        []ClickEvent
}
