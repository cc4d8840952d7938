package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
)

type clickRecord struct {
	ID        int64     `db:"id"`
	LinkID    int64     `db:"link_id"`
	ClickedAt time.Time `db:"clicked_at"`
	IPAddress *string   `db:"ip_address"`
	UserAgent *string   `db:"user_agent"`
}

func (r *clickRecord) ToClickEvent() models.ClickEvent {
	return models.ClickEvent{
		ID:        r.ID,
		LinkID:    r.LinkID,
		ClickedAt: r.ClickedAt,
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
	}
}

// ClickRepository appends and aggregates click events. Events are
// immutable; the only delete path is the cascade from link removal.
type ClickRepository struct {
	db *sqlx.DB
}

func NewClickRepository(db *sqlx.DB) *ClickRepository {
	return &ClickRepository{
		db: db,
	}
}

// Record appends a click event for a link.
func (r *ClickRepository) Record(ctx context.Context, linkID int64, ipAddress, userAgent *string) error {
	const op = "database.postgres.ClickRepository.Record"

	query := `INSERT INTO link_clicks(link_id, ip_address, user_agent) VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, linkID, ipAddress, userAgent); err != nil {
		return fmt.Errorf("%s: failed to record click: %w", op, err)
	}

	return nil
}

// TotalClicks returns the lifetime click count for a link.
func (r *ClickRepository) TotalClicks(ctx context.Context, linkID int64) (int64, error) {
	const op = "database.postgres.ClickRepository.TotalClicks"

	var count int64
	query := `SELECT COUNT(*) FROM link_clicks WHERE link_id = $1`

	if err := r.db.GetContext(ctx, &count, query, linkID); err != nil {
		return 0, fmt.Errorf("%s: failed to count clicks: %w", op, err)
	}

	return count, nil
}

// UniqueClientCount returns the number of distinct client addresses
// among a link's recorded clicks.
func (r *ClickRepository) UniqueClientCount(ctx context.Context, linkID int64) (int64, error) {
	const op = "database.postgres.ClickRepository.UniqueClientCount"

	var count int64
	query := `SELECT COUNT(DISTINCT ip_address) FROM link_clicks WHERE link_id = $1`

	if err := r.db.GetContext(ctx, &count, query, linkID); err != nil {
		return 0, fmt.Errorf("%s: failed to count unique clients: %w", op, err)
	}

	return count, nil
}

// ClicksSince returns the click count for a link since the given time.
func (r *ClickRepository) ClicksSince(ctx context.Context, linkID int64, since time.Time) (int64, error) {
	const op = "database.postgres.ClickRepository.ClicksSince"

	var count int64
	query := `SELECT COUNT(*) FROM link_clicks WHERE link_id = $1 AND clicked_at >= $2`

	if err := r.db.GetContext(ctx, &count, query, linkID, since); err != nil {
		return 0, fmt.Errorf("%s: failed to count clicks: %w", op, err)
	}

	return count, nil
}

// DailyHistogram returns per-day click counts for the last days days,
// most recent day first. Days with no clicks are omitted.
func (r *ClickRepository) DailyHistogram(ctx context.Context, linkID int64, days int) ([]models.DailyClicks, error) {
	const op = "database.postgres.ClickRepository.DailyHistogram"

	var rows []struct {
		Date   time.Time `db:"date"`
		Clicks int64     `db:"clicks"`
	}
	query := `SELECT date_trunc('day', clicked_at) AS date, COUNT(*) AS clicks
		FROM link_clicks
		WHERE link_id = $1 AND clicked_at >= now() - ($2 || ' days')::interval
		GROUP BY date
		ORDER BY date DESC`

	if err := r.db.SelectContext(ctx, &rows, query, linkID, days); err != nil {
		return nil, fmt.Errorf("%s: failed to build histogram: %w", op, err)
	}

	daily := make([]models.DailyClicks, 0, len(rows))
	for _, row := range rows {
		daily = append(daily, models.DailyClicks{Date: row.Date, Clicks: row.Clicks})
	}

	return daily, nil
}

// RecentClicks returns the most recent click events for a link.
func (r *ClickRepository) RecentClicks(ctx context.Context, linkID int64, limit int) ([]models.ClickEvent, error) {
	const op = "database.postgres.ClickRepository.RecentClicks"

	var recs []clickRecord
	query := `SELECT * FROM link_clicks WHERE link_id = $1 ORDER BY clicked_at DESC LIMIT $2`

	if err := r.db.SelectContext(ctx, &recs, query, linkID, limit); err != nil {
		return nil, fmt.Errorf("%s: failed to list recent clicks: %w", op, err)
	}

	events := make([]models.ClickEvent, 0, len(recs))
	for i := range recs {
		events = append(events, recs[i].ToClickEvent())
	}

	return events, nil
}

// UserAgentCounts returns click counts grouped by the raw user-agent
// string for a link.
func (r *ClickRepository) UserAgentCounts(ctx context.Context, linkID int64) ([]database.UserAgentCount, error) {
	const op = "database.postgres.ClickRepository.UserAgentCounts"

	var counts []database.UserAgentCount
	query := `SELECT user_agent, COUNT(*) AS clicks
		FROM link_clicks
		WHERE link_id = $1
		GROUP BY user_agent`

	if err := r.db.SelectContext(ctx, &counts, query, linkID); err != nil {
		return nil, fmt.Errorf("%s: failed to count user agents: %w", op, err)
	}

	return counts, nil
}
