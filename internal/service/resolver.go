package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
	"github.com/porkli/link-rotator/internal/useragent"
)

// cursorRetries bounds the number of compare-and-swap attempts before
// a resolution falls back to serving without advancing the cursor.
const cursorRetries = 5

// recordTimeout caps how long a detached click-recording goroutine may
// hold a database connection.
const recordTimeout = 5 * time.Second

// ClickRecorder is the write-side contract the resolver needs for
// best-effort click accounting.
type ClickRecorder interface {
	Record(ctx context.Context, linkID int64, ipAddress, userAgent *string) error
}

// Client identifies the requester of a resolution.
type Client struct {
	// ID is the per-client identifier used to scope access grants.
	ID string
	// IP is the client address, empty when unknown.
	IP string
	// UserAgent is the raw User-Agent header, empty when absent.
	UserAgent string
}

// Outcome is the terminal state of a resolution.
type Outcome int

const (
	// OutcomeDestination means a destination was selected and should
	// be served.
	OutcomeDestination Outcome = iota
	// OutcomeNotFound covers both missing and expired codes; callers
	// must not be able to tell the two apart.
	OutcomeNotFound
	// OutcomePasswordRequired means the link is gated and the client
	// holds no valid grant.
	OutcomePasswordRequired
)

// Resolution is the result of resolving a short code.
type Resolution struct {
	Outcome Outcome
	// URL is the chosen destination, set only for OutcomeDestination.
	URL string
	// Link is the resolved link, set for OutcomeDestination and
	// OutcomePasswordRequired.
	Link *models.Link
	// Agent classifies the requester; it affects only the response
	// shape, never the outcome.
	Agent useragent.Agent
}

// Resolver orchestrates a single resolution: lookup, access gate,
// rotation with CAS cursor advancement, and best-effort click
// recording. Resolutions of the same code may run concurrently.
type Resolver struct {
	repo   LinkRepository
	gate   *AccessGate
	clicks ClickRecorder
	logger *slog.Logger
}

func NewResolver(repo LinkRepository, gate *AccessGate, clicks ClickRecorder, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		gate:   gate,
		clicks: clicks,
		logger: logger,
	}
}

// Resolve determines the outcome for a short code. Store failures
// during lookup, gate check or rotation are fatal to the request;
// click-recording failures are logged and swallowed. No click is
// recorded and no cursor advanced unless a destination is served.
func (r *Resolver) Resolve(ctx context.Context, shortCode string, client Client) (Resolution, error) {
	const op = "service.Resolver.Resolve"

	link, err := r.repo.GetByCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return Resolution{Outcome: OutcomeNotFound}, nil
		}

		return Resolution{}, fmt.Errorf("%s: failed to look up link: %w", op, err)
	}

	allowed, err := r.gate.Check(ctx, link, client.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("%s: failed to check access: %w", op, err)
	}
	if !allowed {
		return Resolution{
			Outcome: OutcomePasswordRequired,
			Link:    link,
			Agent:   useragent.Classify(client.UserAgent),
		}, nil
	}

	url, err := r.rotate(ctx, link)
	if err != nil {
		// The link can expire or be deleted between the initial lookup
		// and a conflict re-read; that is a miss, not a failure.
		if errors.Is(err, database.ErrLinkNotFound) {
			return Resolution{Outcome: OutcomeNotFound}, nil
		}

		return Resolution{}, fmt.Errorf("%s: failed to rotate: %w", op, err)
	}

	r.recordClick(ctx, link.ID, client)

	return Resolution{
		Outcome: OutcomeDestination,
		URL:     url,
		Link:    link,
		Agent:   useragent.Classify(client.UserAgent),
	}, nil
}

// rotate picks the destination and applies the cursor advance via
// compare-and-swap. A lost CAS means a concurrent resolution advanced
// from the same cursor; the link is re-read and the selection
// recomputed so no destination is skipped and no advance is lost.
// After cursorRetries conflicts the last-read cursor's destination is
// served without advancing: availability over perfect fairness.
func (r *Resolver) rotate(ctx context.Context, link *models.Link) (string, error) {
	url, next, advance := selectDestination(link)
	if !advance {
		return url, nil
	}

	for attempt := 0; attempt < cursorRetries; attempt++ {
		err := r.repo.AdvanceCursor(ctx, link.ID, link.Cursor, next)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, database.ErrCursorConflict) {
			return "", err
		}

		fresh, err := r.repo.GetByCode(ctx, link.ShortCode)
		if err != nil {
			return "", err
		}
		*link = *fresh

		url, next, advance = selectDestination(link)
		if !advance {
			return url, nil
		}
	}

	r.logger.Warn("cursor contention, serving without advance",
		slog.Int64("link_id", link.ID),
		slog.Int("cursor", link.Cursor),
	)

	return url, nil
}

// recordClick dispatches click recording on a detached context so it
// never blocks or fails the response.
func (r *Resolver) recordClick(ctx context.Context, linkID int64, client Client) {
	var ip, ua *string
	if client.IP != "" {
		ip = &client.IP
	}
	if client.UserAgent != "" {
		ua = &client.UserAgent
	}

	detached := context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(detached, recordTimeout)
		defer cancel()

		if err := r.clicks.Record(ctx, linkID, ip, ua); err != nil {
			r.logger.Error("failed to record click",
				slog.Int64("link_id", linkID),
				slog.Any("err", err),
			)
		}
	}()
}
