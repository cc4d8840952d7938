package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reaper physically removes expired links in the background. It never
// runs inside a resolution: a link found expired by lookup is simply
// reported not found and left for the next sweep.
type Reaper struct {
	repo    LinkRepository
	sitemap SitemapNotifier
	logger  *slog.Logger
}

func NewReaper(repo LinkRepository, sitemap SitemapNotifier, logger *slog.Logger) *Reaper {
	return &Reaper{
		repo:    repo,
		sitemap: sitemap,
		logger:  logger,
	}
}

// Sweep deletes all expired links, cascading to their click events,
// and returns the number deleted. Sweeps are idempotent: with nothing
// expired the count is 0.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	const op = "service.Reaper.Sweep"

	deleted, err := r.repo.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to sweep expired links: %w", op, err)
	}

	if deleted > 0 {
		r.sitemap.Regenerate()
	}

	return deleted, nil
}

// Run sweeps on the given interval until ctx is cancelled. Sweep
// failures are logged and the loop keeps going.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("sweep failed", slog.Any("err", err))
				continue
			}
			if deleted > 0 {
				r.logger.Info("swept expired links", slog.Int64("deleted", deleted))
			}
		}
	}
}
