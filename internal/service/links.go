package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/porkli/link-rotator/internal/config"
	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
	"github.com/porkli/link-rotator/internal/useragent"
)

// LinkRepository defines the link persistence contract at the business
// logic layer.
type LinkRepository interface {
	Create(ctx context.Context, params database.CreateLinkParams) (*models.Link, error)
	GetByCode(ctx context.Context, shortCode string) (*models.Link, error)
	ReplaceDestinations(ctx context.Context, id int64, destinations []string, policy models.RotationPolicy) (*models.Link, error)
	SetPassword(ctx context.Context, id int64, hash *string) error
	AdvanceCursor(ctx context.Context, id int64, from, to int) error
	Delete(ctx context.Context, id int64) error
	ListActive(ctx context.Context) ([]database.ActiveLink, error)
	ListByOwner(ctx context.Context, ownerID int64, search string, limit, offset int) ([]*models.Link, error)
	CountByOwner(ctx context.Context, ownerID int64) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// ClickRepository defines the click analytics contract at the business
// logic layer.
type ClickRepository interface {
	Record(ctx context.Context, linkID int64, ipAddress, userAgent *string) error
	TotalClicks(ctx context.Context, linkID int64) (int64, error)
	UniqueClientCount(ctx context.Context, linkID int64) (int64, error)
	ClicksSince(ctx context.Context, linkID int64, since time.Time) (int64, error)
	DailyHistogram(ctx context.Context, linkID int64, days int) ([]models.DailyClicks, error)
	RecentClicks(ctx context.Context, linkID int64, limit int) ([]models.ClickEvent, error)
	UserAgentCounts(ctx context.Context, linkID int64) ([]database.UserAgentCount, error)
}

// SitemapNotifier is poked after any mutation that changes which codes
// exist or where they point. Implementations must not block.
type SitemapNotifier interface {
	Regenerate()
}

// Actor is the authenticated principal performing a mutation.
type Actor struct {
	// AccountID is nil for guests.
	AccountID *int64
	Admin     bool
}

func (a Actor) owns(link *models.Link) bool {
	if a.Admin {
		return true
	}
	return a.AccountID != nil && link.OwnerID != nil && *a.AccountID == *link.OwnerID
}

// CreateLinkParams carries the caller-supplied fields of a new link.
type CreateLinkParams struct {
	Destinations   []string
	RotationPolicy models.RotationPolicy
	CustomCode     string
	Password       string
	ExpiresIn      time.Duration
}

var customCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// reservedCodes cannot be claimed as custom codes; they collide with
// application routes.
var reservedCodes = map[string]struct{}{
	"api": {}, "admin": {}, "dashboard": {}, "login": {}, "register": {},
	"logout": {}, "public": {}, "includes": {}, "config": {}, "www": {},
	"mail": {}, "ftp": {}, "test": {},
}

const (
	codeGenRetries   = 5
	recentClickLimit = 10
	histogramDays    = 7
	browserLimit     = 5
)

// LinkService manages link lifecycle: creation, destination
// replacement, password management, deletion and analytics.
type LinkService struct {
	repo    LinkRepository
	clicks  ClickRepository
	sitemap SitemapNotifier
	logger  *slog.Logger
	cfg     config.Link
}

func NewLinkService(repo LinkRepository, clicks ClickRepository, sitemap SitemapNotifier, logger *slog.Logger, cfg config.Link) *LinkService {
	return &LinkService{
		repo:    repo,
		clicks:  clicks,
		sitemap: sitemap,
		logger:  logger,
		cfg:     cfg,
	}
}

// CreateLink validates and stores a new link. Guests get an automatic
// expiry; registered owners may pick a custom code and an explicit
// expiry. Generated codes are retried on collision since uniqueness is
// only decided by the store's atomic insert.
func (s *LinkService) CreateLink(ctx context.Context, actor Actor, params CreateLinkParams) (*models.Link, error) {
	const op = "service.LinkService.CreateLink"

	destinations, err := s.cleanDestinations(params.Destinations)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !params.RotationPolicy.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidRotationPolicy, params.RotationPolicy)
	}

	if actor.AccountID != nil {
		count, err := s.repo.CountByOwner(ctx, *actor.AccountID)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to count links: %w", op, err)
		}
		if count >= s.cfg.MaxPerOwner {
			return nil, fmt.Errorf("%s: %w", op, ErrLinkLimitReached)
		}
	}

	var passwordHash *string
	if params.Password != "" {
		hash, err := hashPassword(params.Password)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		passwordHash = &hash
	}

	var expiresAt *time.Time
	switch {
	case actor.AccountID == nil:
		// Guest links always expire.
		t := time.Now().Add(s.cfg.GuestTTL)
		expiresAt = &t
	case params.ExpiresIn > 0:
		t := time.Now().Add(params.ExpiresIn)
		expiresAt = &t
	}

	insert := database.CreateLinkParams{
		OwnerID:        actor.AccountID,
		Destinations:   destinations,
		RotationPolicy: params.RotationPolicy,
		PasswordHash:   passwordHash,
		ExpiresAt:      expiresAt,
	}

	var link *models.Link
	if params.CustomCode != "" {
		if actor.AccountID == nil {
			return nil, fmt.Errorf("%s: %w", op, ErrCustomCodeForbidden)
		}
		if err := validateCustomCode(params.CustomCode); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		insert.ShortCode = params.CustomCode
		link, err = s.repo.Create(ctx, insert)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to create link: %w", op, err)
		}
	} else {
		link, err = s.createWithGeneratedCode(ctx, insert)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	s.sitemap.Regenerate()

	return link, nil
}

// createWithGeneratedCode retries code generation on collision. The
// insert itself decides uniqueness; there is no check-then-insert
// window for two concurrent creations to slip through.
func (s *LinkService) createWithGeneratedCode(ctx context.Context, insert database.CreateLinkParams) (*models.Link, error) {
	for i := 0; i < codeGenRetries; i++ {
		shortCode, err := gonanoid.New(s.cfg.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate short code: %w", err)
		}

		insert.ShortCode = shortCode
		link, err := s.repo.Create(ctx, insert)
		if err != nil {
			if errors.Is(err, database.ErrCodeTaken) {
				continue
			}

			return nil, fmt.Errorf("failed to create link: %w", err)
		}

		return link, nil
	}

	return nil, ErrMaxRetriesExceeded
}

// ReplaceDestinations swaps a link's destination set and rotation
// policy. The store resets the cursor to 0 in the same atomic update.
func (s *LinkService) ReplaceDestinations(ctx context.Context, actor Actor, shortCode string, destinations []string, policy models.RotationPolicy) (*models.Link, error) {
	const op = "service.LinkService.ReplaceDestinations"

	cleaned, err := s.cleanDestinations(destinations)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !policy.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidRotationPolicy, policy)
	}

	link, err := s.authorize(ctx, actor, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := s.repo.ReplaceDestinations(ctx, link.ID, cleaned, policy)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to replace destinations: %w", op, err)
	}

	s.sitemap.Regenerate()

	return updated, nil
}

// SetPassword gates the link behind a new password, or removes the
// gate when password is empty.
func (s *LinkService) SetPassword(ctx context.Context, actor Actor, shortCode, password string) error {
	const op = "service.LinkService.SetPassword"

	link, err := s.authorize(ctx, actor, shortCode)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var hash *string
	if password != "" {
		h, err := hashPassword(password)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		hash = &h
	}

	if err := s.repo.SetPassword(ctx, link.ID, hash); err != nil {
		return fmt.Errorf("%s: failed to set password: %w", op, err)
	}

	return nil
}

// DeleteLink removes a link and, by cascade, its click history.
func (s *LinkService) DeleteLink(ctx context.Context, actor Actor, shortCode string) error {
	const op = "service.LinkService.DeleteLink"

	link, err := s.authorize(ctx, actor, shortCode)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.repo.Delete(ctx, link.ID); err != nil {
		return fmt.Errorf("%s: failed to delete link: %w", op, err)
	}

	s.sitemap.Regenerate()

	return nil
}

// ListLinks returns a page of the owner's links.
func (s *LinkService) ListLinks(ctx context.Context, ownerID int64, search string, page, perPage int) ([]*models.Link, int64, error) {
	const op = "service.LinkService.ListLinks"

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	links, err := s.repo.ListByOwner(ctx, ownerID, search, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: failed to list links: %w", op, err)
	}

	total, err := s.repo.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: failed to count links: %w", op, err)
	}

	return links, total, nil
}

// GetLinkStats assembles the click analytics for a link: totals,
// unique clients, today and last-week counts, the daily histogram,
// recent events and the browser-family breakdown.
func (s *LinkService) GetLinkStats(ctx context.Context, actor Actor, shortCode string) (*models.Link, *models.LinkStats, error) {
	const op = "service.LinkService.GetLinkStats"

	link, err := s.authorize(ctx, actor, shortCode)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	stats := new(models.LinkStats)

	if stats.TotalClicks, err = s.clicks.TotalClicks(ctx, link.ID); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if stats.UniqueClients, err = s.clicks.UniqueClientCount(ctx, link.ID); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if stats.TodayClicks, err = s.clicks.ClicksSince(ctx, link.ID, midnight); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if stats.WeekClicks, err = s.clicks.ClicksSince(ctx, link.ID, now.AddDate(0, 0, -7)); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if stats.Daily, err = s.clicks.DailyHistogram(ctx, link.ID, histogramDays); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if stats.Recent, err = s.clicks.RecentClicks(ctx, link.ID, recentClickLimit); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	counts, err := s.clicks.UserAgentCounts(ctx, link.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	stats.Browsers = topBrowserFamilies(counts, browserLimit)

	return link, stats, nil
}

// authorize loads a link by code and checks actor ownership. A link the
// actor may not touch surfaces ErrPermissionDenied; a missing or
// expired one surfaces the store's not-found error.
func (s *LinkService) authorize(ctx context.Context, actor Actor, shortCode string) (*models.Link, error) {
	link, err := s.repo.GetByCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	if !actor.owns(link) {
		return nil, ErrPermissionDenied
	}

	return link, nil
}

// cleanDestinations trims, drops empties and validates the destination
// list against the configured limit.
func (s *LinkService) cleanDestinations(destinations []string) ([]string, error) {
	cleaned := make([]string, 0, len(destinations))
	for _, dest := range destinations {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			continue
		}
		if !validDestination(dest) {
			return nil, fmt.Errorf("%w: invalid url %q", ErrInvalidDestinations, dest)
		}
		cleaned = append(cleaned, dest)
	}

	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: at least one destination is required", ErrInvalidDestinations)
	}
	if len(cleaned) > s.cfg.MaxDestinations {
		return nil, fmt.Errorf("%w: at most %d destinations allowed", ErrInvalidDestinations, s.cfg.MaxDestinations)
	}

	return cleaned, nil
}

func validDestination(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validateCustomCode(code string) error {
	if !customCodePattern.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCustomCode, code)
	}
	if _, ok := reservedCodes[strings.ToLower(code)]; ok {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidCustomCode, code)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// topBrowserFamilies folds raw user-agent counts into browser families
// and returns the top limit families by click count.
func topBrowserFamilies(counts []database.UserAgentCount, limit int) []models.BrowserClicks {
	totals := make(map[string]int64)
	for _, c := range counts {
		family := useragent.FamilyOther
		if c.UserAgent != nil {
			family = useragent.Family(*c.UserAgent)
		}
		totals[family] += c.Clicks
	}

	browsers := make([]models.BrowserClicks, 0, len(totals))
	for family, clicks := range totals {
		browsers = append(browsers, models.BrowserClicks{Browser: family, Clicks: clicks})
	}

	sort.Slice(browsers, func(i, j int) bool {
		if browsers[i].Clicks != browsers[j].Clicks {
			return browsers[i].Clicks > browsers[j].Clicks
		}
		return browsers[i].Browser < browsers[j].Browser
	})

	if len(browsers) > limit {
		browsers = browsers[:limit]
	}

	return browsers
}
