package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
)

var errUnknown = errors.New("unknown error")

type MockLinkRepository struct {
	mock.Mock
}

func (r *MockLinkRepository) Create(ctx context.Context, params database.CreateLinkParams) (*models.Link, error) {
	args := r.Called(ctx, params)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) GetByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	args := r.Called(ctx, shortCode)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) ReplaceDestinations(ctx context.Context, id int64, destinations []string, policy models.RotationPolicy) (*models.Link, error) {
	args := r.Called(ctx, id, destinations, policy)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (r *MockLinkRepository) SetPassword(ctx context.Context, id int64, hash *string) error {
	args := r.Called(ctx, id, hash)
	return args.Error(0)
}

func (r *MockLinkRepository) AdvanceCursor(ctx context.Context, id int64, from, to int) error {
	args := r.Called(ctx, id, from, to)
	return args.Error(0)
}

func (r *MockLinkRepository) Delete(ctx context.Context, id int64) error {
	args := r.Called(ctx, id)
	return args.Error(0)
}

func (r *MockLinkRepository) ListActive(ctx context.Context) ([]database.ActiveLink, error) {
	args := r.Called(ctx)
	links, _ := args.Get(0).([]database.ActiveLink)
	return links, args.Error(1)
}

func (r *MockLinkRepository) ListByOwner(ctx context.Context, ownerID int64, search string, limit, offset int) ([]*models.Link, error) {
	args := r.Called(ctx, ownerID, search, limit, offset)
	links, _ := args.Get(0).([]*models.Link)
	return links, args.Error(1)
}

func (r *MockLinkRepository) CountByOwner(ctx context.Context, ownerID int64) (int64, error) {
	args := r.Called(ctx, ownerID)
	return args.Get(0).(int64), args.Error(1)
}

func (r *MockLinkRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := r.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockClickRepository struct {
	mock.Mock

	recorded chan struct{}
}

func (r *MockClickRepository) Record(ctx context.Context, linkID int64, ipAddress, userAgent *string) error {
	args := r.Called(ctx, linkID, ipAddress, userAgent)
	if r.recorded != nil {
		r.recorded <- struct{}{}
	}
	return args.Error(0)
}

func (r *MockClickRepository) TotalClicks(ctx context.Context, linkID int64) (int64, error) {
	args := r.Called(ctx, linkID)
	return args.Get(0).(int64), args.Error(1)
}

func (r *MockClickRepository) UniqueClientCount(ctx context.Context, linkID int64) (int64, error) {
	args := r.Called(ctx, linkID)
	return args.Get(0).(int64), args.Error(1)
}

func (r *MockClickRepository) ClicksSince(ctx context.Context, linkID int64, since time.Time) (int64, error) {
	args := r.Called(ctx, linkID, since)
	return args.Get(0).(int64), args.Error(1)
}

func (r *MockClickRepository) DailyHistogram(ctx context.Context, linkID int64, days int) ([]models.DailyClicks, error) {
	args := r.Called(ctx, linkID, days)
	daily, _ := args.Get(0).([]models.DailyClicks)
	return daily, args.Error(1)
}

func (r *MockClickRepository) RecentClicks(ctx context.Context, linkID int64, limit int) ([]models.ClickEvent, error) {
	args := r.Called(ctx, linkID, limit)
	events, _ := args.Get(0).([]models.ClickEvent)
	return events, args.Error(1)
}

func (r *MockClickRepository) UserAgentCounts(ctx context.Context, linkID int64) ([]database.UserAgentCount, error) {
	args := r.Called(ctx, linkID)
	counts, _ := args.Get(0).([]database.UserAgentCount)
	return counts, args.Error(1)
}

// memoryGrantStore is an in-memory GrantStore for tests. Grants carry
// their issue time and lapse after ttl, measured against the injected
// clock.
type memoryGrantStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	grants map[string]models.AccessGrant
}

func newMemoryGrantStore(ttl time.Duration) *memoryGrantStore {
	return &memoryGrantStore{
		ttl:    ttl,
		now:    time.Now,
		grants: make(map[string]models.AccessGrant),
	}
}

func (s *memoryGrantStore) Grant(_ context.Context, clientID, shortCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[clientID+":"+shortCode] = models.AccessGrant{
		ShortCode: shortCode,
		ClientID:  clientID,
		GrantedAt: s.now(),
	}
	return nil
}

func (s *memoryGrantStore) Valid(_ context.Context, clientID, shortCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[clientID+":"+shortCode]
	if !ok {
		return false, nil
	}

	return grant.ValidAt(s.now(), s.ttl), nil
}

// sitemapSpy counts Regenerate calls.
type sitemapSpy struct {
	calls atomic.Int64
}

func (s *sitemapSpy) Regenerate() {
	s.calls.Add(1)
}
