package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/porkli/link-rotator/internal/config"
	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
)

func testLinkConfig() config.Link {
	return config.Link{
		CodeLength:      6,
		MaxDestinations: 3,
		MaxPerOwner:     2,
		GuestTTL:        7 * 24 * time.Hour,
		GrantTTL:        time.Hour,
	}
}

func setupLinkService(t testing.TB) (*LinkService, *MockLinkRepository, *MockClickRepository, *sitemapSpy) {
	t.Helper()

	repoMock := new(MockLinkRepository)
	clicksMock := new(MockClickRepository)
	sitemap := new(sitemapSpy)
	svc := NewLinkService(repoMock, clicksMock, sitemap, discardLogger(), testLinkConfig())

	return svc, repoMock, clicksMock, sitemap
}

func owner(id int64) Actor {
	return Actor{AccountID: &id}
}

func TestLinkService_CreateLink(t *testing.T) {
	guest := Actor{}

	t.Run("no destinations", func(t *testing.T) {
		svc, _, _, _ := setupLinkService(t)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"", "   "},
			RotationPolicy: models.RotationRoundRobin,
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidDestinations)
		assert.Nil(t, link)
	})

	t.Run("malformed destination", func(t *testing.T) {
		svc, _, _, _ := setupLinkService(t)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"not a url"},
			RotationPolicy: models.RotationRoundRobin,
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidDestinations)
		assert.Nil(t, link)
	})

	t.Run("too many destinations", func(t *testing.T) {
		svc, _, _, _ := setupLinkService(t)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations: []string{
				"https://a.example", "https://b.example",
				"https://c.example", "https://d.example",
			},
			RotationPolicy: models.RotationRoundRobin,
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidDestinations)
		assert.Nil(t, link)
	})

	t.Run("invalid rotation policy", func(t *testing.T) {
		svc, _, _, _ := setupLinkService(t)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: "weighted",
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRotationPolicy)
		assert.Nil(t, link)
	})

	t.Run("guest links always expire", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		repoMock.
			On("Create", mock.Anything, mock.MatchedBy(func(p database.CreateLinkParams) bool {
				return p.OwnerID == nil &&
					p.ExpiresAt != nil &&
					time.Until(*p.ExpiresAt) > 6*24*time.Hour &&
					len(p.ShortCode) == 6
			})).
			Times(1).
			Return(roundRobinLink(0), nil)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
		})

		assert.NoError(t, err)
		assert.NotNil(t, link)
		assert.Equal(t, int64(1), sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})

	t.Run("guest cannot claim a custom code", func(t *testing.T) {
		svc, _, _, _ := setupLinkService(t)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
			CustomCode:     "mycode",
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrCustomCodeForbidden)
		assert.Nil(t, link)
	})

	t.Run("owner at the link limit", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		repoMock.
			On("CountByOwner", mock.Anything, int64(7)).
			Times(1).
			Return(int64(2), nil)

		link, err := svc.CreateLink(context.TODO(), owner(7), CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrLinkLimitReached)
		assert.Nil(t, link)
		repoMock.AssertExpectations(t)
	})

	t.Run("reserved custom code", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		repoMock.
			On("CountByOwner", mock.Anything, int64(7)).
			Times(1).
			Return(int64(0), nil)

		link, err := svc.CreateLink(context.TODO(), owner(7), CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
			CustomCode:     "Admin",
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidCustomCode)
		assert.Nil(t, link)
		repoMock.AssertExpectations(t)
	})

	t.Run("custom code success", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		repoMock.
			On("CountByOwner", mock.Anything, int64(7)).
			Times(1).
			Return(int64(0), nil)
		repoMock.
			On("Create", mock.Anything, mock.MatchedBy(func(p database.CreateLinkParams) bool {
				return p.ShortCode == "my-code" && p.OwnerID != nil && *p.OwnerID == 7
			})).
			Times(1).
			Return(roundRobinLink(0), nil)

		link, err := svc.CreateLink(context.TODO(), owner(7), CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
			CustomCode:     "my-code",
		})

		assert.NoError(t, err)
		assert.NotNil(t, link)
		assert.Equal(t, int64(1), sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})

	t.Run("taken custom code is not retried", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		repoMock.
			On("CountByOwner", mock.Anything, int64(7)).
			Times(1).
			Return(int64(0), nil)
		repoMock.
			On("Create", mock.Anything, mock.Anything).
			Times(1).
			Return(nil, database.ErrCodeTaken)

		link, err := svc.CreateLink(context.TODO(), owner(7), CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
			CustomCode:     "my-code",
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, database.ErrCodeTaken)
		assert.Nil(t, link)
		assert.Zero(t, sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})

	t.Run("generated code collision is retried", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		repoMock.
			On("Create", mock.Anything, mock.Anything).
			Times(1).
			Return(nil, database.ErrCodeTaken)
		repoMock.
			On("Create", mock.Anything, mock.Anything).
			Times(1).
			Return(roundRobinLink(0), nil)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
		})

		assert.NoError(t, err)
		assert.NotNil(t, link)
		repoMock.AssertExpectations(t)
	})

	t.Run("generation retries exhausted", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		repoMock.
			On("Create", mock.Anything, mock.Anything).
			Times(codeGenRetries).
			Return(nil, database.ErrCodeTaken)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.Nil(t, link)
		assert.Zero(t, sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})

	t.Run("password is stored as a bcrypt hash", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		repoMock.
			On("Create", mock.Anything, mock.MatchedBy(func(p database.CreateLinkParams) bool {
				if p.PasswordHash == nil {
					return false
				}
				return bcrypt.CompareHashAndPassword([]byte(*p.PasswordHash), []byte("secret")) == nil
			})).
			Times(1).
			Return(roundRobinLink(0), nil)

		link, err := svc.CreateLink(context.TODO(), guest, CreateLinkParams{
			Destinations:   []string{"https://a.example"},
			RotationPolicy: models.RotationRoundRobin,
			Password:       "secret",
		})

		assert.NoError(t, err)
		assert.NotNil(t, link)
		repoMock.AssertExpectations(t)
	})
}

func TestLinkService_ReplaceDestinations(t *testing.T) {
	dests := []string{"https://a.example", "https://b.example"}

	t.Run("not the owner", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		link := roundRobinLink(1)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)

		updated, err := svc.ReplaceDestinations(context.TODO(), owner(8), "code1", dests, models.RotationRoundRobin)

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Nil(t, updated)
		assert.Zero(t, sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})

	t.Run("admin may touch any link", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		link := roundRobinLink(1)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)
		repoMock.
			On("ReplaceDestinations", mock.Anything, int64(1), dests, models.RotationRandom).
			Times(1).
			Return(roundRobinLink(0), nil)

		updated, err := svc.ReplaceDestinations(context.TODO(), Actor{Admin: true}, "code1", dests, models.RotationRandom)

		assert.NoError(t, err)
		assert.NotNil(t, updated)
		assert.Equal(t, int64(1), sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})

	t.Run("success", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		link := roundRobinLink(2)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)
		repoMock.
			On("ReplaceDestinations", mock.Anything, int64(1), dests, models.RotationRoundRobin).
			Times(1).
			Return(roundRobinLink(0), nil)

		updated, err := svc.ReplaceDestinations(context.TODO(), owner(7), "code1", dests, models.RotationRoundRobin)

		assert.NoError(t, err)
		assert.NotNil(t, updated)
		assert.Equal(t, 0, updated.Cursor)
		assert.Equal(t, int64(1), sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})
}

func TestLinkService_SetPassword(t *testing.T) {
	t.Run("empty password removes the gate", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		link := roundRobinLink(0)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)
		repoMock.
			On("SetPassword", mock.Anything, int64(1), (*string)(nil)).
			Times(1).
			Return(nil)

		err := svc.SetPassword(context.TODO(), owner(7), "code1", "")

		assert.NoError(t, err)
		repoMock.AssertExpectations(t)
	})

	t.Run("new password is hashed", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		link := roundRobinLink(0)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)
		repoMock.
			On("SetPassword", mock.Anything, int64(1), mock.MatchedBy(func(hash *string) bool {
				return hash != nil && strings.HasPrefix(*hash, "$2")
			})).
			Times(1).
			Return(nil)

		err := svc.SetPassword(context.TODO(), owner(7), "code1", "secret")

		assert.NoError(t, err)
		repoMock.AssertExpectations(t)
	})
}

func TestLinkService_DeleteLink(t *testing.T) {
	t.Run("success pokes the sitemap", func(t *testing.T) {
		svc, repoMock, _, sitemap := setupLinkService(t)

		link := roundRobinLink(0)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)
		repoMock.
			On("Delete", mock.Anything, int64(1)).
			Times(1).
			Return(nil)

		err := svc.DeleteLink(context.TODO(), owner(7), "code1")

		assert.NoError(t, err)
		assert.Equal(t, int64(1), sitemap.calls.Load())
		repoMock.AssertExpectations(t)
	})

	t.Run("unknown code", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		repoMock.
			On("GetByCode", mock.Anything, "missing").
			Times(1).
			Return(nil, database.ErrLinkNotFound)

		err := svc.DeleteLink(context.TODO(), owner(7), "missing")

		assert.Error(t, err)
		assert.ErrorIs(t, err, database.ErrLinkNotFound)
		repoMock.AssertExpectations(t)
	})
}

func TestLinkService_ListLinks(t *testing.T) {
	t.Run("pagination is translated to limit and offset", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		repoMock.
			On("ListByOwner", mock.Anything, int64(7), "promo", 10, 20).
			Times(1).
			Return([]*models.Link{roundRobinLink(0)}, nil)
		repoMock.
			On("CountByOwner", mock.Anything, int64(7)).
			Times(1).
			Return(int64(21), nil)

		links, total, err := svc.ListLinks(context.TODO(), 7, "promo", 3, 10)

		assert.NoError(t, err)
		assert.Len(t, links, 1)
		assert.Equal(t, int64(21), total)
		repoMock.AssertExpectations(t)
	})

	t.Run("out of range paging falls back to defaults", func(t *testing.T) {
		svc, repoMock, _, _ := setupLinkService(t)

		repoMock.
			On("ListByOwner", mock.Anything, int64(7), "", 10, 0).
			Times(1).
			Return([]*models.Link(nil), nil)
		repoMock.
			On("CountByOwner", mock.Anything, int64(7)).
			Times(1).
			Return(int64(0), nil)

		_, _, err := svc.ListLinks(context.TODO(), 7, "", 0, 1000)

		assert.NoError(t, err)
		repoMock.AssertExpectations(t)
	})
}

func TestLinkService_GetLinkStats(t *testing.T) {
	t.Run("assembles all aggregates", func(t *testing.T) {
		svc, repoMock, clicksMock, _ := setupLinkService(t)

		link := roundRobinLink(0)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		chromeUA := "Mozilla/5.0 Chrome/120.0"
		firefoxUA := "Mozilla/5.0 Firefox/121.0"

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)
		clicksMock.On("TotalClicks", mock.Anything, int64(1)).Times(1).Return(int64(30), nil)
		clicksMock.On("UniqueClientCount", mock.Anything, int64(1)).Times(1).Return(int64(12), nil)
		clicksMock.On("ClicksSince", mock.Anything, int64(1), mock.Anything).Times(2).Return(int64(4), nil)
		clicksMock.On("DailyHistogram", mock.Anything, int64(1), histogramDays).
			Times(1).
			Return([]models.DailyClicks{{Clicks: 4}}, nil)
		clicksMock.On("RecentClicks", mock.Anything, int64(1), recentClickLimit).
			Times(1).
			Return([]models.ClickEvent{{ID: 1, LinkID: 1}}, nil)
		clicksMock.On("UserAgentCounts", mock.Anything, int64(1)).
			Times(1).
			Return([]database.UserAgentCount{
				{UserAgent: &chromeUA, Clicks: 20},
				{UserAgent: &firefoxUA, Clicks: 10},
			}, nil)

		got, stats, err := svc.GetLinkStats(context.TODO(), owner(7), "code1")

		assert.NoError(t, err)
		assert.Equal(t, link, got)
		assert.Equal(t, int64(30), stats.TotalClicks)
		assert.Equal(t, int64(12), stats.UniqueClients)
		assert.Equal(t, int64(4), stats.TodayClicks)
		assert.Equal(t, int64(4), stats.WeekClicks)
		assert.Len(t, stats.Daily, 1)
		assert.Len(t, stats.Recent, 1)
		assert.Equal(t, []models.BrowserClicks{
			{Browser: "Chrome", Clicks: 20},
			{Browser: "Firefox", Clicks: 10},
		}, stats.Browsers)
		repoMock.AssertExpectations(t)
		clicksMock.AssertExpectations(t)
	})

	t.Run("not the owner", func(t *testing.T) {
		svc, repoMock, clicksMock, _ := setupLinkService(t)

		link := roundRobinLink(0)
		ownerID := int64(7)
		link.OwnerID = &ownerID

		repoMock.
			On("GetByCode", mock.Anything, "code1").
			Times(1).
			Return(link, nil)

		_, _, err := svc.GetLinkStats(context.TODO(), owner(8), "code1")

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		clicksMock.AssertNotCalled(t, "TotalClicks", mock.Anything, mock.Anything)
		repoMock.AssertExpectations(t)
	})
}

func TestTopBrowserFamilies(t *testing.T) {
	chrome1 := "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36"
	chrome2 := "Mozilla/5.0 (Macintosh) Chrome/119.0 Safari/537.36"
	safari := "Mozilla/5.0 (Macintosh) Version/17.0 Safari/605.1.15"

	t.Run("folds raw agents into families", func(t *testing.T) {
		got := topBrowserFamilies([]database.UserAgentCount{
			{UserAgent: &chrome1, Clicks: 3},
			{UserAgent: &chrome2, Clicks: 2},
			{UserAgent: &safari, Clicks: 4},
			{UserAgent: nil, Clicks: 1},
		}, 5)

		assert.Equal(t, []models.BrowserClicks{
			{Browser: "Chrome", Clicks: 5},
			{Browser: "Safari", Clicks: 4},
			{Browser: "Other", Clicks: 1},
		}, got)
	})

	t.Run("truncates to the limit", func(t *testing.T) {
		got := topBrowserFamilies([]database.UserAgentCount{
			{UserAgent: &chrome1, Clicks: 3},
			{UserAgent: &safari, Clicks: 4},
			{UserAgent: nil, Clicks: 1},
		}, 2)

		assert.Len(t, got, 2)
		assert.Equal(t, "Safari", got[0].Browser)
	})

	t.Run("ties break alphabetically", func(t *testing.T) {
		got := topBrowserFamilies([]database.UserAgentCount{
			{UserAgent: &safari, Clicks: 2},
			{UserAgent: &chrome1, Clicks: 2},
		}, 5)

		assert.Equal(t, "Chrome", got[0].Browser)
		assert.Equal(t, "Safari", got[1].Browser)
	})
}

func TestValidateCustomCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{name: "valid alphanumeric", code: "promo2024"},
		{name: "valid with separators", code: "my_promo-link"},
		{name: "too short", code: "ab", wantErr: true},
		{name: "too long", code: strings.Repeat("a", 51), wantErr: true},
		{name: "illegal characters", code: "my code!", wantErr: true},
		{name: "reserved word", code: "api", wantErr: true},
		{name: "reserved word case insensitive", code: "ADMIN", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCustomCode(tt.code)

			if tt.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCustomCode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
