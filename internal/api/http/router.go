// Package http is the HTTP delivery layer: the public resolution
// endpoints serving redirects, and the JSON API for link management.
package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/porkli/link-rotator/internal/auth"
	"github.com/porkli/link-rotator/internal/models"
	"github.com/porkli/link-rotator/internal/service"
)

// ResolverService resolves a short code into a terminal outcome.
type ResolverService interface {
	Resolve(ctx context.Context, shortCode string, client service.Client) (service.Resolution, error)
}

// AccessGateService verifies link passwords and issues client grants.
type AccessGateService interface {
	VerifyPassword(ctx context.Context, shortCode, password, clientID string) error
}

// LinkService defines the link management business logic.
type LinkService interface {
	CreateLink(ctx context.Context, actor service.Actor, params service.CreateLinkParams) (*models.Link, error)
	ReplaceDestinations(ctx context.Context, actor service.Actor, shortCode string, destinations []string, policy models.RotationPolicy) (*models.Link, error)
	SetPassword(ctx context.Context, actor service.Actor, shortCode, password string) error
	DeleteLink(ctx context.Context, actor service.Actor, shortCode string) error
	ListLinks(ctx context.Context, ownerID int64, search string, page, perPage int) ([]*models.Link, int64, error)
	GetLinkStats(ctx context.Context, actor service.Actor, shortCode string) (*models.Link, *models.LinkStats, error)
}

// ReaperService triggers an on-demand sweep of expired links.
type ReaperService interface {
	Sweep(ctx context.Context) (int64, error)
}

// RateLimiter guards creation and mutation endpoints. Resolution is
// never rate limited: redirects stay fast and open.
type RateLimiter interface {
	Allow(ctx context.Context, action, clientKey string) (bool, error)
}

// CaptchaVerifier is the out-of-scope captcha collaborator, consulted
// only on link creation.
type CaptchaVerifier interface {
	Verify(answer string) bool
}

// CaptchaFunc adapts a function to the CaptchaVerifier interface.
type CaptchaFunc func(answer string) bool

func (f CaptchaFunc) Verify(answer string) bool { return f(answer) }

// RouterConfig bundles the collaborators the router wires together.
type RouterConfig struct {
	BaseURL  string
	Resolver ResolverService
	Gate     AccessGateService
	Links    LinkService
	Reaper   ReaperService
	Tokens   *auth.TokenManager
	Limiter  RateLimiter
	Captcha  CaptchaVerifier
}

func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// NewRouter initializes the HTTP router with all routes and middleware.
func NewRouter(logger *httplog.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(clientID)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/swagger.yml"),
	))
	r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./docs/swagger.yml")
	})

	r.Route("/api/v1", func(r chi.Router) {
		validate := getValidate()

		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/ping", handlePing)

		r.Route("/links", func(r chi.Router) {
			r.With(optionalAuth(cfg.Tokens), rateLimit(cfg.Limiter, "create_link")).
				Post("/", handleCreateLink(cfg.Links, cfg.Captcha, validate, cfg.BaseURL))

			r.With(requireAuth(cfg.Tokens)).
				Get("/", handleListLinks(cfg.Links, cfg.BaseURL))

			r.Route("/{shortCode}", func(r chi.Router) {
				r.Use(requireAuth(cfg.Tokens))

				r.With(rateLimit(cfg.Limiter, "update_link")).
					Put("/", handleReplaceDestinations(cfg.Links, validate, cfg.BaseURL))
				r.With(rateLimit(cfg.Limiter, "manage_password")).
					Post("/password", handleSetPassword(cfg.Links, validate))
				r.Delete("/", handleDeleteLink(cfg.Links))
				r.Get("/stats", handleGetLinkStats(cfg.Links, cfg.BaseURL))
				r.Get("/analytics", handleGetLinkAnalytics(cfg.Links))
			})
		})

		r.With(requireAuth(cfg.Tokens), requireAdmin).
			Post("/cleanup", handleCleanup(cfg.Reaper))
	})

	r.Get("/{shortCode}", handleResolve(cfg.Resolver, cfg.BaseURL))
	r.Post("/{shortCode}/verify-password", handleVerifyPassword(cfg.Gate, getValidate()))

	return r
}
