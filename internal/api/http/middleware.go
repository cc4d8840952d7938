package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/porkli/link-rotator/internal/auth"
	"github.com/porkli/link-rotator/internal/service"
	"github.com/porkli/link-rotator/pkg/response"
)

type ctxKey int

const (
	clientIDKey ctxKey = iota
	claimsKey
)

// clientCookie identifies an anonymous browser across requests. It is
// the key password grants and rate-limit counters are scoped to.
const clientCookie = "porkli_client"

// clientID assigns a stable UUID cookie to every caller that does not
// already carry one.
func clientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(clientCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				id = c.Value
			}
		}

		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     clientCookie,
				Value:    id,
				Path:     "/",
				Expires:  time.Now().Add(365 * 24 * time.Hour),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), clientIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// actorFrom derives the acting principal from the request context. A
// request without verified claims acts as a guest.
func actorFrom(ctx context.Context) service.Actor {
	claims := claimsFrom(ctx)
	if claims == nil {
		return service.Actor{}
	}

	accountID := claims.AccountID

	return service.Actor{
		AccountID: &accountID,
		Admin:     claims.Role == auth.RoleAdmin,
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return parts[1]
}

// requireAuth rejects requests without a valid bearer token.
func requireAuth(tokens *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.UnauthorizedResponse)
				return
			}

			claims, err := tokens.Verify(token)
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.UnauthorizedResponse)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// optionalAuth attaches claims when a valid bearer token is present,
// rejects invalid ones, and lets anonymous requests through as guests.
func optionalAuth(tokens *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Verify(token)
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.UnauthorizedResponse)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin must run after requireAuth.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		if claims == nil || claims.Role != auth.RoleAdmin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.ForbiddenResponse)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimit applies a fixed-window limit per client for the given
// action. Authenticated callers are keyed by account, anonymous ones by
// client cookie. A limiter failure fails open: mutations degrade to
// unthrottled rather than unavailable.
func rateLimit(limiter RateLimiter, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIDFrom(r.Context())
			if claims := claimsFrom(r.Context()); claims != nil {
				key = "account:" + strconv.FormatInt(claims.AccountID, 10)
			}

			ok, err := limiter.Allow(r.Context(), action, key)
			if err != nil {
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": "rateLimit", "err": err})
				next.ServeHTTP(w, r)
				return
			}

			if !ok {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.RateLimitResponse)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
