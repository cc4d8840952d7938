package http

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/service"
	"github.com/porkli/link-rotator/internal/useragent"
	"github.com/porkli/link-rotator/pkg/response"
)

// handlePing handles health check requests to ensure the server is running.
func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

// clientFrom builds the resolution client from the request: the cookie
// identity, the remote address and the raw User-Agent header.
func clientFrom(r *http.Request) service.Client {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return service.Client{
		ID:        clientIDFrom(r.Context()),
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}

// handleResolve handles GET requests on a short code, the hot path of
// the whole service.
//
// Human visitors get a 302 to the selected destination. Automated
// agents get link metadata instead of a redirect so previews never
// consume a rotation step. Missing and expired codes are both a plain
// 404.
func handleResolve(svc ResolverService, baseURL string) http.HandlerFunc {
	const op = "api.http.handleResolve"

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		res, err := svc.Resolve(r.Context(), shortCode, clientFrom(r))
		if err != nil {
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		switch res.Outcome {
		case service.OutcomeNotFound:
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.ResourceNotFoundResponse)

		case service.OutcomePasswordRequired:
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.PasswordRequiredResponse)

		case service.OutcomeDestination:
			if res.Agent == useragent.AutomatedAgent {
				render.Status(r, http.StatusOK)
				render.JSON(w, r, response.SuccessResponse(
					"Link preview.",
					toLinkPreview(res, baseURL),
				))
				return
			}

			http.Redirect(w, r, res.URL, http.StatusFound)
		}
	}
}

// toLinkPreview exposes the primary destination, not the rotated one,
// so crawlers see a stable target.
func toLinkPreview(res service.Resolution, baseURL string) linkPreviewResponse {
	primary := res.URL
	if len(res.Link.Destinations) > 0 {
		primary = res.Link.Destinations[0]
	}

	domain := ""
	if u, err := url.Parse(primary); err == nil {
		domain = u.Hostname()
	}

	return linkPreviewResponse{
		ShortCode:   res.Link.ShortCode,
		ShortURL:    shortURL(baseURL, res.Link.ShortCode),
		Destination: primary,
		Domain:      domain,
	}
}

// handleVerifyPassword handles POST requests unlocking a protected link.
//
// A correct password grants the calling browser timed access to the
// link; the redirect itself still happens through a follow-up GET.
func handleVerifyPassword(svc AccessGateService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleVerifyPassword"
	const successMsg = "Password accepted. The link is unlocked for this browser."

	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyPasswordRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			if errors.Is(err, io.EOF) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.EmptyRequestBodyResponse)
				return
			}

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.BadRequestResponse)
			return
		}

		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		shortCode := chi.URLParam(r, "shortCode")

		err := svc.VerifyPassword(r.Context(), shortCode, req.Password, clientIDFrom(r.Context()))
		if err != nil {
			switch {
			case errors.Is(err, database.ErrLinkNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			case errors.Is(err, service.ErrWrongPassword):
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.WrongPasswordResponse)
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg))
	}
}
