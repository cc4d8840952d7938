package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
	"github.com/porkli/link-rotator/internal/service"
	"github.com/porkli/link-rotator/pkg/response"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// handleCreateLink handles POST requests to register a new short link.
//
// Guests may create links too; theirs get a forced expiry and no custom
// code. The captcha answer is checked before any work is done.
func handleCreateLink(svc LinkService, captcha CaptchaVerifier, validate *validator.Validate, baseURL string) http.HandlerFunc {
	const op = "api.http.handleCreateLink"
	const successMsg = "The link has been created successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		var req createLinkRequest

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

		if !captcha.Verify(req.CaptchaAnswer) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ErrorResponse(
				"Captcha Failed",
				"The captcha answer is incorrect. Please try again.",
			))
			return
		}

		params := service.CreateLinkParams{
			Destinations:   req.Destinations,
			RotationPolicy: models.RotationPolicy(req.RotationPolicy),
			CustomCode:     req.CustomCode,
			Password:       req.Password,
			ExpiresIn:      time.Duration(req.ExpiresIn) * time.Second,
		}
		if req.RotationPolicy == "" {
			params.RotationPolicy = models.RotationRoundRobin
		}

		link, err := svc.CreateLink(r.Context(), actorFrom(r.Context()), params)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidDestinations),
				errors.Is(err, service.ErrInvalidRotationPolicy),
				errors.Is(err, service.ErrInvalidCustomCode):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Bad Request", err.Error()))
			case errors.Is(err, service.ErrCustomCodeForbidden):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ErrorResponse(
					"Forbidden",
					"Custom short codes require a registered account.",
				))
			case errors.Is(err, service.ErrLinkLimitReached):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ErrorResponse(
					"Link Limit Reached",
					"You have reached the maximum number of links for this account.",
				))
			case errors.Is(err, database.ErrCodeTaken):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, response.CodeTakenResponse)
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.SuccessResponse(successMsg, toLinkResponse(link, baseURL)))
	}
}

// handleListLinks handles GET requests for the caller's links, with
// optional search over codes and destinations.
func handleListLinks(svc LinkService, baseURL string) http.HandlerFunc {
	const op = "api.http.handleListLinks"
	const successMsg = "Links retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		if actor.AccountID == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.UnauthorizedResponse)
			return
		}

		page := queryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}

		perPage := queryInt(r, "per_page", defaultPerPage)
		if perPage < 1 || perPage > maxPerPage {
			perPage = defaultPerPage
		}

		search := r.URL.Query().Get("search")

		links, total, err := svc.ListLinks(r.Context(), *actor.AccountID, search, page, perPage)
		if err != nil {
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		data := linkListResponse{
			Links:   make([]linkResponse, 0, len(links)),
			Total:   total,
			Page:    page,
			PerPage: perPage,
		}
		for _, link := range links {
			data.Links = append(data.Links, toLinkResponse(link, baseURL))
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, data))
	}
}

// handleReplaceDestinations handles PUT requests replacing the full
// destination set of a link. The rotation cursor resets to the start.
func handleReplaceDestinations(svc LinkService, validate *validator.Validate, baseURL string) http.HandlerFunc {
	const op = "api.http.handleReplaceDestinations"
	const successMsg = "The link destinations were updated successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		var req updateLinkRequest

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

		policy := models.RotationPolicy(req.RotationPolicy)
		if req.RotationPolicy == "" {
			policy = models.RotationRoundRobin
		}

		shortCode := chi.URLParam(r, "shortCode")

		link, err := svc.ReplaceDestinations(r.Context(), actorFrom(r.Context()), shortCode, req.Destinations, policy)
		if err != nil {
			switch {
			case errors.Is(err, database.ErrLinkNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			case errors.Is(err, service.ErrPermissionDenied):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ForbiddenResponse)
			case errors.Is(err, service.ErrInvalidDestinations),
				errors.Is(err, service.ErrInvalidRotationPolicy):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ErrorResponse("Bad Request", err.Error()))
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, toLinkResponse(link, baseURL)))
	}
}

// handleSetPassword handles POST requests that set or remove the
// password gate on a link. An empty password removes the gate.
func handleSetPassword(svc LinkService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleSetPassword"

	return func(w http.ResponseWriter, r *http.Request) {
		var req setPasswordRequest

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

		err := svc.SetPassword(r.Context(), actorFrom(r.Context()), shortCode, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, database.ErrLinkNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			case errors.Is(err, service.ErrPermissionDenied):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ForbiddenResponse)
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		msg := "The link password was set successfully."
		if req.Password == "" {
			msg = "The link password was removed successfully."
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(msg))
	}
}

// handleDeleteLink handles DELETE requests removing a link and, through
// the cascade, all of its click history.
func handleDeleteLink(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleDeleteLink"
	const successMsg = "The link was deleted successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		err := svc.DeleteLink(r.Context(), actorFrom(r.Context()), shortCode)
		if err != nil {
			switch {
			case errors.Is(err, database.ErrLinkNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			case errors.Is(err, service.ErrPermissionDenied):
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.ForbiddenResponse)
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

// handleGetLinkStats handles GET requests for the aggregate counters of
// a link.
func handleGetLinkStats(svc LinkService, baseURL string) http.HandlerFunc {
	const op = "api.http.handleGetLinkStats"
	const successMsg = "The link statistics retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		link, stats, err := svc.GetLinkStats(r.Context(), actorFrom(r.Context()), shortCode)
		if err != nil {
			renderLinkError(w, r, op, err)
			return
		}

		data := statsResponse{
			linkResponse:  toLinkResponse(link, baseURL),
			TotalClicks:   stats.TotalClicks,
			UniqueClients: stats.UniqueClients,
			TodayClicks:   stats.TodayClicks,
			WeekClicks:    stats.WeekClicks,
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, data))
	}
}

// handleGetLinkAnalytics handles GET requests for the detailed click
// breakdown: daily histogram, browser families and recent clicks.
func handleGetLinkAnalytics(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleGetLinkAnalytics"
	const successMsg = "The link analytics retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		link, stats, err := svc.GetLinkStats(r.Context(), actorFrom(r.Context()), shortCode)
		if err != nil {
			renderLinkError(w, r, op, err)
			return
		}

		data := analyticsResponse{
			ShortCode: link.ShortCode,
			Daily:     make([]dailyResponse, 0, len(stats.Daily)),
			Browsers:  make([]browserResponse, 0, len(stats.Browsers)),
			Recent:    make([]clickResponse, 0, len(stats.Recent)),
		}
		for _, day := range stats.Daily {
			data.Daily = append(data.Daily, dailyResponse{
				Date:   day.Date.Format("2006-01-02"),
				Clicks: day.Clicks,
			})
		}
		for _, browser := range stats.Browsers {
			data.Browsers = append(data.Browsers, browserResponse{
				Browser: browser.Browser,
				Clicks:  browser.Clicks,
			})
		}
		for _, click := range stats.Recent {
			data.Recent = append(data.Recent, toClickResponse(click))
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, data))
	}
}

// handleCleanup handles POST requests that trigger an immediate sweep
// of expired links. Admin only; the periodic reaper covers the rest.
func handleCleanup(svc ReaperService) http.HandlerFunc {
	const op = "api.http.handleCleanup"
	const successMsg = "Expired links cleaned up successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := svc.Sweep(r.Context())
		if err != nil {
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, map[string]int64{"deleted": deleted}))
	}
}

// renderLinkError maps the shared link lookup failures; anything else
// is a server error.
func renderLinkError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, database.ErrLinkNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.ResourceNotFoundResponse)
	case errors.Is(err, service.ErrPermissionDenied):
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.ForbiddenResponse)
	default:
		httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.ServerErrorResponse)
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}

	return v
}
